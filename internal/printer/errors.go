package printer

import (
	"errors"
	"fmt"
)

var (
	// ErrConnect covers refused, unreachable and DNS failures while
	// opening the device session.
	ErrConnect = errors.New("cannot connect to printer")

	// ErrIO covers resets, timeouts and short reads on an open session.
	ErrIO = errors.New("printer i/o failed")

	// ErrProtocol covers malformed or unexpected device responses.
	ErrProtocol = errors.New("malformed printer response")

	// ErrLockBusy is returned when the device is already locked by
	// another client. It is the only condition worth retrying.
	ErrLockBusy = errors.New("printer is locked by another client")

	// ErrIdleTimeout is returned when the device did not report IDLE
	// within the configured wait. The print itself may still have
	// completed on the device.
	ErrIdleTimeout = errors.New("printer did not become idle")
)

const rawErrLimit = 256

// protocolErr wraps ErrProtocol, keeping a bounded sample of the raw
// frame so the failure can be diagnosed from logs.
func protocolErr(reason string, raw []byte) error {
	if len(raw) > rawErrLimit {
		raw = raw[:rawErrLimit]
	}
	return fmt.Errorf("%w: %s: raw %q", ErrProtocol, reason, raw)
}

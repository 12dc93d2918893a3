package printer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vclabel/spool/internal/config"
)

const answerBufSize = 4096

// PrintRequest describes exactly one print transaction. It is never
// mutated after construction; retries re-execute the identical request.
type PrintRequest struct {
	Image       []byte
	Mode        PrintMode
	Cut         CutMode
	UseLock     bool
	WaitForIdle bool
}

// Session executes one logical device operation at a time: a print, a
// status query or a lock release. The device accepts a single client,
// so a Session is used to completion before the next operation starts.
type Session struct {
	addr         Address
	timeouts     Timeouts
	pollInterval time.Duration
	idleMaxWait  time.Duration
	dial         func(Address, Timeouts) (transport, error)
}

func NewSession(cfg config.PrinterConfig) *Session {
	return &Session{
		addr:         Address{Host: cfg.Host, Port: cfg.Port},
		timeouts:     TimeoutsFromConfig(cfg),
		pollInterval: cfg.IdlePollInterval,
		idleMaxWait:  cfg.IdleMaxWait,
		dial: func(addr Address, timeouts Timeouts) (transport, error) {
			return Dial(addr, timeouts)
		},
	}
}

// Print runs the full transaction: optional lock, print-mode and cut
// directives with the image payload, optional wait for idle. A lock
// acquired here is released on every exit path; a release failure is
// logged but never overrides the print outcome.
func (s *Session) Print(ctx context.Context, req PrintRequest) error {
	t, err := s.dial(s.addr, s.timeouts)
	if err != nil {
		return err
	}
	defer func() { _ = t.Close() }()

	status, err := s.queryStatus(t, "")
	if err != nil {
		return err
	}

	if !status.Idle() {
		log.Info().
			Str("host", s.addr.Host).
			Str("state", status.State).
			Str("stage", status.JobStage).
			Msg("printer not idle, waiting before print")
		if err := s.waitForIdle(ctx, t, ""); err != nil {
			// Nothing has been transferred yet, so a device stuck busy
			// here is the same retryable condition as a refused lock.
			if errors.Is(err, ErrIdleTimeout) {
				return fmt.Errorf("%w: %v", ErrLockBusy, err)
			}
			return err
		}
	}

	var lockToken string
	if req.UseLock {
		lockToken, err = s.lock(t)
		if err != nil {
			return err
		}
		log.Debug().Str("host", s.addr.Host).Str("job_token", lockToken).Msg("printer locked")

		defer func() {
			if err := s.releaseOn(t, lockToken); err != nil {
				log.Warn().
					Err(err).
					Str("job_token", lockToken).
					Msg("failed to release printer lock")
			}
		}()
	}

	if err := s.transfer(t, req, lockToken); err != nil {
		return err
	}

	if req.WaitForIdle {
		return s.waitForIdle(ctx, t, lockToken)
	}

	return nil
}

// GetStatus opens a session, reads the device configuration and live
// status, and closes. The result is never cached.
func (s *Session) GetStatus() (*DeviceStatus, error) {
	t, err := s.dial(s.addr, s.timeouts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = t.Close() }()

	return s.queryStatus(t, "")
}

// Release clears a lock left behind by a crashed client. Releasing an
// already-unlocked device is not an error.
func (s *Session) Release(jobToken string) error {
	t, err := s.dial(s.addr, s.timeouts)
	if err != nil {
		return err
	}
	defer func() { _ = t.Close() }()

	return s.releaseOn(t, jobToken)
}

func (s *Session) releaseOn(t transport, jobToken string) error {
	a, err := s.sendAndExpect(t, encodeRelease(jobToken), "", false)
	if err != nil {
		return err
	}

	if a.code != 0 {
		// The device answers nonzero when nothing was locked.
		log.Debug().
			Int("code", a.code).
			Str("comment", a.comment).
			Msg("release answered nonzero, treating as already unlocked")
	}

	return nil
}

func (s *Session) lock(t transport) (string, error) {
	a, err := s.sendAndExpect(t, encodeLockAcquire(), "", false)
	if err != nil {
		return "", err
	}

	if a.code != 0 {
		if a.comment != "" {
			return "", fmt.Errorf("%w: %s", ErrLockBusy, a.comment)
		}
		return "", fmt.Errorf("%w: device code %d", ErrLockBusy, a.code)
	}

	token, ok := xmlString("job_token", a.element)
	if !ok {
		return "", protocolErr("lock answer missing job_token", []byte(a.element))
	}

	return token, nil
}

func (s *Session) transfer(t transport, req PrintRequest, lockToken string) error {
	header, err := encodePrintHeader(req.Mode, req.Cut, len(req.Image), lockToken)
	if err != nil {
		return err
	}

	a, err := s.sendAndExpect(t, header, "", false)
	if err != nil {
		return err
	}
	if err := answerErr(a, "print setup"); err != nil {
		return err
	}

	if err := t.Write(req.Image); err != nil {
		return err
	}

	// The device acknowledges only after the whole label is spooled.
	frame, err := t.Read(answerBufSize, true)
	if err != nil {
		return err
	}

	a, err = decodeAnswer(frame, "", nil)
	if err != nil {
		return err
	}

	return answerErr(a, "print data")
}

func (s *Session) waitForIdle(ctx context.Context, t transport, jobToken string) error {
	deadline := time.Now().Add(s.idleMaxWait)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}

		state, err := s.queryState(t, jobToken)
		if err != nil {
			return err
		}

		if state.PrintState == stateIdle {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w within %s (last state %s)",
				ErrIdleTimeout, s.idleMaxWait, state.PrintState)
		}
	}
}

func (s *Session) queryStatus(t transport, jobToken string) (*DeviceStatus, error) {
	a, err := s.sendAndExpect(t, encodeGetConfig(), configPayloadPrefix, false)
	if err != nil {
		return nil, err
	}
	if err := answerErr(a, "config read"); err != nil {
		return nil, err
	}

	cfg, err := decodeConfigPayload(a.payload)
	if err != nil {
		return nil, err
	}

	state, err := s.queryState(t, jobToken)
	if err != nil {
		return nil, err
	}

	return mergeStatus(cfg, state), nil
}

func (s *Session) queryState(t transport, jobToken string) (*deviceState, error) {
	a, err := s.sendAndExpect(t, encodeStatusQuery(jobToken), statusPayloadPrefix, false)
	if err != nil {
		return nil, err
	}
	if err := answerErr(a, "status read"); err != nil {
		return nil, err
	}

	return decodeStatePayload(a.payload)
}

func (s *Session) sendAndExpect(t transport, question []byte, wantPayload string, long bool) (*answer, error) {
	if err := t.Write(question); err != nil {
		return nil, err
	}

	frame, err := t.Read(answerBufSize, long)
	if err != nil {
		return nil, err
	}

	return decodeAnswer(frame, wantPayload, func(missing int) ([]byte, error) {
		return t.Read(missing, false)
	})
}

func answerErr(a *answer, op string) error {
	if a.code == 0 {
		return nil
	}
	if a.comment != "" {
		return protocolErr(fmt.Sprintf("%s answered code %d: %s", op, a.code, a.comment), []byte(a.element))
	}
	return protocolErr(fmt.Sprintf("%s answered code %d", op, a.code), []byte(a.element))
}

package store

import (
	"time"

	"github.com/vclabel/spool/internal/printer"
)

type State string

const (
	StateHeld      State = "held"
	StateClaimed   State = "claimed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

func ParseState(s string) (State, bool) {
	switch State(s) {
	case StateHeld, StateClaimed, StateCompleted, StateFailed, StateCancelled:
		return State(s), true
	}
	return "", false
}

// Job is one queued print request. The store owns it; workers mutate
// state and attempt counts only through the store API and never hold a
// job beyond one processing cycle.
type Job struct {
	ID          string              `json:"id"`
	Request     printer.PrintRequest `json:"-"`
	State       State               `json:"state"`
	Attempts    int                 `json:"attempts"`
	LastError   string              `json:"last_error,omitempty"`
	Result      string              `json:"result,omitempty"`
	SubmittedBy string              `json:"submitted_by,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	RetryAt     *time.Time          `json:"retry_at,omitempty"`
	ClaimedAt   *time.Time          `json:"claimed_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

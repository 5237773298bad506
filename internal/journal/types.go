package journal

import (
	"errors"
	"time"
)

// Outcome is the terminal state of one gateway request.
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeFailed       Outcome = "failed"
	OutcomeTimedOut     Outcome = "timed_out"
	OutcomeRejected     Outcome = "rejected"
	OutcomeAcknowledged Outcome = "acknowledged"
)

// Entry is one row of the call log.
type Entry struct {
	ID          string        `json:"id"`
	CallID      string        `json:"call_id"`
	Service     string        `json:"service"`
	Method      string        `json:"method"`
	Verb        string        `json:"verb"`
	URI         string        `json:"uri"`
	Outcome     Outcome       `json:"outcome"`
	Status      int           `json:"status"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration_ns"`
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Service string
	Outcome Outcome
	Limit   int
}

var ErrClosed = errors.New("journal writer closed")

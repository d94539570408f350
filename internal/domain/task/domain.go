package task

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrUnknownHandle = errors.New("unknown task handle")

// Handle identifies one unit of deferred work. The zero value means "none".
type Handle string

func NewHandle() Handle { return Handle(uuid.NewString()) }

func (h Handle) IsZero() bool   { return h == "" }
func (h Handle) String() string { return string(h) }

type State string

const (
	StatePending State = "PENDING"
	StateStarted State = "STARTED"
	StateDone    State = "DONE"
	StateRevoked State = "REVOKED"
	StateUnknown State = "UNKNOWN"
)

// Live reports whether a handle still stands for a check that will run or is running.
func (s State) Live() bool { return s == StatePending || s == StateStarted }

// Status is a State plus the time a worker claimed the task. StartedAt is
// zero unless the task was claimed.
type Status struct {
	State     State
	StartedAt time.Time
}

// StuckSince reports whether a claimed task has been running for longer than
// limit at now, which means its worker or transport lost it.
func (s Status) StuckSince(now time.Time, limit time.Duration) bool {
	return s.State == StateStarted && !s.StartedAt.IsZero() && now.Sub(s.StartedAt) > limit
}

type CancelOutcome string

const (
	Cancelled      CancelOutcome = "cancelled"
	AlreadyStarted CancelOutcome = "already_started"
	Unknown        CancelOutcome = "unknown"
)

type Descriptor struct {
	EndpointID uuid.UUID
}

// Claim is a due task handed to a worker.
type Claim struct {
	Handle Handle
	Descriptor
	DueAt time.Time
}

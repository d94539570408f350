package task

import (
	"context"
	"time"
)

// Queue is the deferred-work substrate as seen by the scheduler.
type Queue interface {
	Submit(ctx context.Context, d Descriptor, delay time.Duration) (Handle, error)
	// Cancel only drops pending work. Consumed handles are reported, not failed.
	Cancel(ctx context.Context, h Handle) (CancelOutcome, error)
	State(ctx context.Context, h Handle) (State, error)
	Inspect(ctx context.Context, h Handle) (Status, error)
	Ping(ctx context.Context) error
}

// Claimer is the worker side of the substrate.
type Claimer interface {
	ClaimDue(ctx context.Context, limit int) ([]Claim, error)
	// Release puts a started task back to pending after delay.
	Release(ctx context.Context, h Handle, delay time.Duration) error
	Complete(ctx context.Context, h Handle) error
}

package kafka

import (
	"context"

	"github.com/NordCoder/Sentinel/internal/domain/task"
)

// CheckEvents carries claimed checks from the claimer to the worker pools.
type CheckEvents interface {
	PublishCheckDue(ctx context.Context, c task.Claim) error
}

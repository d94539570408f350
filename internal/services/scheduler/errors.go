package scheduler

import (
	"fmt"

	"github.com/NordCoder/Sentinel/internal/domain/task"
	"github.com/google/uuid"
)

// SchedulingError reports a failed schedule. Handle is set when the substrate
// accepted the check but its reference could not be written (an orphan).
type SchedulingError struct {
	EndpointID uuid.UUID
	Op         string
	Handle     task.Handle
	Err        error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("schedule %s: %s: %v", e.EndpointID, e.Op, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }

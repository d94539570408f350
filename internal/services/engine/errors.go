package engine

import (
	"fmt"

	"github.com/google/uuid"
)

// PersistenceError means a cycle's outcome could not be stored. Alerting is
// skipped for that cycle.
type PersistenceError struct {
	EndpointID uuid.UUID
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist outcome for %s: %v", e.EndpointID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

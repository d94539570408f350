package endpoint

import (
	"errors"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/task"
	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("endpoint not found")
	ErrInactive = errors.New("endpoint is inactive")
)

type Endpoint struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name"`
	URL           string        `json:"url"`
	Interval      time.Duration `json:"interval"`
	MaxLatencyMS  *int64        `json:"max_latency_ms,omitempty"`
	Contact       string        `json:"contact,omitempty"` // alert recipient, falls back to the configured default
	Active        bool          `json:"active"`
	LastCheckedAt *time.Time    `json:"last_checked_at,omitempty"`
	ScheduleRef   task.Handle   `json:"schedule_ref,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Policy is the part of an endpoint the alert evaluator looks at.
type Policy struct {
	MaxLatencyMS *int64
}

func (e *Endpoint) Policy() Policy { return Policy{MaxLatencyMS: e.MaxLatencyMS} }

func (e *Endpoint) Scheduled() bool { return !e.ScheduleRef.IsZero() }

package metric

import (
	"time"

	"github.com/google/uuid"
)

// Classification is the single bucket a probe result falls into.
type Classification string

const (
	Reachable         Classification = "reachable"
	UnreachableStatus Classification = "unreachable_status"
	Timeout           Classification = "timeout"
	ConnectError      Classification = "connect_error"
	UnexpectedError   Classification = "unexpected_error"
)

func (c Classification) Reachable() bool { return c == Reachable }

// Outcome is what the probe executor hands back. It never carries a Go error:
// every failure is folded into Class and Error.
type Outcome struct {
	Class      Classification
	StatusCode *int
	LatencyMS  *int64
	Error      *string
}

func (o Outcome) Reachable() bool { return o.Class.Reachable() }

// Metric is one persisted check result. Append-only.
type Metric struct {
	EndpointID uuid.UUID      `json:"endpoint_id"`
	Timestamp  time.Time      `json:"timestamp"`
	StatusCode *int           `json:"status_code"`
	LatencyMS  *int64         `json:"latency_ms"`
	Reachable  bool           `json:"reachable"`
	Class      Classification `json:"classification"`
	Error      *string        `json:"error,omitempty"`
}

func FromOutcome(endpointID uuid.UUID, o Outcome, at time.Time) *Metric {
	return &Metric{
		EndpointID: endpointID,
		Timestamp:  at,
		StatusCode: o.StatusCode,
		LatencyMS:  o.LatencyMS,
		Reachable:  o.Reachable(),
		Class:      o.Class,
		Error:      o.Error,
	}
}

// Page sizes for ListByEndpoint.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Filter struct {
	Up    *bool
	Since time.Time
	Limit int
}

package engine

import (
	"fmt"

	"github.com/NordCoder/Sentinel/internal/domain/alert"
	"github.com/NordCoder/Sentinel/internal/domain/endpoint"
	"github.com/NordCoder/Sentinel/internal/domain/metric"
)

// ShouldAlert fires on an unreachable result or on latency above the
// endpoint's threshold.
func ShouldAlert(p endpoint.Policy, m *metric.Metric) bool {
	if !m.Reachable {
		return true
	}
	return p.MaxLatencyMS != nil && m.LatencyMS != nil && *m.LatencyMS > *p.MaxLatencyMS
}

// Compose builds the alert subject and message. Unreachability wins over latency.
func Compose(e *endpoint.Endpoint, m *metric.Metric) (alert.Reason, string, string) {
	if !m.Reachable {
		cause := "unknown"
		if m.Error != nil {
			cause = *m.Error
		}
		return alert.ReasonDown,
			fmt.Sprintf("Monitor DOWN: %s", e.URL),
			fmt.Sprintf("Monitor DOWN: %s (Error: %s)", e.URL, cause)
	}
	var lat, limit int64
	if m.LatencyMS != nil {
		lat = *m.LatencyMS
	}
	if e.MaxLatencyMS != nil {
		limit = *e.MaxLatencyMS
	}
	return alert.ReasonLatency,
		fmt.Sprintf("Latency Alert: %s", e.URL),
		fmt.Sprintf("Latency Alert: %s (%dms > %dms)", e.URL, lat, limit)
}

// BuildPayload prepares the dispatcher hand-off. An endpoint without a
// contact goes to fallback.
func BuildPayload(e *endpoint.Endpoint, m *metric.Metric, fallback string) alert.Payload {
	reason, subject, msg := Compose(e, m)
	to := e.Contact
	if to == "" {
		to = fallback
	}
	return alert.Payload{
		EndpointID: e.ID,
		URL:        e.URL,
		Reason:     reason,
		Recipient:  to,
		Subject:    subject,
		Message:    msg,
		At:         m.Timestamp,
	}
}

package engine

import (
	"testing"

	"github.com/NordCoder/Sentinel/internal/domain/alert"
	"github.com/NordCoder/Sentinel/internal/domain/endpoint"
	"github.com/NordCoder/Sentinel/internal/domain/metric"
	"github.com/stretchr/testify/assert"
)

func TestShouldAlert(t *testing.T) {
	limit := endpoint.Policy{MaxLatencyMS: ptr[int64](500)}

	assert.True(t, ShouldAlert(endpoint.Policy{}, &metric.Metric{Reachable: false}))
	assert.False(t, ShouldAlert(endpoint.Policy{}, &metric.Metric{Reachable: true, LatencyMS: ptr[int64](99999)}))
	assert.True(t, ShouldAlert(limit, &metric.Metric{Reachable: true, LatencyMS: ptr[int64](501)}))
	assert.False(t, ShouldAlert(limit, &metric.Metric{Reachable: true, LatencyMS: ptr[int64](500)}))
	assert.False(t, ShouldAlert(limit, &metric.Metric{Reachable: true}))
}

func TestCompose_UnknownCause(t *testing.T) {
	e := &endpoint.Endpoint{URL: "http://a.example"}
	reason, subject, msg := Compose(e, &metric.Metric{Reachable: false})
	assert.Equal(t, alert.ReasonDown, reason)
	assert.Equal(t, "Monitor DOWN: http://a.example", subject)
	assert.Equal(t, "Monitor DOWN: http://a.example (Error: unknown)", msg)
}

func TestBuildPayload_Recipient(t *testing.T) {
	m := &metric.Metric{Reachable: false, Timestamp: now}
	e := &endpoint.Endpoint{URL: "http://a.example"}

	assert.Equal(t, "fallback@example.com", BuildPayload(e, m, "fallback@example.com").Recipient)
	e.Contact = "owner@example.com"
	p := BuildPayload(e, m, "fallback@example.com")
	assert.Equal(t, "owner@example.com", p.Recipient)
	assert.Equal(t, now, p.At)
}

package alert

import (
	"time"

	"github.com/google/uuid"
)

type Reason string

const (
	ReasonDown    Reason = "down"
	ReasonLatency Reason = "latency"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Alert is the durable record of one notification attempt.
type Alert struct {
	ID          uuid.UUID `json:"id"`
	EndpointID  uuid.UUID `json:"endpoint_id"`
	TriggeredAt time.Time `json:"triggered_at"`
	Message     string    `json:"message"`
	Channel     string    `json:"channel"`
}

// Payload travels through the outbox from the check cycle to the delivery worker.
type Payload struct {
	EndpointID uuid.UUID `json:"endpoint_id"`
	URL        string    `json:"url"`
	Reason     Reason    `json:"reason"`
	Recipient  string    `json:"recipient"`
	Subject    string    `json:"subject"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

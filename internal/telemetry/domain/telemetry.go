package domain

import "time"

// Event is a provisioning telemetry event. It is serialized as JSON on the
// Kafka topic and as attributes on OTel log records.
type Event struct {
	EventType  string    `json:"eventType"`
	Identifier string    `json:"identifier,omitempty"`
	AccountKey string    `json:"accountKey,omitempty"`
	Role       string    `json:"role,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Source     string    `json:"source,omitempty"`
	Metadata   []byte    `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

package kafka

import "context"

// SessionEvent is a lifecycle event for downstream consumers such as
// payouts and analytics.
type SessionEvent struct {
	Type          string  `json:"type"` // "session_started" | "session_ended"
	SessionID     string  `json:"session_id"`
	Kind          string  `json:"kind"`
	RequesterID   string  `json:"requester_id"`
	ProviderID    string  `json:"provider_id"`
	RatePerMinute float64 `json:"rate_per_minute"`
	Reason        string  `json:"reason,omitempty"`
	TotalAmount   float64 `json:"total_amount,omitempty"`
	TotalDuration int64   `json:"total_duration,omitempty"`
	Timestamp     int64   `json:"timestamp"`
}

// Event types
const (
	EventSessionStarted = "session_started"
	EventSessionEnded   = "session_ended"
)

// SessionEventProducer defines the interface for producing session events.
type SessionEventProducer interface {
	ProduceSessionEvent(ctx context.Context, event *SessionEvent) error
	Close() error
}

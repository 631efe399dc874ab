package domain

import (
	"time"

	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
)

// SessionKind distinguishes chat from call consultations.
type SessionKind string

const (
	KindChat SessionKind = "CHAT"
	KindCall SessionKind = "CALL"
)

// SessionStatus is the lifecycle status of a session record.
type SessionStatus string

const (
	StatusWaiting SessionStatus = "WAITING"
	StatusActive  SessionStatus = "ACTIVE"
	StatusEnded   SessionStatus = "ENDED"
	// StatusClosed marks a request that never became a session.
	StatusClosed SessionStatus = "CLOSED"
)

// Session is one consultation, from request to end. A request and the
// session it turns into share the same record.
type Session struct {
	ID            string
	Kind          SessionKind
	MediaKind     string
	RequesterID   string
	RequesterName string
	ProviderID    string
	RatePerMinute float64
	Status        SessionStatus
	CloseReason   string
	EndReason     string
	EndedBy       string
	RequestedAt   time.Time
	StartedAt     *time.Time
	EndedAt       *time.Time
	TotalAmount   float64
	TotalDuration int64
}

// IsParty reports whether participantID takes part in the session.
func (s *Session) IsParty(participantID string) bool {
	return participantID != "" && (s.RequesterID == participantID || s.ProviderID == participantID)
}

// Counterpart returns the other participant.
func (s *Session) Counterpart(participantID string) string {
	if s.RequesterID == participantID {
		return s.ProviderID
	}
	return s.RequesterID
}

// MediaRoomID is the relay room used for media negotiation of CALL sessions.
func (s *Session) MediaRoomID() string {
	if s.Kind != KindCall {
		return ""
	}
	return pubsub.MediaRoom(s.ID)
}

// Accrued returns the billable duration in whole seconds and its amount at
// now. Amounts are never stored while the session runs.
func (s *Session) Accrued(now time.Time) (seconds int64, amount float64) {
	if s.StartedAt == nil {
		return 0, 0
	}
	seconds = int64(now.Sub(*s.StartedAt) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	return seconds, float64(seconds) * s.RatePerMinute / 60
}

// ToResponse converts a session to its API shape.
func (s *Session) ToResponse() SessionResponse {
	return SessionResponse{
		ID:            s.ID,
		Kind:          s.Kind,
		MediaKind:     s.MediaKind,
		RequesterID:   s.RequesterID,
		ProviderID:    s.ProviderID,
		RatePerMinute: s.RatePerMinute,
		Status:        s.Status,
		MediaRoomID:   s.MediaRoomID(),
		RequestedAt:   s.RequestedAt,
		StartedAt:     s.StartedAt,
		EndedAt:       s.EndedAt,
		EndReason:     s.EndReason,
		TotalAmount:   s.TotalAmount,
		TotalDuration: s.TotalDuration,
	}
}

// SessionResponse is the session returned by the API.
type SessionResponse struct {
	ID            string        `json:"id"`
	Kind          SessionKind   `json:"kind"`
	MediaKind     string        `json:"media_kind,omitempty"`
	RequesterID   string        `json:"requester_id"`
	ProviderID    string        `json:"provider_id"`
	RatePerMinute float64       `json:"rate_per_minute"`
	Status        SessionStatus `json:"status"`
	MediaRoomID   string        `json:"media_room_id,omitempty"`
	RequestedAt   time.Time     `json:"requested_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	EndReason     string        `json:"end_reason,omitempty"`
	TotalAmount   float64       `json:"total_amount"`
	TotalDuration int64         `json:"total_duration"`
}

// CreateRequestRequest opens a request to a provider.
type CreateRequestRequest struct {
	ProviderID string      `json:"provider_id" binding:"required"`
	Kind       SessionKind `json:"kind" binding:"required,oneof=CHAT CALL"`
	MediaKind  string      `json:"media_kind" binding:"omitempty,oneof=AUDIO VIDEO"`
}

// AcceptRequestRequest may name the accepting provider; it must match the
// caller.
type AcceptRequestRequest struct {
	ProviderID string `json:"provider_id"`
}

// RejectRequestRequest declines a request.
type RejectRequestRequest struct {
	ProviderID string `json:"provider_id"`
	Reason     string `json:"reason" binding:"max=200"`
}

// EndSessionRequest may name the ending participant; it must match the
// caller.
type EndSessionRequest struct {
	ActorID string `json:"actor_id"`
}

// AcceptResponse is returned by a successful accept.
type AcceptResponse struct {
	Session     SessionResponse `json:"session"`
	MediaRoomID string          `json:"media_room_id,omitempty"`
}

// EndResponse carries the authoritative totals of an ended session.
type EndResponse struct {
	Session       SessionResponse `json:"session"`
	TotalAmount   float64         `json:"total_amount"`
	TotalDuration int64           `json:"total_duration"`
}

// Parties is served to relay-service for room membership checks.
type Parties struct {
	SessionID   string        `json:"session_id"`
	RequesterID string        `json:"requester_id"`
	ProviderID  string        `json:"provider_id"`
	Status      SessionStatus `json:"status"`
}

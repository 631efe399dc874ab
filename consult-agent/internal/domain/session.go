package domain

import (
	"sync"
	"time"
)

// SessionKind distinguishes chat from call consultations.
type SessionKind string

const (
	KindChat SessionKind = "CHAT"
	KindCall SessionKind = "CALL"
)

// MediaKind is set for CALL sessions only.
type MediaKind string

const (
	MediaAudio MediaKind = "AUDIO"
	MediaVideo MediaKind = "VIDEO"
)

// Status is the authoritative lifecycle status held by session-service.
type Status string

const (
	StatusWaiting Status = "WAITING"
	StatusActive  Status = "ACTIVE"
	StatusEnded   Status = "ENDED"
)

// Role is the side a process plays in a session.
type Role string

const (
	RoleRequester Role = "requester"
	RoleProvider  Role = "provider"
)

// Session is the local projection of a session record. The record itself is
// owned by session-service.
type Session struct {
	ID            string      `json:"id"`
	Kind          SessionKind `json:"kind"`
	MediaKind     MediaKind   `json:"media_kind,omitempty"`
	RequesterID   string      `json:"requester_id"`
	ProviderID    string      `json:"provider_id"`
	RatePerMinute float64     `json:"rate_per_minute"`
	Status        Status      `json:"status"`
	MediaRoomID   string      `json:"media_room_id,omitempty"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	EndedAt       *time.Time  `json:"ended_at,omitempty"`
	EndReason     string      `json:"end_reason,omitempty"`
	TotalAmount   float64     `json:"total_amount"`
	TotalDuration int64       `json:"total_duration"`
}

// Counterpart returns the other participant's id.
func (s *Session) Counterpart(self string) string {
	if s.RequesterID == self {
		return s.ProviderID
	}
	return s.RequesterID
}

// RoleOf returns the role participantID plays in the session.
func (s *Session) RoleOf(participantID string) Role {
	if s.ProviderID == participantID {
		return RoleProvider
	}
	return RoleRequester
}

// Clone returns a copy safe to hand to observers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// IncomingRequest is a WAITING session observed by its provider.
type IncomingRequest struct {
	ID            string      `json:"id"`
	Kind          SessionKind `json:"kind"`
	MediaKind     MediaKind   `json:"media_kind,omitempty"`
	RequesterID   string      `json:"requester_id"`
	RequesterName string      `json:"requester_name"`
	RatePerMinute float64     `json:"rate_per_minute"`
	ReceivedAt    time.Time   `json:"received_at"`
}

// Waited returns how long the request has been queued at now.
func (r *IncomingRequest) Waited(now time.Time) time.Duration {
	return now.Sub(r.ReceivedAt)
}

// ProfileSnapshot is a read-mostly copy of requester profile data.
type ProfileSnapshot struct {
	ParticipantID string            `json:"participant_id"`
	DisplayName   string            `json:"display_name"`
	AvatarURL     string            `json:"avatar_url,omitempty"`
	BirthDetails  map[string]string `json:"birth_details,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	FetchedAt     time.Time         `json:"fetched_at"`
}

// Availability tracks providers' online flag as announced on the channel.
type Availability struct {
	mu    sync.RWMutex
	state map[string]bool
}

// NewAvailability creates an empty availability table.
func NewAvailability() *Availability {
	return &Availability{state: make(map[string]bool)}
}

// Set records the availability of providerID.
func (a *Availability) Set(providerID string, available bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state[providerID] = available
}

// Get returns the last known availability of providerID.
func (a *Availability) Get(providerID string) (available, known bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	available, known = a.state[providerID]
	return available, known
}

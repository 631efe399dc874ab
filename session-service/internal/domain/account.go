package domain

import "time"

// Wallet holds a requester's prepaid balance.
type Wallet struct {
	ParticipantID string    `json:"participant_id"`
	Balance       float64   `json:"balance"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Provider is a participant that can be consulted.
type Provider struct {
	ID            string    `json:"id"`
	RatePerMinute float64   `json:"rate_per_minute"`
	Available     bool      `json:"available"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Profile is the participant data shown to a counterpart.
type Profile struct {
	ParticipantID string            `json:"participant_id"`
	DisplayName   string            `json:"display_name"`
	AvatarURL     string            `json:"avatar_url,omitempty"`
	BirthDetails  map[string]string `json:"birth_details,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// UpdateProfileRequest replaces the caller's profile.
type UpdateProfileRequest struct {
	DisplayName  string            `json:"display_name" binding:"required,max=100"`
	AvatarURL    string            `json:"avatar_url" binding:"omitempty,url"`
	BirthDetails map[string]string `json:"birth_details"`
	Notes        string            `json:"notes" binding:"max=2000"`
}

// AvailabilityRequest toggles a provider's availability.
type AvailabilityRequest struct {
	Available *bool `json:"available" binding:"required"`
}

package domain

import (
	"encoding/json"
	"time"
)

// SessionModel is the GORM model for sessions table.
type SessionModel struct {
	ID            string  `gorm:"type:varchar(36);primaryKey"`
	Kind          string  `gorm:"type:varchar(8);not null"`
	MediaKind     string  `gorm:"type:varchar(8)"`
	RequesterID   string  `gorm:"type:varchar(64);index;not null"`
	RequesterName string  `gorm:"type:varchar(100)"`
	ProviderID    string  `gorm:"type:varchar(64);index;not null"`
	RatePerMinute float64 `gorm:"not null"`
	Status        string  `gorm:"type:varchar(10);index;not null"`
	CloseReason   string  `gorm:"type:varchar(20)"`
	EndReason     string  `gorm:"type:varchar(32)"`
	EndedBy       string  `gorm:"type:varchar(64)"`
	RequestedAt   time.Time
	StartedAt     *time.Time
	EndedAt       *time.Time
	TotalAmount   float64
	TotalDuration int64
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for SessionModel.
func (SessionModel) TableName() string {
	return "sessions"
}

// ToDomain converts SessionModel to domain Session.
func (m *SessionModel) ToDomain() *Session {
	return &Session{
		ID:            m.ID,
		Kind:          SessionKind(m.Kind),
		MediaKind:     m.MediaKind,
		RequesterID:   m.RequesterID,
		RequesterName: m.RequesterName,
		ProviderID:    m.ProviderID,
		RatePerMinute: m.RatePerMinute,
		Status:        SessionStatus(m.Status),
		CloseReason:   m.CloseReason,
		EndReason:     m.EndReason,
		EndedBy:       m.EndedBy,
		RequestedAt:   m.RequestedAt,
		StartedAt:     m.StartedAt,
		EndedAt:       m.EndedAt,
		TotalAmount:   m.TotalAmount,
		TotalDuration: m.TotalDuration,
	}
}

// SessionToModel converts domain Session to SessionModel.
func SessionToModel(s *Session) *SessionModel {
	return &SessionModel{
		ID:            s.ID,
		Kind:          string(s.Kind),
		MediaKind:     s.MediaKind,
		RequesterID:   s.RequesterID,
		RequesterName: s.RequesterName,
		ProviderID:    s.ProviderID,
		RatePerMinute: s.RatePerMinute,
		Status:        string(s.Status),
		CloseReason:   s.CloseReason,
		EndReason:     s.EndReason,
		EndedBy:       s.EndedBy,
		RequestedAt:   s.RequestedAt,
		StartedAt:     s.StartedAt,
		EndedAt:       s.EndedAt,
		TotalAmount:   s.TotalAmount,
		TotalDuration: s.TotalDuration,
	}
}

// MessageModel is the GORM model for messages table. Ids are ULIDs, so
// ordering by id is ordering by creation.
type MessageModel struct {
	ID         string    `gorm:"type:varchar(26);primaryKey"`
	SessionID  string    `gorm:"type:varchar(36);index;not null"`
	SenderID   string    `gorm:"type:varchar(64);not null"`
	SenderRole string    `gorm:"type:varchar(16);not null"`
	Content    string    `gorm:"type:text;not null"`
	Seen       bool      `gorm:"not null;default:false"`
	CreatedAt  time.Time `gorm:"not null"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts MessageModel to domain Message.
func (m *MessageModel) ToDomain() *Message {
	return &Message{
		ID:         m.ID,
		SessionID:  m.SessionID,
		SenderID:   m.SenderID,
		SenderRole: m.SenderRole,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
		Seen:       m.Seen,
	}
}

// WalletModel is the GORM model for wallets table.
type WalletModel struct {
	ParticipantID string    `gorm:"type:varchar(64);primaryKey"`
	Balance       float64   `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for WalletModel.
func (WalletModel) TableName() string {
	return "wallets"
}

// ToDomain converts WalletModel to domain Wallet.
func (m *WalletModel) ToDomain() *Wallet {
	return &Wallet{ParticipantID: m.ParticipantID, Balance: m.Balance, UpdatedAt: m.UpdatedAt}
}

// ProviderModel is the GORM model for providers table.
type ProviderModel struct {
	ID            string    `gorm:"type:varchar(64);primaryKey"`
	RatePerMinute float64   `gorm:"not null"`
	Available     bool      `gorm:"not null;default:false"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for ProviderModel.
func (ProviderModel) TableName() string {
	return "providers"
}

// ToDomain converts ProviderModel to domain Provider.
func (m *ProviderModel) ToDomain() *Provider {
	return &Provider{ID: m.ID, RatePerMinute: m.RatePerMinute, Available: m.Available, UpdatedAt: m.UpdatedAt}
}

// ProfileModel is the GORM model for profiles table.
type ProfileModel struct {
	ParticipantID string    `gorm:"type:varchar(64);primaryKey"`
	DisplayName   string    `gorm:"type:varchar(100);not null"`
	AvatarURL     string    `gorm:"type:varchar(500)"`
	BirthDetails  string    `gorm:"type:text"` // JSON object
	Notes         string    `gorm:"type:text"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for ProfileModel.
func (ProfileModel) TableName() string {
	return "profiles"
}

// ToDomain converts ProfileModel to domain Profile.
func (m *ProfileModel) ToDomain() *Profile {
	p := &Profile{
		ParticipantID: m.ParticipantID,
		DisplayName:   m.DisplayName,
		AvatarURL:     m.AvatarURL,
		Notes:         m.Notes,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.BirthDetails != "" {
		_ = json.Unmarshal([]byte(m.BirthDetails), &p.BirthDetails)
	}
	return p
}

// ProfileToModel converts domain Profile to ProfileModel.
func ProfileToModel(p *Profile) *ProfileModel {
	m := &ProfileModel{
		ParticipantID: p.ParticipantID,
		DisplayName:   p.DisplayName,
		AvatarURL:     p.AvatarURL,
		Notes:         p.Notes,
	}
	if len(p.BirthDetails) > 0 {
		data, _ := json.Marshal(p.BirthDetails)
		m.BirthDetails = string(data)
	}
	return m
}

// Models lists every model for auto-migration.
func Models() []interface{} {
	return []interface{}{&SessionModel{}, &MessageModel{}, &WalletModel{}, &ProviderModel{}, &ProfileModel{}}
}

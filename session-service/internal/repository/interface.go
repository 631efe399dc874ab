package repository

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-consult/session-service/internal/domain"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionNotWaiting = errors.New("session is no longer waiting")
	ErrSessionNotActive  = errors.New("session is not active")
	ErrOpenSessionExists = errors.New("requester already has an open session")
	ErrProviderBusy      = errors.New("provider already has an active session")
	ErrProviderNotFound  = errors.New("provider not found")
	ErrProfileNotFound   = errors.New("profile not found")
)

// Finish carries the authoritative outcome of an ACTIVE session.
type Finish struct {
	EndedAt       time.Time
	Reason        string
	EndedBy       string
	TotalAmount   float64
	TotalDuration int64
}

// SessionRepository persists session records. Every status transition is a
// conditional update on the current status.
type SessionRepository interface {
	CreateRequest(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	FindActiveByParticipant(ctx context.Context, participantID string) (*domain.Session, error)
	Activate(ctx context.Context, id string, startedAt time.Time) (*domain.Session, error)
	CloseRequest(ctx context.Context, id, reason string, at time.Time) (*domain.Session, error)
	// Finish ends an ACTIVE session and debits the requester's wallet in one
	// transaction.
	Finish(ctx context.Context, id string, f Finish) (*domain.Session, *domain.Wallet, error)
	ListActive(ctx context.Context) ([]domain.Session, error)
	ListWaitingSince(ctx context.Context, before time.Time) ([]domain.Session, error)
	ListWaitingForProvider(ctx context.Context, providerID string) ([]domain.Session, error)
	HasSharedSession(ctx context.Context, a, b string) (bool, error)
}

// MessageRepository persists chat messages.
type MessageRepository interface {
	Create(ctx context.Context, m *domain.Message) error
	ListBySession(ctx context.Context, sessionID string) ([]domain.Message, error)
	// MarkSeen flags unseen messages not sent by readerID and returns the ids
	// it changed.
	MarkSeen(ctx context.Context, sessionID, readerID string, ids []string) ([]string, error)
}

// AccountRepository persists wallets, providers and profiles.
type AccountRepository interface {
	GetOrCreateWallet(ctx context.Context, participantID string, initial float64) (*domain.Wallet, error)
	GetProvider(ctx context.Context, id string) (*domain.Provider, error)
	SetAvailability(ctx context.Context, id string, available bool, defaultRate float64) (*domain.Provider, error)
	GetProfile(ctx context.Context, participantID string) (*domain.Profile, error)
	UpsertProfile(ctx context.Context, p *domain.Profile) error
}

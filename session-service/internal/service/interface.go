package service

import (
	"context"

	"github.com/weiawesome/wes-io-consult/session-service/internal/archive"
	"github.com/weiawesome/wes-io-consult/session-service/internal/domain"
)

// SessionService is the backend of record for consultations.
type SessionService interface {
	CreateRequest(ctx context.Context, requesterID, requesterName string, req *domain.CreateRequestRequest) (*domain.SessionResponse, error)
	CancelRequest(ctx context.Context, requesterID, requestID string) error
	AcceptRequest(ctx context.Context, providerID, requestID string) (*domain.AcceptResponse, error)
	RejectRequest(ctx context.Context, providerID, requestID, reason string) error
	EndSession(ctx context.Context, actorID, sessionID string) (*domain.EndResponse, error)

	// GetActiveSession returns nil when participantID has no ACTIVE session.
	GetActiveSession(ctx context.Context, participantID string) (*domain.SessionResponse, error)
	GetParties(ctx context.Context, sessionID string) (*domain.Parties, error)

	SendMessage(ctx context.Context, senderID, sessionID, content string) (*domain.MessageResponse, error)
	ListMessages(ctx context.Context, participantID, sessionID string) ([]domain.MessageResponse, error)
	MarkSeen(ctx context.Context, readerID, sessionID string, messageIDs []string) error
	GetTranscript(ctx context.Context, participantID, sessionID string) (*archive.Transcript, error)

	SetAvailability(ctx context.Context, providerID string, available bool) (*domain.Provider, error)
	GetProfile(ctx context.Context, viewerID, participantID string) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, participantID string, req *domain.UpdateProfileRequest) (*domain.Profile, error)
	GetWallet(ctx context.Context, participantID string) (*domain.Wallet, error)
	IssueMediaToken(ctx context.Context, participantID, sessionID string) (string, error)

	// ExpireRequests closes requests left WAITING past the request timeout.
	ExpireRequests(ctx context.Context) (int, error)
	// EnforceBalances force-ends sessions whose accrued amount reached the
	// requester's balance.
	EnforceBalances(ctx context.Context) (int, error)
}

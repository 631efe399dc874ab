package session

import (
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/billing"
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/domain"
)

// Phase is the local lifecycle phase of this participant.
type Phase string

const (
	PhaseIdle    Phase = "IDLE"
	PhaseWaiting Phase = "WAITING"
	PhaseActive  Phase = "ACTIVE"
	PhaseEnded   Phase = "ENDED"
)

// UpdateKind names what changed in the projection.
type UpdateKind string

const (
	UpdateQueue          UpdateKind = "queue"
	UpdateRequestPending UpdateKind = "request_pending"
	UpdateRequestClosed  UpdateKind = "request_closed"
	UpdateSessionActive  UpdateKind = "session_active"
	UpdateSessionEnded   UpdateKind = "session_ended"
	UpdateSessionFailed  UpdateKind = "session_failed"
	UpdateMediaConnected UpdateKind = "media_connected"
	UpdateTick           UpdateKind = "tick"
	UpdateMessages       UpdateKind = "messages"
	UpdateTyping         UpdateKind = "typing"
	UpdateWallet         UpdateKind = "wallet"
	UpdateAvailability   UpdateKind = "availability"
	UpdateProfile        UpdateKind = "profile"
)

// Update is delivered to observers after every projection change. Only the
// fields relevant to Kind are set.
type Update struct {
	Kind UpdateKind

	Session  *domain.Session
	Requests []domain.IncomingRequest
	Messages []domain.Message
	Profile  *domain.ProfileSnapshot
	Tick     billing.Tick
	Err      error

	Reason     string
	Typing     bool
	Balance    float64
	ProviderID string
	Available  bool
}

// Observer receives updates synchronously, outside the coordinator lock.
type Observer func(Update)

package pubsub

import (
	"fmt"
	"strings"
	"time"
)

// Kind enumerates every event carried on the consultation event channel.
type Kind string

// Session notifications. None of them is authoritative; receivers confirm
// through the session-service API before changing session status.
const (
	KindIncomingRequest     Kind = "incoming_request"
	KindRequestClosed       Kind = "request_closed"
	KindSessionAccepted     Kind = "session_accepted"
	KindSessionEnded        Kind = "session_ended"
	KindNewMessage          Kind = "new_message"
	KindMessageSeen         Kind = "message_seen"
	KindTyping              Kind = "typing"
	KindWalletUpdated       Kind = "wallet_updated"
	KindAvailabilityChanged Kind = "availability_changed"
)

// Media negotiation, exchanged peer to peer inside a media room.
const (
	KindMediaReady     Kind = "media_ready"
	KindMediaOffer     Kind = "media_offer"
	KindMediaAnswer    Kind = "media_answer"
	KindMediaCandidate Kind = "media_candidate"
)

// Kinds lists the session notification kinds in dispatch order.
var Kinds = []Kind{
	KindIncomingRequest,
	KindRequestClosed,
	KindSessionAccepted,
	KindSessionEnded,
	KindNewMessage,
	KindMessageSeen,
	KindTyping,
	KindWalletUpdated,
	KindAvailabilityChanged,
}

// ClientPublishable reports whether a participant may publish kind directly
// through the relay. Everything else originates from session-service.
func (k Kind) ClientPublishable() bool {
	switch k {
	case KindTyping, KindRequestClosed,
		KindMediaReady, KindMediaOffer, KindMediaAnswer, KindMediaCandidate:
		return true
	}
	return false
}

// ChannelRelayRoom carries events destined for one relay room.
const (
	ChannelRelayRoom = "consult:room:%s:to_relay"
	PatternRelayRoom = "consult:room:*:to_relay"
)

// RelayRoomChannel returns the bus channel for events destined to roomID.
func RelayRoomChannel(roomID string) string {
	return fmt.Sprintf(ChannelRelayRoom, roomID)
}

// Room name prefixes.
const (
	roomParticipant = "participant:"
	roomSession     = "session:"
	roomMedia       = "media:"
)

// ParticipantRoom is the personal room every connected participant joins.
func ParticipantRoom(participantID string) string { return roomParticipant + participantID }

// SessionRoom carries chat traffic for one session.
func SessionRoom(sessionID string) string { return roomSession + sessionID }

// MediaRoom carries media negotiation for one session.
func MediaRoom(sessionID string) string { return roomMedia + sessionID }

// ParseRoom splits a room name into its prefix kind and the id it scopes.
func ParseRoom(roomID string) (kind, id string, ok bool) {
	for _, p := range []string{roomParticipant, roomSession, roomMedia} {
		if strings.HasPrefix(roomID, p) && len(roomID) > len(p) {
			return strings.TrimSuffix(p, ":"), roomID[len(p):], true
		}
	}
	return "", "", false
}

// IncomingRequestPayload announces a WAITING session to its provider.
type IncomingRequestPayload struct {
	RequestID     string    `json:"request_id"`
	SessionKind   string    `json:"session_kind"`
	MediaKind     string    `json:"media_kind,omitempty"`
	RequesterID   string    `json:"requester_id"`
	RequesterName string    `json:"requester_name"`
	ProviderID    string    `json:"provider_id"`
	RatePerMinute float64   `json:"rate_per_minute"`
	RequestedAt   time.Time `json:"requested_at"`
}

// Request close reasons.
const (
	ReasonAccepted  = "accepted"
	ReasonRejected  = "rejected"
	ReasonExpired   = "expired"
	ReasonCancelled = "cancelled"
)

// RequestClosedPayload tells both sides a request left the WAITING state
// without them necessarily being the cause.
type RequestClosedPayload struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

// SessionAcceptedPayload is sent to the requester once the provider accepted.
type SessionAcceptedPayload struct {
	SessionID   string `json:"session_id"`
	RequestID   string `json:"request_id"`
	ProviderID  string `json:"provider_id"`
	RequesterID string `json:"requester_id"`
	MediaRoomID string `json:"media_room_id,omitempty"`
}

// Session end reasons.
const (
	EndReasonExplicit            = "explicit"
	EndReasonInsufficientBalance = "insufficient_balance"
)

// SessionEndedPayload is sent to both participants when a session ends.
type SessionEndedPayload struct {
	SessionID     string  `json:"session_id"`
	EndedBy       string  `json:"ended_by,omitempty"`
	Reason        string  `json:"reason"`
	TotalAmount   float64 `json:"total_amount"`
	TotalDuration int64   `json:"total_duration"`
}

// NewMessagePayload references a persisted message.
type NewMessagePayload struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
}

// MessageSeenPayload references messages the reader has seen.
type MessageSeenPayload struct {
	SessionID  string   `json:"session_id"`
	MessageIDs []string `json:"message_ids"`
	ReaderID   string   `json:"reader_id"`
}

// TypingPayload is a UI hint only.
type TypingPayload struct {
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
	Typing        bool   `json:"typing"`
}

// WalletUpdatedPayload carries the requester's current balance.
type WalletUpdatedPayload struct {
	ParticipantID string  `json:"participant_id"`
	Balance       float64 `json:"balance"`
}

// AvailabilityChangedPayload announces a provider going online or offline.
type AvailabilityChangedPayload struct {
	ProviderID string `json:"provider_id"`
	Available  bool   `json:"available"`
}

// MediaSignalPayload carries one step of peer negotiation.
type MediaSignalPayload struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name,omitempty"`
	Token         string `json:"token,omitempty"`
	SDP           string `json:"sdp,omitempty"`
	Candidate     string `json:"candidate,omitempty"`
}

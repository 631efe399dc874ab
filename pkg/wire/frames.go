// Package wire defines the WebSocket frames exchanged between a participant
// process and relay-service.
package wire

import (
	"encoding/json"

	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
)

// Frame types sent by a participant.
const (
	TypeAuth      = "auth"
	TypeJoinRoom  = "join_room"
	TypeLeaveRoom = "leave_room"
	TypePublish   = "publish"
	TypePing      = "ping"
)

// Frame types sent by the relay.
const (
	TypeAuthResult = "auth_result"
	TypeRoomJoined = "room_joined"
	TypeRoomLeft   = "room_left"
	TypeEvent      = "event"
	TypeError      = "error"
	TypePong       = "pong"
)

// Error codes carried by error frames.
const (
	ErrCodeBadRequest     = "BAD_REQUEST"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeForbidden      = "FORBIDDEN"
	ErrCodeNotPublishable = "NOT_PUBLISHABLE"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// Frame is the single envelope for every message on the socket. Only the
// fields relevant to Type are set.
type Frame struct {
	Type string `json:"type"`

	Token  string        `json:"token,omitempty"`
	RoomID string        `json:"room_id,omitempty"`
	Event  *pubsub.Event `json:"event,omitempty"`

	Success       bool   `json:"success,omitempty"`
	ParticipantID string `json:"participant_id,omitempty"`
	Code          string `json:"code,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Encode marshals f.
func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// Decode parses a frame.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// NewError builds an error frame.
func NewError(code, message, roomID string) *Frame {
	return &Frame{Type: TypeError, Code: code, Message: message, RoomID: roomID}
}

package domain

import "time"

// Message is one chat message.
type Message struct {
	ID         string
	SessionID  string
	SenderID   string
	SenderRole string
	Content    string
	CreatedAt  time.Time
	Seen       bool
}

// MessageResponse is the message returned by the API.
type MessageResponse struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	SenderID   string    `json:"sender_id"`
	SenderRole string    `json:"sender_role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Seen       bool      `json:"seen"`
}

// ToResponse converts a message to its API shape.
func (m *Message) ToResponse() MessageResponse {
	return MessageResponse{
		ID:         m.ID,
		SessionID:  m.SessionID,
		SenderID:   m.SenderID,
		SenderRole: m.SenderRole,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
		Seen:       m.Seen,
	}
}

// SendMessageRequest posts a chat message.
type SendMessageRequest struct {
	Content string `json:"content" binding:"required,max=4000"`
}

// MarkSeenRequest marks messages as seen by the caller.
type MarkSeenRequest struct {
	MessageIDs []string `json:"message_ids" binding:"required,min=1"`
}

package domain

import (
	"sort"
	"time"
)

// Message is one chat message of a CHAT session.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	SenderID   string    `json:"sender_id"`
	SenderRole Role      `json:"sender_role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Seen       bool      `json:"seen"`
}

// Transcript holds the messages of one session keyed by id, ordered by
// creation. Seen flags only ever move from false to true.
type Transcript struct {
	sessionID string
	byID      map[string]*Message
	order     []string
}

// NewTranscript creates an empty transcript for sessionID.
func NewTranscript(sessionID string) *Transcript {
	return &Transcript{sessionID: sessionID, byID: make(map[string]*Message)}
}

// Merge upserts authoritative messages and reports whether anything changed.
func (t *Transcript) Merge(msgs ...Message) bool {
	changed := false
	for i := range msgs {
		m := msgs[i]
		if m.SessionID != t.sessionID {
			continue
		}
		cur, ok := t.byID[m.ID]
		if !ok {
			cp := m
			t.byID[m.ID] = &cp
			t.order = append(t.order, m.ID)
			changed = true
			continue
		}
		if m.Seen && !cur.Seen {
			cur.Seen = true
			changed = true
		}
	}
	if changed {
		sort.SliceStable(t.order, func(i, j int) bool {
			return t.byID[t.order[i]].CreatedAt.Before(t.byID[t.order[j]].CreatedAt)
		})
	}
	return changed
}

// Messages returns a copy of the transcript in creation order.
func (t *Transcript) Messages() []Message {
	out := make([]Message, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.byID[id])
	}
	return out
}

// Unseen returns ids of messages from senders other than reader not yet seen.
func (t *Transcript) Unseen(reader string) []string {
	var ids []string
	for _, id := range t.order {
		m := t.byID[id]
		if m.SenderID != reader && !m.Seen {
			ids = append(ids, id)
		}
	}
	return ids
}

// Get returns the message with id.
func (t *Transcript) Get(id string) (Message, bool) {
	m, ok := t.byID[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

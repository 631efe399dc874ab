package session

import (
	"context"
	"strings"

	"github.com/weiawesome/wes-io-consult/consult-agent/internal/domain"
	pkglog "github.com/weiawesome/wes-io-consult/pkg/log"
	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
)

func (c *Coordinator) activeChat() (*domain.Session, error) {
	c.mu.Lock()
	s := c.active.Clone()
	c.mu.Unlock()
	switch {
	case s == nil:
		return nil, domain.ErrNoActiveSession
	case s.Kind != domain.KindChat:
		return nil, domain.ErrWrongSessionKind
	}
	return s, nil
}

// SendMessage persists a message through the backend. The backend fans it
// out to the other participant.
func (c *Coordinator) SendMessage(ctx context.Context, content string) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domain.ErrEmptyMessage
	}
	s, err := c.activeChat()
	if err != nil {
		return nil, err
	}

	rctx, cancel := c.requestCtx(ctx)
	defer cancel()
	m, err := c.backend.SendMessage(rctx, s.ID, content)
	if err != nil {
		if domain.IsAuthority(err) {
			c.finalize(s.ID, "gone", nil)
		}
		return nil, err
	}
	c.merge(s.ID, *m)
	return m, nil
}

// MarkSeen marks every unseen message from the other participant as seen.
// The local flags change only after the backend has been reconciled.
func (c *Coordinator) MarkSeen(ctx context.Context) error {
	s, err := c.activeChat()
	if err != nil {
		return err
	}
	c.mu.Lock()
	var ids []string
	if c.transcript != nil {
		ids = c.transcript.Unseen(c.cfg.ParticipantID)
	}
	c.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}

	rctx, cancel := c.requestCtx(ctx)
	defer cancel()
	if err := c.backend.MarkSeen(rctx, s.ID, ids); err != nil {
		if domain.IsAuthority(err) {
			c.finalize(s.ID, "gone", nil)
		}
		return err
	}
	c.reconcileMessages(ctx, s.ID)
	return nil
}

// SetTyping publishes a typing hint. It is never acknowledged.
func (c *Coordinator) SetTyping(ctx context.Context, typing bool) {
	s, err := c.activeChat()
	if err != nil {
		return
	}
	if err := c.ch.Publish(ctx, pubsub.KindTyping, pubsub.SessionRoom(s.ID), pubsub.TypingPayload{
		SessionID:     s.ID,
		ParticipantID: c.cfg.ParticipantID,
		Typing:        typing,
	}); err != nil {
		c.log.Debug().Err(err).Msg("typing hint dropped")
	}
}

func (c *Coordinator) onMessagesChanged(ctx context.Context, ev *pubsub.Event) {
	var ref struct {
		SessionID string `json:"session_id"`
	}
	if err := ev.UnmarshalPayload(&ref); err != nil {
		return
	}
	c.mu.Lock()
	isActive := c.active != nil && c.active.ID == ref.SessionID
	c.mu.Unlock()
	if !isActive {
		return
	}
	c.reconcileMessages(ctx, ref.SessionID)
}

func (c *Coordinator) onTyping(_ context.Context, ev *pubsub.Event) {
	var p pubsub.TypingPayload
	if err := ev.UnmarshalPayload(&p); err != nil || p.ParticipantID == c.cfg.ParticipantID {
		return
	}
	c.mu.Lock()
	isActive := c.active != nil && c.active.ID == p.SessionID
	c.mu.Unlock()
	if isActive {
		c.emit(Update{Kind: UpdateTyping, Typing: p.Typing})
	}
}

// reconcileMessages replaces the local view with the backend's transcript.
func (c *Coordinator) reconcileMessages(ctx context.Context, sessionID string) {
	rctx, cancel := c.requestCtx(ctx)
	defer cancel()
	msgs, err := c.backend.ListMessages(rctx, sessionID)
	if err != nil {
		if domain.IsAuthority(err) {
			c.finalize(sessionID, "gone", nil)
			return
		}
		c.log.Warn().Err(err).Str(pkglog.FieldSessionID, sessionID).Msg("message reconcile failed")
		return
	}
	c.merge(sessionID, msgs...)
}

func (c *Coordinator) merge(sessionID string, msgs ...domain.Message) {
	c.mu.Lock()
	if c.transcript == nil || c.active == nil || c.active.ID != sessionID {
		c.mu.Unlock()
		return
	}
	changed := c.transcript.Merge(msgs...)
	snapshot := c.transcript.Messages()
	c.mu.Unlock()
	if changed {
		c.emit(Update{Kind: UpdateMessages, Messages: snapshot})
	}
}

package session

import (
	"context"

	"github.com/weiawesome/wes-io-consult/consult-agent/internal/domain"
	pkglog "github.com/weiawesome/wes-io-consult/pkg/log"
	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
)

// RequestSession opens a request to providerID. Only one request may wait at
// a time and none while a session is active.
func (c *Coordinator) RequestSession(ctx context.Context, providerID string, kind domain.SessionKind, mediaKind domain.MediaKind) (*domain.Session, error) {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return nil, ErrClosed
	case c.cfg.Role != domain.RoleRequester:
		c.mu.Unlock()
		return nil, domain.ErrWrongRole
	case c.active != nil:
		c.mu.Unlock()
		return nil, domain.ErrSessionActive
	case c.pending != nil || c.requesting:
		c.mu.Unlock()
		return nil, domain.ErrRequestPending
	}
	c.requesting = true
	c.mu.Unlock()

	if kind != domain.KindCall {
		mediaKind = ""
	}
	rctx, cancel := c.requestCtx(ctx)
	s, err := c.backend.CreateRequest(rctx, providerID, kind, mediaKind)
	cancel()

	c.mu.Lock()
	c.requesting = false
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.pending = s.Clone()
	c.lastEnded = nil
	c.mu.Unlock()

	c.log.Info().Str(pkglog.FieldConsultID, s.ID).Str("provider_id", providerID).Msg("request sent")
	c.emit(Update{Kind: UpdateRequestPending, Session: s.Clone()})
	return s, nil
}

// CancelRequest withdraws the waiting request.
func (c *Coordinator) CancelRequest(ctx context.Context) error {
	c.mu.Lock()
	p := c.pending.Clone()
	c.mu.Unlock()
	if p == nil {
		return domain.ErrNoPendingRequest
	}

	rctx, cancel := c.requestCtx(ctx)
	defer cancel()
	if err := c.backend.CancelRequest(rctx, p.ID); err != nil {
		return err
	}
	c.clearPending(p.ID, pubsub.ReasonCancelled)
	return nil
}

func (c *Coordinator) clearPending(requestID, reason string) {
	c.mu.Lock()
	if c.pending == nil || c.pending.ID != requestID {
		c.mu.Unlock()
		return
	}
	p := c.pending
	c.pending = nil
	c.mu.Unlock()
	c.emit(Update{Kind: UpdateRequestClosed, Session: p, Reason: reason})
}

// requestClosed handles the requester side of request_closed. An accepted
// close waits for session_accepted; any other reason is confirmed against
// the backend before the pending request is dropped.
func (c *Coordinator) requestClosed(ctx context.Context, p pubsub.RequestClosedPayload) {
	c.mu.Lock()
	mine := c.pending != nil && c.pending.ID == p.RequestID
	c.mu.Unlock()
	if !mine || p.Reason == pubsub.ReasonAccepted {
		return
	}

	rctx, cancel := c.requestCtx(ctx)
	defer cancel()
	remote, err := c.backend.GetActiveSession(rctx, c.cfg.ParticipantID)
	if err != nil {
		c.log.Warn().Err(err).Str(pkglog.FieldConsultID, p.RequestID).Msg("could not confirm request close")
		return
	}
	if remote != nil && remote.Status == domain.StatusActive {
		// The request was accepted after all.
		c.adoptAccepted(ctx, remote)
		return
	}
	c.clearPending(p.RequestID, p.Reason)
}

func (c *Coordinator) onSessionAccepted(ctx context.Context, ev *pubsub.Event) {
	if c.cfg.Role != domain.RoleRequester {
		return
	}
	var p pubsub.SessionAcceptedPayload
	if err := ev.UnmarshalPayload(&p); err != nil {
		c.log.Warn().Err(err).Msg("invalid session_accepted payload")
		return
	}

	c.mu.Lock()
	expected := c.pending != nil && (c.pending.ID == p.RequestID || c.pending.ID == p.SessionID)
	already := c.active != nil && c.active.ID == p.SessionID
	c.mu.Unlock()
	if !expected || already {
		return
	}

	rctx, cancel := c.requestCtx(ctx)
	remote, err := c.backend.GetActiveSession(rctx, c.cfg.ParticipantID)
	cancel()
	if err != nil {
		c.log.Warn().Err(err).Str(pkglog.FieldSessionID, p.SessionID).Msg("could not confirm acceptance")
		return
	}
	if remote == nil || remote.ID != p.SessionID || remote.Status != domain.StatusActive {
		c.log.Warn().Str(pkglog.FieldSessionID, p.SessionID).Msg("session_accepted not confirmed, ignoring")
		return
	}
	if remote.MediaRoomID == "" {
		remote.MediaRoomID = p.MediaRoomID
	}
	c.adoptAccepted(ctx, remote)
}

// adoptAccepted activates a session the provider accepted and joins media
// for calls.
func (c *Coordinator) adoptAccepted(ctx context.Context, s *domain.Session) {
	active, ok := c.activate(s, false)
	if !ok || active.Kind != domain.KindCall {
		return
	}
	if err := c.startMedia(ctx, active); err != nil {
		c.log.Warn().Err(err).Str(pkglog.FieldSessionID, active.ID).Msg("media join failed")
	}
}

func (c *Coordinator) onWalletUpdated(_ context.Context, ev *pubsub.Event) {
	var p pubsub.WalletUpdatedPayload
	if err := ev.UnmarshalPayload(&p); err != nil || p.ParticipantID != c.cfg.ParticipantID {
		return
	}
	c.mu.Lock()
	c.balance = p.Balance
	c.mu.Unlock()
	c.emit(Update{Kind: UpdateWallet, Balance: p.Balance})
}

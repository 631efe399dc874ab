package session

import (
	"context"
	"fmt"

	"github.com/weiawesome/wes-io-consult/consult-agent/internal/billing"
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/domain"
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/media"
	pkglog "github.com/weiawesome/wes-io-consult/pkg/log"
	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
)

// totals are the authoritative figures reported for an ended session.
type totals struct {
	amount   float64
	duration int64
}

// activate installs s as the active session. adopt is set when the session
// was already running before this process saw it; the timer then counts
// from the backend's start instant for every kind.
func (c *Coordinator) activate(s *domain.Session, adopt bool) (*domain.Session, bool) {
	c.mu.Lock()
	if c.closed || (c.active != nil && c.active.ID == s.ID) {
		c.mu.Unlock()
		return nil, false
	}
	s = s.Clone()
	s.Status = domain.StatusActive
	if s.StartedAt == nil {
		now := c.cfg.Now()
		s.StartedAt = &now
	}

	if c.tickCancel != nil {
		c.tickCancel()
	}
	timer := billing.NewTimer(s.RatePerMinute, billing.WithClock(c.cfg.Now), billing.WithInterval(c.cfg.TickInterval))
	c.tickCancel = timer.Subscribe(func(t billing.Tick) {
		c.emit(Update{Kind: UpdateTick, Tick: t})
	})
	c.timer = timer
	c.active = s
	c.lastEnded = nil
	c.pending = nil
	c.transcript = domain.NewTranscript(s.ID)
	c.mu.Unlock()

	// A CALL accepted here is billed from media connection, anything else
	// from the backend's start instant.
	if adopt || s.Kind != domain.KindCall {
		timer.StartAt(*s.StartedAt)
	}

	c.joinRoom(pubsub.SessionRoom(s.ID))
	c.log.Info().Str(pkglog.FieldSessionID, s.ID).Str("kind", string(s.Kind)).Bool("adopted", adopt).Msg("session active")
	out := s.Clone()
	c.emit(Update{Kind: UpdateSessionActive, Session: out})
	return out, true
}

// finalize moves the active session to ENDED. It reports false when
// sessionID is not the active session, which makes duplicate end
// notifications no-ops.
func (c *Coordinator) finalize(sessionID, reason string, t *totals) bool {
	c.mu.Lock()
	if c.active == nil || c.active.ID != sessionID {
		c.mu.Unlock()
		return false
	}
	s := c.active
	c.active = nil
	adapter := c.adapter
	c.adapter = nil
	timer := c.timer
	tickCancel := c.tickCancel
	c.tickCancel = nil

	if t != nil {
		timer.Freeze(t.duration)
		s.TotalDuration = t.duration
		s.TotalAmount = t.amount
	} else {
		timer.Stop()
		s.TotalDuration = timer.ElapsedSeconds()
		s.TotalAmount = billing.AmountFor(s.TotalDuration, s.RatePerMinute)
	}
	now := c.cfg.Now()
	s.Status = domain.StatusEnded
	s.EndedAt = &now
	s.EndReason = reason
	c.lastEnded = s
	c.mu.Unlock()

	if tickCancel != nil {
		tickCancel()
	}
	if adapter != nil {
		adapter.Teardown()
	}
	c.leaveRoom(pubsub.SessionRoom(sessionID))

	if c.profiles != nil && c.cfg.Role == domain.RoleProvider {
		c.profiles.Invalidate(c.ctx, s.RequesterID)
	}

	c.log.Info().Str(pkglog.FieldSessionID, sessionID).Str("reason", reason).
		Int64("total_duration", s.TotalDuration).Float64("total_amount", s.TotalAmount).Msg("session ended")
	c.emit(Update{Kind: UpdateSessionEnded, Session: s.Clone(), Reason: reason})
	return true
}

// End ends the active session through the backend. Ending when the session
// is already gone is not an error.
func (c *Coordinator) End(ctx context.Context) (*domain.Session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	s := c.active.Clone()
	last := c.lastEnded.Clone()
	c.mu.Unlock()

	if s == nil {
		if last != nil {
			return last, nil
		}
		return nil, domain.ErrNoActiveSession
	}

	rctx, cancel := c.requestCtx(ctx)
	defer cancel()
	res, err := c.backend.EndSession(rctx, s.ID, c.cfg.ParticipantID)
	switch {
	case domain.IsAuthority(err):
		c.finalize(s.ID, "gone", nil)
	case err != nil:
		return nil, err
	default:
		c.finalize(s.ID, pubsub.EndReasonExplicit, &totals{amount: res.TotalAmount, duration: res.TotalDuration})
	}
	return c.LastEnded(), nil
}

// Resync reconciles the projection with the backend's view of this
// participant. A session that is still active keeps its running timer.
func (c *Coordinator) Resync(ctx context.Context) error {
	rctx, cancel := c.requestCtx(ctx)
	defer cancel()
	remote, err := c.backend.GetActiveSession(rctx, c.cfg.ParticipantID)
	if err != nil {
		return fmt.Errorf("get active session: %w", err)
	}

	c.mu.Lock()
	cur := c.active.Clone()
	c.mu.Unlock()

	if remote == nil || remote.Status != domain.StatusActive {
		if cur != nil {
			c.finalize(cur.ID, "ended while disconnected", nil)
		}
		return nil
	}

	if cur != nil && cur.ID == remote.ID {
		if cur.Kind == domain.KindChat {
			c.reconcileMessages(ctx, cur.ID)
		}
		return nil
	}
	if cur != nil {
		c.finalize(cur.ID, "superseded", nil)
	}
	if s, ok := c.activate(remote, true); ok && s.Kind == domain.KindChat {
		c.reconcileMessages(ctx, s.ID)
	}
	return nil
}

// startMedia prepares and joins a fresh adapter for the active CALL.
func (c *Coordinator) startMedia(ctx context.Context, s *domain.Session) error {
	if c.newAdapter == nil {
		return domain.ErrEngineUnavailable
	}
	adapter := c.newAdapter(s.MediaKind == domain.MediaVideo)

	c.mu.Lock()
	if c.active == nil || c.active.ID != s.ID || c.adapter != nil {
		busy := c.adapter != nil
		c.mu.Unlock()
		adapter.Teardown()
		if busy {
			return domain.ErrAlreadyJoined
		}
		return domain.ErrNoActiveSession
	}
	c.adapter = adapter
	c.mu.Unlock()

	if err := adapter.Prepare(ctx); err != nil {
		c.mediaFailed(s, adapter, err)
		return err
	}
	tokens := func(ctx context.Context) (string, error) {
		return c.backend.MediaToken(ctx, s.ID)
	}
	if err := adapter.Join(ctx, s.MediaRoomID, c.cfg.ParticipantID, c.cfg.DisplayName, tokens); err != nil {
		c.mediaFailed(s, adapter, err)
		return err
	}

	c.wg.Add(1)
	go c.watchMedia(s, adapter)
	return nil
}

func (c *Coordinator) watchMedia(s *domain.Session, adapter *media.Adapter) {
	defer c.wg.Done()
	select {
	case <-c.ctx.Done():
		return
	case <-adapter.Done():
		return
	case err := <-adapter.Failed():
		c.mediaFailed(s, adapter, err)
		return
	case <-adapter.Connected():
	}

	c.mu.Lock()
	current := c.adapter == adapter
	timer := c.timer
	c.mu.Unlock()
	if !current {
		return
	}
	timer.Start()
	c.log.Info().Str(pkglog.FieldSessionID, s.ID).Msg("media connected")
	c.emit(Update{Kind: UpdateMediaConnected, Session: s.Clone()})

	select {
	case <-c.ctx.Done():
	case <-adapter.Done():
	case err := <-adapter.Failed():
		c.mediaFailed(s, adapter, err)
	}
}

// mediaFailed tears the adapter down and reports a failure distinct from a
// normal end. The session stays active on the backend; the participant may
// retry media or end it.
func (c *Coordinator) mediaFailed(s *domain.Session, adapter *media.Adapter, err error) {
	c.mu.Lock()
	current := c.adapter == adapter
	if current {
		c.adapter = nil
	}
	c.mu.Unlock()
	adapter.Teardown()
	if !current {
		return
	}
	c.log.Warn().Err(err).Str(pkglog.FieldSessionID, s.ID).Msg("media session failed")
	c.emit(Update{Kind: UpdateSessionFailed, Session: s.Clone(), Err: err})
}

// RetryMedia joins the active call again after a media failure.
func (c *Coordinator) RetryMedia(ctx context.Context) error {
	c.mu.Lock()
	s := c.active.Clone()
	busy := c.adapter != nil
	c.mu.Unlock()

	switch {
	case s == nil:
		return domain.ErrNoActiveSession
	case s.Kind != domain.KindCall:
		return domain.ErrWrongSessionKind
	case busy:
		return domain.ErrAlreadyJoined
	}
	return c.startMedia(ctx, s)
}

func (c *Coordinator) onSessionEnded(ctx context.Context, ev *pubsub.Event) {
	var p pubsub.SessionEndedPayload
	if err := ev.UnmarshalPayload(&p); err != nil {
		c.log.Warn().Err(err).Msg("invalid session_ended payload")
		return
	}

	c.mu.Lock()
	isActive := c.active != nil && c.active.ID == p.SessionID
	c.mu.Unlock()
	if !isActive {
		return
	}

	rctx, cancel := c.requestCtx(ctx)
	defer cancel()
	remote, err := c.backend.GetActiveSession(rctx, c.cfg.ParticipantID)
	if err != nil {
		c.log.Warn().Err(err).Str(pkglog.FieldSessionID, p.SessionID).Msg("could not confirm session end")
		return
	}
	if remote != nil && remote.ID == p.SessionID && remote.Status == domain.StatusActive {
		c.log.Warn().Str(pkglog.FieldSessionID, p.SessionID).Msg("session_ended not confirmed, ignoring")
		return
	}
	t := &totals{amount: p.TotalAmount, duration: p.TotalDuration}
	// Ending an ENDED session returns its stored totals.
	if res, err := c.backend.EndSession(rctx, p.SessionID, c.cfg.ParticipantID); err == nil {
		t = &totals{amount: res.TotalAmount, duration: res.TotalDuration}
	} else {
		c.log.Debug().Err(err).Str(pkglog.FieldSessionID, p.SessionID).Msg("stored totals unavailable, using notification")
	}
	c.finalize(p.SessionID, p.Reason, t)
}

package session

import (
	"context"
	"fmt"

	"github.com/weiawesome/wes-io-consult/consult-agent/internal/domain"
	pkglog "github.com/weiawesome/wes-io-consult/pkg/log"
	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
)

// Accept accepts a queued request. It is refused locally, without a backend
// call, while a session is active or another accept is in flight. A lost
// race returns domain.ErrNoLongerAvailable and changes nothing.
//
// For a CALL the media adapter is prepared and joined before returning; a
// media failure is returned as a resource error next to the active session.
func (c *Coordinator) Accept(ctx context.Context, requestID string) (*domain.Session, error) {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return nil, ErrClosed
	case c.cfg.Role != domain.RoleProvider:
		c.mu.Unlock()
		return nil, domain.ErrWrongRole
	case c.active != nil:
		c.mu.Unlock()
		return nil, domain.ErrSessionActive
	case c.accepting:
		c.mu.Unlock()
		return nil, domain.ErrAcceptInFlight
	}
	if _, ok := c.queue.Get(requestID); !ok {
		c.mu.Unlock()
		return nil, domain.ErrUnknownRequest
	}
	c.accepting = true
	c.mu.Unlock()

	rctx, cancel := c.requestCtx(ctx)
	res, err := c.backend.AcceptSession(rctx, requestID, c.cfg.ParticipantID)
	cancel()

	c.mu.Lock()
	c.accepting = false
	c.mu.Unlock()
	if err != nil {
		c.log.Info().Err(err).Str(pkglog.FieldConsultID, requestID).Msg("accept refused")
		return nil, err
	}

	c.queue.Remove(requestID)

	s := res.Session.Clone()
	if s.MediaRoomID == "" {
		s.MediaRoomID = res.MediaRoomID
	}
	active, ok := c.activate(s, false)
	if !ok {
		// A resync during the backend call may have adopted the session.
		c.mu.Lock()
		if !c.closed && c.active != nil && c.active.ID == s.ID {
			active = c.active.Clone()
			if active.MediaRoomID == "" {
				active.MediaRoomID = s.MediaRoomID
			}
		}
		c.mu.Unlock()
		if active == nil {
			return nil, ErrClosed
		}
	}

	if active.Kind == domain.KindCall {
		if err := c.startMedia(ctx, active); err != nil {
			return c.Active(), fmt.Errorf("session %s media: %w", active.ID, err)
		}
	}
	return c.Active(), nil
}

// Reject declines a queued request and tells the requester right away
// instead of leaving them to wait for the backend's own notification.
func (c *Coordinator) Reject(ctx context.Context, requestID, reason string) error {
	if c.cfg.Role != domain.RoleProvider {
		return domain.ErrWrongRole
	}
	req, ok := c.queue.Get(requestID)
	if !ok {
		return domain.ErrUnknownRequest
	}

	rctx, cancel := c.requestCtx(ctx)
	defer cancel()
	if err := c.backend.RejectSession(rctx, requestID, c.cfg.ParticipantID, reason); err != nil {
		if domain.IsConflict(err) {
			// Already accepted elsewhere or expired: the entry is stale.
			c.queue.Remove(requestID)
		}
		return err
	}
	c.queue.Remove(requestID)

	if err := c.ch.Publish(ctx, pubsub.KindRequestClosed, pubsub.ParticipantRoom(req.RequesterID), pubsub.RequestClosedPayload{
		RequestID: requestID,
		Reason:    pubsub.ReasonRejected,
	}); err != nil {
		c.log.Debug().Err(err).Str(pkglog.FieldConsultID, requestID).Msg("reject hint not sent")
	}
	return nil
}

// PurgeRequests drops every queued request locally.
func (c *Coordinator) PurgeRequests() []domain.IncomingRequest {
	return c.queue.PurgeAll()
}

// SetAvailability toggles whether this provider accepts new requests.
func (c *Coordinator) SetAvailability(ctx context.Context, available bool) error {
	if c.cfg.Role != domain.RoleProvider {
		return domain.ErrWrongRole
	}
	rctx, cancel := c.requestCtx(ctx)
	defer cancel()
	if err := c.backend.SetAvailability(rctx, available); err != nil {
		return err
	}
	c.providers.Set(c.cfg.ParticipantID, available)
	return nil
}

// Profile returns the requester profile, from the secure cache when primed.
func (c *Coordinator) Profile(ctx context.Context, participantID string) (*domain.ProfileSnapshot, error) {
	if c.profiles == nil {
		return c.backend.GetProfile(ctx, participantID)
	}
	return c.profiles.Get(ctx, participantID)
}

func (c *Coordinator) onIncomingRequest(_ context.Context, ev *pubsub.Event) {
	if c.cfg.Role != domain.RoleProvider {
		return
	}
	var p pubsub.IncomingRequestPayload
	if err := ev.UnmarshalPayload(&p); err != nil {
		c.log.Warn().Err(err).Msg("invalid incoming_request payload")
		return
	}
	if p.ProviderID != "" && p.ProviderID != c.cfg.ParticipantID {
		return
	}

	added := c.queue.Enqueue(domain.IncomingRequest{
		ID:            p.RequestID,
		Kind:          domain.SessionKind(p.SessionKind),
		MediaKind:     domain.MediaKind(p.MediaKind),
		RequesterID:   p.RequesterID,
		RequesterName: p.RequesterName,
		RatePerMinute: p.RatePerMinute,
		ReceivedAt:    c.cfg.Now(),
	})
	if added {
		c.primeProfile(p.RequesterID)
	}
}

// primeProfile shows the cached profile at once and refreshes a miss in the
// background.
func (c *Coordinator) primeProfile(requesterID string) {
	if c.profiles == nil || requesterID == "" {
		return
	}
	if snap, ok := c.profiles.Cached(c.ctx, requesterID); ok {
		c.emit(Update{Kind: UpdateProfile, Profile: snap})
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		rctx, cancel := c.requestCtx(c.ctx)
		defer cancel()
		snap, err := c.profiles.Get(rctx, requesterID)
		if err != nil {
			c.log.Debug().Err(err).Str(pkglog.FieldParticipantID, requesterID).Msg("profile fetch failed")
			return
		}
		c.emit(Update{Kind: UpdateProfile, Profile: snap})
	}()
}

func (c *Coordinator) onRequestClosed(ctx context.Context, ev *pubsub.Event) {
	var p pubsub.RequestClosedPayload
	if err := ev.UnmarshalPayload(&p); err != nil {
		c.log.Warn().Err(err).Msg("invalid request_closed payload")
		return
	}
	if c.cfg.Role == domain.RoleProvider {
		c.queue.Remove(p.RequestID)
		return
	}
	c.requestClosed(ctx, p)
}

func (c *Coordinator) onAvailabilityChanged(_ context.Context, ev *pubsub.Event) {
	var p pubsub.AvailabilityChangedPayload
	if err := ev.UnmarshalPayload(&p); err != nil {
		return
	}
	c.providers.Set(p.ProviderID, p.Available)
	c.emit(Update{Kind: UpdateAvailability, ProviderID: p.ProviderID, Available: p.Available})
}

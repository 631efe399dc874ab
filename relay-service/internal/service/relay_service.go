package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-consult/pkg/jwt"
	pkglog "github.com/weiawesome/wes-io-consult/pkg/log"
	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
	"github.com/weiawesome/wes-io-consult/pkg/wire"
	"github.com/weiawesome/wes-io-consult/relay-service/internal/client"
	"github.com/weiawesome/wes-io-consult/relay-service/internal/hub"
)

var (
	ErrUnauthorized   = errors.New("not authenticated")
	ErrForbidden      = errors.New("not a member of this room")
	ErrNotPublishable = errors.New("event kind may not be published by participants")
	ErrBadFrame       = errors.New("malformed frame")
)

// TokenValidator checks access and media tokens.
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
	ValidateMedia(token, roomID string) (*jwt.Claims, error)
}

// PartyLookup resolves who takes part in a session or request.
type PartyLookup interface {
	GetParties(ctx context.Context, sessionID string) (*client.Parties, error)
}

// Bus is the cross-instance event transport. A nil Bus delivers locally.
type Bus interface {
	Publish(ctx context.Context, channel string, event *pubsub.Event) error
	SubscribePattern(ctx context.Context, pattern string) (<-chan *pubsub.Event, error)
}

type relayService struct {
	hub     *hub.Hub
	tokens  TokenValidator
	parties PartyLookup
	bus     Bus
	now     func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRelayService creates a new RelayService instance.
func NewRelayService(h *hub.Hub, tokens TokenValidator, parties PartyLookup, bus Bus) RelayService {
	return &relayService{
		hub:     h,
		tokens:  tokens,
		parties: parties,
		bus:     bus,
		now:     time.Now,
	}
}

func (s *relayService) HandleAuth(ctx context.Context, c *hub.Client, token string) error {
	if c.Authenticated() {
		c.SendFrame(wire.NewError(wire.ErrCodeBadRequest, "already authenticated", ""))
		return nil
	}
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		c.SendFrame(&wire.Frame{Type: wire.TypeAuthResult, Success: false, Message: err.Error()})
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	c.Authenticate(claims.ParticipantID, claims.Role)
	l := pkglog.Ctx(ctx)
	l.Info().Str("client_id", c.ID).Str(pkglog.FieldParticipantID, claims.ParticipantID).Str(pkglog.FieldRole, claims.Role).Msg("participant authenticated")

	return c.SendFrame(&wire.Frame{Type: wire.TypeAuthResult, Success: true, ParticipantID: claims.ParticipantID})
}

func (s *relayService) HandleJoinRoom(ctx context.Context, c *hub.Client, roomID string) error {
	if !c.Authenticated() {
		c.SendFrame(wire.NewError(wire.ErrCodeUnauthorized, "not authenticated", roomID))
		return ErrUnauthorized
	}
	if err := s.authorizeRoom(ctx, c.ParticipantID(), roomID); err != nil {
		s.sendError(c, err, roomID)
		return err
	}

	if s.hub.JoinRoom(c, roomID) {
		l := pkglog.Ctx(ctx)
		l.Debug().Str(pkglog.FieldParticipantID, c.ParticipantID()).Str(pkglog.FieldRoomID, roomID).Msg("joined room")
	}
	return c.SendFrame(&wire.Frame{Type: wire.TypeRoomJoined, RoomID: roomID})
}

func (s *relayService) HandleLeaveRoom(ctx context.Context, c *hub.Client, roomID string) error {
	if !c.Authenticated() {
		c.SendFrame(wire.NewError(wire.ErrCodeUnauthorized, "not authenticated", roomID))
		return ErrUnauthorized
	}
	s.hub.LeaveRoom(c, roomID)
	return c.SendFrame(&wire.Frame{Type: wire.TypeRoomLeft, RoomID: roomID})
}

// authorizeRoom admits a participant to its own personal room and to the
// session and media rooms of sessions it takes part in.
func (s *relayService) authorizeRoom(ctx context.Context, participantID, roomID string) error {
	kind, id, ok := pubsub.ParseRoom(roomID)
	if !ok {
		return fmt.Errorf("%w: unknown room %q", ErrBadFrame, roomID)
	}
	if kind == "participant" {
		if id != participantID {
			return ErrForbidden
		}
		return nil
	}
	return s.requireParty(ctx, id, participantID)
}

func (s *relayService) requireParty(ctx context.Context, sessionID string, participantIDs ...string) error {
	p, err := s.parties.GetParties(ctx, sessionID)
	if errors.Is(err, client.ErrSessionNotFound) {
		return ErrForbidden
	}
	if err != nil {
		return err
	}
	for _, id := range participantIDs {
		if !p.Includes(id) {
			return ErrForbidden
		}
	}
	return nil
}

func (s *relayService) HandlePublish(ctx context.Context, c *hub.Client, roomID string, ev *pubsub.Event) error {
	if !c.Authenticated() {
		c.SendFrame(wire.NewError(wire.ErrCodeUnauthorized, "not authenticated", roomID))
		return ErrUnauthorized
	}
	if ev == nil {
		c.SendFrame(wire.NewError(wire.ErrCodeBadRequest, "publish without event", roomID))
		return ErrBadFrame
	}
	if roomID == "" {
		roomID = ev.RoomID
	}
	if !ev.Type.ClientPublishable() {
		c.SendFrame(wire.NewError(wire.ErrCodeNotPublishable, string(ev.Type)+" is not publishable", roomID))
		return ErrNotPublishable
	}

	sender := c.ParticipantID()
	out, err := s.authorizePublish(ctx, c, sender, roomID, ev)
	if err != nil {
		s.sendError(c, err, roomID)
		return err
	}
	out.RoomID = roomID
	out.Origin = c.ID
	out.Timestamp = s.now()

	if s.bus == nil {
		return s.deliverLocal(out)
	}
	if err := s.bus.Publish(ctx, pubsub.RelayRoomChannel(roomID), out); err != nil {
		c.SendFrame(wire.NewError(wire.ErrCodeInternal, "publish failed", roomID))
		return fmt.Errorf("bus publish: %w", err)
	}
	return nil
}

// authorizePublish checks the sender may reach roomID with ev and returns
// the event to forward, with the sender identity stamped into the payload.
func (s *relayService) authorizePublish(ctx context.Context, c *hub.Client, sender, roomID string, ev *pubsub.Event) (*pubsub.Event, error) {
	out := *ev

	switch ev.Type {
	case pubsub.KindRequestClosed:
		// Sent straight to the other party's personal room.
		kind, target, ok := pubsub.ParseRoom(roomID)
		if !ok || kind != "participant" {
			return nil, fmt.Errorf("%w: request_closed targets a participant room", ErrBadFrame)
		}
		var p pubsub.RequestClosedPayload
		if err := ev.UnmarshalPayload(&p); err != nil || p.RequestID == "" {
			return nil, ErrBadFrame
		}
		if err := s.requireParty(ctx, p.RequestID, sender, target); err != nil {
			return nil, err
		}
		return &out, nil

	case pubsub.KindTyping:
		if !c.InRoom(roomID) {
			return nil, ErrForbidden
		}
		var p pubsub.TypingPayload
		if err := ev.UnmarshalPayload(&p); err != nil {
			return nil, ErrBadFrame
		}
		p.ParticipantID = sender
		return restamp(&out, p)

	default:
		if !c.InRoom(roomID) {
			return nil, ErrForbidden
		}
		var p pubsub.MediaSignalPayload
		if err := ev.UnmarshalPayload(&p); err != nil {
			return nil, ErrBadFrame
		}
		if ev.Type == pubsub.KindMediaReady {
			claims, err := s.tokens.ValidateMedia(p.Token, roomID)
			if err != nil || claims.ParticipantID != sender {
				return nil, ErrForbidden
			}
		}
		p.ParticipantID = sender
		p.Token = ""
		return restamp(&out, p)
	}
}

func restamp(ev *pubsub.Event, payload interface{}) (*pubsub.Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	ev.Payload = data
	return ev, nil
}

func (s *relayService) sendError(c *hub.Client, err error, roomID string) {
	switch {
	case errors.Is(err, ErrForbidden):
		c.SendFrame(wire.NewError(wire.ErrCodeForbidden, err.Error(), roomID))
	case errors.Is(err, ErrBadFrame):
		c.SendFrame(wire.NewError(wire.ErrCodeBadRequest, err.Error(), roomID))
	default:
		c.SendFrame(wire.NewError(wire.ErrCodeInternal, "membership lookup failed", roomID))
	}
}

func (s *relayService) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	l := pkglog.Ctx(ctx)
	l.Debug().Str("client_id", c.ID).Str(pkglog.FieldParticipantID, c.ParticipantID()).Strs("rooms", c.Rooms()).Msg("participant disconnected")
	return nil
}

func (s *relayService) Start(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	eventCh, err := s.bus.SubscribePattern(ctx, pubsub.PatternRelayRoom)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to relay events: %w", err)
	}

	s.wg.Add(1)
	go s.handleBusEvents(ctx, eventCh)

	l := pkglog.L()
	l.Info().Str("pattern", pubsub.PatternRelayRoom).Msg("relay service started, subscribed to room events")
	return nil
}

func (s *relayService) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *relayService) handleBusEvents(ctx context.Context, eventCh <-chan *pubsub.Event) {
	defer s.wg.Done()
	l := pkglog.L()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			if ev.RoomID == "" {
				continue
			}
			if err := s.deliverLocal(ev); err != nil {
				l.Warn().Err(err).Str(pkglog.FieldRoomID, ev.RoomID).Str(pkglog.FieldEventType, string(ev.Type)).Msg("failed to deliver event")
			}
		}
	}
}

func (s *relayService) deliverLocal(ev *pubsub.Event) error {
	return s.hub.BroadcastToRoom(ev.RoomID, &wire.Frame{Type: wire.TypeEvent, RoomID: ev.RoomID, Event: ev}, ev.Origin)
}

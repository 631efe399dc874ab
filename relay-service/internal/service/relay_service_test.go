package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-consult/pkg/jwt"
	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
	"github.com/weiawesome/wes-io-consult/pkg/wire"
	"github.com/weiawesome/wes-io-consult/relay-service/internal/client"
	"github.com/weiawesome/wes-io-consult/relay-service/internal/config"
	"github.com/weiawesome/wes-io-consult/relay-service/internal/hub"
)

type fakeTokens struct {
	access map[string]*jwt.Claims
	media  map[string]*jwt.Claims
}

func (f *fakeTokens) ValidateToken(token string) (*jwt.Claims, error) {
	if c, ok := f.access[token]; ok {
		return c, nil
	}
	return nil, jwt.ErrInvalidToken
}

func (f *fakeTokens) ValidateMedia(token, roomID string) (*jwt.Claims, error) {
	c, ok := f.media[token]
	if !ok || c.RoomID != roomID {
		return nil, jwt.ErrWrongScope
	}
	return c, nil
}

type fakeParties struct {
	byID map[string]*client.Parties
	err  error
}

func (f *fakeParties) GetParties(_ context.Context, id string) (*client.Parties, error) {
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.byID[id]; ok {
		return p, nil
	}
	return nil, client.ErrSessionNotFound
}

type published struct {
	channel string
	event   *pubsub.Event
}

type fakeBus struct {
	mu   sync.Mutex
	pubs []published
	sub  chan *pubsub.Event
}

func (b *fakeBus) Publish(_ context.Context, channel string, ev *pubsub.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pubs = append(b.pubs, published{channel, ev})
	return nil
}

func (b *fakeBus) SubscribePattern(_ context.Context, pattern string) (<-chan *pubsub.Event, error) {
	if pattern != pubsub.PatternRelayRoom {
		return nil, errors.New("unexpected pattern")
	}
	return b.sub, nil
}

func (b *fakeBus) last(t *testing.T) published {
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.pubs)
	return b.pubs[len(b.pubs)-1]
}

type fixture struct {
	hub     *hub.Hub
	svc     *relayService
	tokens  *fakeTokens
	parties *fakeParties
}

func newFixture(t *testing.T, bus Bus) *fixture {
	t.Helper()
	h := hub.NewHub(config.WebSocketConfig{SendBuffer: 16})
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)

	tokens := &fakeTokens{
		access: map[string]*jwt.Claims{
			"tok-c1": {ParticipantID: "c1", Role: jwt.RoleRequester},
			"tok-p1": {ParticipantID: "p1", Role: jwt.RoleProvider},
			"tok-x":  {ParticipantID: "x", Role: jwt.RoleRequester},
		},
		media: map[string]*jwt.Claims{
			"media-p1": {ParticipantID: "p1", RoomID: "media:s1", Type: jwt.TypeMedia},
		},
	}
	parties := &fakeParties{byID: map[string]*client.Parties{
		"s1": {SessionID: "s1", RequesterID: "c1", ProviderID: "p1", Status: "ACTIVE"},
		"r1": {SessionID: "r1", RequesterID: "c1", ProviderID: "p1", Status: "WAITING"},
	}}

	svc := NewRelayService(h, tokens, parties, bus).(*relayService)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	return &fixture{hub: h, svc: svc, tokens: tokens, parties: parties}
}

// connect registers a client without a socket; frames land in c.Send.
func (f *fixture) connect(t *testing.T, id, token string) *hub.Client {
	t.Helper()
	c := hub.NewClient(id, f.hub, nil)
	f.hub.Register(c)
	if token != "" {
		require.NoError(t, f.svc.HandleAuth(context.Background(), c, token))
		fr := readFrame(t, c)
		require.Equal(t, wire.TypeAuthResult, fr.Type)
		require.True(t, fr.Success)
	}
	return c
}

func (f *fixture) join(t *testing.T, c *hub.Client, room string) {
	t.Helper()
	require.NoError(t, f.svc.HandleJoinRoom(context.Background(), c, room))
	fr := readFrame(t, c)
	require.Equal(t, wire.TypeRoomJoined, fr.Type)
}

func readFrame(t *testing.T, c *hub.Client) *wire.Frame {
	t.Helper()
	select {
	case data := <-c.Send:
		fr, err := wire.Decode(data)
		require.NoError(t, err)
		return fr
	case <-time.After(time.Second):
		t.Fatalf("no frame for %s", c.ID)
		return nil
	}
}

func assertNoFrame(t *testing.T, c *hub.Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected frame for %s: %s", c.ID, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func mustEvent(t *testing.T, kind pubsub.Kind, room string, payload interface{}) *pubsub.Event {
	t.Helper()
	ev, err := pubsub.NewEvent(kind, room, payload)
	require.NoError(t, err)
	return ev
}

func TestHandleAuth(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	c := f.connect(t, "conn-1", "")
	err := f.svc.HandleAuth(ctx, c, "bogus")
	assert.ErrorIs(t, err, ErrUnauthorized)
	fr := readFrame(t, c)
	assert.Equal(t, wire.TypeAuthResult, fr.Type)
	assert.False(t, fr.Success)
	assert.False(t, c.Authenticated())

	require.NoError(t, f.svc.HandleAuth(ctx, c, "tok-p1"))
	fr = readFrame(t, c)
	assert.True(t, fr.Success)
	assert.Equal(t, "p1", fr.ParticipantID)
	assert.Equal(t, "p1", c.ParticipantID())

	require.NoError(t, f.svc.HandleAuth(ctx, c, "tok-c1"))
	fr = readFrame(t, c)
	assert.Equal(t, wire.TypeError, fr.Type)
	assert.Equal(t, "p1", c.ParticipantID(), "a second auth does not rebind")
}

func TestHandleJoinRoom_Policy(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	anon := f.connect(t, "conn-0", "")
	assert.ErrorIs(t, f.svc.HandleJoinRoom(ctx, anon, "participant:c1"), ErrUnauthorized)
	assert.Equal(t, wire.ErrCodeUnauthorized, readFrame(t, anon).Code)

	c1 := f.connect(t, "conn-1", "tok-c1")
	f.join(t, c1, "participant:c1")
	f.join(t, c1, "session:s1")
	f.join(t, c1, "media:s1")
	assert.Equal(t, []string{"media:s1", "participant:c1", "session:s1"}, c1.Rooms())

	cases := []struct {
		room string
		code string
		err  error
	}{
		{"participant:p1", wire.ErrCodeForbidden, ErrForbidden},
		{"session:unknown", wire.ErrCodeForbidden, ErrForbidden},
		{"lobby", wire.ErrCodeBadRequest, ErrBadFrame},
	}
	for _, tc := range cases {
		t.Run(tc.room, func(t *testing.T) {
			err := f.svc.HandleJoinRoom(ctx, c1, tc.room)
			assert.ErrorIs(t, err, tc.err)
			fr := readFrame(t, c1)
			assert.Equal(t, wire.TypeError, fr.Type)
			assert.Equal(t, tc.code, fr.Code)
			assert.Equal(t, tc.room, fr.RoomID)
		})
	}

	x := f.connect(t, "conn-x", "tok-x")
	assert.ErrorIs(t, f.svc.HandleJoinRoom(ctx, x, "session:s1"), ErrForbidden)
	assert.Equal(t, wire.ErrCodeForbidden, readFrame(t, x).Code)
	assert.Equal(t, 1, f.hub.RoomSize("session:s1"))
}

func TestHandleJoinRoom_LookupFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.parties.err = errors.New("connection refused")

	c1 := f.connect(t, "conn-1", "tok-c1")
	err := f.svc.HandleJoinRoom(context.Background(), c1, "session:s1")
	require.Error(t, err)
	assert.Equal(t, wire.ErrCodeInternal, readFrame(t, c1).Code)
}

func TestHandleLeaveRoom(t *testing.T) {
	f := newFixture(t, nil)
	c1 := f.connect(t, "conn-1", "tok-c1")
	f.join(t, c1, "session:s1")

	require.NoError(t, f.svc.HandleLeaveRoom(context.Background(), c1, "session:s1"))
	fr := readFrame(t, c1)
	assert.Equal(t, wire.TypeRoomLeft, fr.Type)
	assert.False(t, c1.InRoom("session:s1"))
	assert.Equal(t, 0, f.hub.RoomSize("session:s1"))
}

func TestHandlePublish_RejectsServerKinds(t *testing.T) {
	bus := &fakeBus{}
	f := newFixture(t, bus)
	c1 := f.connect(t, "conn-1", "tok-c1")
	f.join(t, c1, "session:s1")

	ev := mustEvent(t, pubsub.KindSessionEnded, "session:s1", pubsub.SessionEndedPayload{SessionID: "s1"})
	err := f.svc.HandlePublish(context.Background(), c1, "session:s1", ev)
	assert.ErrorIs(t, err, ErrNotPublishable)
	assert.Equal(t, wire.ErrCodeNotPublishable, readFrame(t, c1).Code)
	assert.Empty(t, bus.pubs)
}

func TestHandlePublish_TypingRequiresMembership(t *testing.T) {
	bus := &fakeBus{}
	f := newFixture(t, bus)
	ctx := context.Background()
	c1 := f.connect(t, "conn-1", "tok-c1")

	ev := mustEvent(t, pubsub.KindTyping, "", pubsub.TypingPayload{SessionID: "s1", ParticipantID: "p1", Typing: true})
	assert.ErrorIs(t, f.svc.HandlePublish(ctx, c1, "session:s1", ev), ErrForbidden)
	assert.Equal(t, wire.ErrCodeForbidden, readFrame(t, c1).Code)

	f.join(t, c1, "session:s1")
	require.NoError(t, f.svc.HandlePublish(ctx, c1, "session:s1", ev))

	got := bus.last(t)
	assert.Equal(t, pubsub.RelayRoomChannel("session:s1"), got.channel)
	assert.Equal(t, "session:s1", got.event.RoomID)
	assert.Equal(t, "conn-1", got.event.Origin)
	assert.Equal(t, f.svc.now(), got.event.Timestamp)

	var p pubsub.TypingPayload
	require.NoError(t, got.event.UnmarshalPayload(&p))
	assert.Equal(t, "c1", p.ParticipantID, "sender identity comes from the token")
	assert.True(t, p.Typing)
}

func TestHandlePublish_MediaReadyToken(t *testing.T) {
	bus := &fakeBus{}
	f := newFixture(t, bus)
	ctx := context.Background()
	p1 := f.connect(t, "conn-p", "tok-p1")
	f.join(t, p1, "media:s1")

	bad := mustEvent(t, pubsub.KindMediaReady, "", pubsub.MediaSignalPayload{Token: "stolen"})
	assert.ErrorIs(t, f.svc.HandlePublish(ctx, p1, "media:s1", bad), ErrForbidden)
	readFrame(t, p1)

	ok := mustEvent(t, pubsub.KindMediaReady, "", pubsub.MediaSignalPayload{DisplayName: "Dr P", Token: "media-p1"})
	require.NoError(t, f.svc.HandlePublish(ctx, p1, "media:s1", ok))

	var p pubsub.MediaSignalPayload
	require.NoError(t, bus.last(t).event.UnmarshalPayload(&p))
	assert.Equal(t, "p1", p.ParticipantID)
	assert.Equal(t, "Dr P", p.DisplayName)
	assert.Empty(t, p.Token, "media tokens are not forwarded")

	c1 := f.connect(t, "conn-c", "tok-c1")
	f.join(t, c1, "media:s1")
	stolen := mustEvent(t, pubsub.KindMediaReady, "", pubsub.MediaSignalPayload{Token: "media-p1"})
	assert.ErrorIs(t, f.svc.HandlePublish(ctx, c1, "media:s1", stolen), ErrForbidden)
}

func TestHandlePublish_RequestClosedToOtherParty(t *testing.T) {
	bus := &fakeBus{}
	f := newFixture(t, bus)
	ctx := context.Background()
	p1 := f.connect(t, "conn-p", "tok-p1")
	x := f.connect(t, "conn-x", "tok-x")

	ev := mustEvent(t, pubsub.KindRequestClosed, "", pubsub.RequestClosedPayload{RequestID: "r1", Reason: pubsub.ReasonRejected})
	require.NoError(t, f.svc.HandlePublish(ctx, p1, "participant:c1", ev))
	assert.Equal(t, pubsub.RelayRoomChannel("participant:c1"), bus.last(t).channel)

	assert.ErrorIs(t, f.svc.HandlePublish(ctx, x, "participant:c1", ev), ErrForbidden)
	assert.Equal(t, wire.ErrCodeForbidden, readFrame(t, x).Code)

	assert.ErrorIs(t, f.svc.HandlePublish(ctx, p1, "session:s1", ev), ErrBadFrame)
	assert.Equal(t, wire.ErrCodeBadRequest, readFrame(t, p1).Code)
	assert.Len(t, bus.pubs, 1)
}

func TestHandlePublish_LocalDeliveryWithoutBus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	c1 := f.connect(t, "conn-c", "tok-c1")
	p1 := f.connect(t, "conn-p", "tok-p1")
	f.join(t, c1, "session:s1")
	f.join(t, p1, "session:s1")

	ev := mustEvent(t, pubsub.KindTyping, "", pubsub.TypingPayload{SessionID: "s1", Typing: true})
	require.NoError(t, f.svc.HandlePublish(ctx, c1, "session:s1", ev))

	fr := readFrame(t, p1)
	assert.Equal(t, wire.TypeEvent, fr.Type)
	assert.Equal(t, "session:s1", fr.RoomID)
	require.NotNil(t, fr.Event)
	assert.Equal(t, pubsub.KindTyping, fr.Event.Type)
	assertNoFrame(t, c1)
}

func TestStart_FansOutBusEvents(t *testing.T) {
	bus := &fakeBus{sub: make(chan *pubsub.Event, 4)}
	f := newFixture(t, bus)
	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()

	p1 := f.connect(t, "conn-p", "tok-p1")
	c1 := f.connect(t, "conn-c", "tok-c1")
	f.join(t, p1, "participant:p1")
	f.join(t, c1, "participant:c1")

	bus.sub <- mustEvent(t, pubsub.KindIncomingRequest, "participant:p1", pubsub.IncomingRequestPayload{RequestID: "r1"})

	fr := readFrame(t, p1)
	require.NotNil(t, fr.Event)
	assert.Equal(t, pubsub.KindIncomingRequest, fr.Event.Type)
	var p pubsub.IncomingRequestPayload
	require.NoError(t, fr.Event.UnmarshalPayload(&p))
	assert.Equal(t, "r1", p.RequestID)
	assertNoFrame(t, c1)
}

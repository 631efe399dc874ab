package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-consult/consult-agent/internal/backend"
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/channel"
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/domain"
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/media"
	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
)

// fakeBackend is an in-memory backend of record. Hooks override behaviour
// per test.
type fakeBackend struct {
	mu sync.Mutex

	active   map[string]*domain.Session
	messages map[string][]domain.Message

	acceptFn func(requestID, providerID string) (*backend.AcceptResult, error)
	endFn    func(sessionID, actorID string) (*backend.EndResult, error)
	createFn func(providerID string, kind domain.SessionKind) (*domain.Session, error)
	activeFn func(participantID string) (*domain.Session, error)

	acceptCalls int
	rejectCalls int
	endCalls    int
	activeCalls int
	listCalls   int
	seenCalls   [][]string
	cancelCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		active:   make(map[string]*domain.Session),
		messages: make(map[string][]domain.Message),
	}
}

func (b *fakeBackend) setActive(participantID string, s *domain.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s == nil {
		delete(b.active, participantID)
		return
	}
	b.active[participantID] = s.Clone()
}

func (b *fakeBackend) CreateRequest(_ context.Context, providerID string, kind domain.SessionKind, mk domain.MediaKind) (*domain.Session, error) {
	b.mu.Lock()
	fn := b.createFn
	b.mu.Unlock()
	if fn != nil {
		return fn(providerID, kind)
	}
	return &domain.Session{ID: "r1", Kind: kind, MediaKind: mk, ProviderID: providerID, RequesterID: "c1", Status: domain.StatusWaiting, RatePerMinute: 10}, nil
}

func (b *fakeBackend) CancelRequest(context.Context, string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelCalls++
	return nil
}

func (b *fakeBackend) AcceptSession(_ context.Context, requestID, providerID string) (*backend.AcceptResult, error) {
	b.mu.Lock()
	b.acceptCalls++
	fn := b.acceptFn
	b.mu.Unlock()
	return fn(requestID, providerID)
}

func (b *fakeBackend) RejectSession(context.Context, string, string, string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectCalls++
	return nil
}

func (b *fakeBackend) EndSession(_ context.Context, sessionID, actorID string) (*backend.EndResult, error) {
	b.mu.Lock()
	b.endCalls++
	fn := b.endFn
	b.mu.Unlock()
	if fn == nil {
		return nil, domain.ErrTransport
	}
	return fn(sessionID, actorID)
}

func (b *fakeBackend) GetActiveSession(_ context.Context, participantID string) (*domain.Session, error) {
	b.mu.Lock()
	b.activeCalls++
	fn := b.activeFn
	s := b.active[participantID]
	b.mu.Unlock()
	if fn != nil {
		return fn(participantID)
	}
	return s.Clone(), nil
}

func (b *fakeBackend) GetProfile(_ context.Context, id string) (*domain.ProfileSnapshot, error) {
	return &domain.ProfileSnapshot{ParticipantID: id, DisplayName: "Client " + id}, nil
}

func (b *fakeBackend) SendMessage(_ context.Context, sessionID, content string) (*domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := domain.Message{
		ID:        "m" + string(rune('0'+len(b.messages[sessionID])+1)),
		SessionID: sessionID,
		SenderID:  "p1",
		Content:   content,
		CreatedAt: time.Unix(int64(len(b.messages[sessionID])), 0),
	}
	b.messages[sessionID] = append(b.messages[sessionID], m)
	return &m, nil
}

func (b *fakeBackend) ListMessages(_ context.Context, sessionID string) ([]domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	return append([]domain.Message(nil), b.messages[sessionID]...), nil
}

func (b *fakeBackend) MarkSeen(_ context.Context, sessionID string, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seenCalls = append(b.seenCalls, ids)
	for i := range b.messages[sessionID] {
		for _, id := range ids {
			if b.messages[sessionID][i].ID == id {
				b.messages[sessionID][i].Seen = true
			}
		}
	}
	return nil
}

func (b *fakeBackend) SetAvailability(context.Context, bool) error { return nil }

func (b *fakeBackend) MediaToken(context.Context, string) (string, error) { return "media-token", nil }

func (b *fakeBackend) counts() (accept, active, end int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acceptCalls, b.activeCalls, b.endCalls
}

// fakeChannel dispatches events synchronously to subscribed handlers.
type fakeChannel struct {
	mu        sync.Mutex
	handlers  map[pubsub.Kind][]*channel.Handler
	hooks     []*channel.ReconnectHook
	rooms     map[string]bool
	published []*pubsub.Event
	epoch     uint64
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[pubsub.Kind][]*channel.Handler), rooms: make(map[string]bool)}
}

func (f *fakeChannel) Subscribe(kind pubsub.Kind, fn channel.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &fn
	f.handlers[kind] = append(f.handlers[kind], h)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, x := range f.handlers[kind] {
			if x == h {
				f.handlers[kind] = append(f.handlers[kind][:i:i], f.handlers[kind][i+1:]...)
				return
			}
		}
	}
}

func (f *fakeChannel) OnReconnect(fn channel.ReconnectHook) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &fn
	f.hooks = append(f.hooks, h)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, x := range f.hooks {
			if x == h {
				f.hooks = append(f.hooks[:i:i], f.hooks[i+1:]...)
				return
			}
		}
	}
}

func (f *fakeChannel) Publish(_ context.Context, kind pubsub.Kind, room string, payload interface{}) error {
	ev, err := pubsub.NewEvent(kind, room, payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.published = append(f.published, ev)
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) JoinRoom(room string) {
	f.mu.Lock()
	f.rooms[room] = true
	f.mu.Unlock()
}

func (f *fakeChannel) LeaveRoom(room string) {
	f.mu.Lock()
	delete(f.rooms, room)
	f.mu.Unlock()
}

func (f *fakeChannel) inRoom(room string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[room]
}

func (f *fakeChannel) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.hooks)
	for _, hs := range f.handlers {
		n += len(hs)
	}
	return n
}

func (f *fakeChannel) deliver(t *testing.T, kind pubsub.Kind, room string, payload interface{}) {
	t.Helper()
	ev, err := pubsub.NewEvent(kind, room, payload)
	require.NoError(t, err)
	f.mu.Lock()
	hs := append([]*channel.Handler(nil), f.handlers[kind]...)
	f.mu.Unlock()
	for _, h := range hs {
		(*h)(context.Background(), ev)
	}
}

func (f *fakeChannel) reconnect() {
	f.mu.Lock()
	f.epoch++
	epoch := f.epoch
	hooks := append([]*channel.ReconnectHook(nil), f.hooks...)
	f.mu.Unlock()
	for _, h := range hooks {
		(*h)(context.Background(), epoch)
	}
}

func (f *fakeChannel) publishedKinds() []pubsub.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pubsub.Kind
	for _, ev := range f.published {
		out = append(out, ev.Type)
	}
	return out
}

// fakeEngine hands out calls that connect immediately unless hold is set.
type fakeEngine struct {
	mu      sync.Mutex
	hold    bool
	joinErr error
	calls   []*fakeCall
	reqs    []media.JoinRequest
}

type fakeCall struct {
	connected chan struct{}
	connOnce  sync.Once
	failed    chan error
	closes    atomic.Int32
}

func (c *fakeCall) connect() { c.connOnce.Do(func() { close(c.connected) }) }

func (c *fakeCall) Connected() <-chan struct{} { return c.connected }
func (c *fakeCall) Failed() <-chan error       { return c.failed }
func (c *fakeCall) Close() error {
	c.closes.Add(1)
	return nil
}

func (e *fakeEngine) Join(_ context.Context, req media.JoinRequest) (media.Call, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.joinErr != nil {
		return nil, e.joinErr
	}
	call := &fakeCall{connected: make(chan struct{}), failed: make(chan error, 1)}
	if !e.hold {
		call.connect()
	}
	e.calls = append(e.calls, call)
	e.reqs = append(e.reqs, req)
	return call, nil
}

func (e *fakeEngine) lastCall() *fakeCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.calls) == 0 {
		return nil
	}
	return e.calls[len(e.calls)-1]
}

func (e *fakeEngine) setHold(hold bool) {
	e.mu.Lock()
	e.hold = hold
	e.mu.Unlock()
}

func (e *fakeEngine) setJoinErr(err error) {
	e.mu.Lock()
	e.joinErr = err
	e.mu.Unlock()
}

func (e *fakeEngine) joins() []media.JoinRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]media.JoinRequest(nil), e.reqs...)
}

func (e *fakeEngine) factory() AdapterFactory {
	return func(video bool) *media.Adapter {
		return media.NewAdapter(func(context.Context) (media.Engine, error) { return e, nil }, video)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder collects updates.
type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) observe(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) count(kind UpdateKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.updates {
		if u.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) last(kind UpdateKind) (Update, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.updates) - 1; i >= 0; i-- {
		if r.updates[i].Kind == kind {
			return r.updates[i], true
		}
	}
	return Update{}, false
}

type harness struct {
	c      *Coordinator
	be     *fakeBackend
	ch     *fakeChannel
	engine *fakeEngine
	clock  *fakeClock
	rec    *recorder
}

type harnessOpt func(h *harness, cfg *Config)

func newHarness(t *testing.T, role domain.Role, self string, opts ...harnessOpt) *harness {
	t.Helper()
	h := &harness{
		be:     newFakeBackend(),
		ch:     newFakeChannel(),
		engine: &fakeEngine{},
		clock:  &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		rec:    &recorder{},
	}
	cfg := Config{
		ParticipantID: self,
		DisplayName:   "Name " + self,
		Role:          role,
		TickInterval:  time.Hour,
		Now:           h.clock.Now,
	}
	for _, opt := range opts {
		opt(h, &cfg)
	}
	h.c = New(cfg, h.be, h.ch, h.engine.factory(), nil)
	h.c.Observe(h.rec.observe)
	require.NoError(t, h.c.Start(context.Background()))
	t.Cleanup(h.c.Close)
	return h
}

func incoming(requestID, kind string) pubsub.IncomingRequestPayload {
	return pubsub.IncomingRequestPayload{
		RequestID:     requestID,
		SessionKind:   kind,
		MediaKind:     "AUDIO",
		RequesterID:   "c1",
		RequesterName: "Client",
		ProviderID:    "p1",
		RatePerMinute: 10,
	}
}

func acceptOK(kind domain.SessionKind, startedAt time.Time) func(string, string) (*backend.AcceptResult, error) {
	return func(requestID, providerID string) (*backend.AcceptResult, error) {
		id := "s" + requestID[1:]
		return &backend.AcceptResult{
			Session: &domain.Session{
				ID: id, Kind: kind, MediaKind: domain.MediaAudio, RequesterID: "c1", ProviderID: providerID,
				RatePerMinute: 10, Status: domain.StatusActive, StartedAt: &startedAt,
			},
			MediaRoomID: "room-" + id,
		}, nil
	}
}

// Package session is the consultation orchestrator. It turns event channel
// notifications and user actions into one consistent session projection,
// confirming every authoritative change against session-service first.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-consult/consult-agent/internal/backend"
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/billing"
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/channel"
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/domain"
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/media"
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/queue"
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/securecache"
	pkglog "github.com/weiawesome/wes-io-consult/pkg/log"
	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
)

// ErrClosed is returned by operations after Close.
var ErrClosed = errors.New("coordinator closed")

// Backend is the request/response API of the backend of record.
type Backend interface {
	CreateRequest(ctx context.Context, providerID string, kind domain.SessionKind, media domain.MediaKind) (*domain.Session, error)
	CancelRequest(ctx context.Context, requestID string) error
	AcceptSession(ctx context.Context, requestID, providerID string) (*backend.AcceptResult, error)
	RejectSession(ctx context.Context, requestID, providerID, reason string) error
	EndSession(ctx context.Context, sessionID, actorID string) (*backend.EndResult, error)
	GetActiveSession(ctx context.Context, participantID string) (*domain.Session, error)
	GetProfile(ctx context.Context, participantID string) (*domain.ProfileSnapshot, error)
	SendMessage(ctx context.Context, sessionID, content string) (*domain.Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)
	MarkSeen(ctx context.Context, sessionID string, messageIDs []string) error
	SetAvailability(ctx context.Context, available bool) error
	MediaToken(ctx context.Context, sessionID string) (string, error)
}

// EventChannel is the notification transport.
type EventChannel interface {
	Subscribe(kind pubsub.Kind, fn channel.Handler) func()
	OnReconnect(fn channel.ReconnectHook) func()
	Publish(ctx context.Context, kind pubsub.Kind, roomID string, payload interface{}) error
	JoinRoom(roomID string)
	LeaveRoom(roomID string)
}

// AdapterFactory builds a fresh media adapter for one CALL session.
type AdapterFactory func(video bool) *media.Adapter

// Config identifies the participant and tunes local behaviour.
type Config struct {
	ParticipantID  string
	DisplayName    string
	Role           domain.Role
	StaleAfter     time.Duration
	RequestTimeout time.Duration
	TickInterval   time.Duration
	Now            func() time.Time
}

// Coordinator owns at most one session at a time. All authoritative state
// changes follow a successful backend response; notifications only trigger
// confirmation.
type Coordinator struct {
	cfg        Config
	backend    Backend
	ch         EventChannel
	newAdapter AdapterFactory
	profiles   *securecache.ProfileCache
	queue      *queue.Queue
	providers  *domain.Availability
	log        zerolog.Logger

	mu         sync.Mutex
	active     *domain.Session
	lastEnded  *domain.Session
	pending    *domain.Session
	accepting  bool
	requesting bool
	timer      *billing.Timer
	tickCancel func()
	adapter    *media.Adapter
	transcript *domain.Transcript
	balance    float64
	rooms      map[string]struct{}
	closed     bool

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int

	unsubs []func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a coordinator. profiles may be nil.
func New(cfg Config, be Backend, ch EventChannel, newAdapter AdapterFactory, profiles *securecache.ProfileCache) *Coordinator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:        cfg,
		backend:    be,
		ch:         ch,
		newAdapter: newAdapter,
		profiles:   profiles,
		queue:      queue.New(),
		providers:  domain.NewAvailability(),
		log: pkglog.Component("session").With().
			Str(pkglog.FieldParticipantID, cfg.ParticipantID).
			Str(pkglog.FieldRole, string(cfg.Role)).Logger(),
		rooms:     make(map[string]struct{}),
		observers: make(map[int]Observer),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.queue.Observe(func(qc queue.Change) {
		c.emit(Update{Kind: UpdateQueue, Requests: c.queue.List(), Reason: string(qc.Op)})
	})
	return c
}

// Start subscribes the dispatch table, joins the personal room and adopts
// whatever session the backend reports as active.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	table := c.handlers()
	for _, kind := range pubsub.Kinds {
		h, ok := table[kind]
		if !ok {
			continue
		}
		c.unsubs = append(c.unsubs, c.ch.Subscribe(kind, h))
	}
	c.unsubs = append(c.unsubs, c.ch.OnReconnect(func(ctx context.Context, epoch uint64) {
		c.log.Info().Uint64(pkglog.FieldEpoch, epoch).Msg("event channel reconnected, resyncing")
		if err := c.Resync(ctx); err != nil {
			c.log.Warn().Err(err).Msg("resync failed")
		}
	}))
	c.joinRoom(pubsub.ParticipantRoom(c.cfg.ParticipantID))

	if c.cfg.Role == domain.RoleProvider && c.cfg.StaleAfter > 0 {
		c.wg.Add(1)
		go c.evictLoop()
	}

	if err := c.Resync(ctx); err != nil {
		// Recovered on the next reconnect.
		c.log.Warn().Err(err).Msg("initial resync failed")
	}
	return nil
}

// handlers is the dispatch table, one function per event kind.
func (c *Coordinator) handlers() map[pubsub.Kind]channel.Handler {
	return map[pubsub.Kind]channel.Handler{
		pubsub.KindIncomingRequest:     c.onIncomingRequest,
		pubsub.KindRequestClosed:       c.onRequestClosed,
		pubsub.KindSessionAccepted:     c.onSessionAccepted,
		pubsub.KindSessionEnded:        c.onSessionEnded,
		pubsub.KindNewMessage:          c.onMessagesChanged,
		pubsub.KindMessageSeen:         c.onMessagesChanged,
		pubsub.KindTyping:              c.onTyping,
		pubsub.KindWalletUpdated:       c.onWalletUpdated,
		pubsub.KindAvailabilityChanged: c.onAvailabilityChanged,
	}
}

// Close releases everything this coordinator set up, whatever state it is
// in. It does not end the session on the backend.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubs := c.unsubs
	c.unsubs = nil
	adapter := c.adapter
	c.adapter = nil
	timer := c.timer
	tickCancel := c.tickCancel
	c.tickCancel = nil
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.rooms = make(map[string]struct{})
	c.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	if tickCancel != nil {
		tickCancel()
	}
	if timer != nil {
		timer.Stop()
	}
	if adapter != nil {
		adapter.Teardown()
	}
	for _, r := range rooms {
		c.ch.LeaveRoom(r)
	}
	c.cancel()
	c.wg.Wait()
}

// Observe registers fn and returns a func removing it.
func (c *Coordinator) Observe(fn Observer) func() {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.obsMu.Unlock()
	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

func (c *Coordinator) emit(u Update) {
	c.obsMu.RLock()
	ids := make([]int, 0, len(c.observers))
	for id := range c.observers {
		ids = append(ids, id)
	}
	c.obsMu.RUnlock()
	sort.Ints(ids)

	for _, id := range ids {
		c.obsMu.RLock()
		fn, ok := c.observers[id]
		c.obsMu.RUnlock()
		if ok {
			fn(u)
		}
	}
}

// Phase returns the local lifecycle phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.active != nil:
		return PhaseActive
	case c.pending != nil || c.queue.Len() > 0:
		return PhaseWaiting
	case c.lastEnded != nil:
		return PhaseEnded
	}
	return PhaseIdle
}

// Active returns a copy of the active session, or nil.
func (c *Coordinator) Active() *domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active.Clone()
}

// LastEnded returns a copy of the most recently ended session, or nil.
func (c *Coordinator) LastEnded() *domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEnded.Clone()
}

// Pending returns the requester's WAITING request, or nil.
func (c *Coordinator) Pending() *domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Clone()
}

// Requests returns queued incoming requests, oldest first.
func (c *Coordinator) Requests() []domain.IncomingRequest {
	return c.queue.List()
}

// Messages returns the active chat transcript.
func (c *Coordinator) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transcript == nil {
		return nil
	}
	return c.transcript.Messages()
}

// Elapsed returns the billing timer's elapsed seconds and derived amount for
// the current or last session.
func (c *Coordinator) Elapsed() (seconds int64, amount float64, running bool) {
	c.mu.Lock()
	t := c.timer
	c.mu.Unlock()
	if t == nil {
		return 0, 0, false
	}
	s := t.ElapsedSeconds()
	return s, billing.AmountFor(s, t.Rate()), t.Running()
}

// Balance returns the last wallet balance announced for this participant.
func (c *Coordinator) Balance() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance
}

// ProviderAvailable returns the last announced availability of providerID.
func (c *Coordinator) ProviderAvailable(providerID string) (available, known bool) {
	return c.providers.Get(providerID)
}

// MediaState returns the adapter state of the active call, if any.
func (c *Coordinator) MediaState() media.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.adapter == nil {
		return media.StateIdle
	}
	return c.adapter.State()
}

func (c *Coordinator) joinRoom(room string) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
	c.ch.JoinRoom(room)
}

func (c *Coordinator) leaveRoom(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
	c.ch.LeaveRoom(room)
}

func (c *Coordinator) requestCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.RequestTimeout)
}

func (c *Coordinator) evictLoop() {
	defer c.wg.Done()
	interval := c.cfg.StaleAfter / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.EvictStale()
		}
	}
}

// EvictStale drops queued requests older than the configured threshold.
func (c *Coordinator) EvictStale() []domain.IncomingRequest {
	if c.cfg.StaleAfter <= 0 {
		return nil
	}
	return c.queue.EvictStale(c.cfg.Now(), c.cfg.StaleAfter)
}

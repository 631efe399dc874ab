// Package channel is the agent's connection to relay-service: one reconnecting
// WebSocket carrying room scoped notification events.
package channel

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-consult/consult-agent/internal/domain"
	pkglog "github.com/weiawesome/wes-io-consult/pkg/log"
	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
	"github.com/weiawesome/wes-io-consult/pkg/wire"
)

// ErrNotConnected is returned by Publish while the socket is down.
var ErrNotConnected = fmt.Errorf("%w: event channel not connected", domain.ErrTransport)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("event channel closed")

// Handler receives events of one kind. Handlers run on the reader goroutine,
// one at a time, in subscription order.
type Handler func(ctx context.Context, ev *pubsub.Event)

// ReconnectHook runs after a reconnect once every room has been re-joined and
// before any event of the new connection is dispatched.
type ReconnectHook func(ctx context.Context, epoch uint64)

// Config holds the connection settings.
type Config struct {
	URL              string        `mapstructure:"url"`
	Token            string        `mapstructure:"-"`
	MinBackoff       time.Duration `mapstructure:"min_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	SendBuffer       int           `mapstructure:"send_buffer"`
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MinBackoff <= 0 {
		out.MinBackoff = 500 * time.Millisecond
	}
	if out.MaxBackoff < out.MinBackoff {
		out.MaxBackoff = 30 * time.Second
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	if out.PingInterval <= 0 {
		out.PingInterval = 30 * time.Second
	}
	if out.PongWait <= out.PingInterval {
		out.PongWait = out.PingInterval * 2
	}
	if out.WriteWait <= 0 {
		out.WriteWait = 10 * time.Second
	}
	if out.SendBuffer <= 0 {
		out.SendBuffer = 256
	}
	return out
}

type subscription struct {
	id int
	fn Handler
}

type hookEntry struct {
	id int
	fn ReconnectHook
}

// Client is an explicit connection manager. It is created stopped; Connect
// starts the supervisor and Close tears everything down.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	mu        sync.Mutex
	rooms     map[string]struct{}
	send      chan []byte
	connected bool

	hmu      sync.RWMutex
	handlers map[pubsub.Kind][]subscription
	hooks    []hookEntry
	nextID   int

	epoch   atomic.Uint64
	running atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	started   sync.Once
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
	connMu    sync.Mutex
	conn      *websocket.Conn
}

// New creates a client. Nothing is dialed until Connect.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		rooms:    make(map[string]struct{}),
		handlers: make(map[pubsub.Kind][]subscription),
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Connect starts the connection supervisor and waits for the first
// successful connection. If ctx ends first its error is returned, but the
// supervisor keeps retrying in the background until Close.
func (c *Client) Connect(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	c.started.Do(func() {
		c.running.Store(true)
		go c.run()
	})

	select {
	case <-c.ready:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops reconnecting, closes the socket and waits for the supervisor.
// Subscriptions and room membership are dropped.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		// Consume the start so Connect can no longer launch a supervisor.
		c.started.Do(func() {})

		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()

		if c.running.Load() {
			<-c.done
		}

		c.mu.Lock()
		c.rooms = make(map[string]struct{})
		c.mu.Unlock()
		c.hmu.Lock()
		c.handlers = make(map[pubsub.Kind][]subscription)
		c.hooks = nil
		c.hmu.Unlock()
	})
	return nil
}

// Epoch returns the connection epoch. It increments on every successful
// connection; delivery is at most once within one epoch.
func (c *Client) Epoch() uint64 { return c.epoch.Load() }

// Connected reports whether the socket is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Subscribe registers fn for kind and returns a func removing it.
func (c *Client) Subscribe(kind pubsub.Kind, fn Handler) func() {
	c.hmu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[kind] = append(c.handlers[kind], subscription{id: id, fn: fn})
	c.hmu.Unlock()

	return func() {
		c.hmu.Lock()
		defer c.hmu.Unlock()
		subs := c.handlers[kind]
		for i, s := range subs {
			if s.id == id {
				c.handlers[kind] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// OnReconnect registers fn to run after every reconnect.
func (c *Client) OnReconnect(fn ReconnectHook) func() {
	c.hmu.Lock()
	id := c.nextID
	c.nextID++
	c.hooks = append(c.hooks, hookEntry{id: id, fn: fn})
	c.hmu.Unlock()

	return func() {
		c.hmu.Lock()
		defer c.hmu.Unlock()
		for i, h := range c.hooks {
			if h.id == id {
				c.hooks = append(c.hooks[:i:i], c.hooks[i+1:]...)
				return
			}
		}
	}
}

// JoinRoom joins roomID now if connected and after every reconnect. Joining a
// room twice is a no-op.
func (c *Client) JoinRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[roomID]; ok {
		return
	}
	c.rooms[roomID] = struct{}{}
	c.enqueueLocked(&wire.Frame{Type: wire.TypeJoinRoom, RoomID: roomID})
}

// LeaveRoom leaves roomID. Leaving a room not joined is a no-op.
func (c *Client) LeaveRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[roomID]; !ok {
		return
	}
	delete(c.rooms, roomID)
	c.enqueueLocked(&wire.Frame{Type: wire.TypeLeaveRoom, RoomID: roomID})
}

// Rooms returns the rooms currently joined.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// Publish sends an event to roomID without waiting for any acknowledgement.
// While disconnected the event is dropped and ErrNotConnected returned.
func (c *Client) Publish(ctx context.Context, kind pubsub.Kind, roomID string, payload interface{}) error {
	ev, err := pubsub.NewEvent(kind, roomID, payload)
	if err != nil {
		return fmt.Errorf("failed to build event: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		l := pkglog.Ctx(ctx)
		l.Debug().Str(pkglog.FieldEventType, string(kind)).Str(pkglog.FieldRoomID, roomID).Msg("publish dropped, not connected")
		return ErrNotConnected
	}
	c.enqueueLocked(&wire.Frame{Type: wire.TypePublish, RoomID: roomID, Event: ev})
	return nil
}

// enqueueLocked queues f on the current connection. Caller holds c.mu.
func (c *Client) enqueueLocked(f *wire.Frame) {
	if !c.connected || c.send == nil {
		return
	}
	data, err := f.Encode()
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		l := pkglog.L()
		l.Warn().Str("frame_type", f.Type).Msg("event channel send buffer full, frame dropped")
	}
}

func backoff(attempt int, min, max time.Duration) time.Duration {
	d := min
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

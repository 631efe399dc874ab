// Package media wraps the real-time audio/video engine behind a single-use
// adapter owned by one CALL session.
package media

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-consult/consult-agent/internal/domain"
)

// TokenSupplier returns a token authorising the participant to join a room.
type TokenSupplier func(ctx context.Context) (string, error)

// JoinRequest is what the engine needs to enter a room.
type JoinRequest struct {
	RoomID        string
	ParticipantID string
	DisplayName   string
	Token         string
	Video         bool
}

// Call is one joined room as seen by the engine.
type Call interface {
	// Connected is closed once the engine confirms room membership.
	Connected() <-chan struct{}
	// Failed delivers at most one error if the call breaks.
	Failed() <-chan error
	Close() error
}

// Engine joins rooms.
type Engine interface {
	Join(ctx context.Context, req JoinRequest) (Call, error)
}

// LoadFunc lazily loads the engine. It may fail when the engine is not
// available on this host.
type LoadFunc func(ctx context.Context) (Engine, error)

// State is the adapter's connection state.
type State string

const (
	StateIdle      State = "idle"
	StateReady     State = "ready"
	StateJoining   State = "joining"
	StateConnected State = "connected"
	StateFailed    State = "failed"
	StateTornDown  State = "torn_down"
)

// Adapter drives one engine session. It is not reusable: after Teardown a
// new session needs a new Adapter.
type Adapter struct {
	load  LoadFunc
	video bool
	group singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	engine    Engine
	joined    bool
	call      Call
	state     State
	connected chan struct{}
	connOnce  sync.Once
	failed    chan error
	downOnce  sync.Once
}

// NewAdapter creates an adapter that loads its engine with load.
func NewAdapter(load LoadFunc, video bool) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		load:      load,
		video:     video,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
		connected: make(chan struct{}),
		failed:    make(chan error, 1),
	}
}

// Prepare loads the engine. Concurrent callers share one in-flight load and a
// failed load may be retried.
func (a *Adapter) Prepare(ctx context.Context) error {
	a.mu.Lock()
	switch {
	case a.state == StateTornDown:
		a.mu.Unlock()
		return domain.ErrTornDown
	case a.engine != nil:
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	ch := a.group.DoChan("load", func() (interface{}, error) {
		return a.load(a.ctx)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return fmt.Errorf("%w: %v", domain.ErrEngineUnavailable, res.Err)
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.state == StateTornDown {
			return domain.ErrTornDown
		}
		if a.engine == nil {
			a.engine = res.Val.(Engine)
			a.state = StateReady
		}
		return nil
	}
}

// Join enters roomID. It requires a successful Prepare and fails fast with
// domain.ErrAlreadyJoined while a previous Join has not been torn down.
// Connected fires later, once the engine confirms membership.
func (a *Adapter) Join(ctx context.Context, roomID, participantID, displayName string, tokens TokenSupplier) error {
	a.mu.Lock()
	switch {
	case a.state == StateTornDown:
		a.mu.Unlock()
		return domain.ErrTornDown
	case a.engine == nil:
		a.mu.Unlock()
		return domain.ErrNotPrepared
	case a.joined:
		a.mu.Unlock()
		return domain.ErrAlreadyJoined
	}
	a.joined = true
	a.state = StateJoining
	engine := a.engine
	a.mu.Unlock()

	token, err := tokens(ctx)
	if err != nil {
		a.setState(StateFailed)
		return fmt.Errorf("%w: token: %v", domain.ErrJoinFailed, err)
	}

	call, err := engine.Join(ctx, JoinRequest{
		RoomID:        roomID,
		ParticipantID: participantID,
		DisplayName:   displayName,
		Token:         token,
		Video:         a.video,
	})
	if err != nil {
		a.setState(StateFailed)
		return fmt.Errorf("%w: %v", domain.ErrJoinFailed, err)
	}

	a.mu.Lock()
	if a.state == StateTornDown {
		a.mu.Unlock()
		call.Close()
		return domain.ErrTornDown
	}
	a.call = call
	a.mu.Unlock()

	go a.watch(call)
	return nil
}

func (a *Adapter) watch(call Call) {
	select {
	case <-a.ctx.Done():
		return
	case <-call.Connected():
		a.mu.Lock()
		if a.state == StateJoining {
			a.state = StateConnected
		}
		a.mu.Unlock()
		a.connOnce.Do(func() { close(a.connected) })
	case err := <-call.Failed():
		a.fail(err)
		return
	}

	select {
	case <-a.ctx.Done():
	case err := <-call.Failed():
		a.fail(err)
	}
}

func (a *Adapter) fail(err error) {
	a.mu.Lock()
	if a.state == StateTornDown {
		a.mu.Unlock()
		return
	}
	a.state = StateFailed
	a.mu.Unlock()
	select {
	case a.failed <- fmt.Errorf("%w: %v", domain.ErrJoinFailed, err):
	default:
	}
}

// Connected is closed once the engine confirms room membership.
func (a *Adapter) Connected() <-chan struct{} { return a.connected }

// Done is closed by Teardown.
func (a *Adapter) Done() <-chan struct{} { return a.ctx.Done() }

// Failed delivers at most one resource error after a successful Join.
func (a *Adapter) Failed() <-chan error { return a.failed }

// Teardown releases everything exactly once. It is safe at any point,
// including before Prepare or during Join.
func (a *Adapter) Teardown() {
	a.downOnce.Do(func() {
		a.mu.Lock()
		a.state = StateTornDown
		call := a.call
		a.call = nil
		a.mu.Unlock()

		a.cancel()
		if call != nil {
			call.Close()
		}
	})
}

// State returns the current connection state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	if a.state != StateTornDown {
		a.state = s
	}
	a.mu.Unlock()
}

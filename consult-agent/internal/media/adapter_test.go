package media

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-consult/consult-agent/internal/domain"
)

type fakeCall struct {
	connected chan struct{}
	failed    chan error
	closes    atomic.Int32
}

func newFakeCall() *fakeCall {
	return &fakeCall{connected: make(chan struct{}), failed: make(chan error, 1)}
}

func (c *fakeCall) Connected() <-chan struct{} { return c.connected }
func (c *fakeCall) Failed() <-chan error       { return c.failed }
func (c *fakeCall) Close() error {
	c.closes.Add(1)
	return nil
}

type fakeEngine struct {
	mu    sync.Mutex
	calls []*fakeCall
	reqs  []JoinRequest
	err   error
}

func (e *fakeEngine) Join(_ context.Context, req JoinRequest) (Call, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	c := newFakeCall()
	e.calls = append(e.calls, c)
	e.reqs = append(e.reqs, req)
	return c, nil
}

func staticToken(context.Context) (string, error) { return "media-token", nil }

func TestAdapter_PrepareSharesInFlightLoad(t *testing.T) {
	var loads atomic.Int32
	release := make(chan struct{})
	eng := &fakeEngine{}
	a := NewAdapter(func(context.Context) (Engine, error) {
		loads.Add(1)
		<-release
		return eng, nil
	}, false)
	defer a.Teardown()

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = a.Prepare(context.Background())
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, StateReady, a.State())

	require.NoError(t, a.Prepare(context.Background()))
	assert.Equal(t, int32(1), loads.Load())
}

func TestAdapter_PrepareRetriesAfterFailure(t *testing.T) {
	attempts := 0
	a := NewAdapter(func(context.Context) (Engine, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("engine missing")
		}
		return &fakeEngine{}, nil
	}, false)
	defer a.Teardown()

	err := a.Prepare(context.Background())
	assert.True(t, domain.IsResource(err))
	require.NoError(t, a.Prepare(context.Background()))
	assert.Equal(t, 2, attempts)
}

func TestAdapter_JoinRequiresPrepare(t *testing.T) {
	a := NewAdapter(func(context.Context) (Engine, error) { return &fakeEngine{}, nil }, false)
	defer a.Teardown()
	err := a.Join(context.Background(), "media:s1", "p1", "P", staticToken)
	assert.ErrorIs(t, err, domain.ErrNotPrepared)
}

func TestAdapter_JoinIsNonReentrantAndEmitsConnected(t *testing.T) {
	eng := &fakeEngine{}
	a := NewAdapter(func(context.Context) (Engine, error) { return eng, nil }, true)
	require.NoError(t, a.Prepare(context.Background()))

	require.NoError(t, a.Join(context.Background(), "media:s1", "p1", "Provider", staticToken))
	err := a.Join(context.Background(), "media:s1", "p1", "Provider", staticToken)
	assert.ErrorIs(t, err, domain.ErrAlreadyJoined)
	assert.True(t, domain.IsConflict(err))

	require.Len(t, eng.reqs, 1)
	assert.Equal(t, JoinRequest{RoomID: "media:s1", ParticipantID: "p1", DisplayName: "Provider", Token: "media-token", Video: true}, eng.reqs[0])

	close(eng.calls[0].connected)
	select {
	case <-a.Connected():
	case <-time.After(time.Second):
		t.Fatal("connected not emitted")
	}
	assert.Equal(t, StateConnected, a.State())

	a.Teardown()
	a.Teardown()
	assert.Equal(t, int32(1), eng.calls[0].closes.Load())
	assert.Equal(t, StateTornDown, a.State())
	assert.ErrorIs(t, a.Join(context.Background(), "media:s1", "p1", "P", staticToken), domain.ErrTornDown)
}

func TestAdapter_JoinFailureIsResourceError(t *testing.T) {
	eng := &fakeEngine{err: errors.New("no devices")}
	a := NewAdapter(func(context.Context) (Engine, error) { return eng, nil }, false)
	defer a.Teardown()
	require.NoError(t, a.Prepare(context.Background()))

	err := a.Join(context.Background(), "media:s1", "p1", "P", staticToken)
	assert.ErrorIs(t, err, domain.ErrJoinFailed)
	assert.True(t, domain.IsResource(err))
	assert.Equal(t, StateFailed, a.State())

	// Still not reentrant until torn down.
	assert.ErrorIs(t, a.Join(context.Background(), "media:s1", "p1", "P", staticToken), domain.ErrAlreadyJoined)
}

func TestAdapter_TokenFailure(t *testing.T) {
	a := NewAdapter(func(context.Context) (Engine, error) { return &fakeEngine{}, nil }, false)
	defer a.Teardown()
	require.NoError(t, a.Prepare(context.Background()))

	err := a.Join(context.Background(), "media:s1", "p1", "P", func(context.Context) (string, error) {
		return "", errors.New("denied")
	})
	assert.True(t, domain.IsResource(err))
}

func TestAdapter_CallFailureIsReported(t *testing.T) {
	eng := &fakeEngine{}
	a := NewAdapter(func(context.Context) (Engine, error) { return eng, nil }, false)
	defer a.Teardown()
	require.NoError(t, a.Prepare(context.Background()))
	require.NoError(t, a.Join(context.Background(), "media:s1", "p1", "P", staticToken))

	eng.calls[0].failed <- errors.New("ice failed")
	select {
	case err := <-a.Failed():
		assert.True(t, domain.IsResource(err))
	case <-time.After(time.Second):
		t.Fatal("failure not reported")
	}
	assert.Equal(t, StateFailed, a.State())
}

func TestAdapter_TeardownBeforePrepare(t *testing.T) {
	a := NewAdapter(func(context.Context) (Engine, error) { return &fakeEngine{}, nil }, false)
	a.Teardown()
	assert.ErrorIs(t, a.Prepare(context.Background()), domain.ErrTornDown)
}

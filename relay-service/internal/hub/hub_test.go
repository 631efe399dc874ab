package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-consult/pkg/wire"
	"github.com/weiawesome/wes-io-consult/relay-service/internal/config"
)

func startHub(t *testing.T, buffer int) (*Hub, context.CancelFunc) {
	t.Helper()
	h := NewHub(config.WebSocketConfig{SendBuffer: buffer})
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func receive(t *testing.T, c *Client) *wire.Frame {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		f, err := wire.Decode(data)
		require.NoError(t, err)
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
		return nil
	}
}

func TestHub_JoinLeave(t *testing.T) {
	h, _ := startHub(t, 4)
	c := NewClient("a", h, nil)

	assert.False(t, h.JoinRoom(c, "session:s1"), "unregistered clients cannot join")

	h.Register(c)
	assert.True(t, h.JoinRoom(c, "session:s1"))
	assert.False(t, h.JoinRoom(c, "session:s1"))
	assert.True(t, h.JoinRoom(c, "participant:a"))
	assert.Equal(t, []string{"participant:a", "session:s1"}, c.Rooms())
	assert.Equal(t, 1, h.RoomSize("session:s1"))

	h.LeaveRoom(c, "session:s1")
	assert.False(t, c.InRoom("session:s1"))
	assert.Equal(t, 0, h.RoomSize("session:s1"))
	h.LeaveRoom(c, "session:s1")
}

func TestHub_BroadcastExcludesOrigin(t *testing.T) {
	h, _ := startHub(t, 4)
	a := NewClient("a", h, nil)
	b := NewClient("b", h, nil)
	outsider := NewClient("z", h, nil)
	for _, c := range []*Client{a, b, outsider} {
		h.Register(c)
	}
	h.JoinRoom(a, "session:s1")
	h.JoinRoom(b, "session:s1")

	require.NoError(t, h.BroadcastToRoom("session:s1", &wire.Frame{Type: wire.TypeEvent, RoomID: "session:s1"}, "a"))

	f := receive(t, b)
	assert.Equal(t, "session:s1", f.RoomID)
	assert.Empty(t, a.Send)
	assert.Empty(t, outsider.Send)
}

func TestHub_UnregisterClosesSendAndLeavesRooms(t *testing.T) {
	h, _ := startHub(t, 4)
	c := NewClient("a", h, nil)
	h.Register(c)
	h.JoinRoom(c, "session:s1")
	require.Equal(t, 1, h.ClientCount())

	h.Unregister(c)
	select {
	case _, ok := <-c.Send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}
	assert.Equal(t, 0, h.ClientCount())
	assert.Equal(t, 0, h.RoomSize("session:s1"))

	// Sending to a removed client is dropped silently.
	require.NoError(t, c.SendFrame(&wire.Frame{Type: wire.TypePong}))
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	h, _ := startHub(t, 1)
	c := NewClient("slow", h, nil)
	h.Register(c)

	require.NoError(t, c.SendFrame(&wire.Frame{Type: wire.TypePong}))
	require.NoError(t, c.SendFrame(&wire.Frame{Type: wire.TypePong}))

	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_RunClosesClientsOnShutdown(t *testing.T) {
	h, cancel := startHub(t, 4)
	c := NewClient("a", h, nil)
	h.Register(c)
	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-c.Send:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	// BroadcastToRoom must not block once the loop has stopped.
	assert.NoError(t, h.BroadcastToRoom("session:s1", &wire.Frame{Type: wire.TypeEvent}, ""))
}

package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-consult/pkg/jwt"
	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
	"github.com/weiawesome/wes-io-consult/pkg/wire"
	"github.com/weiawesome/wes-io-consult/relay-service/internal/client"
	"github.com/weiawesome/wes-io-consult/relay-service/internal/config"
	"github.com/weiawesome/wes-io-consult/relay-service/internal/hub"
	"github.com/weiawesome/wes-io-consult/relay-service/internal/service"
)

const testSecret = "relay-handler-test-secret"

type staticParties map[string]*client.Parties

func (s staticParties) GetParties(_ context.Context, id string) (*client.Parties, error) {
	if p, ok := s[id]; ok {
		return p, nil
	}
	return nil, client.ErrSessionNotFound
}

type relay struct {
	url string
	jwt *jwt.Manager
}

func startRelay(t *testing.T, authTimeout time.Duration) *relay {
	t.Helper()
	manager, err := jwt.NewManager(testSecret, time.Hour, time.Minute, "test")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := hub.NewHub(config.WebSocketConfig{PingInterval: time.Second, PongWait: 5 * time.Second, WriteWait: time.Second})
	go h.Run(ctx)

	parties := staticParties{"s1": {SessionID: "s1", RequesterID: "c1", ProviderID: "p1"}}
	svc := service.NewRelayService(h, manager, parties, nil)

	router := mux.NewRouter()
	NewWSHandler(h, svc, authTimeout).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &relay{url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", jwt: manager}
}

func (r *relay) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(r.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (r *relay) login(t *testing.T, participantID, role string) *websocket.Conn {
	t.Helper()
	token, err := r.jwt.IssueAccess(participantID, participantID, role)
	require.NoError(t, err)
	conn := r.dial(t)
	send(t, conn, &wire.Frame{Type: wire.TypeAuth, Token: token})
	fr := recv(t, conn)
	require.Equal(t, wire.TypeAuthResult, fr.Type)
	require.True(t, fr.Success)
	require.Equal(t, participantID, fr.ParticipantID)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, f *wire.Frame) {
	t.Helper()
	data, err := f.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func recv(t *testing.T, conn *websocket.Conn) *wire.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	fr, err := wire.Decode(data)
	require.NoError(t, err)
	return fr
}

func TestWSHandler_JoinAndRelay(t *testing.T) {
	r := startRelay(t, time.Second)
	c1 := r.login(t, "c1", jwt.RoleRequester)
	p1 := r.login(t, "p1", jwt.RoleProvider)

	for _, conn := range []*websocket.Conn{c1, p1} {
		send(t, conn, &wire.Frame{Type: wire.TypeJoinRoom, RoomID: "session:s1"})
		fr := recv(t, conn)
		require.Equal(t, wire.TypeRoomJoined, fr.Type)
		assert.Equal(t, "session:s1", fr.RoomID)
	}

	ev, err := pubsub.NewEvent(pubsub.KindTyping, "session:s1", pubsub.TypingPayload{SessionID: "s1", Typing: true})
	require.NoError(t, err)
	send(t, c1, &wire.Frame{Type: wire.TypePublish, RoomID: "session:s1", Event: ev})

	fr := recv(t, p1)
	require.Equal(t, wire.TypeEvent, fr.Type)
	require.NotNil(t, fr.Event)
	var p pubsub.TypingPayload
	require.NoError(t, fr.Event.UnmarshalPayload(&p))
	assert.Equal(t, "c1", p.ParticipantID)
}

func TestWSHandler_PingAndUnknownFrames(t *testing.T) {
	r := startRelay(t, time.Second)
	conn := r.login(t, "c1", jwt.RoleRequester)

	send(t, conn, &wire.Frame{Type: wire.TypePing})
	assert.Equal(t, wire.TypePong, recv(t, conn).Type)

	send(t, conn, &wire.Frame{Type: "subscribe_all"})
	fr := recv(t, conn)
	assert.Equal(t, wire.TypeError, fr.Type)
	assert.Equal(t, wire.ErrCodeBadRequest, fr.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, wire.ErrCodeBadRequest, recv(t, conn).Code)

	send(t, conn, &wire.Frame{Type: wire.TypeJoinRoom, RoomID: "participant:p1"})
	fr = recv(t, conn)
	assert.Equal(t, wire.ErrCodeForbidden, fr.Code)
	assert.Equal(t, "participant:p1", fr.RoomID)
}

func TestWSHandler_BadTokenClosesConnection(t *testing.T) {
	r := startRelay(t, time.Second)
	conn := r.dial(t)

	send(t, conn, &wire.Frame{Type: wire.TypeAuth, Token: "garbage"})
	fr := recv(t, conn)
	assert.Equal(t, wire.TypeAuthResult, fr.Type)
	assert.False(t, fr.Success)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestWSHandler_AuthTimeout(t *testing.T) {
	r := startRelay(t, 50*time.Millisecond)
	conn := r.dial(t)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.False(t, isTimeout(err), "closed by the relay, not by the read deadline")
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	t, ok := err.(timeout)
	return ok && t.Timeout()
}

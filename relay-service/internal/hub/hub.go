package hub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	pkglog "github.com/weiawesome/wes-io-consult/pkg/log"
	"github.com/weiawesome/wes-io-consult/pkg/wire"
	"github.com/weiawesome/wes-io-consult/relay-service/internal/config"
)

// DisconnectHandler is called when a client disconnects.
type DisconnectHandler func(*Client)

// Client represents one participant connection.
type Client struct {
	ID   string
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte

	mu                sync.RWMutex
	participantID     string
	role              string
	rooms             map[string]struct{}
	disconnectHandler DisconnectHandler
}

// NewClient creates an unauthenticated client bound to h.
func NewClient(id string, h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:    id,
		Hub:   h,
		Conn:  conn,
		Send:  make(chan []byte, h.config.SendBuffer),
		rooms: make(map[string]struct{}),
	}
}

// SetDisconnectHandler sets the handler to be called on disconnect.
func (c *Client) SetDisconnectHandler(handler DisconnectHandler) {
	c.disconnectHandler = handler
}

// Authenticate binds the connection to a participant.
func (c *Client) Authenticate(participantID, role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.participantID = participantID
	c.role = role
}

// Authenticated reports whether the auth frame was accepted.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.participantID != ""
}

// ParticipantID returns the authenticated participant.
func (c *Client) ParticipantID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.participantID
}

// InRoom reports whether the client joined roomID.
func (c *Client) InRoom(roomID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[roomID]
	return ok
}

// Rooms returns the joined rooms, sorted.
func (c *Client) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// SendFrame queues f without blocking. A client whose buffer is full is
// disconnected; it will reconnect and re-join.
func (c *Client) SendFrame(f *wire.Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	c.Hub.deliver(c, data)
	return nil
}

// Hub tracks connections and their room membership on this instance.
type Hub struct {
	clients    map[string]*Client
	rooms      map[string]map[string]*Client // roomID -> clientID -> client
	unregister chan *Client
	broadcast  chan *RoomMessage
	done       chan struct{}
	mu         sync.RWMutex
	config     config.WebSocketConfig
}

// RoomMessage is a message to be delivered to a room.
type RoomMessage struct {
	RoomID  string
	Message []byte
	Exclude string // client id to skip
}

// NewHub creates a new Hub.
func NewHub(cfg config.WebSocketConfig) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 1 << 20
	}
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *RoomMessage, 256),
		done:       make(chan struct{}),
		config:     cfg,
	}
}

// Run is the hub's main loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	l := pkglog.Component("hub")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.Send)
			}
			h.rooms = make(map[string]map[string]*Client)
			h.mu.Unlock()
			return

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for roomID := range client.roomsSnapshot() {
					h.leaveLocked(client, roomID)
				}
				delete(h.clients, client.ID)
				close(client.Send)
			}
			h.mu.Unlock()
			l.Debug().Str("client_id", client.ID).Str(pkglog.FieldParticipantID, client.ParticipantID()).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for clientID, client := range h.rooms[msg.RoomID] {
				if clientID == msg.Exclude {
					continue
				}
				select {
				case client.Send <- msg.Message:
				default:
					go h.removeClient(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub. It returns once the client can join
// rooms.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.removeClient(client)
}

// JoinRoom adds a client to a room. It reports false if it was already in.
func (h *Hub) JoinRoom(client *Client, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return false
	}
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]*Client)
	}
	if _, ok := h.rooms[roomID][client.ID]; ok {
		return false
	}
	h.rooms[roomID][client.ID] = client
	client.mu.Lock()
	client.rooms[roomID] = struct{}{}
	client.mu.Unlock()
	return true
}

// LeaveRoom removes a client from a room.
func (h *Hub) LeaveRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(client, roomID)
}

func (h *Hub) leaveLocked(client *Client, roomID string) {
	if roomClients, ok := h.rooms[roomID]; ok {
		delete(roomClients, client.ID)
		if len(roomClients) == 0 {
			delete(h.rooms, roomID)
		}
	}
	client.mu.Lock()
	delete(client.rooms, roomID)
	client.mu.Unlock()
}

// BroadcastToRoom delivers an encoded frame to every local member of roomID
// except the client exclude.
func (h *Hub) BroadcastToRoom(roomID string, f *wire.Frame, exclude string) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- &RoomMessage{RoomID: roomID, Message: data, Exclude: exclude}:
	case <-h.done:
	}
	return nil
}

// RoomSize returns the number of local members of roomID.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) deliver(c *Client, data []byte) {
	h.mu.RLock()
	_, ok := h.clients[c.ID]
	if ok {
		select {
		case c.Send <- data:
		default:
			go h.removeClient(c)
		}
	}
	h.mu.RUnlock()
}

func (h *Hub) removeClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (c *Client) roomsSnapshot() map[string]struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]struct{}, len(c.rooms))
	for r := range c.rooms {
		out[r] = struct{}{}
	}
	return out
}

// ReadPump pumps frames from the connection to handler.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		if c.disconnectHandler != nil {
			c.disconnectHandler(c)
		}
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Hub.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l := pkglog.L()
				l.Warn().Err(err).Str("client_id", c.ID).Msg("websocket error")
			}
			break
		}
		// Any frame proves liveness.
		c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.PongWait))
		handler(c, message)
	}
}

// WritePump pumps queued frames to the connection and pings it.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.Hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

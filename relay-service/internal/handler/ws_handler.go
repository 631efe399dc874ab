package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	pkglog "github.com/weiawesome/wes-io-consult/pkg/log"
	"github.com/weiawesome/wes-io-consult/pkg/wire"
	"github.com/weiawesome/wes-io-consult/relay-service/internal/hub"
	"github.com/weiawesome/wes-io-consult/relay-service/internal/service"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // participants are native processes, not browsers
	},
}

// WSHandler handles WebSocket connections.
type WSHandler struct {
	hub         *hub.Hub
	service     service.RelayService
	authTimeout time.Duration
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(h *hub.Hub, svc service.RelayService, authTimeout time.Duration) *WSHandler {
	return &WSHandler{
		hub:         h,
		service:     svc,
		authTimeout: authTimeout,
	}
}

// HandleWebSocket upgrades the connection and starts its pumps.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	l := pkglog.Ctx(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn)
	logger := l.With().Str("client_id", client.ID).Logger()
	ctx := pkglog.WithLogger(context.Background(), logger)

	client.SetDisconnectHandler(func(c *hub.Client) {
		if err := h.service.HandleDisconnect(ctx, c); err != nil {
			logger.Error().Err(err).Msg("disconnect handler error")
		}
	})

	h.hub.Register(client)

	if h.authTimeout > 0 {
		time.AfterFunc(h.authTimeout, func() {
			if !client.Authenticated() {
				logger.Debug().Msg("auth timeout, closing connection")
				h.hub.Unregister(client)
			}
		})
	}

	go client.WritePump()
	go client.ReadPump(func(c *hub.Client, message []byte) {
		h.handleMessage(ctx, c, message)
	})
}

func (h *WSHandler) handleMessage(ctx context.Context, client *hub.Client, message []byte) {
	l := pkglog.Ctx(ctx)

	frame, err := wire.Decode(message)
	if err != nil {
		client.SendFrame(wire.NewError(wire.ErrCodeBadRequest, "invalid frame", ""))
		return
	}

	switch frame.Type {
	case wire.TypeAuth:
		if err := h.service.HandleAuth(ctx, client, frame.Token); err != nil {
			l.Warn().Err(err).Msg("auth failed")
			h.hub.Unregister(client)
		}

	case wire.TypeJoinRoom:
		if err := h.service.HandleJoinRoom(ctx, client, frame.RoomID); err != nil {
			l.Warn().Err(err).Str(pkglog.FieldRoomID, frame.RoomID).Msg("join room refused")
		}

	case wire.TypeLeaveRoom:
		if err := h.service.HandleLeaveRoom(ctx, client, frame.RoomID); err != nil {
			l.Warn().Err(err).Str(pkglog.FieldRoomID, frame.RoomID).Msg("leave room failed")
		}

	case wire.TypePublish:
		if err := h.service.HandlePublish(ctx, client, frame.RoomID, frame.Event); err != nil {
			l.Warn().Err(err).Str(pkglog.FieldRoomID, frame.RoomID).Msg("publish refused")
		}

	case wire.TypePing:
		client.SendFrame(&wire.Frame{Type: wire.TypePong})

	default:
		client.SendFrame(wire.NewError(wire.ErrCodeBadRequest, "unknown frame type", frame.RoomID))
	}
}

// RegisterRoutes registers the WebSocket route.
func (h *WSHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", h.HandleWebSocket).Methods(http.MethodGet)
}

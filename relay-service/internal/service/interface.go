package service

import (
	"context"

	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
	"github.com/weiawesome/wes-io-consult/relay-service/internal/hub"
)

// RelayService routes participant frames and bus events.
type RelayService interface {
	// HandleAuth binds the connection to the token's participant.
	HandleAuth(ctx context.Context, client *hub.Client, token string) error

	// HandleJoinRoom adds the client to a room it is entitled to.
	HandleJoinRoom(ctx context.Context, client *hub.Client, roomID string) error

	// HandleLeaveRoom removes the client from a room.
	HandleLeaveRoom(ctx context.Context, client *hub.Client, roomID string) error

	// HandlePublish forwards a hint event from the client to a room.
	HandlePublish(ctx context.Context, client *hub.Client, roomID string, event *pubsub.Event) error

	// HandleDisconnect handles a client disconnecting.
	HandleDisconnect(ctx context.Context, client *hub.Client) error

	// Start subscribes to the bus.
	Start(ctx context.Context) error

	// Stop stops background goroutines.
	Stop() error
}

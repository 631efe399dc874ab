// Package notify pushes hint events to participants through relay-service.
// Notifications are never authoritative; receivers confirm through the API.
package notify

import (
	"context"
	"fmt"

	pkglog "github.com/weiawesome/wes-io-consult/pkg/log"
	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
)

// Notifier publishes an event into a relay room.
type Notifier interface {
	Notify(ctx context.Context, kind pubsub.Kind, roomID string, payload interface{}) error
}

// BusNotifier publishes on the pub/sub channel every relay instance
// subscribes to.
type BusNotifier struct {
	publisher pubsub.Publisher
}

// NewBusNotifier creates a notifier on top of a publisher.
func NewBusNotifier(p pubsub.Publisher) *BusNotifier {
	return &BusNotifier{publisher: p}
}

// Notify publishes payload as a kind event in roomID.
func (n *BusNotifier) Notify(ctx context.Context, kind pubsub.Kind, roomID string, payload interface{}) error {
	ev, err := pubsub.NewEvent(kind, roomID, payload)
	if err != nil {
		return fmt.Errorf("failed to build %s event: %w", kind, err)
	}
	if err := n.publisher.Publish(ctx, pubsub.RelayRoomChannel(roomID), ev); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", kind, err)
	}

	l := pkglog.Ctx(ctx)
	l.Debug().Str(pkglog.FieldEventType, string(kind)).Str(pkglog.FieldRoomID, roomID).Msg("notification published")
	return nil
}

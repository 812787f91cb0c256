package rabbitmq

import (
	"context"

	"github.com/ManuelReschke/subsync/internal/pkg/billing"
)

const (
	DefaultExchange = "subsync.billing"
	// RoutingKeySubscriptionSynced is used for every written snapshot.
	RoutingKeySubscriptionSynced = "subscription.synced"
)

// SyncNotifier publishes subscription snapshot changes to the broker.
type SyncNotifier struct {
	publisher Publisher
	exchange  string
}

// NewSyncNotifier creates a notifier on top of publisher. An empty exchange
// selects DefaultExchange.
func NewSyncNotifier(publisher Publisher, exchange string) *SyncNotifier {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &SyncNotifier{publisher: publisher, exchange: exchange}
}

func (n *SyncNotifier) PublishSync(ctx context.Context, msg billing.SyncNotification) error {
	return n.publisher.Publish(ctx, n.exchange, RoutingKeySubscriptionSynced, msg)
}

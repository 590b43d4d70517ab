package leads

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/proto-clique/internal/messaging"
	"go.uber.org/zap"
)

// NewHandler returns a handler that saves each event to the store.
func NewHandler(store Store) messaging.Handler[LeadSubmittedEvent] {
	return func(ctx context.Context, event *LeadSubmittedEvent) error {
		return store.SaveLead(ctx, event)
	}
}

// NewConsumer creates a consumer of lead.submitted events backed by store.
func NewConsumer(
	subscriber message.Subscriber,
	store Store,
	logger *zap.Logger,
) *messaging.Consumer[LeadSubmittedEvent] {
	return messaging.NewConsumer(subscriber, TopicLeadSubmitted, NewHandler(store), logger)
}

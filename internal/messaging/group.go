package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// Runnable represents a component that can be started and shutdown.
type Runnable interface {
	Start(ctx context.Context) error
	Shutdown() error
}

type topicRunnable interface {
	Topic() string
}

// ConsumerGroup runs several consumers that share one subscriber and owns
// that subscriber's lifecycle.
type ConsumerGroup struct {
	consumers  []Runnable
	subscriber message.Subscriber
	logger     *zap.Logger
}

// NewConsumerGroup creates a new consumer group.
func NewConsumerGroup(subscriber message.Subscriber, logger *zap.Logger) *ConsumerGroup {
	return &ConsumerGroup{
		subscriber: subscriber,
		logger:     logger,
	}
}

// Add registers consumers with the group.
func (g *ConsumerGroup) Add(consumers ...Runnable) {
	g.consumers = append(g.consumers, consumers...)
}

// Start starts the consumers in order. On failure the ones already running
// are stopped again and the subscriber stays open.
func (g *ConsumerGroup) Start(ctx context.Context) error {
	for i, consumer := range g.consumers {
		if err := consumer.Start(ctx); err != nil {
			stopAll(g.consumers[:i])

			return fmt.Errorf("start consumer %s: %w", describe(i, consumer), err)
		}
	}

	g.logger.Info("consumer group started", zap.Int("consumers", len(g.consumers)))

	return nil
}

// Shutdown stops the consumers in reverse order, then closes the subscriber.
// Every step runs even when an earlier one fails.
func (g *ConsumerGroup) Shutdown() error {
	g.logger.Info("shutting down consumer group")

	errs := stopAll(g.consumers)

	if err := g.subscriber.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close subscriber: %w", err))
	}

	return errors.Join(errs...)
}

func stopAll(consumers []Runnable) []error {
	var errs []error

	for i := len(consumers) - 1; i >= 0; i-- {
		if err := consumers[i].Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("stop consumer %s: %w", describe(i, consumers[i]), err))
		}
	}

	return errs
}

func describe(i int, r Runnable) string {
	if t, ok := r.(topicRunnable); ok {
		return fmt.Sprintf("%d (%s)", i, t.Topic())
	}

	return fmt.Sprint(i)
}

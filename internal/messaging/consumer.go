package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// ErrConsumerRunning is returned by Start on a consumer that is already running.
var ErrConsumerRunning = errors.New("consumer already running")

// Handler processes a single event.
type Handler[T any] func(ctx context.Context, event *T) error

// Consumer feeds the events of one topic to a typed handler.
//
// A message whose payload does not decode is acked and dropped, since no
// redelivery can make it valid. A handler error nacks the message and leaves
// redelivery to the backend.
type Consumer[T any] struct {
	subscriber message.Subscriber
	topic      string
	handler    Handler[T]
	logger     *zap.Logger

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

// NewConsumer returns a consumer of topic. It does nothing until Start.
func NewConsumer[T any](
	subscriber message.Subscriber,
	topic string,
	handler Handler[T],
	logger *zap.Logger,
) *Consumer[T] {
	return &Consumer[T]{
		subscriber: subscriber,
		topic:      topic,
		handler:    handler,
		logger:     logger.With(zap.String("topic", topic)),
	}
}

// Topic returns the topic this consumer subscribes to.
func (c *Consumer[T]) Topic() string {
	return c.topic
}

// Start subscribes to the topic and processes messages in the background
// until ctx is done or Shutdown is called.
func (c *Consumer[T]) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil {
		return ErrConsumerRunning
	}

	ctx, stop := context.WithCancel(ctx)

	msgs, err := c.subscriber.Subscribe(ctx, c.topic)
	if err != nil {
		stop()

		return fmt.Errorf("subscribe to %s: %w", c.topic, err)
	}

	done := make(chan struct{})
	c.stop, c.done = stop, done

	go func() {
		defer close(done)
		c.run(ctx, msgs)
	}()

	return nil
}

func (c *Consumer[T]) run(ctx context.Context, msgs <-chan *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}

			if c.process(ctx, msg) {
				msg.Ack()
			} else {
				msg.Nack()
			}
		}
	}
}

// process reports whether msg is settled and can be acked.
func (c *Consumer[T]) process(ctx context.Context, msg *message.Message) bool {
	logger := c.logger.With(zap.String("message_id", msg.UUID))

	event := new(T)
	if err := json.Unmarshal(msg.Payload, event); err != nil {
		logger.Warn("dropping undecodable event",
			zap.Int("payload_bytes", len(msg.Payload)),
			zap.Error(err),
		)

		return true
	}

	if err := c.handler(ctx, event); err != nil {
		logger.Error("event handler failed, requesting redelivery", zap.Error(err))

		return false
	}

	logger.Debug("processed event")

	return true
}

// Shutdown stops a running consumer and waits for the message in flight.
// It is a no-op otherwise, and the consumer can be started again afterwards.
func (c *Consumer[T]) Shutdown() error {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop == nil {
		return nil
	}

	stop()
	<-done

	return nil
}

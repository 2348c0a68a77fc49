package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Subscriber is a per-consumer broker handle. Each streaming connection owns
// one, so a slow consumer only backpressures its own delivery: the forward
// goroutine blocks on the unbuffered Events channel until the consumer
// drains it.
type Subscriber struct {
	pubsub    *redis.PubSub
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewSubscriber(ctx context.Context, client *redis.Client, channels ...string) (*Subscriber, error) {
	pubsub := client.Subscribe(ctx, channels...)

	// Force the subscription onto the wire before any event can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to broker: %w", err)
	}

	s := &Subscriber{
		pubsub: pubsub,
		events: make(chan Event),
		done:   make(chan struct{}),
	}

	go s.forward()

	return s, nil
}

// Subscribe adds channels to the live subscription set.
func (s *Subscriber) Subscribe(ctx context.Context, channels ...string) error {
	if err := s.pubsub.Subscribe(ctx, channels...); err != nil {
		return fmt.Errorf("failed to add channels: %w", err)
	}
	return nil
}

func (s *Subscriber) Unsubscribe(ctx context.Context, channels ...string) error {
	if err := s.pubsub.Unsubscribe(ctx, channels...); err != nil {
		return fmt.Errorf("failed to remove channels: %w", err)
	}
	return nil
}

// Events delivers decoded events. The channel closes when the broker handle
// is closed or the underlying connection is lost.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// Close releases the broker handle and the forward goroutine, including one
// blocked mid-delivery on a consumer that stopped reading.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.pubsub.Close()
}

func (s *Subscriber) forward() {
	defer close(s.events)

	for msg := range s.pubsub.Channel() {
		event, err := Decode([]byte(msg.Payload))
		if err != nil {
			slog.Warn("Dropping undecodable event", "channel", msg.Channel, "error", err)
			continue
		}
		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}

package events

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Sink accepts events for fan-out. The scheduler and API handlers publish
// through this interface; tests substitute a recording implementation.
type Sink interface {
	Publish(ctx context.Context, channel string, event Event)
}

var _ Sink = (*Publisher)(nil)

// Publisher fans events out to named broker channels. Publishing is
// fire-and-forget: it must only be called after the triggering store
// mutation has committed, and a broker failure never propagates back into
// ingestion. The streaming clients' reconciliation pull is the safety net
// for lost notifications.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, channel string, event Event) {
	event.Channel = channel

	data, err := event.Encode()
	if err != nil {
		slog.Error("Failed to encode event", "type", string(event.Type), "channel", channel, "error", err)
		return
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		slog.Warn("Failed to publish event", "type", string(event.Type), "channel", channel, "error", err)
		return
	}

	slog.Debug("Event published", "type", string(event.Type), "channel", channel, "entity_id", event.EntityID)
}

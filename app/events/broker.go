package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewBrokerClient connects to the Redis broker used for event fan-out. The
// broker is best-effort infrastructure: if the initial ping fails the client
// is returned anyway and individual publishes fail (and are logged) until
// the broker comes back.
func NewBrokerClient(addr string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("Broker unreachable, fan-out degraded until it recovers", "addr", addr, "error", err)
	} else {
		slog.Info("Connected to broker", "addr", addr)
	}

	return client
}

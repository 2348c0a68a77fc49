package stream

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/rsmw/feedloop/app/cfg"
	"github.com/rsmw/feedloop/app/database"
	"github.com/rsmw/feedloop/app/events"
)

// Gateway terminates streaming connections. Each connection gets its own
// broker subscription covering the user channel plus one channel per
// active subscription, so delivery problems never cross connections.
type Gateway struct {
	broker *redis.Client
	subs   database.SubscriptionRepository
	auth   Authenticator

	heartbeat time.Duration
	maxConns  int64
	active    atomic.Int64
}

func NewGateway(broker *redis.Client, subs database.SubscriptionRepository, auth Authenticator) *Gateway {
	c := cfg.Get()

	return &Gateway{
		broker:    broker,
		subs:      subs,
		auth:      auth,
		heartbeat: time.Duration(c.HeartbeatInterval) * time.Second,
		maxConns:  int64(c.MaxConnections),
	}
}

func (g *Gateway) Handle(c *gin.Context) {
	userID, err := g.auth.UserID(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusNotAcceptable, gin.H{"error": "Streaming not supported"})
		return
	}

	if g.active.Add(1) > g.maxConns {
		g.active.Add(-1)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Connection limit reached"})
		return
	}
	defer g.active.Add(-1)

	ctx := c.Request.Context()

	sourceIDs, err := g.subs.ActiveSourceIDs(ctx, userID)
	if err != nil {
		slog.Error("Failed to resolve subscriptions for stream", "user", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open stream"})
		return
	}

	channels := make([]string, 0, len(sourceIDs)+1)
	channels = append(channels, events.UserChannel(userID))
	for _, sourceID := range sourceIDs {
		channels = append(channels, events.SourceChannel(sourceID))
	}

	subscriber, err := events.NewSubscriber(ctx, g.broker, channels...)
	if err != nil {
		slog.Error("Failed to open broker subscription", "user", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open stream"})
		return
	}
	defer subscriber.Close()

	conn := newConnection(c.Writer, flusher)
	c.Status(http.StatusOK)

	if err := conn.writeEvent(events.New(events.TypeConnectionEstablished, userID, nil)); err != nil {
		slog.Debug("Client gone before stream start", "user", userID, "error", err)
		return
	}

	slog.Debug("Stream opened", "user", userID, "channels", len(channels))
	g.serve(c, conn, subscriber, userID)
	slog.Debug("Stream closed", "user", userID)
}

func (g *Gateway) serve(c *gin.Context, conn *connection, subscriber *events.Subscriber, userID string) {
	ctx := c.Request.Context()

	ticker := time.NewTicker(g.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := conn.writePing(); err != nil {
				slog.Debug("Heartbeat failed, dropping connection", "user", userID, "error", err)
				return
			}

		case event, ok := <-subscriber.Events():
			if !ok {
				return
			}

			// A new subscription widens this connection's channel set
			// before the event is forwarded, so the first poll of the new
			// source is already covered.
			if event.Type == events.TypeSubscriptionCreated {
				if sourceID := event.Payload["source_id"]; sourceID != "" {
					if err := subscriber.Subscribe(ctx, events.SourceChannel(sourceID)); err != nil {
						slog.Warn("Failed to widen stream subscription", "user", userID, "source", sourceID, "error", err)
					}
				}
			}

			if err := conn.writeEvent(event); err != nil {
				slog.Debug("Event write failed, dropping connection", "user", userID, "error", err)
				return
			}
		}
	}
}

// ActiveConnections reports the live connection count for health output.
func (g *Gateway) ActiveConnections() int {
	return int(g.active.Load())
}

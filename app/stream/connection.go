package stream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rsmw/feedloop/app/events"
)

// connection wraps one streaming response. Writes block until the client's
// socket drains, which is the whole backpressure story: a slow client
// stalls only its own forward loop.
type connection struct {
	writer  http.ResponseWriter
	flusher http.Flusher
}

func newConnection(w http.ResponseWriter, flusher http.Flusher) *connection {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	return &connection{writer: w, flusher: flusher}
}

func (c *connection) writeEvent(event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event frame: %w", err)
	}

	if _, err := fmt.Fprintf(c.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("failed to write event frame: %w", err)
	}
	c.flusher.Flush()

	return nil
}

// writePing emits an SSE comment frame. Clients ignore it; it exists to
// keep intermediaries from reaping the idle connection and to surface dead
// sockets through the write error.
func (c *connection) writePing() error {
	if _, err := c.writer.Write([]byte(": ping\n\n")); err != nil {
		return fmt.Errorf("failed to write heartbeat: %w", err)
	}
	c.flusher.Flush()

	return nil
}

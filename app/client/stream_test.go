package client

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rsmw/feedloop/app/events"
)

func writeFrame(w http.ResponseWriter, event events.Event) {
	data, _ := event.Encode()
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	w.(http.Flusher).Flush()
}

func newTestStream(t *testing.T, baseURL string) *Stream {
	t.Helper()

	s := NewStream(nil, baseURL, "", "user-a")
	s.backoffBase = 10 * time.Millisecond
	s.backoffCeiling = 50 * time.Millisecond
	s.Start()
	t.Cleanup(s.Close)

	return s
}

func waitForEvent(t *testing.T, s *Stream) events.Event {
	t.Helper()

	select {
	case event := <-s.Events():
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for a stream event")
		return events.Event{}
	}
}

func TestStreamDecodesNamedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(w, events.New(events.TypeConnectionEstablished, "user-a", nil))

		// A heartbeat comment between frames must be transparent.
		fmt.Fprint(w, ": ping\n\n")
		w.(http.Flusher).Flush()

		writeFrame(w, events.New(events.TypeNewEntry, "entry-1", map[string]string{"source_id": "src-1"}))
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	s := newTestStream(t, server.URL)

	if got := waitForEvent(t, s); got.Type != events.TypeConnectionEstablished {
		t.Fatalf("Expected the opening frame first, got %+v", got)
	}

	got := waitForEvent(t, s)
	if got.Type != events.TypeNewEntry || got.EntityID != "entry-1" {
		t.Errorf("Unexpected event: %+v", got)
	}
	if got.Payload["source_id"] != "src-1" {
		t.Errorf("Expected the payload to survive framing, got %+v", got.Payload)
	}
}

func TestStreamReconnectsAfterADrop(t *testing.T) {
	var connections atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := connections.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(w, events.New(events.TypeNewEntry, fmt.Sprintf("entry-%d", n), nil))

		if n == 1 {
			// Drop the first connection after one event.
			return
		}
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	s := newTestStream(t, server.URL)

	first := waitForEvent(t, s)
	second := waitForEvent(t, s)

	if first.EntityID != "entry-1" || second.EntityID != "entry-2" {
		t.Errorf("Expected events from both connections, got %s then %s", first.EntityID, second.EntityID)
	}
	if connections.Load() < 2 {
		t.Error("Expected the stream to reconnect after the drop")
	}
}

func TestStreamBacksOffOnRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	s := newTestStream(t, server.URL)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == StateError {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Expected the stream to enter the error state")
}

func TestWakeUpForcesAReconnectAttempt(t *testing.T) {
	var connections atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connections.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	s := NewStream(nil, server.URL, "", "user-a")
	// A long backoff that only WakeUp can cut short.
	s.backoffBase = time.Hour
	s.backoffCeiling = time.Hour
	s.Start()
	defer s.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && connections.Load() < 1 {
		time.Sleep(5 * time.Millisecond)
	}
	if connections.Load() < 1 {
		t.Fatal("Expected an initial connection attempt")
	}

	s.WakeUp()

	deadline = time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if connections.Load() >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Expected WakeUp to force a reconnect attempt before the backoff elapsed")
}

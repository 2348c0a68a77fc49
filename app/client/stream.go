package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rsmw/feedloop/app/events"
)

type StreamState string

const (
	StateDisconnected StreamState = "disconnected"
	StateConnecting   StreamState = "connecting"
	StateConnected    StreamState = "connected"
	StateError        StreamState = "error"
)

const (
	streamBackoffBase    = time.Second
	streamBackoffCeiling = 2 * time.Minute
)

// Stream is a reconnecting consumer of the service's event stream. One
// goroutine owns the whole connection lifecycle as an explicit state
// machine; backoff state lives as plain fields on it.
type Stream struct {
	client  *http.Client
	baseURL string
	apiKey  string
	userID  string

	events chan events.Event
	wake   chan struct{}

	backoffBase    time.Duration
	backoffCeiling time.Duration

	mu    sync.Mutex
	state StreamState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewStream(httpClient *http.Client, baseURL, apiKey, userID string) *Stream {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Stream{
		client:  httpClient,
		baseURL: baseURL,
		apiKey:  apiKey,
		userID:  userID,
		events:  make(chan events.Event, 16),
		wake:    make(chan struct{}, 1),

		backoffBase:    streamBackoffBase,
		backoffCeiling: streamBackoffCeiling,

		state:  StateDisconnected,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Events delivers decoded server events. The channel closes when the
// stream is closed.
func (s *Stream) Events() <-chan events.Event {
	return s.events
}

func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WakeUp forces an immediate reconnect attempt, cutting any backoff wait
// short. Hosts call it when the client returns to the foreground, since
// backgrounded connections are routinely reaped by the platform.
func (s *Stream) WakeUp() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Stream) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Stream) Close() {
	s.cancel()
	s.wg.Wait()
	close(s.events)
}

func (s *Stream) run() {
	defer s.wg.Done()

	backoff := s.backoffBase

	for s.ctx.Err() == nil {
		s.setState(StateConnecting)

		body, err := s.open()
		if err != nil {
			s.setState(StateError)
			slog.Debug("Stream connection failed", "error", err, "retry_in", backoff)

			if !s.wait(backoff) {
				return
			}
			backoff = min(backoff*2, s.backoffCeiling)
			continue
		}

		// A successful open resets the backoff to the floor.
		backoff = s.backoffBase
		s.setState(StateConnected)
		slog.Debug("Stream connected")

		err = s.consume(body)
		body.Close()
		s.setState(StateDisconnected)

		if s.ctx.Err() != nil {
			return
		}
		slog.Debug("Stream dropped, reconnecting", "error", err)
	}
}

func (s *Stream) open() (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.baseURL+"/events", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-User-ID", s.userID)
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream rejected with HTTP %d", resp.StatusCode)
	}

	return resp.Body, nil
}

// consume parses SSE frames off the wire until the connection drops.
// Heartbeat comments are discarded; named events are decoded and
// delivered.
func (s *Stream) consume(body io.Reader) error {
	scanner := bufio.NewScanner(body)
	var data string

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if data != "" {
				s.deliver(data)
				data = ""
			}

		case strings.HasPrefix(line, ":"):
			// Heartbeat comment; the read itself proves liveness.

		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")

		case strings.HasPrefix(line, "event: "):
			// The event name is repeated inside the data payload; framing
			// only needs the data line.
		}
	}

	return scanner.Err()
}

func (s *Stream) deliver(data string) {
	var event events.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		slog.Warn("Dropping undecodable stream frame", "error", err)
		return
	}

	select {
	case s.events <- event:
	case <-s.ctx.Done():
	}
}

// wait sleeps for the backoff interval, cut short by WakeUp. It returns
// false when the stream is closing.
func (s *Stream) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-s.ctx.Done():
		return false
	case <-s.wake:
		return true
	case <-timer.C:
		return true
	}
}

func (s *Stream) setState(state StreamState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

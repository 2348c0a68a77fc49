package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ServerState is the authoritative per-entry state returned by the API
// after a mutation applies. It wins over the optimistic overlay on
// conflicting fields.
type ServerState struct {
	EntryID   string    `json:"entry_id"`
	Read      bool      `json:"read"`
	Starred   bool      `json:"starred"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sender transmits one mutation to the server. Tests substitute a
// recording implementation.
type Sender interface {
	Send(ctx context.Context, m QueuedMutation) (*ServerState, error)
}

// TerminalError marks a send failure that no retry can fix: the mutation
// moves straight to failed.
type TerminalError struct {
	Status int
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("mutation rejected permanently with HTTP %d", e.Status)
}

func IsTerminal(err error) bool {
	var terminal *TerminalError
	return errors.As(err, &terminal)
}

// HTTPSender posts mutations to the service API.
type HTTPSender struct {
	client  *http.Client
	baseURL string
	apiKey  string
	userID  string
}

func NewHTTPSender(client *http.Client, baseURL, apiKey, userID string) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPSender{client: client, baseURL: baseURL, apiKey: apiKey, userID: userID}
}

type mutationRequest struct {
	Type    string `json:"type"`
	EntryID string `json:"entry_id"`
	Desired bool   `json:"desired"`
}

func (s *HTTPSender) Send(ctx context.Context, m QueuedMutation) (*ServerState, error) {
	body, err := json.Marshal(mutationRequest{
		Type:    string(m.Type),
		EntryID: m.EntryID,
		Desired: m.Desired,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode mutation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/mutations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build mutation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", s.userID)
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send mutation: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// The entity is gone server-side; retrying cannot succeed.
		return nil, &TerminalError{Status: resp.StatusCode}
	default:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("mutation rejected with HTTP %d", resp.StatusCode)
	}

	var state ServerState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode mutation response: %w", err)
	}

	return &state, nil
}

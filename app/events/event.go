package events

import (
	"encoding/json"
	"fmt"
	"time"
)

type Type string

const (
	TypeNewEntry            Type = "new_entry"
	TypeEntryUpdated        Type = "entry_updated"
	TypeSubscriptionCreated Type = "subscription_created"
	TypeSavedArticleCreated Type = "saved_article_created"

	// TypeConnectionEstablished is synthesized by the stream gateway as the
	// first frame on a new connection; it never crosses the broker.
	TypeConnectionEstablished Type = "connection_established"
)

// Event is a transient notification published after a store mutation has
// committed. It is never persisted; a consumer that misses one recovers by
// re-pulling authoritative state, not by replay.
type Event struct {
	Type      Type              `json:"type"`
	Channel   string            `json:"channel"`
	EntityID  string            `json:"entity_id"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload,omitempty"`
}

func New(eventType Type, entityID string, payload map[string]string) Event {
	return Event{
		Type:      eventType,
		EntityID:  entityID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return data, nil
}

func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return e, nil
}

// SourceChannel names the per-source fan-out channel.
func SourceChannel(sourceID string) string {
	return "source:" + sourceID
}

// UserChannel names the per-user fan-out channel.
func UserChannel(userID string) string {
	return "user:" + userID
}

package client

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type MutationType string

const (
	MutationMarkRead MutationType = "mark_read"
	MutationStar     MutationType = "star"
	MutationUnstar   MutationType = "unstar"
)

const (
	StatusPending = "pending"
	StatusSending = "sending"
	StatusFailed  = "failed"
)

// QueuedMutation is one durable pending action. IDs are time-ordered so the
// queue drains in enqueue order without a separate sequence column.
type QueuedMutation struct {
	ID         string
	Type       MutationType
	EntryID    string
	Desired    bool
	QueuedAt   time.Time
	RetryCount int
	Status     string
}

func newMutation(mutationType MutationType, entryID string, desired bool) (QueuedMutation, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return QueuedMutation{}, fmt.Errorf("failed to generate mutation id: %w", err)
	}

	return QueuedMutation{
		ID:       id.String(),
		Type:     mutationType,
		EntryID:  entryID,
		Desired:  desired,
		QueuedAt: time.Now().UTC(),
		Status:   StatusPending,
	}, nil
}

// field names the entry attribute a mutation targets. Mutations coalesce
// per entry+field: star and unstar contend for the same slot, mark_read
// has its own.
func (m QueuedMutation) field() string {
	return fieldFor(m.Type)
}

func fieldFor(t MutationType) string {
	if t == MutationMarkRead {
		return "read"
	}
	return "starred"
}

func (m QueuedMutation) validate() error {
	switch m.Type {
	case MutationMarkRead, MutationStar, MutationUnstar:
	default:
		return fmt.Errorf("unknown mutation type: %q", string(m.Type))
	}
	if m.EntryID == "" {
		return fmt.Errorf("mutation requires an entry id")
	}
	return nil
}

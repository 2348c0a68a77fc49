package client

import (
	"context"
	"fmt"

	"github.com/rsmw/feedloop/app/database"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS mutation_queue (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	entry_id TEXT NOT NULL,
	desired INTEGER NOT NULL,
	queued_at TIMESTAMP NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS idx_mutation_queue_drain ON mutation_queue(status, id);
`

// Store persists queued mutations so actions taken offline survive a
// process restart. It is the client's private database, separate from the
// service store.
type Store struct {
	db *database.DB
}

func NewStore(path string) (*Store, error) {
	db, err := database.NewConnection(path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize mutation store: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue persists a mutation, replacing any not-yet-sent mutation for the
// same entry and field so stale intermediate states are never replayed.
func (s *Store) Enqueue(ctx context.Context, m QueuedMutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin enqueue transaction: %w", err)
	}
	defer tx.Rollback()

	superseded := []any{m.EntryID, StatusPending}
	for _, t := range sameFieldTypes(m) {
		superseded = append(superseded, string(t))
	}

	query := `DELETE FROM mutation_queue WHERE entry_id = ? AND status = ? AND type IN (?`
	for i := 1; i < len(sameFieldTypes(m)); i++ {
		query += ", ?"
	}
	query += ")"

	if _, err := tx.ExecContext(ctx, query, superseded...); err != nil {
		return fmt.Errorf("failed to coalesce queued mutations: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO mutation_queue (id, type, entry_id, desired, queued_at, retry_count, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, string(m.Type), m.EntryID, m.Desired, m.QueuedAt, m.RetryCount, m.Status)
	if err != nil {
		return fmt.Errorf("failed to enqueue mutation: %w", err)
	}

	return tx.Commit()
}

func sameFieldTypes(m QueuedMutation) []MutationType {
	if m.field() == "read" {
		return []MutationType{MutationMarkRead}
	}
	return []MutationType{MutationStar, MutationUnstar}
}

// NextPending returns pending mutations in enqueue order.
func (s *Store) NextPending(ctx context.Context, limit int) ([]QueuedMutation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, entry_id, desired, queued_at, retry_count, status
		 FROM mutation_queue WHERE status = ? ORDER BY id LIMIT ?`,
		StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending mutations: %w", err)
	}
	defer rows.Close()

	var mutations []QueuedMutation
	for rows.Next() {
		var m QueuedMutation
		var mutationType string
		if err := rows.Scan(&m.ID, &mutationType, &m.EntryID, &m.Desired, &m.QueuedAt, &m.RetryCount, &m.Status); err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		m.Type = MutationType(mutationType)
		mutations = append(mutations, m)
	}

	return mutations, rows.Err()
}

func (s *Store) MarkSending(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, StatusSending)
}

func (s *Store) MarkFailed(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, StatusFailed)
}

// Requeue returns a mutation to the pending state after a retryable send
// failure, recording the attempt.
func (s *Store) Requeue(ctx context.Context, id string, retryCount int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE mutation_queue SET status = ?, retry_count = ? WHERE id = ?`,
		StatusPending, retryCount, id)
	if err != nil {
		return fmt.Errorf("failed to requeue mutation: %w", err)
	}
	return nil
}

// Delete removes a confirmed mutation.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mutation_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete mutation: %w", err)
	}
	return nil
}

// Discard removes a failed mutation the user chose not to retry.
func (s *Store) Discard(ctx context.Context, id string) error {
	return s.Delete(ctx, id)
}

// PendingFields reports which of the entry's fields still have an unsent
// mutation queued.
func (s *Store) PendingFields(ctx context.Context, entryID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type FROM mutation_queue WHERE entry_id = ? AND status IN (?, ?)`,
		entryID, StatusPending, StatusSending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending fields: %w", err)
	}
	defer rows.Close()

	fields := make(map[string]bool)
	for rows.Next() {
		var mutationType string
		if err := rows.Scan(&mutationType); err != nil {
			return nil, fmt.Errorf("failed to scan mutation type: %w", err)
		}
		fields[fieldFor(MutationType(mutationType))] = true
	}

	return fields, rows.Err()
}

func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mutation_queue WHERE status IN (?, ?)`,
		StatusPending, StatusSending).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending mutations: %w", err)
	}
	return count, nil
}

// Failed lists mutations that exhausted their retries, oldest first.
func (s *Store) Failed(ctx context.Context) ([]QueuedMutation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, entry_id, desired, queued_at, retry_count, status
		 FROM mutation_queue WHERE status = ? ORDER BY id`,
		StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed mutations: %w", err)
	}
	defer rows.Close()

	var mutations []QueuedMutation
	for rows.Next() {
		var m QueuedMutation
		var mutationType string
		if err := rows.Scan(&m.ID, &mutationType, &m.EntryID, &m.Desired, &m.QueuedAt, &m.RetryCount, &m.Status); err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		m.Type = MutationType(mutationType)
		mutations = append(mutations, m)
	}

	return mutations, rows.Err()
}

func (s *Store) setStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE mutation_queue SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update mutation status: %w", err)
	}
	return nil
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

var _ EntryStateRepository = (*EntryStateRepo)(nil)

type EntryStateRepo struct {
	db *DB
}

func NewEntryStateRepository(db *DB) *EntryStateRepo {
	return &EntryStateRepo{db: db}
}

func (r *EntryStateRepo) SetRead(ctx context.Context, userID, entryID string, read bool) (*EntryState, error) {
	return r.set(ctx, userID, entryID, "read", read)
}

func (r *EntryStateRepo) SetStarred(ctx context.Context, userID, entryID string, starred bool) (*EntryState, error) {
	return r.set(ctx, userID, entryID, "starred", starred)
}

func (r *EntryStateRepo) Get(ctx context.Context, userID, entryID string) (*EntryState, error) {
	var s EntryState

	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, entry_id, read, starred, updated_at
		FROM entry_states WHERE user_id = ? AND entry_id = ?
	`, userID, entryID).Scan(&s.UserID, &s.EntryID, &s.Read, &s.Starred, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return &EntryState{UserID: userID, EntryID: entryID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry state: %w", err)
	}

	return &s, nil
}

// set upserts one field with last-writer-wins semantics. The column name is
// fixed by the callers, never caller-provided input.
func (r *EntryStateRepo) set(ctx context.Context, userID, entryID, column string, value bool) (*EntryState, error) {
	query := fmt.Sprintf(`
		INSERT INTO entry_states (user_id, entry_id, %s, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, entry_id) DO UPDATE SET %s = excluded.%s, updated_at = excluded.updated_at
	`, column, column, column)

	_, err := r.db.ExecContext(ctx, query, userID, entryID, value, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to set entry %s state: %w", column, err)
	}

	return r.Get(ctx, userID, entryID)
}

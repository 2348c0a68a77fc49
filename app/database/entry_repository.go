package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ EntryRepository = (*EntryRepo)(nil)

type EntryRepo struct {
	db *DB
}

func NewEntryRepository(db *DB) *EntryRepo {
	return &EntryRepo{db: db}
}

const entryColumns = `id, source_id, guid, link, title, description, content,
	content_hash, extracted, published_at, updated_at, created_at`

func (r *EntryRepo) UpsertBatch(ctx context.Context, sourceID string, inputs []EntryInput) (*UpsertResult, error) {
	result := &UpsertResult{}
	if len(inputs) == 0 {
		return result, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(inputs))

	for _, input := range inputs {
		if input.GUID == "" {
			continue
		}
		// A feed document may repeat a guid; only the first occurrence counts.
		if _, ok := seen[input.GUID]; ok {
			continue
		}
		seen[input.GUID] = struct{}{}

		var existingID, existingHash string
		err := tx.QueryRowContext(ctx,
			`SELECT id, content_hash FROM entries WHERE source_id = ? AND guid = ?`,
			sourceID, input.GUID).Scan(&existingID, &existingHash)

		switch {
		case err == sql.ErrNoRows:
			id := uuid.NewString()
			_, err = tx.ExecContext(ctx, `
				INSERT INTO entries (id, source_id, guid, link, title, description, content, content_hash, published_at, updated_at, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, id, sourceID, input.GUID, input.Link, input.Title, input.Description,
				input.Content, input.ContentHash, nullableTime(input.PublishedAt), now, now)
			if err != nil {
				return nil, fmt.Errorf("failed to insert entry: %w", err)
			}
			result.Inserted = append(result.Inserted, entryFromInput(id, sourceID, input, now))

		case err != nil:
			return nil, fmt.Errorf("failed to check for duplicate entry: %w", err)

		case existingHash != input.ContentHash:
			_, err = tx.ExecContext(ctx, `
				UPDATE entries
				SET link = ?, title = ?, description = ?, content_hash = ?, published_at = ?, updated_at = ?
				WHERE id = ?
			`, input.Link, input.Title, input.Description, input.ContentHash,
				nullableTime(input.PublishedAt), now, existingID)
			if err != nil {
				return nil, fmt.Errorf("failed to update entry: %w", err)
			}
			result.Updated = append(result.Updated, entryFromInput(existingID, sourceID, input, now))

			// Identical hash: duplicate delivery of an unchanged item, skip.
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit entry batch: %w", err)
	}

	return result, nil
}

func (r *EntryRepo) Get(ctx context.Context, id string) (*Entry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	return scanEntry(row)
}

func (r *EntryRepo) UpdateContent(ctx context.Context, id, content string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE entries SET content = ?, extracted = 1, updated_at = ? WHERE id = ?
	`, content, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update entry content: %w", err)
	}

	return nil
}

func (r *EntryRepo) ListForExtraction(ctx context.Context, sourceID string, limit int) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE source_id = ? AND extracted = 0 AND link != ''
		ORDER BY created_at DESC
		LIMIT ?
	`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries for extraction: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

func (r *EntryRepo) ListSince(ctx context.Context, userID string, since time.Time, limit int) ([]EntryWithState, error) {
	// Covers the user's active subscriptions plus their private
	// saved-article source, which has no subscription row.
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.source_id, e.guid, e.link, e.title, e.description, e.content,
		       e.content_hash, e.extracted, e.published_at, e.updated_at, e.created_at,
		       COALESCE(st.read, 0), COALESCE(st.starred, 0)
		FROM entries e
		JOIN sources src ON src.id = e.source_id
		LEFT JOIN subscriptions s ON s.source_id = e.source_id
		  AND s.user_id = ? AND s.unsubscribed_at IS NULL
		LEFT JOIN entry_states st ON st.entry_id = e.id AND st.user_id = ?
		WHERE e.updated_at > ?
		  AND (s.id IS NOT NULL OR (src.kind = ? AND src.url = ?))
		ORDER BY e.updated_at
		LIMIT ?
	`, userID, userID, since, SourceKindSaved, savedSourceURL(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries since: %w", err)
	}
	defer rows.Close()

	var result []EntryWithState
	for rows.Next() {
		var e EntryWithState
		var published sql.NullTime

		err := rows.Scan(
			&e.ID, &e.SourceID, &e.GUID, &e.Link, &e.Title, &e.Description, &e.Content,
			&e.ContentHash, &e.Extracted, &published, &e.UpdatedAt, &e.CreatedAt,
			&e.Read, &e.Starred,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}
		if published.Valid {
			e.PublishedAt = &published.Time
		}

		result = append(result, e)
	}

	return result, rows.Err()
}

func entryFromInput(id, sourceID string, input EntryInput, now time.Time) Entry {
	return Entry{
		ID:          id,
		SourceID:    sourceID,
		GUID:        input.GUID,
		Link:        input.Link,
		Title:       input.Title,
		Description: input.Description,
		Content:     input.Content,
		ContentHash: input.ContentHash,
		PublishedAt: input.PublishedAt,
		UpdatedAt:   now,
	}
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var published sql.NullTime

	err := row.Scan(
		&e.ID, &e.SourceID, &e.GUID, &e.Link, &e.Title, &e.Description, &e.Content,
		&e.ContentHash, &e.Extracted, &published, &e.UpdatedAt, &e.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entry row: %w", err)
	}

	if published.Valid {
		e.PublishedAt = &published.Time
	}

	return &e, nil
}

func collectEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	return entries, rows.Err()
}

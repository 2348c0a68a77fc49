package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ SourceRepository = (*SourceRepo)(nil)

type SourceRepo struct {
	db *DB
}

func NewSourceRepository(db *DB) *SourceRepo {
	return &SourceRepo{db: db}
}

const sourceColumns = `id, kind, url, title, fetch_interval_hint, backoff_interval,
	consecutive_failures, last_fetched_at, next_fetch_at, etag, last_modified,
	last_error, error_category, extract_content, created_at, updated_at`

func (r *SourceRepo) Get(ctx context.Context, id string) (*Source, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	return scanSource(row)
}

func (r *SourceRepo) ListDue(ctx context.Context, limit int) ([]Source, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sourceColumns+`
		FROM sources
		WHERE kind = ?
		  AND (next_fetch_at IS NULL OR next_fetch_at <= ?)
		ORDER BY COALESCE(next_fetch_at, '1970-01-01')
		LIMIT ?
	`, SourceKindFeed, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *source)
	}

	return sources, rows.Err()
}

func (r *SourceRepo) CreateOrRevive(ctx context.Context, url, title string, hint time.Duration, extractContent bool) (*Source, bool, error) {
	existing, err := r.getByURL(ctx, url)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sources (id, kind, url, title, fetch_interval_hint, extract_content, next_fetch_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, SourceKindFeed, url, title, int64(hint.Seconds()), extractContent, now, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create source: %w", err)
	}

	source, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}

	return source, true, nil
}

func (r *SourceRepo) SavedSourceForUser(ctx context.Context, userID string) (*Source, error) {
	url := savedSourceURL(userID)

	existing, err := r.getByURL(ctx, url)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sources (id, kind, url, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, SourceKindSaved, url, "Saved articles", now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create saved source: %w", err)
	}

	return r.Get(ctx, id)
}

func (r *SourceRepo) RecordSuccess(ctx context.Context, id, etag, lastModified string, interval time.Duration, fetchedAt time.Time) error {
	next := fetchedAt.Add(interval)

	_, err := r.db.ExecContext(ctx, `
		UPDATE sources
		SET etag = ?, last_modified = ?, backoff_interval = 0, consecutive_failures = 0,
		    last_error = '', error_category = '',
		    last_fetched_at = ?, next_fetch_at = ?, updated_at = ?
		WHERE id = ?
	`, etag, lastModified, fetchedAt, next, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record fetch success: %w", err)
	}

	return nil
}

func (r *SourceRepo) RecordNotModified(ctx context.Context, id string, fetchedAt time.Time, next time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sources
		SET backoff_interval = 0, consecutive_failures = 0,
		    last_error = '', error_category = '',
		    last_fetched_at = ?, next_fetch_at = ?, updated_at = ?
		WHERE id = ?
	`, fetchedAt, next, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record not-modified fetch: %w", err)
	}

	return nil
}

func (r *SourceRepo) RecordFailure(ctx context.Context, id, category, message string, interval time.Duration, failures int, next time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sources
		SET backoff_interval = ?, consecutive_failures = ?,
		    last_error = ?, error_category = ?,
		    next_fetch_at = ?, updated_at = ?
		WHERE id = ?
	`, int64(interval.Seconds()), failures, message, category, next, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record fetch failure: %w", err)
	}

	return nil
}

func (r *SourceRepo) getByURL(ctx context.Context, url string) (*Source, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE url = ?`, url)

	source, err := scanSource(row)
	if err != nil {
		return nil, err
	}

	return source, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*Source, error) {
	var s Source
	var hintSec, backoffSec int64
	var lastFetched, nextFetch sql.NullTime

	err := row.Scan(
		&s.ID, &s.Kind, &s.URL, &s.Title, &hintSec, &backoffSec,
		&s.ConsecutiveFailures, &lastFetched, &nextFetch, &s.ETag, &s.LastModified,
		&s.LastError, &s.ErrorCategory, &s.ExtractContent, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan source row: %w", err)
	}

	s.FetchIntervalHint = time.Duration(hintSec) * time.Second
	s.BackoffInterval = time.Duration(backoffSec) * time.Second
	if lastFetched.Valid {
		s.LastFetchedAt = &lastFetched.Time
	}
	if nextFetch.Valid {
		s.NextFetchAt = &nextFetch.Time
	}

	return &s, nil
}

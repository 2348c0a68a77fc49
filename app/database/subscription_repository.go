package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var _ SubscriptionRepository = (*SubscriptionRepo)(nil)

type SubscriptionRepo struct {
	db *DB
}

func NewSubscriptionRepository(db *DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

func (r *SubscriptionRepo) Create(ctx context.Context, userID, sourceID string, tags []string, customTitle string) (*Subscription, bool, error) {
	now := time.Now().UTC()

	var id string
	var revived bool
	var unsubscribed sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, unsubscribed_at FROM subscriptions WHERE user_id = ? AND source_id = ?`,
		userID, sourceID).Scan(&id, &unsubscribed)

	switch {
	case err == sql.ErrNoRows:
		id = uuid.NewString()
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO subscriptions (id, user_id, source_id, tags, custom_title, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, id, userID, sourceID, encodeTags(tags), customTitle, now, now)
		if err != nil {
			return nil, false, fmt.Errorf("failed to create subscription: %w", err)
		}

	case err != nil:
		return nil, false, fmt.Errorf("failed to check existing subscription: %w", err)

	default:
		// Revive a soft-deleted subscription; read history and the row
		// identity survive re-subscription.
		revived = unsubscribed.Valid
		_, err = r.db.ExecContext(ctx, `
			UPDATE subscriptions
			SET unsubscribed_at = NULL, tags = ?, custom_title = ?, updated_at = ?
			WHERE id = ?
		`, encodeTags(tags), customTitle, now, id)
		if err != nil {
			return nil, false, fmt.Errorf("failed to revive subscription: %w", err)
		}
	}

	sub, err := r.get(ctx, id)
	if err != nil {
		return nil, false, err
	}

	return sub, revived, nil
}

func (r *SubscriptionRepo) Unsubscribe(ctx context.Context, id string) error {
	now := time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions SET unsubscribed_at = ?, updated_at = ? WHERE id = ? AND unsubscribed_at IS NULL
	`, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("subscription %s not found or already unsubscribed", id)
	}

	return nil
}

func (r *SubscriptionRepo) ActiveSourceIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT source_id FROM subscriptions WHERE user_id = ? AND unsubscribed_at IS NULL
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sources: %w", err)
	}
	defer rows.Close()

	return collectStrings(rows)
}

func (r *SubscriptionRepo) UserIDsForSource(ctx context.Context, sourceID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM subscriptions WHERE source_id = ? AND unsubscribed_at IS NULL
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribed users: %w", err)
	}
	defer rows.Close()

	return collectStrings(rows)
}

func (r *SubscriptionRepo) get(ctx context.Context, id string) (*Subscription, error) {
	var s Subscription
	var tags string
	var unsubscribed sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, source_id, tags, custom_title, unsubscribed_at, created_at, updated_at
		FROM subscriptions WHERE id = ?
	`, id).Scan(&s.ID, &s.UserID, &s.SourceID, &tags, &s.CustomTitle, &unsubscribed, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	s.Tags = decodeTags(tags)
	if unsubscribed.Valid {
		s.UnsubscribedAt = &unsubscribed.Time
	}

	return &s, nil
}

func encodeTags(tags []string) string {
	return strings.Join(tags, ",")
}

func decodeTags(tags string) []string {
	if tags == "" {
		return nil
	}
	return strings.Split(tags, ",")
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		values = append(values, v)
	}

	return values, rows.Err()
}

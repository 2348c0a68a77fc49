package database

import (
	"context"
	"time"
)

type SourceRepository interface {
	Get(ctx context.Context, id string) (*Source, error)

	// ListDue returns enabled feed sources whose next fetch time has
	// passed, oldest first, bounded by limit.
	ListDue(ctx context.Context, limit int) ([]Source, error)

	// CreateOrRevive registers a feed source for url, returning the
	// existing row when one is already known.
	CreateOrRevive(ctx context.Context, url, title string, hint time.Duration, extractContent bool) (*Source, bool, error)

	// SavedSourceForUser returns the user's saved-article source,
	// creating it on first use.
	SavedSourceForUser(ctx context.Context, userID string) (*Source, error)

	RecordSuccess(ctx context.Context, id, etag, lastModified string, interval time.Duration, fetchedAt time.Time) error
	RecordNotModified(ctx context.Context, id string, fetchedAt time.Time, next time.Time) error
	RecordFailure(ctx context.Context, id, category, message string, interval time.Duration, failures int, next time.Time) error
}

type EntryRepository interface {
	// UpsertBatch deduplicates by (source_id, guid) and applies the batch
	// in one transaction: unknown keys insert, changed content hashes
	// update, identical hashes are skipped.
	UpsertBatch(ctx context.Context, sourceID string, inputs []EntryInput) (*UpsertResult, error)

	Get(ctx context.Context, id string) (*Entry, error)
	UpdateContent(ctx context.Context, id, content string) error
	ListForExtraction(ctx context.Context, sourceID string, limit int) ([]Entry, error)

	// ListSince is the reconciliation pull: entries from the user's
	// active subscriptions changed since the given time, with the user's
	// read/star state attached.
	ListSince(ctx context.Context, userID string, since time.Time, limit int) ([]EntryWithState, error)
}

type SubscriptionRepository interface {
	// Create subscribes the user to the source, reviving a soft-deleted
	// subscription when one exists.
	Create(ctx context.Context, userID, sourceID string, tags []string, customTitle string) (*Subscription, bool, error)

	Unsubscribe(ctx context.Context, id string) error
	ActiveSourceIDs(ctx context.Context, userID string) ([]string, error)
	UserIDsForSource(ctx context.Context, sourceID string) ([]string, error)
}

type EntryStateRepository interface {
	// SetRead and SetStarred upsert with last-writer-wins semantics and
	// return the resulting authoritative state.
	SetRead(ctx context.Context, userID, entryID string, read bool) (*EntryState, error)
	SetStarred(ctx context.Context, userID, entryID string, starred bool) (*EntryState, error)
	Get(ctx context.Context, userID, entryID string) (*EntryState, error)
}

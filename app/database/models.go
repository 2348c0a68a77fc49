package database

import (
	"time"
)

const (
	SourceKindFeed  = "feed"
	SourceKindSaved = "saved"
)

// savedSourceURL names a user's private saved-article source. Saved
// sources are never polled and have no subscription rows.
func savedSourceURL(userID string) string {
	return "saved://" + userID
}

// Source is a feed, newsletter, or saved-article origin. The backoff
// columns are mutated only by fetch outcomes.
type Source struct {
	ID                  string
	Kind                string
	URL                 string
	Title               string
	FetchIntervalHint   time.Duration
	BackoffInterval     time.Duration
	ConsecutiveFailures int
	LastFetchedAt       *time.Time
	NextFetchAt         *time.Time
	ETag                string
	LastModified        string
	LastError           string
	ErrorCategory       string
	ExtractContent      bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Entry is one ingested item attributed to exactly one source,
// deduplicated by the source-scoped natural key (guid, falling back to
// link at parse time).
type Entry struct {
	ID          string
	SourceID    string
	GUID        string
	Link        string
	Title       string
	Description string
	Content     string
	ContentHash string
	Extracted   bool
	PublishedAt *time.Time
	UpdatedAt   time.Time
	CreatedAt   time.Time
}

// EntryInput is the write shape for entry upserts.
type EntryInput struct {
	GUID        string
	Link        string
	Title       string
	Description string
	Content     string
	ContentHash string
	PublishedAt *time.Time
}

// UpsertResult splits an upsert batch into what actually changed; only
// these trigger events.
type UpsertResult struct {
	Inserted []Entry
	Updated  []Entry
}

// Subscription ties a user to a source. Unsubscribing soft-deletes so read
// history and tags survive re-subscription.
type Subscription struct {
	ID             string
	UserID         string
	SourceID       string
	Tags           []string
	CustomTitle    string
	UnsubscribedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EntryState is per-user read/star state for one entry.
type EntryState struct {
	UserID    string
	EntryID   string
	Read      bool
	Starred   bool
	UpdatedAt time.Time
}

// EntryWithState is the reconciliation-pull row shape.
type EntryWithState struct {
	Entry
	Read    bool
	Starred bool
}

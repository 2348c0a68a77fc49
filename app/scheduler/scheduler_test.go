package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/rsmw/feedloop/app/database"
	"github.com/rsmw/feedloop/app/events"
	"github.com/rsmw/feedloop/app/feed"
	"github.com/rsmw/feedloop/app/pool"
)

const schedulerTestFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Test Feed</title>
<link>https://example.com</link>
<item>
<title>First Article</title>
<link>https://example.com/1</link>
<guid>guid-1</guid>
<description>First description</description>
</item>
<item>
<title>Second Article</title>
<link>https://example.com/2</link>
<guid>guid-2</guid>
<description>Second description</description>
</item>
</channel>
</rss>`

type fakeSources struct {
	mu sync.Mutex

	successes   []string
	notModified []string
	failures    []recordedFailure
}

type recordedFailure struct {
	id       string
	category string
	message  string
	interval time.Duration
	failures int
}

func (f *fakeSources) Get(ctx context.Context, id string) (*database.Source, error) { return nil, nil }

func (f *fakeSources) ListDue(ctx context.Context, limit int) ([]database.Source, error) {
	return nil, nil
}

func (f *fakeSources) CreateOrRevive(ctx context.Context, url, title string, hint time.Duration, extractContent bool) (*database.Source, bool, error) {
	return nil, false, nil
}

func (f *fakeSources) SavedSourceForUser(ctx context.Context, userID string) (*database.Source, error) {
	return nil, nil
}

func (f *fakeSources) RecordSuccess(ctx context.Context, id, etag, lastModified string, interval time.Duration, fetchedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes = append(f.successes, id)
	return nil
}

func (f *fakeSources) RecordNotModified(ctx context.Context, id string, fetchedAt, next time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notModified = append(f.notModified, id)
	return nil
}

func (f *fakeSources) RecordFailure(ctx context.Context, id, category, message string, interval time.Duration, failures int, next time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, recordedFailure{id, category, message, interval, failures})
	return nil
}

type fakeEntries struct {
	mu       sync.Mutex
	upserted [][]database.EntryInput
	result   *database.UpsertResult
}

func (f *fakeEntries) UpsertBatch(ctx context.Context, sourceID string, inputs []database.EntryInput) (*database.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, inputs)
	if f.result != nil {
		return f.result, nil
	}
	return &database.UpsertResult{}, nil
}

func (f *fakeEntries) Get(ctx context.Context, id string) (*database.Entry, error) { return nil, nil }

func (f *fakeEntries) UpdateContent(ctx context.Context, id, content string) error { return nil }

func (f *fakeEntries) ListForExtraction(ctx context.Context, sourceID string, limit int) ([]database.Entry, error) {
	return nil, nil
}

func (f *fakeEntries) ListSince(ctx context.Context, userID string, since time.Time, limit int) ([]database.EntryWithState, error) {
	return nil, nil
}

type fakeSubs struct {
	userIDs []string
}

func (f *fakeSubs) Create(ctx context.Context, userID, sourceID string, tags []string, customTitle string) (*database.Subscription, bool, error) {
	return nil, false, nil
}

func (f *fakeSubs) Unsubscribe(ctx context.Context, id string) error { return nil }

func (f *fakeSubs) ActiveSourceIDs(ctx context.Context, userID string) ([]string, error) {
	return nil, nil
}

func (f *fakeSubs) UserIDsForSource(ctx context.Context, sourceID string) ([]string, error) {
	return f.userIDs, nil
}

type recordedEvent struct {
	channel string
	event   events.Event
}

type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (s *recordingSink) Publish(ctx context.Context, channel string, event events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{channel, event})
}

func (s *recordingSink) all() []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedEvent(nil), s.events...)
}

func newTestScheduler(t *testing.T, sources *fakeSources, entries *fakeEntries, subs *fakeSubs, sink *recordingSink) *Scheduler {
	t.Helper()

	p := pool.New(pool.Executors(feed.NewParser(), feed.NewContentExtractor()), 1)
	t.Cleanup(p.Shutdown)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return &Scheduler{
		sources:          sources,
		entries:          entries,
		subs:             subs,
		fetcher:          NewFetcher(http.DefaultClient, "feedloop-test/1.0"),
		pool:             p,
		sink:             sink,
		backoff:          Backoff{Base: 5 * time.Second, Multiplier: 2, Ceiling: 60 * time.Second},
		interval:         time.Hour,
		fetchTimeout:     5 * time.Second,
		failureThreshold: 10,
		limiter:          rate.NewLimiter(rate.Inf, 1),
		slots:            make(chan struct{}, 3),
		ctx:              ctx,
		cancel:           cancel,
	}
}

func TestProcessSourcePublishesAfterCommit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(schedulerTestFeed))
	}))
	defer server.Close()

	sources := &fakeSources{}
	entries := &fakeEntries{result: &database.UpsertResult{
		Inserted: []database.Entry{{ID: "entry-1", SourceID: "src-1"}},
	}}
	subs := &fakeSubs{userIDs: []string{"user-a", "user-b"}}
	sink := &recordingSink{}

	s := newTestScheduler(t, sources, entries, subs, sink)
	s.processSource(&database.Source{ID: "src-1", URL: server.URL})

	if len(sources.successes) != 1 {
		t.Fatalf("Expected one success record, got %d", len(sources.successes))
	}
	if len(entries.upserted) != 1 || len(entries.upserted[0]) != 2 {
		t.Fatalf("Expected one upsert of two entries, got %+v", entries.upserted)
	}

	// One source-channel publish plus one per subscriber.
	published := sink.all()
	if len(published) != 3 {
		t.Fatalf("Expected 3 published events, got %d", len(published))
	}
	if published[0].channel != events.SourceChannel("src-1") {
		t.Errorf("Expected the source channel first, got %s", published[0].channel)
	}
	for _, p := range published {
		if p.event.Type != events.TypeNewEntry {
			t.Errorf("Expected new_entry, got %s", p.event.Type)
		}
		if p.event.EntityID != "entry-1" {
			t.Errorf("Expected entity entry-1, got %s", p.event.EntityID)
		}
	}
}

func TestProcessSourceSkipsPublishWhenNothingChanged(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(schedulerTestFeed))
	}))
	defer server.Close()

	sink := &recordingSink{}
	s := newTestScheduler(t, &fakeSources{}, &fakeEntries{}, &fakeSubs{userIDs: []string{"user-a"}}, sink)
	s.processSource(&database.Source{ID: "src-1", URL: server.URL})

	if got := sink.all(); len(got) != 0 {
		t.Errorf("Expected no events for an unchanged batch, got %d", len(got))
	}
}

func TestProcessSourceHonorsNotModified(t *testing.T) {
	var sentETag string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sentETag = r.Header.Get("If-None-Match")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	sources := &fakeSources{}
	entries := &fakeEntries{}
	s := newTestScheduler(t, sources, entries, &fakeSubs{}, &recordingSink{})
	s.processSource(&database.Source{ID: "src-1", URL: server.URL, ETag: `"abc123"`})

	if sentETag != `"abc123"` {
		t.Errorf("Expected the stored validator to be sent, got %q", sentETag)
	}
	if len(sources.notModified) != 1 {
		t.Fatalf("Expected one not-modified record, got %d", len(sources.notModified))
	}
	if len(entries.upserted) != 0 {
		t.Error("Expected no upsert on a 304 response")
	}
}

func TestProcessSourceRecordsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sources := &fakeSources{}
	s := newTestScheduler(t, sources, &fakeEntries{}, &fakeSubs{}, &recordingSink{})
	s.processSource(&database.Source{ID: "src-1", URL: server.URL, BackoffInterval: 20 * time.Second, ConsecutiveFailures: 2})

	if len(sources.failures) != 1 {
		t.Fatalf("Expected one failure record, got %d", len(sources.failures))
	}
	failure := sources.failures[0]
	if failure.category != CategoryHTTP {
		t.Errorf("Expected http category, got %s", failure.category)
	}
	if failure.interval != 40*time.Second {
		t.Errorf("Expected backoff to double to 40s, got %v", failure.interval)
	}
	if failure.failures != 3 {
		t.Errorf("Expected failure count 3, got %d", failure.failures)
	}
}

func TestProcessSourceHonorsRetryDirective(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	sources := &fakeSources{}
	s := newTestScheduler(t, sources, &fakeEntries{}, &fakeSubs{}, &recordingSink{})
	s.processSource(&database.Source{ID: "src-1", URL: server.URL, BackoffInterval: 20 * time.Second})

	if len(sources.failures) != 1 {
		t.Fatalf("Expected one failure record, got %d", len(sources.failures))
	}
	failure := sources.failures[0]
	if failure.interval != 120*time.Second {
		t.Errorf("Expected the retry directive to beat the computed 40s, got %v", failure.interval)
	}
	if failure.message != "Source is rate limiting requests" {
		t.Errorf("Unexpected message: %s", failure.message)
	}
}

func TestProcessSourcePinsPersistentFailuresToCeiling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	sources := &fakeSources{}
	s := newTestScheduler(t, sources, &fakeEntries{}, &fakeSubs{}, &recordingSink{})
	s.failureThreshold = 5
	s.processSource(&database.Source{ID: "src-1", URL: server.URL, BackoffInterval: 10 * time.Second, ConsecutiveFailures: 9})

	failure := sources.failures[0]
	if failure.interval != 60*time.Second {
		t.Errorf("Expected the ceiling for a source past the threshold, got %v", failure.interval)
	}
}

func TestProcessSourceRecordsUnparseableDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not a feed"))
	}))
	defer server.Close()

	sources := &fakeSources{}
	s := newTestScheduler(t, sources, &fakeEntries{}, &fakeSubs{}, &recordingSink{})
	s.processSource(&database.Source{ID: "src-1", URL: server.URL})

	if len(sources.failures) != 1 {
		t.Fatalf("Expected one failure record, got %d", len(sources.failures))
	}
	if sources.failures[0].category != CategoryDocument {
		t.Errorf("Expected document category, got %s", sources.failures[0].category)
	}
	if len(sources.successes) != 0 {
		t.Error("An unparseable document must not count as a success")
	}
}

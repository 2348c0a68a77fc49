package scheduler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rsmw/feedloop/app/cfg"
	"github.com/rsmw/feedloop/app/database"
	"github.com/rsmw/feedloop/app/events"
	"github.com/rsmw/feedloop/app/pool"
)

const (
	dueSourcesPerTick  = 50
	extractionsPerTick = 5
)

// Scheduler polls due sources on a fixed interval. Its fetch-concurrency
// ceiling is the system's primary backpressure control: it bounds outbound
// fetches and, transitively, the worker pool's intake.
type Scheduler struct {
	sources database.SourceRepository
	entries database.EntryRepository
	subs    database.SubscriptionRepository
	fetcher *Fetcher
	pool    *pool.Pool
	sink    events.Sink

	backoff          Backoff
	interval         time.Duration
	fetchTimeout     time.Duration
	failureThreshold int
	limiter          *rate.Limiter
	slots            chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(sources database.SourceRepository, entries database.EntryRepository,
	subs database.SubscriptionRepository, httpClient *http.Client, workPool *pool.Pool,
	sink events.Sink) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	c := cfg.Get()

	return &Scheduler{
		sources: sources,
		entries: entries,
		subs:    subs,
		fetcher: NewFetcher(httpClient, c.UserAgent),
		pool:    workPool,
		sink:    sink,
		backoff: Backoff{
			Base:       time.Duration(c.BackoffBase) * time.Second,
			Multiplier: c.BackoffMultiplier,
			Ceiling:    time.Duration(c.BackoffCeiling) * time.Second,
		},
		interval:         time.Duration(c.SchedulerInterval) * time.Second,
		fetchTimeout:     time.Duration(c.FetchTimeout) * time.Second,
		failureThreshold: c.FailureThreshold,
		limiter:          rate.NewLimiter(rate.Limit(c.FetchRateLimit), 1),
		slots:            make(chan struct{}, c.FetchConcurrency),
		ctx:              ctx,
		cancel:           cancel,
	}
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.tick()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()

	slog.Info("Scheduler started", "interval", s.interval, "fetch_concurrency", cap(s.slots))
}

// Stop cancels in-flight work and waits for it to unwind. An aborted fetch
// records nothing, so backoff state and last-fetch times stay consistent.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	slog.Info("Scheduler stopped")
}

func (s *Scheduler) tick() {
	due, err := s.sources.ListDue(s.ctx, dueSourcesPerTick)
	if err != nil {
		slog.Error("Failed to list due sources", "error", err)
		return
	}

	if len(due) == 0 {
		slog.Debug("No sources due for refresh")
		return
	}

	slog.Debug("Processing due sources", "count", len(due))

	for i := range due {
		source := due[i]

		// The concurrency ceiling bounds in-flight fetches; sources that
		// miss a slot wait for the next tick rather than piling up.
		select {
		case s.slots <- struct{}{}:
		default:
			slog.Debug("Fetch slots exhausted, deferring remaining sources", "deferred", len(due)-i)
			return
		case <-s.ctx.Done():
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.slots }()
			s.processSource(&source)
		}()
	}
}

func (s *Scheduler) processSource(source *database.Source) {
	started := time.Now()

	if err := s.limiter.Wait(s.ctx); err != nil {
		return
	}

	fetchCtx, cancel := context.WithTimeout(s.ctx, s.fetchTimeout)
	defer cancel()

	result, ferr := s.fetcher.Run(fetchCtx, source)

	// A fetch aborted by shutdown is abandoned cleanly: no state advances.
	if s.ctx.Err() != nil {
		return
	}

	if ferr != nil {
		s.recordFailure(source, ferr)
		return
	}

	now := time.Now().UTC()

	if result.NotModified {
		interval := s.backoff.AfterSuccess(source.FetchIntervalHint, result.MaxAge)
		if err := s.sources.RecordNotModified(s.ctx, source.ID, now, now.Add(interval)); err != nil {
			slog.Error("Failed to record not-modified fetch", "source", source.URL, "error", err)
		}
		slog.Debug("Source not modified", "source", source.URL, "next_in", interval)
		return
	}

	parsed, err := s.pool.Submit(s.ctx, pool.WorkItem{
		Kind:    pool.KindParseFeed,
		Payload: result.Body,
		Options: pool.Options{SourceURL: source.URL},
	})
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.recordFailure(source, ClassifyDocument(err))
		return
	}

	inputs := make([]database.EntryInput, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		inputs = append(inputs, database.EntryInput{
			GUID:        item.GUID,
			Link:        item.Link,
			Title:       item.Title,
			Description: item.Description,
			Content:     item.Content,
			ContentHash: item.ContentHash,
			PublishedAt: publishedAt(item.PublishedAt),
		})
	}

	upserted, err := s.entries.UpsertBatch(s.ctx, source.ID, inputs)
	if err != nil {
		slog.Error("Failed to upsert entries", "source", source.URL, "error", err)
		return
	}

	interval := s.backoff.AfterSuccess(source.FetchIntervalHint, result.MaxAge)
	if err := s.sources.RecordSuccess(s.ctx, source.ID, result.ETag, result.LastModified, interval, now); err != nil {
		slog.Error("Failed to record fetch success", "source", source.URL, "error", err)
		return
	}

	// Publish strictly after commit, so no consumer is told about state it
	// cannot read back.
	s.publishChanges(source, upserted)

	if source.ExtractContent {
		s.extractContent(source)
	}

	slog.Info("Source processed",
		"source", source.URL,
		"duration", time.Since(started),
		"total", len(parsed.Items),
		"new", len(upserted.Inserted),
		"updated", len(upserted.Updated))
}

func (s *Scheduler) recordFailure(source *database.Source, ferr *FetchError) {
	failures := source.ConsecutiveFailures + 1
	interval := s.backoff.AfterFailure(source.BackoffInterval, ferr.RetryAfter)

	// Persistently failing sources drop to the slowest cadence instead of
	// being disabled, so they can recover without intervention.
	if failures >= s.failureThreshold && interval < s.backoff.Ceiling {
		interval = s.backoff.Ceiling
	}

	next := time.Now().UTC().Add(interval)
	if err := s.sources.RecordFailure(s.ctx, source.ID, ferr.Category, ferr.Message, interval, failures, next); err != nil {
		slog.Error("Failed to record fetch failure", "source", source.URL, "error", err)
		return
	}

	slog.Warn("Source fetch failed",
		"source", source.URL,
		"category", ferr.Category,
		"message", ferr.Message,
		"failures", failures,
		"retry_in", interval)
}

func (s *Scheduler) publishChanges(source *database.Source, upserted *database.UpsertResult) {
	if len(upserted.Inserted) == 0 && len(upserted.Updated) == 0 {
		return
	}

	userIDs, err := s.subs.UserIDsForSource(s.ctx, source.ID)
	if err != nil {
		slog.Error("Failed to resolve subscribers for fan-out", "source", source.URL, "error", err)
		userIDs = nil
	}

	for _, entry := range upserted.Inserted {
		s.publishEntry(events.TypeNewEntry, source.ID, entry.ID, userIDs)
	}
	for _, entry := range upserted.Updated {
		s.publishEntry(events.TypeEntryUpdated, source.ID, entry.ID, userIDs)
	}
}

func (s *Scheduler) publishEntry(eventType events.Type, sourceID, entryID string, userIDs []string) {
	event := events.New(eventType, entryID, map[string]string{"source_id": sourceID})

	s.sink.Publish(s.ctx, events.SourceChannel(sourceID), event)
	for _, userID := range userIDs {
		s.sink.Publish(s.ctx, events.UserChannel(userID), event)
	}
}

func (s *Scheduler) extractContent(source *database.Source) {
	candidates, err := s.entries.ListForExtraction(s.ctx, source.ID, extractionsPerTick)
	if err != nil {
		slog.Error("Failed to list entries for extraction", "source", source.URL, "error", err)
		return
	}

	for _, entry := range candidates {
		if s.ctx.Err() != nil {
			return
		}

		if err := s.extractEntry(source, &entry); err != nil {
			// One bad page never takes the others down with it.
			slog.Warn("Content extraction failed", "entry", entry.Link, "error", err)
			continue
		}
	}
}

func (s *Scheduler) extractEntry(source *database.Source, entry *database.Entry) error {
	if err := s.limiter.Wait(s.ctx); err != nil {
		return err
	}

	fetchCtx, cancel := context.WithTimeout(s.ctx, s.fetchTimeout)
	defer cancel()

	page, err := s.fetcher.FetchPage(fetchCtx, entry.Link)
	if err != nil {
		return err
	}

	cleaned, err := s.pool.Submit(s.ctx, pool.WorkItem{
		Kind:    pool.KindCleanContent,
		Payload: page,
		Options: pool.Options{SourceURL: entry.Link},
	})
	if err != nil {
		return err
	}

	if err := s.entries.UpdateContent(s.ctx, entry.ID, cleaned.Content); err != nil {
		return err
	}

	userIDs, err := s.subs.UserIDsForSource(s.ctx, source.ID)
	if err != nil {
		userIDs = nil
	}
	s.publishEntry(events.TypeEntryUpdated, source.ID, entry.ID, userIDs)

	return nil
}

func publishedAt(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

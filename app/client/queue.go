package client

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	drainBatchSize   = 20
	defaultInterval  = 5 * time.Second
	defaultAttempts  = 5
	retryBackoffBase = time.Second
	retryBackoffMax  = time.Minute
)

// LocalState is the optimistic view of one entry's user state. Nil fields
// carry no local opinion; the server's value stands.
type LocalState struct {
	Read    *bool
	Starred *bool
}

// Status reports queue visibility for the UI.
type Status struct {
	Pending int
	Syncing bool
}

// FailureHandler is notified when a mutation exhausts its retries or fails
// terminally. The optimistic state is never rolled back; the user's intent
// stands until they discard it.
type FailureHandler func(m QueuedMutation, err error)

// Queue is the durable client-side mutation queue. Enqueue applies the
// optimistic effect synchronously and persists the mutation; a background
// loop drains the store through the Sender whenever connectivity allows.
type Queue struct {
	store     *Store
	sender    Sender
	onFailure FailureHandler

	mu      sync.Mutex
	overlay map[string]*LocalState

	maxAttempts int
	interval    time.Duration
	retryBase   time.Duration
	retryMax    time.Duration
	syncing     atomic.Bool
	wake        chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueue(store *Store, sender Sender, onFailure FailureHandler) *Queue {
	ctx, cancel := context.WithCancel(context.Background())

	if onFailure == nil {
		onFailure = func(m QueuedMutation, err error) {
			slog.Warn("Mutation failed", "mutation", m.ID, "entry", m.EntryID, "error", err)
		}
	}

	return &Queue{
		store:       store,
		sender:      sender,
		onFailure:   onFailure,
		overlay:     make(map[string]*LocalState),
		maxAttempts: defaultAttempts,
		interval:    defaultInterval,
		retryBase:   retryBackoffBase,
		retryMax:    retryBackoffMax,
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (q *Queue) Start() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		ticker := time.NewTicker(q.interval)
		defer ticker.Stop()

		for {
			select {
			case <-q.ctx.Done():
				return
			case <-q.wake:
			case <-ticker.C:
			}
			q.drain()
		}
	}()
}

func (q *Queue) Close() {
	q.cancel()
	q.wg.Wait()
}

// MarkRead queues a read-state change for the entry.
func (q *Queue) MarkRead(ctx context.Context, entryID string, read bool) (QueuedMutation, error) {
	return q.enqueue(ctx, MutationMarkRead, entryID, read)
}

// Star queues a star-state change for the entry.
func (q *Queue) Star(ctx context.Context, entryID string, starred bool) (QueuedMutation, error) {
	mutationType := MutationStar
	if !starred {
		mutationType = MutationUnstar
	}
	return q.enqueue(ctx, mutationType, entryID, starred)
}

func (q *Queue) enqueue(ctx context.Context, mutationType MutationType, entryID string, desired bool) (QueuedMutation, error) {
	m, err := newMutation(mutationType, entryID, desired)
	if err != nil {
		return QueuedMutation{}, err
	}
	if err := m.validate(); err != nil {
		return QueuedMutation{}, err
	}

	// The optimistic effect lands before any I/O so the UI reflects the
	// action immediately, even offline.
	q.applyOptimistic(m)

	if err := q.store.Enqueue(ctx, m); err != nil {
		return QueuedMutation{}, err
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return m, nil
}

func (q *Queue) applyOptimistic(m QueuedMutation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	state, ok := q.overlay[m.EntryID]
	if !ok {
		state = &LocalState{}
		q.overlay[m.EntryID] = state
	}

	desired := m.Desired
	if m.field() == "read" {
		state.Read = &desired
	} else {
		state.Starred = &desired
	}
}

// EntryState returns the optimistic overlay for an entry, if any local
// opinion exists.
func (q *Queue) EntryState(entryID string) (LocalState, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	state, ok := q.overlay[entryID]
	if !ok {
		return LocalState{}, false
	}
	return *state, true
}

func (q *Queue) Status() Status {
	count, err := q.store.PendingCount(q.ctx)
	if err != nil {
		slog.Warn("Failed to count pending mutations", "error", err)
	}
	return Status{Pending: count, Syncing: q.syncing.Load()}
}

// Sync drains the queue once, synchronously. The background loop calls it
// on every wake; callers may use it to flush before shutdown.
func (q *Queue) Sync(ctx context.Context) {
	q.syncing.Store(true)
	defer q.syncing.Store(false)

	for {
		pending, err := q.store.NextPending(ctx, drainBatchSize)
		if err != nil {
			slog.Error("Failed to read pending mutations", "error", err)
			return
		}
		if len(pending) == 0 {
			return
		}

		for _, m := range pending {
			if ctx.Err() != nil {
				return
			}
			if !q.send(ctx, m) {
				return
			}
		}
	}
}

func (q *Queue) drain() {
	q.Sync(q.ctx)
}

// send transmits one mutation. It returns false when the drain pass should
// stop, either because the connection looks down or we are shutting down.
func (q *Queue) send(ctx context.Context, m QueuedMutation) bool {
	if err := q.store.MarkSending(ctx, m.ID); err != nil {
		slog.Error("Failed to mark mutation as sending", "mutation", m.ID, "error", err)
		return false
	}

	state, err := q.sender.Send(ctx, m)
	if err == nil {
		if err := q.store.Delete(ctx, m.ID); err != nil {
			slog.Error("Failed to remove applied mutation", "mutation", m.ID, "error", err)
		}
		q.reconcile(ctx, state)
		return true
	}

	if IsTerminal(err) {
		if markErr := q.store.MarkFailed(ctx, m.ID); markErr != nil {
			slog.Error("Failed to mark mutation as failed", "mutation", m.ID, "error", markErr)
		}
		q.onFailure(m, err)
		return true
	}

	m.RetryCount++
	if m.RetryCount >= q.maxAttempts {
		if markErr := q.store.MarkFailed(ctx, m.ID); markErr != nil {
			slog.Error("Failed to mark mutation as failed", "mutation", m.ID, "error", markErr)
		}
		q.onFailure(m, err)
		return true
	}

	if requeueErr := q.store.Requeue(ctx, m.ID, m.RetryCount); requeueErr != nil {
		slog.Error("Failed to requeue mutation", "mutation", m.ID, "error", requeueErr)
		return false
	}

	// One retryable failure usually means the connection is down; back off
	// and let a later pass retry the whole queue in order.
	q.sleep(ctx, q.retryBackoff(m.RetryCount))
	return false
}

// reconcile folds the server's answer into the optimistic overlay. A field
// with a later mutation still queued keeps the local opinion; the server's
// value lands for the rest.
func (q *Queue) reconcile(ctx context.Context, state *ServerState) {
	if state == nil {
		return
	}

	pending, err := q.store.PendingFields(ctx, state.EntryID)
	if err != nil {
		slog.Warn("Failed to check pending fields, keeping local overlay", "entry", state.EntryID, "error", err)
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	local, ok := q.overlay[state.EntryID]
	if !ok {
		local = &LocalState{}
		q.overlay[state.EntryID] = local
	}

	if !pending["read"] {
		read := state.Read
		local.Read = &read
	}
	if !pending["starred"] {
		starred := state.Starred
		local.Starred = &starred
	}
}

// Discard drops a terminally failed mutation the user chose to abandon.
func (q *Queue) Discard(ctx context.Context, id string) error {
	return q.store.Discard(ctx, id)
}

// Failed lists mutations awaiting a user decision.
func (q *Queue) Failed(ctx context.Context) ([]QueuedMutation, error) {
	return q.store.Failed(ctx)
}

func (q *Queue) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (q *Queue) retryBackoff(attempt int) time.Duration {
	d := q.retryBase << (attempt - 1)
	if d > q.retryMax {
		d = q.retryMax
	}
	return d
}

package pool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

const idleTimeout = 30 * time.Second

// Pool runs CPU-bound work on long-lived worker goroutines pinned to
// reniced OS threads, so a burst of parsing never starves the serving
// path. Submission never blocks: the pending queue is unbounded and
// backpressure is the scheduler's fetch-concurrency ceiling, not the pool.
//
// If worker isolation cannot be established on the host, the pool degrades
// to inline execution on the caller: same results, no isolation, logged
// once.
type Pool struct {
	executors map[Kind]Executor
	maxSize   int
	inline    bool

	mu      sync.Mutex
	backlog []*request
	live    int
	closed  bool

	idle     atomic.Int32
	work     chan *request
	wake     chan struct{}
	shutdown chan struct{}
	inflight sync.WaitGroup
}

type request struct {
	item  WorkItem
	reply chan response
}

type response struct {
	result *Result
	err    error
}

// New builds a pool with the given executors. size <= 0 derives the worker
// count from available CPU parallelism, keeping one unit free for the
// serving path, with a floor of one worker.
func New(executors map[Kind]Executor, size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0) - 1
	}
	if size < 1 {
		size = 1
	}

	p := &Pool{
		executors: executors,
		maxSize:   size,
		work:      make(chan *request),
		wake:      make(chan struct{}, 1),
		shutdown:  make(chan struct{}),
	}

	if err := probeIsolation(); err != nil {
		// Same contract, no isolation. The caller never sees the
		// difference.
		slog.Warn("Worker isolation unavailable, running work inline", "error", err)
		p.inline = true
		return p
	}

	go p.dispatch()
	slog.Info("Worker pool started", "max_workers", size)

	return p
}

// Submit runs the item and blocks until its result is ready, the context
// is canceled, or the pool shuts down. A panic inside an executor is
// returned as an error to this caller only.
func (p *Pool) Submit(ctx context.Context, item WorkItem) (*Result, error) {
	if err := item.validate(p.executors); err != nil {
		return nil, err
	}

	if p.inline {
		return p.execute(item)
	}

	req := &request{item: item, reply: make(chan response, 1)}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool is shut down")
	}
	p.backlog = append(p.backlog, req)
	p.inflight.Add(1)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}

	select {
	case resp := <-req.reply:
		return resp.result, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown drains pending work and stops the workers. New submissions are
// rejected immediately.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if p.inline {
		return
	}

	p.inflight.Wait()
	close(p.shutdown)
	slog.Info("Worker pool stopped")
}

// dispatch is the single owner of the backlog: it pops pending requests,
// grows the worker set when none are idle, and hands work off.
func (p *Pool) dispatch() {
	for {
		req := p.take()
		if req == nil {
			select {
			case <-p.wake:
				continue
			case <-p.shutdown:
				return
			}
		}

		p.mu.Lock()
		if p.idle.Load() == 0 && p.live < p.maxSize {
			p.live++
			go p.worker()
		}
		p.mu.Unlock()

		select {
		case p.work <- req:
		case <-p.shutdown:
			req.reply <- response{err: fmt.Errorf("pool is shut down")}
			p.inflight.Done()
			return
		}
	}
}

func (p *Pool) worker() {
	lowerThreadPriority()

	for {
		p.idle.Add(1)

		select {
		case req := <-p.work:
			p.idle.Add(-1)

			resp := response{}
			resp.result, resp.err = p.execute(req.item)
			req.reply <- resp
			p.inflight.Done()

		case <-time.After(idleTimeout):
			p.idle.Add(-1)
			// Idle workers are recycled to free memory; the last one
			// stays resident so the floor of one worker holds.
			if p.retire() {
				return
			}

		case <-p.shutdown:
			p.idle.Add(-1)
			return
		}
	}
}

func (p *Pool) take() *request {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.backlog) == 0 {
		return nil
	}

	req := p.backlog[0]
	p.backlog = p.backlog[1:]
	return req
}

func (p *Pool) retire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.live <= 1 {
		return false
	}
	p.live--
	return true
}

func (p *Pool) execute(item WorkItem) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("work panicked: %v", r)
		}
	}()

	return p.executors[item.Kind](item)
}

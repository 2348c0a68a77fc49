package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rsmw/feedloop/app/feed"
)

func echoExecutors() map[Kind]Executor {
	return map[Kind]Executor{
		KindParseFeed: func(item WorkItem) (*Result, error) {
			return &Result{Metadata: &feed.Metadata{Title: string(item.Payload)}}, nil
		},
		KindCleanContent: func(item WorkItem) (*Result, error) {
			return &Result{Content: string(item.Payload)}, nil
		},
	}
}

func TestSubmitReturnsResult(t *testing.T) {
	p := New(echoExecutors(), 2)
	defer p.Shutdown()

	result, err := p.Submit(context.Background(), WorkItem{Kind: KindParseFeed, Payload: []byte("hello")})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Metadata == nil || result.Metadata.Title != "hello" {
		t.Errorf("Expected echoed payload, got: %+v", result)
	}
}

func TestSubmitRejectsUnknownKind(t *testing.T) {
	p := New(echoExecutors(), 1)
	defer p.Shutdown()

	_, err := p.Submit(context.Background(), WorkItem{Kind: Kind("mystery"), Payload: nil})
	if err == nil {
		t.Fatal("Expected an error for an unknown work kind")
	}
}

func TestPanicIsIsolatedToOneCaller(t *testing.T) {
	executors := echoExecutors()
	executors[KindParseFeed] = func(item WorkItem) (*Result, error) {
		if string(item.Payload) == "boom" {
			panic("exploding parser")
		}
		return &Result{Metadata: &feed.Metadata{Title: string(item.Payload)}}, nil
	}

	p := New(executors, 2)
	defer p.Shutdown()
	ctx := context.Background()

	if _, err := p.Submit(ctx, WorkItem{Kind: KindParseFeed, Payload: []byte("boom")}); err == nil {
		t.Fatal("Expected an error from the panicking item")
	}

	// The pool keeps serving other callers after a panic.
	result, err := p.Submit(ctx, WorkItem{Kind: KindParseFeed, Payload: []byte("fine")})
	if err != nil {
		t.Fatalf("Expected no error after a panic, got: %v", err)
	}
	if result.Metadata.Title != "fine" {
		t.Errorf("Expected echoed payload, got: %+v", result)
	}
}

func TestExecutorErrorReachesOnlyItsCaller(t *testing.T) {
	sentinel := errors.New("bad document")
	executors := echoExecutors()
	executors[KindParseFeed] = func(item WorkItem) (*Result, error) {
		if string(item.Payload) == "bad" {
			return nil, sentinel
		}
		return &Result{}, nil
	}

	p := New(executors, 1)
	defer p.Shutdown()

	if _, err := p.Submit(context.Background(), WorkItem{Kind: KindParseFeed, Payload: []byte("bad")}); !errors.Is(err, sentinel) {
		t.Errorf("Expected the executor error, got: %v", err)
	}
	if _, err := p.Submit(context.Background(), WorkItem{Kind: KindParseFeed, Payload: []byte("ok")}); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
}

func TestConcurrentSubmissions(t *testing.T) {
	p := New(echoExecutors(), 4)
	defer p.Shutdown()

	var wg sync.WaitGroup
	errs := make(chan error, 50)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			payload := fmt.Sprintf("item-%d", i)
			result, err := p.Submit(context.Background(), WorkItem{Kind: KindCleanContent, Payload: []byte(payload)})
			if err != nil {
				errs <- err
				return
			}
			if result.Content != payload {
				errs <- fmt.Errorf("payload mismatch: %s != %s", result.Content, payload)
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestInlineFallbackPreservesResults(t *testing.T) {
	// A pool forced inline must be observably identical to an isolated
	// one, apart from where the work runs.
	p := New(echoExecutors(), 2)
	p.inline = true

	result, err := p.Submit(context.Background(), WorkItem{Kind: KindParseFeed, Payload: []byte("inline")})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Metadata.Title != "inline" {
		t.Errorf("Expected echoed payload, got: %+v", result)
	}

	if _, err := p.Submit(context.Background(), WorkItem{Kind: Kind("mystery")}); err == nil {
		t.Error("Inline mode must still reject unknown kinds")
	}
}

func TestSubmitHonorsContextCancellation(t *testing.T) {
	block := make(chan struct{})
	executors := echoExecutors()
	executors[KindParseFeed] = func(item WorkItem) (*Result, error) {
		<-block
		return &Result{}, nil
	}

	p := New(executors, 1)
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Submit(ctx, WorkItem{Kind: KindParseFeed})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got: %v", err)
	}
}

func TestShutdownRejectsNewWork(t *testing.T) {
	p := New(echoExecutors(), 1)
	p.Shutdown()

	if _, err := p.Submit(context.Background(), WorkItem{Kind: KindParseFeed, Payload: []byte("late")}); err == nil {
		t.Error("Expected submissions after shutdown to fail")
	}
}

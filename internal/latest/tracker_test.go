package latest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBeginSupersedesPreviousRequest(t *testing.T) {
	tracker := NewTracker()

	slowCtx, slow := tracker.Begin(context.Background(), "browser-1:shared-notes")
	fastCtx, fast := tracker.Begin(context.Background(), "browser-1:shared-notes")
	defer fast.Done()

	select {
	case <-slowCtx.Done():
	default:
		t.Fatalf("previous request should be cancelled")
	}
	if !errors.Is(context.Cause(slowCtx), ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded cause, got %v", context.Cause(slowCtx))
	}
	if fastCtx.Err() != nil {
		t.Fatalf("newest request should still be running: %v", fastCtx.Err())
	}
	if slow.Current() {
		t.Fatalf("stale ticket must not be current")
	}
	if !fast.Current() {
		t.Fatalf("newest ticket must be current")
	}

	slow.Done()
	if !fast.Current() {
		t.Fatalf("releasing a stale ticket must not release the newer one")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	tracker := NewTracker()
	ctxA, a := tracker.Begin(context.Background(), "a")
	_, b := tracker.Begin(context.Background(), "b")
	defer a.Done()
	defer b.Done()

	if ctxA.Err() != nil {
		t.Fatalf("request for another key must not be cancelled")
	}
	if !a.Current() || !b.Current() {
		t.Fatalf("both tickets should be current")
	}
	if tracker.Len() != 2 {
		t.Fatalf("expected 2 keys in flight, got %d", tracker.Len())
	}
}

func TestDoneReleasesKey(t *testing.T) {
	tracker := NewTracker()
	ctx, tk := tracker.Begin(context.Background(), "k")
	tk.Done()
	tk.Done()

	if tk.Current() {
		t.Fatalf("released ticket must not be current")
	}
	if ctx.Err() == nil {
		t.Fatalf("released ticket context should be cancelled")
	}
	if tracker.Len() != 0 {
		t.Fatalf("expected no keys in flight, got %d", tracker.Len())
	}
}

// A slow request issued first and finishing last must lose to a fast
// request issued second.
func TestSlowStaleResponseIsDropped(t *testing.T) {
	tracker := NewTracker()
	var (
		mu      sync.Mutex
		applied []string
	)
	apply := func(tk *Ticket, result string) {
		mu.Lock()
		defer mu.Unlock()
		if tk.Current() {
			applied = append(applied, result)
		}
	}

	release := make(chan struct{})
	var wg sync.WaitGroup
	_, first := tracker.Begin(context.Background(), "search")
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-release
		apply(first, "old")
		first.Done()
	}()

	_, second := tracker.Begin(context.Background(), "search")
	apply(second, "new")
	close(release)
	wg.Wait()
	second.Done()

	if len(applied) != 1 || applied[0] != "new" {
		t.Fatalf("expected only the newest result, got %v", applied)
	}
}

func TestParentCancellationPropagates(t *testing.T) {
	tracker := NewTracker()
	parent, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	ctx, tk := tracker.Begin(parent, "k")
	defer tk.Done()

	<-ctx.Done()
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", ctx.Err())
	}
}

// Package latest keeps only the newest request per key alive, so a slow
// stale response cannot overwrite the result of a newer one.
package latest

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is the cancellation cause of a request replaced by a newer one.
var ErrSuperseded = errors.New("superseded by a newer request")

type inflight struct {
	seq    uint64
	cancel context.CancelCauseFunc
}

// Tracker orders requests per key by issue order.
type Tracker struct {
	mu      sync.Mutex
	seq     uint64
	pending map[string]inflight
}

func NewTracker() *Tracker {
	return &Tracker{pending: make(map[string]inflight)}
}

// Ticket identifies one request registered with a Tracker.
type Ticket struct {
	tracker *Tracker
	key     string
	seq     uint64
	cancel  context.CancelCauseFunc
}

// Begin registers a new request under key and cancels the previous one.
// The returned context is cancelled with ErrSuperseded when a newer request
// for the same key begins.
func (t *Tracker) Begin(parent context.Context, key string) (context.Context, *Ticket) {
	ctx, cancel := context.WithCancelCause(parent)

	t.mu.Lock()
	t.seq++
	seq := t.seq
	if prev, ok := t.pending[key]; ok {
		prev.cancel(ErrSuperseded)
	}
	t.pending[key] = inflight{seq: seq, cancel: cancel}
	t.mu.Unlock()

	return ctx, &Ticket{tracker: t, key: key, seq: seq, cancel: cancel}
}

// Current reports whether no newer request has begun for the ticket's key.
func (tk *Ticket) Current() bool {
	tk.tracker.mu.Lock()
	defer tk.tracker.mu.Unlock()
	entry, ok := tk.tracker.pending[tk.key]
	return ok && entry.seq == tk.seq
}

// Done releases the ticket. It is safe to call more than once.
func (tk *Ticket) Done() {
	tk.tracker.mu.Lock()
	if entry, ok := tk.tracker.pending[tk.key]; ok && entry.seq == tk.seq {
		delete(tk.tracker.pending, tk.key)
	}
	tk.tracker.mu.Unlock()
	tk.cancel(context.Canceled)
}

// Len returns the number of keys with a request in flight.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

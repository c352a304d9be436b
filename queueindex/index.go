// Package queueindex derives "how many drafts are pending" from the draft
// store and fans the count out to subscribers, so dashboard widgets and the
// sync-center page react to changes without polling storage themselves.
//
// The index is an explicit object with a lifecycle — construct once, pass to
// consumers, Close on teardown. There is no ambient global subscriber list.
package queueindex

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fieldops/draftsync/draftstore"
)

// Options configures an Index.
type Options struct {
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Index observes draft store mutations and notifies subscribers when the
// pending count changes. Safe for concurrent use.
type Index struct {
	store *draftstore.Store
	opts  Options

	mu     sync.Mutex
	subs   map[int]func(int)
	nextID int
	last   int // last published count; -1 until first recount

	unhook func()

	// Watcher counters (see watcher.go).
	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
}

// New creates an Index bound to the store. It registers a mutation hook
// immediately; call Close to detach it.
func New(store *draftstore.Store, opts Options) *Index {
	opts.defaults()
	idx := &Index{
		store: store,
		opts:  opts,
		subs:  make(map[int]func(int)),
		last:  -1,
	}
	idx.unhook = store.OnMutate(idx.recount)
	return idx
}

// Close detaches the index from the store. Subscribers receive no further
// notifications.
func (i *Index) Close() {
	if i.unhook != nil {
		i.unhook()
		i.unhook = nil
	}
}

// Subscribe registers cb to receive the new pending count whenever it
// changes. Returns an unsubscribe func. Leaking a subscription is the
// caller's bug — subscribe on mount, unsubscribe on teardown.
func (i *Index) Subscribe(cb func(count int)) func() {
	i.mu.Lock()
	id := i.nextID
	i.nextID++
	i.subs[id] = cb
	i.mu.Unlock()

	return func() {
		i.mu.Lock()
		delete(i.subs, id)
		i.mu.Unlock()
	}
}

// Count returns the current pending count straight from storage.
func (i *Index) Count(ctx context.Context) (int, error) {
	return i.store.Count(ctx)
}

// ListQueued returns the pending drafts in insertion order.
func (i *Index) ListQueued(ctx context.Context) ([]draftstore.DraftRecord, error) {
	return i.store.ListQueued(ctx)
}

// recount re-evaluates the pending count and, if it changed, invokes every
// currently-subscribed callback exactly once with the new value. Errors
// degrade to a skipped notification — the next mutation re-triggers.
func (i *Index) recount() {
	n, err := i.store.Count(context.Background())
	if err != nil {
		i.opts.Logger.Warn("queueindex: recount failed", "error", err)
		return
	}

	i.mu.Lock()
	if n == i.last {
		i.mu.Unlock()
		return
	}
	i.last = n
	cbs := make([]func(int), 0, len(i.subs))
	for _, cb := range i.subs {
		cbs = append(cbs, cb)
	}
	i.mu.Unlock()

	for _, cb := range cbs {
		cb(n)
	}
}

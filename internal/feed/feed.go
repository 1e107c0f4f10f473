// Package feed implements the live reply-thread view: one actor goroutine
// per thread owning the window cache, reconciling live updates, driving
// boundary loads and republishing slices to every active subscriber.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"replyfeed/internal/window"
	"replyfeed/pkg/replyfeed"
)

const (
	defaultPageSize           = 50
	defaultSubscriptionBuffer = 8
)

// Option mutates feed configuration.
type Option func(*Feed)

// WithLogger injects a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Feed) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithPageSize sets how many items each boundary load requests.
func WithPageSize(pageSize int) Option {
	return func(f *Feed) {
		if pageSize > 0 {
			f.pageSize = pageSize
		}
	}
}

// WithSubscriptionBuffer sets the per-subscriber slice queue capacity.
func WithSubscriptionBuffer(buffer int) Option {
	return func(f *Feed) {
		if buffer > 0 {
			f.buffer = buffer
		}
	}
}

// WithPtsSink registers a callback receiving the event sequence tag carried
// by channel fetch responses.
func WithPtsSink(sink func(pts int)) Option {
	return func(f *Feed) {
		f.ptsSink = sink
	}
}

// Feed is the reactive façade over one thread's window cache.
//
// All cache mutation and rebuild evaluation happens on a single actor
// goroutine; public methods marshal onto it. Remote fetches run
// asynchronously and their completions are marshalled back before touching
// any shared state.
type Feed struct {
	thread  replyfeed.Thread
	fetcher replyfeed.PageFetcher
	store   replyfeed.MessageStore
	logger  *slog.Logger

	pageSize int
	buffer   int
	ptsSink  func(pts int)

	commands chan func()
	runCtx   context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	closed   atomic.Bool

	// Actor-owned state below; never touched off the actor goroutine.
	cache     *window.Cache
	subs      map[int64]*Subscription
	nextSubID int64

	countSubs   map[int64]chan int
	nextCountID int64
	lastCount   replyfeed.Count

	seek  *inflight
	older *inflight
	newer *inflight
}

// New creates a feed for one thread and starts its actor goroutine.
func New(
	thread replyfeed.Thread,
	fetcher replyfeed.PageFetcher,
	store replyfeed.MessageStore,
	opts ...Option,
) (*Feed, error) {
	if thread.RootID == 0 {
		return nil, fmt.Errorf("new feed: missing thread root")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("new feed: nil page fetcher")
	}
	if store == nil {
		return nil, fmt.Errorf("new feed: nil message store")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	f := &Feed{
		thread:    thread,
		fetcher:   fetcher,
		store:     store,
		logger:    slog.Default(),
		pageSize:  defaultPageSize,
		buffer:    defaultSubscriptionBuffer,
		commands:  make(chan func()),
		runCtx:    runCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		cache:     window.NewCache(),
		subs:      make(map[int64]*Subscription),
		countSubs: make(map[int64]chan int),
	}
	for _, opt := range opts {
		opt(f)
	}

	go f.run()

	return f, nil
}

// Thread returns the thread this feed serves.
func (f *Feed) Thread() replyfeed.Thread {
	return f.thread
}

// run is the actor loop. Every command executes with exclusive access to
// the cache, the in-flight markers and the subscriber registry.
func (f *Feed) run() {
	defer close(f.done)
	for {
		select {
		case <-f.runCtx.Done():
			f.shutdown()
			return
		case cmd := <-f.commands:
			cmd()
		}
	}
}

// shutdown runs on the actor after cancellation: in-flight fetch contexts
// are children of runCtx and are already cancelled here.
func (f *Feed) shutdown() {
	f.seek = nil
	f.older = nil
	f.newer = nil
	for id, sub := range f.subs {
		delete(f.subs, id)
		close(sub.slices)
	}
	for id, counts := range f.countSubs {
		delete(f.countSubs, id)
		close(counts)
	}
}

// post marshals cmd onto the actor goroutine.
func (f *Feed) post(cmd func()) error {
	if f.closed.Load() {
		return replyfeed.ErrFeedClosed
	}
	select {
	case f.commands <- cmd:
		return nil
	case <-f.runCtx.Done():
		return replyfeed.ErrFeedClosed
	}
}

// Close cancels all in-flight requests, stops the actor and closes every
// subscriber channel. Safe to call more than once.
func (f *Feed) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	f.cancel()
	<-f.done

	return nil
}

// Subscribe registers a consumer anchored at anchor with the given limits
// and returns its subscription. The first slice, when buildable from
// resident data, is queued before Subscribe returns; otherwise the required
// boundary load is issued and the slice arrives on a later trigger.
//
// Anchor zero aligns at the newest end of the thread.
func (f *Feed) Subscribe(ctx context.Context, anchor int64, limitBefore, limitAfter int) (*Subscription, error) {
	if anchor < 0 || limitBefore < 0 || limitAfter < 0 {
		return nil, fmt.Errorf("subscribe thread %d/%d: negative request parameter", f.thread.PeerID, f.thread.RootID)
	}

	sub := &Subscription{
		id:          atomic.AddInt64(&f.nextSubID, 1),
		feed:        f,
		anchor:      anchor,
		limitBefore: limitBefore,
		limitAfter:  limitAfter,
		slices:      make(chan replyfeed.Slice, f.buffer),
	}

	registered := make(chan struct{})
	err := f.post(func() {
		f.subs[sub.id] = sub
		f.rebuildOne(sub)
		close(registered)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe thread %d/%d: %w", f.thread.PeerID, f.thread.RootID, err)
	}

	select {
	case <-registered:
		return sub, nil
	case <-ctx.Done():
		sub.Close()
		return nil, fmt.Errorf("subscribe thread %d/%d: %w", f.thread.PeerID, f.thread.RootID, ctx.Err())
	case <-f.runCtx.Done():
		return nil, fmt.Errorf("subscribe thread %d/%d: %w", f.thread.PeerID, f.thread.RootID, replyfeed.ErrFeedClosed)
	}
}

// TotalCount returns a channel emitting the thread length whenever a
// concrete value becomes known; unknown states are filtered out and equal
// consecutive values are collapsed. The returned stop function releases
// the stream.
func (f *Feed) TotalCount() (<-chan int, func(), error) {
	counts := make(chan int, 1)
	id := atomic.AddInt64(&f.nextCountID, 1)

	err := f.post(func() {
		f.countSubs[id] = counts
		if current, known := f.lastCount.Get(); known {
			pushCount(counts, current)
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("total count thread %d/%d: %w", f.thread.PeerID, f.thread.RootID, err)
	}

	stop := func() {
		_ = f.post(func() {
			if active, found := f.countSubs[id]; found {
				delete(f.countSubs, id)
				close(active)
			}
		})
	}

	return counts, stop, nil
}

// ApplyUpdate reconciles one live notification into the window. Events for
// other threads are ignored; an effective change republishes slices to all
// subscribers.
func (f *Feed) ApplyUpdate(update replyfeed.Update) error {
	err := f.post(func() {
		if f.reconcile(update) {
			f.rebuildAll()
		}
	})
	if err != nil {
		return fmt.Errorf("apply update %s %d: %w", update.Kind, update.ID, err)
	}

	return nil
}

// unsubscribe removes one subscription; the actor closes its channel.
func (f *Feed) unsubscribe(subID int64) {
	_ = f.post(func() {
		if sub, found := f.subs[subID]; found {
			delete(f.subs, subID)
			close(sub.slices)
		}
	})
}

// rebuildOne evaluates one subscriber's request against the window and
// either queues a fresh slice or issues the loads the builder asked for.
// No slice is ever published before the builder succeeds.
func (f *Feed) rebuildOne(sub *Subscription) {
	slice, loads, ok := window.Build(f.cache, sub.anchor, sub.limitBefore, sub.limitAfter)
	if ok {
		sub.push(slice)
	}
	for _, load := range loads {
		f.requestLoad(load)
	}
}

// rebuildAll re-evaluates every subscriber and refreshes the count stream.
func (f *Feed) rebuildAll() {
	for _, sub := range f.subs {
		f.rebuildOne(sub)
	}
	f.emitTotalCount()
}

// requestLoad dispatches a builder signal to the matching loader operation.
// Already-in-flight requests make this a no-op, so overlapping subscriber
// demands coalesce into at most one request per direction.
func (f *Feed) requestLoad(load window.Load) {
	switch load.Kind {
	case window.LoadAnchorSeek:
		f.seekAround(load.Anchor)
	case window.LoadOlder:
		f.extendOlder()
	case window.LoadNewer:
		f.extendNewer()
	}
}

// emitTotalCount pushes the current total to count subscribers when it is
// known and differs from the last emitted value.
func (f *Feed) emitTotalCount() {
	total, known := f.cache.TotalCount().Get()
	if !known {
		return
	}
	if last, ok := f.lastCount.Get(); ok && last == total {
		return
	}
	f.lastCount = replyfeed.Known(total)
	for _, counts := range f.countSubs {
		pushCount(counts, total)
	}
}

// pushCount delivers latest-wins on a buffered count channel.
func pushCount(counts chan int, total int) {
	select {
	case counts <- total:
		return
	default:
	}
	select {
	case <-counts:
	default:
	}
	select {
	case counts <- total:
	default:
	}
}

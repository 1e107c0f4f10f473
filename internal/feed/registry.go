package feed

import (
	"fmt"
	"sync"

	"replyfeed/pkg/replyfeed"
)

// Registry hands out one shared feed per thread so that overlapping
// consumers collapse onto a single window cache and a single set of
// in-flight request markers. Feeds are created on first acquire and closed
// when the last holder releases.
type Registry struct {
	fetcher replyfeed.PageFetcher
	store   replyfeed.MessageStore
	opts    []Option

	mu      sync.Mutex
	closed  bool
	entries map[replyfeed.Thread]*registryEntry
}

type registryEntry struct {
	feed *Feed
	refs int
}

// NewRegistry creates a registry sharing one fetcher and store across all
// thread feeds. The options apply to every feed it creates.
func NewRegistry(fetcher replyfeed.PageFetcher, store replyfeed.MessageStore, opts ...Option) (*Registry, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("new feed registry: nil page fetcher")
	}
	if store == nil {
		return nil, fmt.Errorf("new feed registry: nil message store")
	}

	return &Registry{
		fetcher: fetcher,
		store:   store,
		opts:    opts,
		entries: make(map[replyfeed.Thread]*registryEntry),
	}, nil
}

// Acquire returns the shared feed for thread, creating it on first use.
// Every Acquire must be paired with one Release.
func (r *Registry) Acquire(thread replyfeed.Thread) (*Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("acquire feed %d/%d: %w", thread.PeerID, thread.RootID, replyfeed.ErrFeedClosed)
	}
	if entry, found := r.entries[thread]; found {
		entry.refs++
		return entry.feed, nil
	}

	threadFeed, err := New(thread, r.fetcher, r.store, r.opts...)
	if err != nil {
		return nil, fmt.Errorf("acquire feed %d/%d: %w", thread.PeerID, thread.RootID, err)
	}
	r.entries[thread] = &registryEntry{feed: threadFeed, refs: 1}

	return threadFeed, nil
}

// Release drops one reference; the last release closes the feed and its
// in-flight requests.
func (r *Registry) Release(thread replyfeed.Thread) error {
	r.mu.Lock()
	entry, found := r.entries[thread]
	if found {
		entry.refs--
		if entry.refs > 0 {
			r.mu.Unlock()
			return nil
		}
		delete(r.entries, thread)
	}
	r.mu.Unlock()

	if !found {
		return fmt.Errorf("release feed %d/%d: not acquired", thread.PeerID, thread.RootID)
	}

	return entry.feed.Close()
}

// ApplyUpdate routes a live notification to the feed of its thread, when
// one is active. Updates for threads without an open feed are dropped;
// there is no window to keep coherent for them.
func (r *Registry) ApplyUpdate(update replyfeed.Update) error {
	r.mu.Lock()
	entry, found := r.entries[update.Thread]
	r.mu.Unlock()

	if !found {
		return nil
	}
	if err := entry.feed.ApplyUpdate(update); err != nil {
		return fmt.Errorf("registry apply update: %w", err)
	}

	return nil
}

// Close shuts down every active feed regardless of reference counts.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	feeds := make([]*Feed, 0, len(r.entries))
	for _, entry := range r.entries {
		feeds = append(feeds, entry.feed)
	}
	r.entries = make(map[replyfeed.Thread]*registryEntry)
	r.mu.Unlock()

	for _, threadFeed := range feeds {
		if err := threadFeed.Close(); err != nil {
			return fmt.Errorf("close feed registry: %w", err)
		}
	}

	return nil
}

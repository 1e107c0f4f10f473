// Package store provides the session-wide in-memory message store shared by
// all thread feeds: idempotent upsert keyed by (peer, id), bounded by an
// LRU eviction policy.
package store

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"replyfeed/pkg/replyfeed"
)

const defaultMaxEntries = 65536

// Option mutates store configuration.
type Option func(*Store)

// WithMaxEntries sets the in-memory entry capacity.
func WithMaxEntries(maxEntries int) Option {
	return func(s *Store) {
		if maxEntries > 0 {
			s.maxEntries = maxEntries
		}
	}
}

// WithClock injects the time source, used by tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

type storeKey struct {
	peerID int64
	id     int64
}

type storedItem struct {
	item      replyfeed.RawItem
	firstSeen time.Time
	updatedAt time.Time
}

// Store is a concurrency-safe message store. Upsert is idempotent: storing
// an item that already exists refreshes its payload without creating a
// duplicate, and the returned handle is identical either way.
type Store struct {
	maxEntries int
	clock      func() time.Time

	mu    sync.Mutex
	items map[storeKey]*storedItem
	lru   *list.List
	index map[storeKey]*list.Element
}

// New creates a bounded in-memory message store.
func New(options ...Option) *Store {
	s := &Store{
		maxEntries: defaultMaxEntries,
		clock:      time.Now,
		items:      make(map[storeKey]*storedItem),
		lru:        list.New(),
		index:      make(map[storeKey]*list.Element),
	}
	for _, option := range options {
		option(s)
	}

	return s
}

// Upsert ingests items idempotently and returns one handle per item with
// the resolved message id and thread root.
func (s *Store) Upsert(ctx context.Context, items []replyfeed.RawItem) ([]replyfeed.ItemHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("store upsert: %w", err)
	}

	now := s.now()
	handles := make([]replyfeed.ItemHandle, 0, len(items))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		if item.ID == 0 {
			return nil, fmt.Errorf("store upsert peer %d: missing message id", item.PeerID)
		}
		key := storeKey{peerID: item.PeerID, id: item.ID}
		if existing, found := s.items[key]; found {
			existing.item = item
			existing.updatedAt = now
			s.touchLocked(key)
		} else {
			s.items[key] = &storedItem{item: item, firstSeen: now, updatedAt: now}
			s.index[key] = s.lru.PushFront(key)
			s.evictLocked()
		}
		handles = append(handles, replyfeed.ItemHandle{ID: item.ID, RootID: item.RootID})
	}

	return handles, nil
}

// Get returns a stored item snapshot.
//
// When no entry exists, found is false and err is nil.
func (s *Store) Get(ctx context.Context, peerID, id int64) (replyfeed.RawItem, bool, error) {
	if err := ctx.Err(); err != nil {
		return replyfeed.RawItem{}, false, fmt.Errorf("store get: %w", err)
	}

	key := storeKey{peerID: peerID, id: id}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored, found := s.items[key]
	if !found {
		return replyfeed.RawItem{}, false, nil
	}
	s.touchLocked(key)

	return stored.item, true, nil
}

// Delete removes a stored item. Deleting an absent item is a no-op.
func (s *Store) Delete(ctx context.Context, peerID, id int64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store delete: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(storeKey{peerID: peerID, id: id})

	return nil
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.items)
}

func (s *Store) touchLocked(key storeKey) {
	if element, exists := s.index[key]; exists {
		s.lru.MoveToFront(element)
	}
}

func (s *Store) deleteLocked(key storeKey) {
	if element, exists := s.index[key]; exists {
		s.lru.Remove(element)
		delete(s.index, key)
	}
	delete(s.items, key)
}

func (s *Store) evictLocked() {
	for len(s.items) > s.maxEntries {
		oldest := s.lru.Back()
		if oldest == nil {
			return
		}
		s.deleteLocked(oldest.Value.(storeKey))
	}
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

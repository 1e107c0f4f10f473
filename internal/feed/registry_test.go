package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"replyfeed/pkg/replyfeed"
)

func newTestRegistry(t *testing.T) (*Registry, *scriptedFetcher) {
	t.Helper()

	fetcher := newScriptedFetcher()
	registry, err := NewRegistry(fetcher, newFakeStore(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithPageSize(4),
	)
	if err != nil {
		t.Fatalf("new registry failed: %v", err)
	}
	t.Cleanup(func() {
		_ = registry.Close()
	})
	return registry, fetcher
}

// TestNewRegistryValidation verifies constructor argument checks.
func TestNewRegistryValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewRegistry(nil, newFakeStore()); err == nil || !strings.Contains(err.Error(), "nil page fetcher") {
		t.Fatalf("nil fetcher error = %v", err)
	}
	if _, err := NewRegistry(newScriptedFetcher(), nil); err == nil || !strings.Contains(err.Error(), "nil message store") {
		t.Fatalf("nil store error = %v", err)
	}
}

// TestRegistrySharesFeedPerThread verifies refcounted sharing: one feed per
// thread, alive until the last holder releases.
func TestRegistrySharesFeedPerThread(t *testing.T) {
	t.Parallel()

	registry, _ := newTestRegistry(t)
	thread := testThread()

	first, err := registry.Acquire(thread)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	second, err := registry.Acquire(thread)
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if first != second {
		t.Fatal("expected both holders to share one feed")
	}

	other, err := registry.Acquire(replyfeed.Thread{PeerID: 2002, RootID: 8000})
	if err != nil {
		t.Fatalf("other acquire failed: %v", err)
	}
	if other == first {
		t.Fatal("expected distinct feeds for distinct threads")
	}

	if err := registry.Release(thread); err != nil {
		t.Fatalf("first release failed: %v", err)
	}
	update := replyfeed.Update{Thread: thread, Kind: replyfeed.UpdateRemoved, ID: 1}
	if err := first.ApplyUpdate(update); err != nil {
		t.Fatalf("apply on shared feed failed: %v", err)
	}

	if err := registry.Release(thread); err != nil {
		t.Fatalf("last release failed: %v", err)
	}
	if err := first.ApplyUpdate(update); !errors.Is(err, replyfeed.ErrFeedClosed) {
		t.Fatalf("apply after last release = %v, want ErrFeedClosed", err)
	}

	if err := registry.Release(thread); err == nil || !strings.Contains(err.Error(), "not acquired") {
		t.Fatalf("release without holder = %v, want not acquired", err)
	}
}

// TestRegistryRoutesUpdates verifies thread routing: events reach the active
// feed and events for threads without one are dropped.
func TestRegistryRoutesUpdates(t *testing.T) {
	t.Parallel()

	registry, fetcher := newTestRegistry(t)
	thread := testThread()

	f, err := registry.Acquire(thread)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	sub, err := f.Subscribe(context.Background(), 0, 2, 0)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	t.Cleanup(sub.Close)
	fetcher.expectCall(t).reply(pageOf(thread, replyfeed.Known(2), 50, 40))
	assertSliceIDs(t, receiveSlice(t, sub), []int64{40, 50})

	inactive := replyfeed.Update{
		Thread: replyfeed.Thread{PeerID: 3003, RootID: 1},
		Kind:   replyfeed.UpdateRemoved,
		ID:     50,
	}
	if err := registry.ApplyUpdate(inactive); err != nil {
		t.Fatalf("apply for inactive thread failed: %v", err)
	}
	expectNoSlice(t, sub)

	if err := registry.ApplyUpdate(replyfeed.Update{
		Thread: thread,
		Kind:   replyfeed.UpdateRemoved,
		ID:     50,
	}); err != nil {
		t.Fatalf("apply for active thread failed: %v", err)
	}
	assertSliceIDs(t, receiveSlice(t, sub), []int64{40})
}

// TestRegistryCloseClosesAllFeeds verifies shutdown regardless of holders.
func TestRegistryCloseClosesAllFeeds(t *testing.T) {
	t.Parallel()

	registry, _ := newTestRegistry(t)
	thread := testThread()

	f, err := registry.Acquire(thread)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := registry.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	update := replyfeed.Update{Thread: thread, Kind: replyfeed.UpdateRemoved, ID: 1}
	if err := f.ApplyUpdate(update); !errors.Is(err, replyfeed.ErrFeedClosed) {
		t.Fatalf("apply after close = %v, want ErrFeedClosed", err)
	}
	if _, err := registry.Acquire(thread); !errors.Is(err, replyfeed.ErrFeedClosed) {
		t.Fatalf("acquire after close = %v, want ErrFeedClosed", err)
	}
}

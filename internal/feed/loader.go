package feed

import (
	"context"

	"replyfeed/pkg/replyfeed"
)

// inflight marks one outstanding fetch: the pivot it was issued for and the
// cancellation for its request context. Completion handlers compare marker
// identity before touching shared state, so a superseded or cancelled
// request can never clear a marker it no longer owns.
type inflight struct {
	pivot  int64
	cancel context.CancelFunc
}

// seekAround replaces the window with a page centered on anchor (the newest
// page when anchor is zero). A seek for the same anchor already in flight
// is a no-op; any other outstanding request is cancelled first, since the
// window is about to be replaced. Actor-only.
func (f *Feed) seekAround(anchor int64) {
	if f.seek != nil && f.seek.pivot == anchor {
		return
	}
	f.cancelMarker(&f.seek)
	f.cancelMarker(&f.older)
	f.cancelMarker(&f.newer)

	fetchCtx, cancel := context.WithCancel(f.runCtx)
	token := &inflight{pivot: anchor, cancel: cancel}
	f.seek = token

	go f.fetch(fetchCtx, anchor, replyfeed.FetchAround, func(page replyfeed.Page, err error) {
		if f.seek != token {
			return
		}
		f.seek = nil
		cancel()
		if err != nil {
			f.logger.Debug("anchor seek failed",
				"peer", f.thread.PeerID, "root", f.thread.RootID, "anchor", anchor, "error", err)
			return
		}

		skipNewer := replyfeed.Unknown()
		if anchor == 0 {
			skipNewer = replyfeed.Known(0)
		}
		f.cache.Reset(replyfeed.Unknown(), skipNewer)
		if f.ingest(page) == 0 {
			f.cache.CollapseEmpty()
		}
		f.rebuildAll()
	})
}

// extendOlder fetches the page immediately older than the current tail.
// No-op while an older extend is in flight, and while a seek is pending,
// because the seek will replace the window anyway. Requires a non-empty
// window; the builder never asks for an extend on an empty one. Actor-only.
func (f *Feed) extendOlder() {
	if f.cache.Empty() || f.older != nil || f.seek != nil {
		return
	}

	pivot := f.cache.Last()
	fetchCtx, cancel := context.WithCancel(f.runCtx)
	token := &inflight{pivot: pivot, cancel: cancel}
	f.older = token

	go f.fetch(fetchCtx, pivot, replyfeed.FetchOlder, func(page replyfeed.Page, err error) {
		if f.older != token {
			return
		}
		f.older = nil
		cancel()
		if err != nil {
			f.logger.Debug("older extend failed",
				"peer", f.thread.PeerID, "root", f.thread.RootID, "pivot", pivot, "error", err)
			return
		}
		if f.cache.Empty() {
			return
		}
		if f.cache.Last() != pivot {
			// The tail moved while the request was in flight; the page
			// no longer lines up, so re-issue against the new tail.
			f.extendOlder()
			return
		}

		if f.ingest(page) == 0 {
			f.cache.MarkOlderBoundary()
		}
		f.rebuildAll()
	})
}

// extendNewer fetches the page immediately newer than the current head,
// pivoting one past it. Symmetric to extendOlder. Actor-only.
func (f *Feed) extendNewer() {
	if f.cache.Empty() || f.newer != nil || f.seek != nil {
		return
	}

	first := f.cache.First()
	fetchCtx, cancel := context.WithCancel(f.runCtx)
	token := &inflight{pivot: first, cancel: cancel}
	f.newer = token

	go f.fetch(fetchCtx, first+1, replyfeed.FetchNewer, func(page replyfeed.Page, err error) {
		if f.newer != token {
			return
		}
		f.newer = nil
		cancel()
		if err != nil {
			f.logger.Debug("newer extend failed",
				"peer", f.thread.PeerID, "root", f.thread.RootID, "pivot", first, "error", err)
			return
		}
		if f.cache.Empty() {
			return
		}
		if f.cache.First() != first {
			f.extendNewer()
			return
		}

		if f.ingest(page) == 0 {
			f.cache.MarkNewerBoundary()
		}
		f.rebuildAll()
	})
}

// fetch runs one remote page request off the actor and marshals its
// completion back. A completion arriving after feed shutdown is dropped.
func (f *Feed) fetch(
	ctx context.Context,
	pivot int64,
	direction replyfeed.FetchDirection,
	complete func(page replyfeed.Page, err error),
) {
	page, err := f.fetcher.FetchPage(ctx, f.thread, pivot, direction, f.pageSize)
	_ = f.post(func() {
		complete(page, err)
	})
}

// ingest merges one fetched page: the response count hint refreshes the
// total, items are upserted into the owning store, and only items rooted in
// this thread are placed into the window. It returns the raw item count;
// zero means the responding side had nothing beyond the pivot. Actor-only.
func (f *Feed) ingest(page replyfeed.Page) int {
	if hint, known := page.TotalHint.Get(); known {
		f.cache.SetTotalCount(replyfeed.Known(hint))
	}
	if page.Pts != 0 && f.ptsSink != nil {
		f.ptsSink(page.Pts)
	}
	if len(page.Items) == 0 {
		return 0
	}

	handles, err := f.store.Upsert(f.runCtx, page.Items)
	if err != nil {
		f.logger.Warn("store upsert failed",
			"peer", f.thread.PeerID, "root", f.thread.RootID, "items", len(page.Items), "error", err)
		return len(page.Items)
	}

	ids := make([]int64, 0, len(handles))
	for _, handle := range handles {
		if handle.RootID == f.thread.RootID {
			ids = append(ids, handle.ID)
		}
	}
	f.cache.Merge(ids)

	return len(page.Items)
}

// cancelMarker cancels and clears one in-flight slot.
func (f *Feed) cancelMarker(marker **inflight) {
	if *marker == nil {
		return
	}
	(*marker).cancel()
	*marker = nil
}

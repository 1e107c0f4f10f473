package feed

import "replyfeed/pkg/replyfeed"

// reconcile applies one live notification to the window. Actor-only.
//
// Deletes are always applied; inserts are ignored while the newer boundary
// has not been reached and the id would extend the newer end, because the
// cache cannot vouch for completeness beyond its head. The window is
// reloaded by the next anchor seek instead of growing speculatively.
//
// Out-of-order delivery is tolerated: removing an absent id and inserting
// a present one are no-ops.
func (f *Feed) reconcile(update replyfeed.Update) bool {
	if update.Thread != f.thread {
		return false
	}

	switch update.Kind {
	case replyfeed.UpdateRemoved:
		return f.cache.Remove(update.ID)
	case replyfeed.UpdateInserted:
		if !f.cache.SkipNewer().Is(0) && update.ID > f.cache.First() {
			return false
		}
		return f.cache.Insert(update.ID)
	default:
		return false
	}
}

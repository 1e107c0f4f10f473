package window

import "replyfeed/pkg/replyfeed"

// LoadKind names the boundary load a viewer request needs.
type LoadKind int

const (
	// LoadAnchorSeek requests a window replacement centered on an anchor.
	LoadAnchorSeek LoadKind = iota
	// LoadOlder requests extending the window past its oldest id.
	LoadOlder
	// LoadNewer requests extending the window past its newest id.
	LoadNewer
)

// String returns the load token used in logs.
func (k LoadKind) String() string {
	switch k {
	case LoadAnchorSeek:
		return "anchor-seek"
	case LoadOlder:
		return "older-extend"
	case LoadNewer:
		return "newer-extend"
	default:
		return "unknown"
	}
}

// Load is one boundary load signaled by Build. Anchor is meaningful for
// LoadAnchorSeek only; zero anchors at the newest end.
type Load struct {
	Kind   LoadKind
	Anchor int64
}

// Build evaluates one viewer request (anchor, limitBefore, limitAfter)
// against the cache.
//
// When the window can satisfy the anchor, ok is true, slice holds the
// visible range in ascending order and loads may carry background extends
// for truncated edges. When it cannot, ok is false and loads carries the
// anchor seek required first. An empty thread (both boundaries known
// reached) yields an empty slice with no loads.
//
// Anchor zero aligns the request at the newest end. The newer-side take is
// limitAfter+1 so the anchor row itself can land on the newer side of the
// split without a second round trip.
func Build(cache *Cache, anchor int64, limitBefore, limitAfter int) (slice replyfeed.Slice, loads []Load, ok bool) {
	if cache.Empty() && cache.SkipOlder().Is(0) && cache.SkipNewer().Is(0) {
		return replyfeed.Slice{
			IDs:           []int64{},
			SkippedBefore: replyfeed.Known(0),
			SkippedAfter:  replyfeed.Known(0),
			TotalCount:    replyfeed.Known(0),
		}, nil, true
	}
	if cache.Empty() ||
		(anchor == 0 && !cache.SkipNewer().Is(0)) ||
		(anchor > 0 && anchor < cache.Last()) ||
		(anchor > cache.First()) {
		return replyfeed.Slice{}, []Load{{Kind: LoadAnchorSeek, Anchor: anchor}}, false
	}

	split := cache.Len()
	if anchor != 0 {
		split = cache.indexOf(anchor)
	}
	availableBefore := split
	availableAfter := cache.Len() - split
	useBefore := min(availableBefore, limitBefore)
	useAfter := min(availableAfter, limitAfter+1)

	if older, known := cache.SkipOlder().Get(); known {
		slice.SkippedBefore = replyfeed.Known(older + (availableBefore - useBefore))
	}
	if newer, known := cache.SkipNewer().Get(); known {
		slice.SkippedAfter = replyfeed.Known(newer + (availableAfter - useAfter))
	}
	slice.IDs = make([]int64, 0, useBefore+useAfter)
	for i := split + useAfter - 1; i >= split-useBefore; i-- {
		slice.IDs = append(slice.IDs, cache.ids[i])
	}
	slice.TotalCount = cache.TotalCount()

	if !cache.SkipOlder().Is(0) && useBefore < limitBefore {
		loads = append(loads, Load{Kind: LoadOlder})
	}
	if !cache.SkipNewer().Is(0) && useAfter < limitAfter+1 {
		loads = append(loads, Load{Kind: LoadNewer})
	}
	return slice, loads, true
}

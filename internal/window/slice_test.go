package window

import (
	"testing"

	"replyfeed/pkg/replyfeed"
)

func seedCache(t *testing.T, ids []int64, skipOlder, skipNewer, total replyfeed.Count) *Cache {
	t.Helper()
	cache := NewCache()
	cache.Reset(skipOlder, skipNewer)
	cache.Merge(ids)
	cache.SetTotalCount(total)
	return cache
}

func TestBuildEmptyThread(t *testing.T) {
	t.Parallel()

	cache := NewCache()
	cache.CollapseEmpty()

	slice, loads, ok := Build(cache, 77, 5, 5)
	if !ok {
		t.Fatal("empty thread did not produce a slice")
	}
	if len(loads) != 0 {
		t.Fatalf("loads = %v, want none", loads)
	}
	if len(slice.IDs) != 0 {
		t.Fatalf("slice ids = %v, want empty", slice.IDs)
	}
	if !slice.TotalCount.Is(0) || !slice.SkippedBefore.Is(0) || !slice.SkippedAfter.Is(0) {
		t.Fatalf("slice counts = %s/%s/%s, want all zero",
			slice.SkippedBefore, slice.SkippedAfter, slice.TotalCount)
	}
}

func TestBuildNeedsAnchorSeek(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		ids       []int64
		skipOlder replyfeed.Count
		skipNewer replyfeed.Count
		anchor    int64
	}{
		{
			name:      "not yet loaded",
			skipOlder: replyfeed.Unknown(),
			skipNewer: replyfeed.Unknown(),
			anchor:    45,
		},
		{
			name:      "newest anchor but head not reached",
			ids:       []int64{50, 40},
			skipOlder: replyfeed.Known(0),
			skipNewer: replyfeed.Unknown(),
			anchor:    0,
		},
		{
			name:      "anchor older than window",
			ids:       []int64{50, 40},
			skipOlder: replyfeed.Unknown(),
			skipNewer: replyfeed.Known(0),
			anchor:    30,
		},
		{
			name:      "anchor newer than window",
			ids:       []int64{50, 40},
			skipOlder: replyfeed.Known(0),
			skipNewer: replyfeed.Unknown(),
			anchor:    60,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cache := seedCache(t, testCase.ids, testCase.skipOlder, testCase.skipNewer, replyfeed.Unknown())

			_, loads, ok := Build(cache, testCase.anchor, 2, 2)
			if ok {
				t.Fatal("expected no slice")
			}
			if len(loads) != 1 || loads[0].Kind != LoadAnchorSeek {
				t.Fatalf("loads = %v, want one anchor seek", loads)
			}
			if loads[0].Anchor != testCase.anchor {
				t.Fatalf("seek anchor = %d, want %d", loads[0].Anchor, testCase.anchor)
			}
		})
	}
}

func TestBuildInWindow(t *testing.T) {
	t.Parallel()

	cache := seedCache(t,
		[]int64{50, 48, 45, 40, 30},
		replyfeed.Known(1),
		replyfeed.Known(2),
		replyfeed.Known(8),
	)

	slice, loads, ok := Build(cache, 45, 2, 1)
	if !ok {
		t.Fatal("expected a slice")
	}
	if len(loads) != 0 {
		t.Fatalf("loads = %v, want none", loads)
	}
	assertIDs(t, slice.IDs, []int64{40, 45, 48, 50})
	if !slice.SkippedBefore.Is(1) {
		t.Fatalf("skippedBefore = %s, want 1", slice.SkippedBefore)
	}
	if !slice.SkippedAfter.Is(3) {
		t.Fatalf("skippedAfter = %s, want 3", slice.SkippedAfter)
	}
	if !slice.TotalCount.Is(8) {
		t.Fatalf("totalCount = %s, want 8", slice.TotalCount)
	}
}

func TestBuildNewestAnchor(t *testing.T) {
	t.Parallel()

	cache := seedCache(t,
		[]int64{50, 40},
		replyfeed.Unknown(),
		replyfeed.Known(0),
		replyfeed.Unknown(),
	)

	slice, loads, ok := Build(cache, 0, 3, 0)
	if !ok {
		t.Fatal("expected a slice")
	}
	assertIDs(t, slice.IDs, []int64{40, 50})
	if slice.SkippedBefore.IsKnown() {
		t.Fatalf("skippedBefore = %s, want unknown", slice.SkippedBefore)
	}
	if !slice.SkippedAfter.Is(0) {
		t.Fatalf("skippedAfter = %s, want 0", slice.SkippedAfter)
	}
	// The request wanted more than the window holds and older data may
	// exist, so the slice ships now and an older extend runs behind it.
	if len(loads) != 1 || loads[0].Kind != LoadOlder {
		t.Fatalf("loads = %v, want one older extend", loads)
	}
}

func TestBuildNewerTruncation(t *testing.T) {
	t.Parallel()

	cache := seedCache(t,
		[]int64{50, 40},
		replyfeed.Known(0),
		replyfeed.Unknown(),
		replyfeed.Unknown(),
	)

	slice, loads, ok := Build(cache, 40, 0, 2)
	if !ok {
		t.Fatal("expected a slice")
	}
	assertIDs(t, slice.IDs, []int64{40})
	if !slice.SkippedBefore.Is(1) {
		t.Fatalf("skippedBefore = %s, want 1", slice.SkippedBefore)
	}
	if slice.SkippedAfter.IsKnown() {
		t.Fatalf("skippedAfter = %s, want unknown", slice.SkippedAfter)
	}
	if len(loads) != 1 || loads[0].Kind != LoadNewer {
		t.Fatalf("loads = %v, want one newer extend", loads)
	}
}

func TestBuildReachedBoundariesNeedNoLoads(t *testing.T) {
	t.Parallel()

	cache := seedCache(t,
		[]int64{50, 40},
		replyfeed.Known(0),
		replyfeed.Known(0),
		replyfeed.Known(2),
	)

	slice, loads, ok := Build(cache, 0, 10, 10)
	if !ok {
		t.Fatal("expected a slice")
	}
	if len(loads) != 0 {
		t.Fatalf("loads = %v, want none once both boundaries are reached", loads)
	}
	assertIDs(t, slice.IDs, []int64{40, 50})
	if !slice.TotalCount.Is(2) {
		t.Fatalf("totalCount = %s, want 2", slice.TotalCount)
	}
}

// Package replyfeed defines the neutral contracts shared by the windowed
// reply-thread cache, its transport drivers and its consumers.
//
// The package holds pure data types and collaborator interfaces only;
// the cache implementation lives under internal/.
package replyfeed

import (
	"context"
	"time"
)

// Thread identifies one reply thread: the container peer and the id of the
// message the thread is rooted at. Immutable for the lifetime of a feed.
type Thread struct {
	// PeerID identifies the chat, channel or user conversation containing
	// the thread.
	PeerID int64
	// RootID is the message id the replies are attached to.
	RootID int64
}

// Zero reports whether the thread reference is unset.
func (t Thread) Zero() bool {
	return t.PeerID == 0 && t.RootID == 0
}

// Slice is one rebuilt view of a thread window delivered to a subscriber.
//
// Slices are produced fresh on every rebuild and are safe to retain; the
// feed never mutates a slice after delivery.
type Slice struct {
	// IDs holds the visible message ids in ascending order, oldest first.
	IDs []int64
	// SkippedBefore counts messages older than IDs[0] not included in
	// the slice, when known.
	SkippedBefore Count
	// SkippedAfter counts messages newer than the last id not included
	// in the slice, when known.
	SkippedAfter Count
	// TotalCount is the best current estimate of the full thread length.
	TotalCount Count
}

// FetchDirection selects the page placement relative to the pivot id.
type FetchDirection int

const (
	// FetchAround requests a page centered on the pivot, or the newest
	// page when the pivot is zero.
	FetchAround FetchDirection = iota
	// FetchOlder requests the page immediately older than the pivot.
	FetchOlder
	// FetchNewer requests the page immediately newer than the pivot.
	FetchNewer
)

// String returns the direction token used in logs.
func (d FetchDirection) String() string {
	switch d {
	case FetchAround:
		return "around"
	case FetchOlder:
		return "older"
	case FetchNewer:
		return "newer"
	default:
		return "unknown"
	}
}

// RawItem is one message as produced by a transport driver, carrying only
// the fields the cache and its consumers need.
type RawItem struct {
	// PeerID identifies the containing conversation.
	PeerID int64
	// ID is the message identifier, totally ordered within the peer.
	ID int64
	// RootID is the id of the thread root this message replies under,
	// zero when the message is not part of a thread.
	RootID int64
	// From names the author when the driver could resolve one.
	From string
	// Text is the plain message body.
	Text string
	// Date is the server-side send time.
	Date time.Time
}

// ItemHandle is the resolved identity of one upserted item.
type ItemHandle struct {
	// ID is the stored message identifier.
	ID int64
	// RootID is the resolved thread root, zero when not threaded.
	RootID int64
}

// Page is the decoded result of one remote fetch.
type Page struct {
	// Items holds the fetched messages in the order the transport
	// returned them, newest first.
	Items []RawItem
	// TotalHint carries the response's own estimate of the full thread
	// length when the response variant includes one.
	TotalHint Count
	// Pts is the channel event sequence tag from channel responses,
	// zero when absent.
	Pts int
}

// PageFetcher is the remote transport boundary. Implementations issue one
// page request and decode the response; they do not touch the cache.
type PageFetcher interface {
	// FetchPage fetches up to limit items relative to pivot in the given
	// direction. The pivot convention follows the thread history API:
	// the anchor id for FetchAround (zero meaning the newest page), the
	// current tail for FetchOlder, and head+1 for FetchNewer.
	FetchPage(ctx context.Context, thread Thread, pivot int64, direction FetchDirection, limit int) (Page, error)
}

// MessageStore owns message objects across all threads of a session.
//
// Implementations must be concurrency-safe: fetch merges write while
// consumers read.
type MessageStore interface {
	// Upsert ingests items idempotently, keyed by (peer, id), and
	// returns one handle per stored item with the resolved thread root.
	Upsert(ctx context.Context, items []RawItem) ([]ItemHandle, error)
	// Get returns a stored item snapshot.
	//
	// When no entry exists, found is false and err is nil.
	Get(ctx context.Context, peerID, id int64) (item RawItem, found bool, err error)
}

// UpdateKind discriminates live update events.
type UpdateKind int

const (
	// UpdateInserted signals a message newly added to a thread.
	UpdateInserted UpdateKind = iota
	// UpdateRemoved signals a message deleted from a thread.
	UpdateRemoved
)

// String returns the kind token used in logs.
func (k UpdateKind) String() string {
	switch k {
	case UpdateInserted:
		return "inserted"
	case UpdateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Update is one live notification from the owning store. Delivery order is
// not guaranteed to match identifier order; the feed tolerates duplicates
// and out-of-order events.
type Update struct {
	// Thread is the thread the event belongs to.
	Thread Thread
	// Kind discriminates insert from remove.
	Kind UpdateKind
	// ID is the affected message id.
	ID int64
}

// Package telegram adapts the replyfeed transport contracts to Telegram
// MTProto via gotd: page fetching over messages.getReplies and live update
// mapping from gotd update classes.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"replyfeed/pkg/replyfeed"
)

const defaultRPCTimeout = 10 * time.Second

// repliesRPC is the slice of the Telegram API the fetcher needs.
// *tg.Client satisfies it.
type repliesRPC interface {
	MessagesGetReplies(ctx context.Context, request *tg.MessagesGetRepliesRequest) (tg.MessagesMessagesClass, error)
}

// PeerResolver maps neutral peer ids to Telegram input peer references.
type PeerResolver interface {
	// InputPeer returns the input reference for one peer id.
	InputPeer(peerID int64) (tg.InputPeerClass, error)
}

// FetcherOption mutates fetcher configuration.
type FetcherOption func(*Fetcher)

// WithFetcherLogger injects a structured logger.
func WithFetcherLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithRPCTimeout bounds each page request RPC.
func WithRPCTimeout(timeout time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if timeout > 0 {
			f.rpcTimeout = timeout
		}
	}
}

// Fetcher issues thread history page requests against the Telegram API.
type Fetcher struct {
	rpc        repliesRPC
	peers      PeerResolver
	logger     *slog.Logger
	rpcTimeout time.Duration
}

// NewFetcher creates a Telegram-backed page fetcher.
func NewFetcher(rpc repliesRPC, peers PeerResolver, opts ...FetcherOption) (*Fetcher, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram fetcher: nil rpc client")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram fetcher: nil peer resolver")
	}

	f := &Fetcher{
		rpc:        rpc,
		peers:      peers,
		logger:     slog.Default(),
		rpcTimeout: defaultRPCTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

// FetchPage fetches up to limit thread items relative to pivot.
//
// The add-offset convention follows messages.getReplies: a centered seek
// shifts back by half a page (no shift when pivot is zero, which asks for
// the newest page), an older fetch reads straight down from the pivot, and
// a newer fetch shifts back by a full page from one past the head.
func (f *Fetcher) FetchPage(
	ctx context.Context,
	thread replyfeed.Thread,
	pivot int64,
	direction replyfeed.FetchDirection,
	limit int,
) (replyfeed.Page, error) {
	if limit <= 0 {
		return replyfeed.Page{}, fmt.Errorf("fetch page %s root %d: limit must be > 0", direction, thread.RootID)
	}

	input, err := f.peers.InputPeer(thread.PeerID)
	if err != nil {
		return replyfeed.Page{}, fmt.Errorf("fetch page %s root %d: %w", direction, thread.RootID, err)
	}

	addOffset := 0
	switch direction {
	case replyfeed.FetchAround:
		if pivot != 0 {
			addOffset = -limit / 2
		}
	case replyfeed.FetchOlder:
		addOffset = 0
	case replyfeed.FetchNewer:
		addOffset = -limit
	default:
		return replyfeed.Page{}, fmt.Errorf("fetch page root %d: unsupported direction %d", thread.RootID, int(direction))
	}

	rpcCtx, cancel := context.WithTimeout(ctx, f.rpcTimeout)
	defer cancel()

	result, err := f.rpc.MessagesGetReplies(rpcCtx, &tg.MessagesGetRepliesRequest{
		Peer:      input,
		MsgID:     int(thread.RootID),
		OffsetID:  int(pivot),
		AddOffset: addOffset,
		Limit:     limit,
	})
	if err != nil {
		if seconds, ok := tgerr.AsFloodWait(err); ok {
			f.logger.Warn("telegram flood wait on page fetch",
				"peer", thread.PeerID, "root", thread.RootID, "direction", direction.String(), "wait", seconds)
		}
		return replyfeed.Page{}, fmt.Errorf("fetch page %s root %d: %w", direction, thread.RootID, err)
	}

	page, err := decodePage(f.logger, thread.PeerID, result)
	if err != nil {
		return replyfeed.Page{}, fmt.Errorf("fetch page %s root %d: %w", direction, thread.RootID, err)
	}

	return page, nil
}

// StaticPeers is a fixed peer resolver for configurations that name their
// peers up front.
type StaticPeers struct {
	peers map[int64]tg.InputPeerClass
}

// NewStaticPeers creates a resolver over a fixed peer table.
func NewStaticPeers(peers map[int64]tg.InputPeerClass) *StaticPeers {
	cloned := make(map[int64]tg.InputPeerClass, len(peers))
	for id, input := range peers {
		cloned[id] = input
	}

	return &StaticPeers{peers: cloned}
}

// InputPeer returns the input reference for one peer id.
func (p *StaticPeers) InputPeer(peerID int64) (tg.InputPeerClass, error) {
	input, found := p.peers[peerID]
	if !found {
		return nil, fmt.Errorf("resolve peer %d: %w", peerID, replyfeed.ErrUnknownPeer)
	}

	return input, nil
}

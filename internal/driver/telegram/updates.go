package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gotd/td/tg"

	"replyfeed/pkg/replyfeed"
)

// UpdateMapperOption mutates update mapper configuration.
type UpdateMapperOption func(*UpdateMapper)

// WithMapperLogger injects a structured logger.
func WithMapperLogger(logger *slog.Logger) UpdateMapperOption {
	return func(m *UpdateMapper) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithWatchedPeers names the peers whose plain (non-channel) deletions the
// mapper should attribute via store lookup. Plain delete updates carry no
// peer reference on the wire.
func WithWatchedPeers(peerIDs ...int64) UpdateMapperOption {
	return func(m *UpdateMapper) {
		m.watched = append([]int64(nil), peerIDs...)
	}
}

// UpdateMapper converts gotd update classes into neutral live updates.
// New messages are upserted into the owning store before being announced;
// deletions are resolved against the store so that thread attribution
// survives the wire format's missing fields.
type UpdateMapper struct {
	store   replyfeed.MessageStore
	logger  *slog.Logger
	watched []int64
}

// NewUpdateMapper creates a mapper bound to the owning message store.
func NewUpdateMapper(store replyfeed.MessageStore, opts ...UpdateMapperOption) (*UpdateMapper, error) {
	if store == nil {
		return nil, fmt.Errorf("new update mapper: nil message store")
	}

	m := &UpdateMapper{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Map converts one raw update. Unsupported update classes yield no events
// and no error; the caller simply moves on.
func (m *UpdateMapper) Map(ctx context.Context, update tg.UpdateClass) ([]replyfeed.Update, error) {
	switch typed := update.(type) {
	case *tg.UpdateNewMessage:
		return m.mapNewMessage(ctx, typed.Message)
	case *tg.UpdateNewChannelMessage:
		return m.mapNewMessage(ctx, typed.Message)
	case *tg.UpdateDeleteChannelMessages:
		return m.mapDeletions(ctx, []int64{typed.ChannelID}, typed.Messages)
	case *tg.UpdateDeleteMessages:
		return m.mapDeletions(ctx, m.watched, typed.Messages)
	default:
		return nil, nil
	}
}

// mapNewMessage upserts the message and announces an insert for threaded
// messages only; top-level messages have no thread to reconcile.
func (m *UpdateMapper) mapNewMessage(ctx context.Context, message tg.MessageClass) ([]replyfeed.Update, error) {
	typed, ok := message.(*tg.Message)
	if !ok {
		return nil, nil
	}

	item := mapMessage(peerIDOf(typed.PeerID), typed)
	if _, err := m.store.Upsert(ctx, []replyfeed.RawItem{item}); err != nil {
		return nil, fmt.Errorf("map new message %d: %w", item.ID, err)
	}
	if item.RootID == 0 {
		return nil, nil
	}

	return []replyfeed.Update{{
		Thread: replyfeed.Thread{PeerID: item.PeerID, RootID: item.RootID},
		Kind:   replyfeed.UpdateInserted,
		ID:     item.ID,
	}}, nil
}

// mapDeletions resolves deleted ids against the store across the candidate
// peers. Ids the store never saw cannot be attributed to a thread and are
// dropped; removing them from any window would be a no-op anyway.
func (m *UpdateMapper) mapDeletions(ctx context.Context, peerIDs []int64, messageIDs []int) ([]replyfeed.Update, error) {
	updates := make([]replyfeed.Update, 0, len(messageIDs))
	for _, messageID := range messageIDs {
		for _, peerID := range peerIDs {
			item, found, err := m.store.Get(ctx, peerID, int64(messageID))
			if err != nil {
				return nil, fmt.Errorf("map deletion %d: %w", messageID, err)
			}
			if !found {
				continue
			}
			if item.RootID != 0 {
				updates = append(updates, replyfeed.Update{
					Thread: replyfeed.Thread{PeerID: peerID, RootID: item.RootID},
					Kind:   replyfeed.UpdateRemoved,
					ID:     item.ID,
				})
			}
			break
		}
	}

	return updates, nil
}

package telegram

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gotd/td/tg"

	"replyfeed/pkg/replyfeed"
)

// decodePage maps one messages.getReplies response variant to a neutral
// page. The count hint is the response's own total: the plain variant has
// no explicit count so the item count stands in, slice and channel variants
// carry one, and channel variants additionally carry a pts tag.
//
// A messagesNotModified here is a protocol anomaly (no hash was sent with
// the request); it is logged and treated as zero items.
func decodePage(logger *slog.Logger, peerID int64, result tg.MessagesMessagesClass) (replyfeed.Page, error) {
	switch typed := result.(type) {
	case *tg.MessagesMessages:
		items := mapMessages(peerID, typed.Messages)
		return replyfeed.Page{
			Items:     items,
			TotalHint: replyfeed.Known(len(typed.Messages)),
		}, nil
	case *tg.MessagesMessagesSlice:
		return replyfeed.Page{
			Items:     mapMessages(peerID, typed.Messages),
			TotalHint: replyfeed.Known(typed.Count),
		}, nil
	case *tg.MessagesChannelMessages:
		return replyfeed.Page{
			Items:     mapMessages(peerID, typed.Messages),
			TotalHint: replyfeed.Known(typed.Count),
			Pts:       typed.Pts,
		}, nil
	case *tg.MessagesMessagesNotModified:
		logger.Warn("received messages.messagesNotModified for replies page", "peer", peerID)
		return replyfeed.Page{TotalHint: replyfeed.Known(0)}, nil
	default:
		return replyfeed.Page{}, fmt.Errorf("decode replies page: unsupported variant %s", result.TypeName())
	}
}

// mapMessages converts the response message list, keeping the transport's
// newest-first order. Empty and service messages carry no thread content
// and are skipped.
func mapMessages(peerID int64, messages []tg.MessageClass) []replyfeed.RawItem {
	items := make([]replyfeed.RawItem, 0, len(messages))
	for _, message := range messages {
		typed, ok := message.(*tg.Message)
		if !ok {
			continue
		}
		items = append(items, mapMessage(peerID, typed))
	}

	return items
}

// mapMessage flattens one message: the thread root is the reply header's
// top id when present, otherwise the direct reply target.
func mapMessage(peerID int64, message *tg.Message) replyfeed.RawItem {
	item := replyfeed.RawItem{
		PeerID: peerID,
		ID:     int64(message.ID),
		Text:   message.Message,
		Date:   time.Unix(int64(message.Date), 0).UTC(),
	}
	if from, ok := message.GetFromID(); ok {
		item.From = peerName(from)
	}
	if replyTo, ok := message.GetReplyTo(); ok {
		if header, ok := replyTo.(*tg.MessageReplyHeader); ok {
			if topID, ok := header.GetReplyToTopID(); ok {
				item.RootID = int64(topID)
			} else if replyToID, ok := header.GetReplyToMsgID(); ok {
				item.RootID = int64(replyToID)
			}
		}
	}

	return item
}

// peerName renders a short author tag; full identity resolution belongs to
// the session layer, not this cache.
func peerName(peer tg.PeerClass) string {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return fmt.Sprintf("user:%d", typed.UserID)
	case *tg.PeerChat:
		return fmt.Sprintf("chat:%d", typed.ChatID)
	case *tg.PeerChannel:
		return fmt.Sprintf("channel:%d", typed.ChannelID)
	default:
		return ""
	}
}

// peerIDOf extracts the bare peer id used as the neutral container key.
func peerIDOf(peer tg.PeerClass) int64 {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return typed.UserID
	case *tg.PeerChat:
		return typed.ChatID
	case *tg.PeerChannel:
		return typed.ChannelID
	default:
		return 0
	}
}

package telegram

import (
	"context"
	"fmt"

	"github.com/gotd/td/tg"
)

const defaultUpdateBuffer = 256

// UpdateChannel bridges the gotd update callback into a consumable stream
// of single update units. It satisfies the client's UpdateHandler option.
type UpdateChannel struct {
	updates chan tg.UpdateClass
}

// NewUpdateChannel creates a buffered update bridge.
func NewUpdateChannel(buffer int) *UpdateChannel {
	if buffer <= 0 {
		buffer = defaultUpdateBuffer
	}

	return &UpdateChannel{updates: make(chan tg.UpdateClass, buffer)}
}

// Updates returns the stream of flattened update units.
func (c *UpdateChannel) Updates() <-chan tg.UpdateClass {
	return c.updates
}

// Handle flattens one update container and forwards each unit, blocking on
// a full buffer until the consumer drains or ctx ends.
func (c *UpdateChannel) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	units, err := flattenUpdates(updates)
	if err != nil {
		return fmt.Errorf("handle updates: %w", err)
	}

	for _, unit := range units {
		select {
		case c.updates <- unit:
		case <-ctx.Done():
			return fmt.Errorf("handle updates: %w", ctx.Err())
		}
	}

	return nil
}

// flattenUpdates unpacks the update container variants. Short variants
// carry direct-dialog traffic compacted without an update list; reply
// threads live in channels and groups, which arrive through the full
// containers, so shorts are skipped rather than reconstructed.
func flattenUpdates(updates tg.UpdatesClass) ([]tg.UpdateClass, error) {
	if updates == nil {
		return nil, fmt.Errorf("flatten updates: nil container")
	}

	switch typed := updates.(type) {
	case *tg.Updates:
		return typed.Updates, nil
	case *tg.UpdatesCombined:
		return typed.Updates, nil
	case *tg.UpdateShort:
		return []tg.UpdateClass{typed.Update}, nil
	case *tg.UpdatesTooLong, *tg.UpdateShortMessage, *tg.UpdateShortChatMessage, *tg.UpdateShortSentMessage:
		return nil, nil
	default:
		return nil, fmt.Errorf("flatten updates: unsupported container %s", updates.TypeName())
	}
}

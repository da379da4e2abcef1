package chat

import "time"

// GroupWindow is the maximum gap between two image messages that still
// renders them as one cluster.
const GroupWindow = 5 * time.Second

// A RenderItem is one visual entry in the message list: either a single
// message or a run of two or more image messages rendered as one cluster.
type RenderItem struct {
	Messages []Message
}

// Grouped reports whether the item renders as an image cluster.
func (it RenderItem) Grouped() bool {
	return len(it.Messages) > 1
}

// First returns the leading message. A cluster shares the first message's
// timestamp in its footer.
func (it RenderItem) First() Message {
	return it.Messages[0]
}

// GroupForRender converts a conversation-ordered message list into render
// items, merging consecutive image messages from the same side of the
// conversation when they were created within GroupWindow of each other.
// The function is pure and idempotent over Flatten; it is safe to call on
// every render.
func GroupForRender(msgs []Message, currentUserID string) []RenderItem {
	var (
		out    []RenderItem
		buffer []Message
	)

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		out = append(out, RenderItem{Messages: buffer})
		buffer = nil
	}

	for _, msg := range msgs {
		if msg.Type != TypeImage {
			flush()
			out = append(out, RenderItem{Messages: []Message{msg}})
			continue
		}
		if len(buffer) > 0 {
			prev := buffer[len(buffer)-1]
			sameSide := (prev.SenderID == currentUserID) == (msg.SenderID == currentUserID)
			gap := msg.CreatedAt.Sub(prev.CreatedAt)
			if gap < 0 {
				gap = -gap
			}
			if sameSide && prev.Type == TypeImage && gap < GroupWindow {
				buffer = append(buffer, msg)
				continue
			}
			flush()
		}
		buffer = []Message{msg}
	}
	flush()

	return out
}

// Flatten restores the plain message list from render items.
func Flatten(items []RenderItem) []Message {
	var out []Message
	for _, it := range items {
		out = append(out, it.Messages...)
	}
	return out
}

package chat

// ScrollActionKind enumerates what the view should do after a list
// mutation.
type ScrollActionKind int

const (
	// ScrollNone leaves the view alone.
	ScrollNone ScrollActionKind = iota
	// ScrollJumpToBottom scrolls to the newest message.
	ScrollJumpToBottom
	// ScrollRestoreOffset re-applies a prior pixel offset, without
	// animation, synchronously after the list re-renders.
	ScrollRestoreOffset
)

// A ScrollAction tells the view how to react to a list mutation.
type ScrollAction struct {
	Kind    ScrollActionKind
	OffsetY float64
}

// JumpToBottom scrolls to the newest message.
func JumpToBottom() ScrollAction {
	return ScrollAction{Kind: ScrollJumpToBottom}
}

// RestoreOffset re-anchors the view to its previous pixel offset.
func RestoreOffset(y float64) ScrollAction {
	return ScrollAction{Kind: ScrollRestoreOffset, OffsetY: y}
}

// Reconcile merges a freshly polled server message list into the local
// list and decides how the view should follow.
//
// The server list is authoritative: the local list is replaced wholesale
// so content edits, reactions and deletions are always reflected. Pending
// local messages are not re-appended after the replace; either the server
// write completed and the message is already present under its real id,
// or it is still in flight and will appear on a later poll. The send path
// owns optimistic display between polls.
//
// The first successful fetch (empty local list) always jumps to the
// bottom. Afterwards the view only follows new messages when the user was
// already at the bottom and not dragging; in every other case with new
// content the prior offset is restored so reading position is preserved.
func Reconcile(local, server []Message, scroll ScrollState) ([]Message, ScrollAction) {
	if len(local) == 0 {
		return server, JumpToBottom()
	}

	hasNew := len(server) > countConfirmed(local)

	switch {
	case scroll.Dragging:
		return server, RestoreOffset(scroll.OffsetY)
	case hasNew && scroll.AtBottom():
		return server, JumpToBottom()
	case hasNew:
		return server, RestoreOffset(scroll.OffsetY)
	default:
		return server, ScrollAction{Kind: ScrollNone}
	}
}

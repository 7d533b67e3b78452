package msgsync

import (
	"time"
)

// DefaultPageSize is the number of messages fetched per history page.
const DefaultPageSize = 20

// MessageWindow is the materialized slice of the open conversation's
// history. It is owned by the session loop and never locked; all mutation
// happens on that one goroutine. The window is always sorted ascending by
// creation time.
type MessageWindow struct {
	pageSize       int
	conversationID int64
	messages       []Message
	hasMore        bool
	loading        bool
}

// NewMessageWindow builds an empty window with the given page size.
func NewMessageWindow(pageSize int) *MessageWindow {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &MessageWindow{pageSize: pageSize}
}

// PageSize returns the configured fetch page size.
func (w *MessageWindow) PageSize() int { return w.pageSize }

// ConversationID returns the conversation the window belongs to, 0 when no
// conversation is open.
func (w *MessageWindow) ConversationID() int64 { return w.conversationID }

// HasMore reports whether older pages exist on the platform.
func (w *MessageWindow) HasMore() bool { return w.hasMore }

// Len returns the number of held entries, placeholders included.
func (w *MessageWindow) Len() int { return len(w.messages) }

// Messages returns a copy of the window contents, oldest first.
func (w *MessageWindow) Messages() []Message {
	out := make([]Message, len(w.messages))
	copy(out, w.messages)
	return out
}

// Reset discards the window and retargets it at a conversation. Passing 0
// leaves no conversation open.
func (w *MessageWindow) Reset(conversationID int64) {
	w.conversationID = conversationID
	w.messages = nil
	w.hasMore = false
	w.loading = false
}

// ApplyInitial installs the most recent page, given ascending by creation
// time, and the conversation's total row count. The page is discarded when
// the window has been retargeted since the fetch was issued.
func (w *MessageWindow) ApplyInitial(conversationID int64, page []Message, total int) bool {
	if conversationID != w.conversationID {
		return false
	}
	w.messages = append(w.messages[:0], page...)
	w.hasMore = total > len(page)
	w.loading = false
	return true
}

// BeginOlder starts a backward pagination fetch. It returns the timestamp
// strictly before which to fetch, or ok=false when no fetch should be
// issued: a load is already in flight, no older pages exist, or the window
// is empty.
func (w *MessageWindow) BeginOlder() (before time.Time, ok bool) {
	if w.loading || !w.hasMore || len(w.messages) == 0 {
		return time.Time{}, false
	}
	w.loading = true
	return w.messages[0].CreatedAt, true
}

// ApplyOlder prepends a fetched page of strictly-older messages, ascending.
// Entries not older than the current minimum are dropped so the ordering
// invariant survives duplicate or overlapping fetches. Returns the number
// of entries prepended.
func (w *MessageWindow) ApplyOlder(conversationID int64, older []Message) int {
	w.loading = false
	if conversationID != w.conversationID {
		return 0
	}

	w.hasMore = len(older) == w.pageSize

	if len(w.messages) > 0 {
		oldest := w.messages[0].CreatedAt
		kept := older[:0:0]
		for _, m := range older {
			if m.CreatedAt.Before(oldest) {
				kept = append(kept, m)
			}
		}
		older = kept
	}
	if len(older) == 0 {
		return 0
	}

	w.messages = append(append([]Message{}, older...), w.messages...)
	return len(older)
}

// AbortOlder clears the in-flight guard after a failed pagination fetch,
// leaving the prior window intact.
func (w *MessageWindow) AbortOlder() {
	w.loading = false
}

// AppendIncoming inserts a message near the tail, keeping ascending order.
// Confirmed ids already present are no-ops, tolerating duplicate delivery
// from the event stream. Placeholders are never merged here; that is the
// send tracker's job.
func (w *MessageWindow) AppendIncoming(m Message) bool {
	if id, ok := m.ID.Server(); ok && w.ContainsServer(id) {
		return false
	}

	i := len(w.messages)
	for i > 0 && w.messages[i-1].CreatedAt.After(m.CreatedAt) {
		i--
	}
	w.messages = append(w.messages, Message{})
	copy(w.messages[i+1:], w.messages[i:])
	w.messages[i] = m
	return true
}

// ContainsServer reports whether a confirmed id is already in the window.
func (w *MessageWindow) ContainsServer(id int64) bool {
	for _, m := range w.messages {
		if got, ok := m.ID.Server(); ok && got == id {
			return true
		}
	}
	return false
}

// RemovePlaceholder removes a placeholder entry by id.
func (w *MessageWindow) RemovePlaceholder(id MessageID) (Message, bool) {
	if !id.IsPlaceholder() {
		return Message{}, false
	}
	for i, m := range w.messages {
		if m.ID == id {
			w.messages = append(w.messages[:i], w.messages[i+1:]...)
			return m, true
		}
	}
	return Message{}, false
}

// DropPlaceholders removes every placeholder entry and returns them. Used
// when a confirmed insert arrives over the realtime stream before the send
// request settles.
func (w *MessageWindow) DropPlaceholders() []Message {
	var dropped []Message
	kept := w.messages[:0]
	for _, m := range w.messages {
		if m.ID.IsPlaceholder() {
			dropped = append(dropped, m)
			continue
		}
		kept = append(kept, m)
	}
	w.messages = kept
	return dropped
}

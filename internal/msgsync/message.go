// Package msgsync is the client-side synchronization engine for the
// messaging module: it keeps an in-memory conversation list and a paginated
// message window consistent with the data platform through request/response
// fetches, optimistic sends, and realtime row-change events.
package msgsync

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/landtalk/internal/backend"
)

// MessageID is either a server-assigned id or a client-local placeholder
// minted for an optimistic send. Placeholder ids never reach the platform.
type MessageID struct {
	server int64
	temp   string
}

// ConfirmedID wraps a server-assigned message id.
func ConfirmedID(id int64) MessageID {
	return MessageID{server: id}
}

// NewPlaceholderID mints a fresh client-local id.
func NewPlaceholderID() MessageID {
	return MessageID{temp: uuid.NewString()}
}

// IsPlaceholder reports whether the id is a client-local placeholder.
func (id MessageID) IsPlaceholder() bool {
	return id.temp != ""
}

// Server returns the server-assigned id, if confirmed.
func (id MessageID) Server() (int64, bool) {
	if id.IsPlaceholder() {
		return 0, false
	}
	return id.server, true
}

func (id MessageID) String() string {
	if id.IsPlaceholder() {
		return "tmp:" + id.temp
	}
	return "msg:" + strconv.FormatInt(id.server, 10)
}

// Message is a window entry: either a confirmed platform row or an
// optimistic placeholder awaiting acknowledgment.
type Message struct {
	ID             MessageID
	ConversationID int64
	SenderID       int64
	SenderName     string
	Body           string
	CreatedAt      time.Time
}

// FromBackend converts a platform row into a confirmed window entry.
func FromBackend(m backend.Message) Message {
	msg := Message{
		ID:             ConfirmedID(m.ID),
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		CreatedAt:      m.CreatedAt,
	}
	if m.Sender != nil {
		msg.SenderName = m.Sender.FullName
	}
	return msg
}

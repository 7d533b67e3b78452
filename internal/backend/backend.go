// Package backend is the thin client surface over the managed data platform.
// The sync engine depends only on the Querier and Realtime interfaces; the
// HTTP and websocket implementations in this package speak the platform's
// filter dialect underneath.
package backend

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("row not found")
	// ErrUnauthorized is returned when the platform rejects the bearer token.
	ErrUnauthorized = errors.New("unauthorized")
)

// MessagePage is one paged slice of a conversation's history.
type MessagePage struct {
	// Messages are sorted ascending by creation time.
	Messages []Message
	// Total is the full row count for the conversation, used to decide
	// whether older pages exist.
	Total int
}

// Querier issues query/command calls against the platform tables.
type Querier interface {
	// ListConversations returns all conversations the viewer participates
	// in, newest activity first, with participant rows embedded.
	ListConversations(ctx context.Context, viewerID int64) ([]Conversation, error)

	// GetConversation fetches one conversation with participants embedded.
	GetConversation(ctx context.Context, id int64) (*Conversation, error)

	// CreateConversation opens a new thread between the viewer and a worker.
	CreateConversation(ctx context.Context, createdBy, workerID int64, subject string) (*Conversation, error)

	// CloseConversation marks a conversation closed.
	CloseConversation(ctx context.Context, id int64) error

	// ListMessages returns the most recent page of a conversation together
	// with the total row count.
	ListMessages(ctx context.Context, conversationID int64, limit int) (*MessagePage, error)

	// ListMessagesBefore returns up to limit messages strictly older than
	// before, ascending by creation time.
	ListMessagesBefore(ctx context.Context, conversationID int64, before time.Time, limit int) ([]Message, error)

	// CreateMessage persists a message and returns the server-assigned row.
	CreateMessage(ctx context.Context, conversationID, senderID int64, body string) (*Message, error)

	// GetUser fetches one user row.
	GetUser(ctx context.Context, id int64) (*User, error)

	// CountUnread returns unread message-notification counts keyed by
	// conversation id.
	CountUnread(ctx context.Context, viewerID int64) (map[int64]int, error)

	// MarkConversationRead marks the viewer's message notifications for a
	// conversation as read.
	MarkConversationRead(ctx context.Context, viewerID, conversationID int64) error
}

// ChangeKind is the row-level event type delivered by the realtime channel.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
)

// Change describes one row insert/update on a watched table. Exactly one of
// Conversation or Message is set, matching Table.
type Change struct {
	Table        string        `json:"table"`
	Kind         ChangeKind    `json:"kind"`
	Conversation *Conversation `json:"conversation,omitempty"`
	Message      *Message      `json:"message,omitempty"`
}

// StreamFilter narrows a subscription to one table and event kind, with an
// optional column equality predicate. Column empty means no predicate.
type StreamFilter struct {
	Table  string     `json:"table"`
	Kind   ChangeKind `json:"kind"`
	Column string     `json:"column,omitempty"`
	Value  int64      `json:"value,omitempty"`
}

// Realtime delivers push notifications for row changes. Subscribe returns a
// receive channel and a cancel function; the channel is closed after cancel.
// Callers must pair every Subscribe with its cancel to avoid leaked
// listeners accumulating across conversation switches.
type Realtime interface {
	Subscribe(filter StreamFilter) (<-chan Change, func(), error)
}

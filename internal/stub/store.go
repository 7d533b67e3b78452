// Package stub is a self-hostable development backend: SQLite persistence,
// a REST API speaking the platform filter dialect the client uses, and a
// websocket change feed. It exists so the sync engine can run and be
// exercised without the managed data platform.
package stub

import (
	"context"
	"time"

	"github.com/vovakirdan/landtalk/internal/backend"
)

// Store handles persistence for the stub backend. Rows are the same shapes
// the client consumes.
type Store interface {
	// CreateUser inserts a user with a bcrypt password hash.
	CreateUser(ctx context.Context, fullName, email, role, passwordHash string) (*backend.User, error)

	// GetUserByID retrieves a user row.
	GetUserByID(ctx context.Context, id int64) (*backend.User, error)

	// GetUserByEmail retrieves a user row plus its password hash.
	GetUserByEmail(ctx context.Context, email string) (*backend.User, string, error)

	// CountUsers returns the number of users, used to decide seeding.
	CountUsers(ctx context.Context) (int, error)

	// CreateConversation inserts a conversation and returns it with
	// participants embedded.
	CreateConversation(ctx context.Context, createdBy, workerID int64, subject string) (*backend.Conversation, error)

	// GetConversation retrieves a conversation with participants embedded.
	GetConversation(ctx context.Context, id int64) (*backend.Conversation, error)

	// ListConversations returns a participant's conversations, newest
	// activity first, with participants and the last message embedded.
	ListConversations(ctx context.Context, participantID int64) ([]backend.Conversation, error)

	// SetConversationStatus updates the status and bumps updated_at.
	SetConversationStatus(ctx context.Context, id int64, status backend.ConversationStatus) (*backend.Conversation, error)

	// CreateMessage inserts a message, bumps the conversation's
	// updated_at, and writes an unread notification for the other
	// participant. Returns the row with the sender embedded.
	CreateMessage(ctx context.Context, conversationID, senderID int64, body string) (*backend.Message, error)

	// ListMessages returns a newest-first page of a conversation's
	// messages with senders embedded, plus the conversation's total row
	// count. A non-nil before restricts to rows strictly older than it.
	ListMessages(ctx context.Context, conversationID int64, before *time.Time, limit int) ([]backend.Message, int, error)

	// ListUnread returns a user's unread message notifications.
	ListUnread(ctx context.Context, userID int64) ([]backend.Notification, error)

	// MarkRead marks a user's message notifications for one conversation
	// as read.
	MarkRead(ctx context.Context, userID, referenceID int64) error

	// Close releases the underlying database.
	Close() error
}

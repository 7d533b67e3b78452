package backend

import "time"

// Table names as consumed from the data platform.
const (
	TableConversations = "conversations"
	TableMessages      = "messages"
	TableNotifications = "notifications"
	TableUsers         = "users"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationOpen   ConversationStatus = "open"
	ConversationClosed ConversationStatus = "closed"
)

// NotificationMessage marks a notification as referring to a new message.
const NotificationMessage = "message"

// User is a row from the users table.
type User struct {
	ID        int64     `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is a row from the conversations table. Creator and Worker are
// populated when the row is fetched with embedded joins, nil otherwise.
type Conversation struct {
	ID        int64              `json:"id"`
	CreatedBy int64              `json:"created_by"`
	WorkerID  int64              `json:"worker_id"`
	Subject   string             `json:"subject"`
	Status    ConversationStatus `json:"status"`
	UpdatedAt time.Time          `json:"updated_at"`
	Creator   *User              `json:"creator,omitempty"`
	Worker    *User              `json:"worker,omitempty"`
	// LastMessage is denormalized onto list fetches for the conversation
	// overview; nil on single-row fetches without the embed.
	LastMessage *Message `json:"last_message,omitempty"`
}

// Involves reports whether the user is one of the two parties.
func (c *Conversation) Involves(userID int64) bool {
	return c.CreatedBy == userID || c.WorkerID == userID
}

// OtherParty returns the participant that is not the viewer, when embedded.
func (c *Conversation) OtherParty(viewerID int64) *User {
	if c.CreatedBy == viewerID {
		return c.Worker
	}
	return c.Creator
}

// Message is a row from the messages table. Sender is populated on joined
// fetches, nil otherwise.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
	Sender         *User     `json:"sender,omitempty"`
}

// Notification is a row from the notifications table. ReferenceID points at
// the conversation the notification belongs to.
type Notification struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	ReferenceID int64     `json:"reference_id"`
	Type        string    `json:"type"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}

package msgsync

import (
	"errors"
	"time"
)

// ErrEmptyMessage is returned when a send is attempted with an empty or
// whitespace-only body.
var ErrEmptyMessage = errors.New("message body is empty")

// SendState is the lifecycle of one optimistic send attempt.
type SendState int

const (
	SendPending SendState = iota
	SendConfirmed
	SendFailed
)

type sendAttempt struct {
	id             MessageID
	conversationID int64
	body           string
	state          SendState
	startedAt      time.Time
}

// OptimisticSendTracker records in-flight send attempts keyed by their
// placeholder id. At most one placeholder exists per attempt, and a settled
// attempt (confirmed or failed) always leaves the tracker.
type OptimisticSendTracker struct {
	attempts map[MessageID]*sendAttempt
}

// NewOptimisticSendTracker builds an empty tracker.
func NewOptimisticSendTracker() *OptimisticSendTracker {
	return &OptimisticSendTracker{attempts: make(map[MessageID]*sendAttempt)}
}

// Begin registers a pending attempt and returns the placeholder entry to
// insert into the window. The body must already be validated and sanitized.
func (t *OptimisticSendTracker) Begin(conversationID, senderID int64, senderName, body string) Message {
	now := time.Now()
	id := NewPlaceholderID()
	t.attempts[id] = &sendAttempt{
		id:             id,
		conversationID: conversationID,
		body:           body,
		state:          SendPending,
		startedAt:      now,
	}
	return Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderName:     senderName,
		Body:           body,
		CreatedAt:      now,
	}
}

// Confirm settles an attempt as acknowledged and removes it. Returns false
// when the placeholder is unknown, which happens after the realtime stream
// already delivered the confirmed row and dropped the placeholder.
func (t *OptimisticSendTracker) Confirm(id MessageID) bool {
	a, ok := t.attempts[id]
	if !ok {
		return false
	}
	a.state = SendConfirmed
	delete(t.attempts, id)
	return true
}

// Fail settles an attempt as failed, removes it, and returns the original
// body so the composer can be restored.
func (t *OptimisticSendTracker) Fail(id MessageID) (string, bool) {
	a, ok := t.attempts[id]
	if !ok {
		return "", false
	}
	a.state = SendFailed
	delete(t.attempts, id)
	return a.body, true
}

// Settle removes attempts whose placeholders were dropped from the window
// by the realtime stream for the given conversation.
func (t *OptimisticSendTracker) Settle(conversationID int64, dropped []Message) {
	for _, m := range dropped {
		if m.ConversationID == conversationID {
			delete(t.attempts, m.ID)
		}
	}
}

// Pending returns the number of unsettled attempts.
func (t *OptimisticSendTracker) Pending() int {
	return len(t.attempts)
}

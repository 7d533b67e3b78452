package msgsync

import (
	"sort"
	"time"

	"github.com/vovakirdan/landtalk/internal/backend"
)

// ConversationSummary is one entry of the conversation overview: the
// platform row plus the denormalized last message and the unread counter.
type ConversationSummary struct {
	Conversation backend.Conversation
	LastBody     string
	LastSenderID int64
	LastAt       time.Time
	Unread       int
}

func (s *ConversationSummary) lastActivity() time.Time {
	if s.LastAt.After(s.Conversation.UpdatedAt) {
		return s.LastAt
	}
	return s.Conversation.UpdatedAt
}

// ConversationStore holds the viewer's conversations sorted by last
// activity, newest first. Owned by the session loop; not safe for
// concurrent use.
type ConversationStore struct {
	viewerID int64
	items    []*ConversationSummary
}

// NewConversationStore builds an empty store for a viewer.
func NewConversationStore(viewerID int64) *ConversationStore {
	return &ConversationStore{viewerID: viewerID}
}

// SetAll replaces the store contents from a full platform fetch. Unread
// counts come from the notifications table; the platform is the source of
// truth on reconciliation.
func (cs *ConversationStore) SetAll(convs []backend.Conversation, unread map[int64]int) {
	cs.items = cs.items[:0]
	for _, c := range convs {
		s := &ConversationSummary{Conversation: c, Unread: unread[c.ID]}
		if c.LastMessage != nil {
			s.LastBody = c.LastMessage.Body
			s.LastSenderID = c.LastMessage.SenderID
			s.LastAt = c.LastMessage.CreatedAt
		}
		cs.items = append(cs.items, s)
	}
	cs.sortByActivity()
}

// Get returns the summary for a conversation id.
func (cs *ConversationStore) Get(id int64) (*ConversationSummary, bool) {
	for _, s := range cs.items {
		if s.Conversation.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Len returns the number of held conversations.
func (cs *ConversationStore) Len() int { return len(cs.items) }

// Snapshot returns a copy of the summaries, newest activity first.
func (cs *ConversationStore) Snapshot() []ConversationSummary {
	out := make([]ConversationSummary, 0, len(cs.items))
	for _, s := range cs.items {
		out = append(out, *s)
	}
	return out
}

// MergeUpdate folds a conversation update event into a known entry. Unknown
// ids are ignored rather than treated as inserts. Conflicts resolve
// last-write-wins by row timestamp, not arrival order: a stale update is
// dropped.
func (cs *ConversationStore) MergeUpdate(conv backend.Conversation) bool {
	s, ok := cs.Get(conv.ID)
	if !ok {
		return false
	}
	if conv.UpdatedAt.Before(s.Conversation.UpdatedAt) {
		return false
	}

	// Keep embedded participant rows when the event carries bare columns.
	if conv.Creator == nil {
		conv.Creator = s.Conversation.Creator
	}
	if conv.Worker == nil {
		conv.Worker = s.Conversation.Worker
	}
	if conv.LastMessage == nil {
		conv.LastMessage = s.Conversation.LastMessage
	}
	s.Conversation = conv
	cs.sortByActivity()
	return true
}

// Insert prepends a newly created conversation. No-op when the id is known
// or the viewer is not a participant.
func (cs *ConversationStore) Insert(conv backend.Conversation) bool {
	if !conv.Involves(cs.viewerID) {
		return false
	}
	if _, ok := cs.Get(conv.ID); ok {
		return false
	}
	s := &ConversationSummary{Conversation: conv}
	if conv.LastMessage != nil {
		s.LastBody = conv.LastMessage.Body
		s.LastSenderID = conv.LastMessage.SenderID
		s.LastAt = conv.LastMessage.CreatedAt
	}
	cs.items = append([]*ConversationSummary{s}, cs.items...)
	cs.sortByActivity()
	return true
}

// ApplyMessage updates the owning conversation's last-message fields and
// unread counter for one message. The unread counter moves only when the
// conversation is not open and the sender is not the viewer. Returns false
// when the conversation is unknown.
func (cs *ConversationStore) ApplyMessage(m Message, open bool) bool {
	s, ok := cs.Get(m.ConversationID)
	if !ok {
		return false
	}

	if !m.CreatedAt.Before(s.LastAt) {
		s.LastBody = m.Body
		s.LastSenderID = m.SenderID
		s.LastAt = m.CreatedAt
	}
	if s.Conversation.UpdatedAt.Before(m.CreatedAt) {
		s.Conversation.UpdatedAt = m.CreatedAt
	}
	if !open && m.SenderID != cs.viewerID {
		s.Unread++
	}
	cs.sortByActivity()
	return true
}

// ResetUnread zeroes the unread counter after the conversation's history
// has been fetched and its notifications marked read.
func (cs *ConversationStore) ResetUnread(id int64) {
	if s, ok := cs.Get(id); ok {
		s.Unread = 0
	}
}

func (cs *ConversationStore) sortByActivity() {
	sort.SliceStable(cs.items, func(i, j int) bool {
		return cs.items[i].lastActivity().After(cs.items[j].lastActivity())
	})
}

package msgsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/landtalk/internal/backend"
)

// fakeQuerier is an in-memory Querier with ascending per-conversation
// message logs.
type fakeQuerier struct {
	mu sync.Mutex

	users  map[int64]*backend.User
	convs  []backend.Conversation
	msgs   map[int64][]backend.Message
	unread map[int64]int

	nextMsgID  int64
	nextConvID int64

	createErr error

	listCalls    int
	beforeCalls  int
	createCalls  int
	markedRead   []int64
	resyncCalls  int
	getUserCalls int
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{
		users:      make(map[int64]*backend.User),
		msgs:       make(map[int64][]backend.Message),
		unread:     make(map[int64]int),
		nextMsgID:  1000,
		nextConvID: 100,
	}
}

func (f *fakeQuerier) addUser(id int64, name string) {
	f.users[id] = &backend.User{ID: id, FullName: name}
}

func (f *fakeQuerier) addConversation(id, createdBy, workerID int64, subject string, at time.Time) {
	f.convs = append(f.convs, backend.Conversation{
		ID:        id,
		CreatedBy: createdBy,
		WorkerID:  workerID,
		Subject:   subject,
		Status:    backend.ConversationOpen,
		UpdatedAt: at,
		Creator:   f.users[createdBy],
		Worker:    f.users[workerID],
	})
}

func (f *fakeQuerier) addMessage(convID, senderID int64, body string, at time.Time) backend.Message {
	f.nextMsgID++
	m := backend.Message{
		ID:             f.nextMsgID,
		ConversationID: convID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      at,
		Sender:         f.users[senderID],
	}
	f.msgs[convID] = append(f.msgs[convID], m)
	return m
}

func (f *fakeQuerier) ListConversations(_ context.Context, viewerID int64) ([]backend.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resyncCalls++
	var out []backend.Conversation
	for _, c := range f.convs {
		if c.Involves(viewerID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeQuerier) GetConversation(_ context.Context, id int64) (*backend.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.convs {
		if f.convs[i].ID == id {
			c := f.convs[i]
			return &c, nil
		}
	}
	return nil, backend.ErrNotFound
}

func (f *fakeQuerier) CreateConversation(_ context.Context, createdBy, workerID int64, subject string) (*backend.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextConvID++
	c := backend.Conversation{
		ID:        f.nextConvID,
		CreatedBy: createdBy,
		WorkerID:  workerID,
		Subject:   subject,
		Status:    backend.ConversationOpen,
		UpdatedAt: time.Now(),
		Creator:   f.users[createdBy],
		Worker:    f.users[workerID],
	}
	f.convs = append(f.convs, c)
	return &c, nil
}

func (f *fakeQuerier) CloseConversation(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.convs {
		if f.convs[i].ID == id {
			f.convs[i].Status = backend.ConversationClosed
			f.convs[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return backend.ErrNotFound
}

func (f *fakeQuerier) ListMessages(_ context.Context, conversationID int64, limit int) (*backend.MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	all := f.msgs[conversationID]
	start := len(all) - limit
	if start < 0 {
		start = 0
	}
	page := append([]backend.Message{}, all[start:]...)
	return &backend.MessagePage{Messages: page, Total: len(all)}, nil
}

func (f *fakeQuerier) ListMessagesBefore(_ context.Context, conversationID int64, before time.Time, limit int) ([]backend.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeCalls++
	var older []backend.Message
	for _, m := range f.msgs[conversationID] {
		if m.CreatedAt.Before(before) {
			older = append(older, m)
		}
	}
	if len(older) > limit {
		older = older[len(older)-limit:]
	}
	return append([]backend.Message{}, older...), nil
}

func (f *fakeQuerier) CreateMessage(_ context.Context, conversationID, senderID int64, body string) (*backend.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	m := f.addMessage(conversationID, senderID, body, time.Now())
	return &m, nil
}

func (f *fakeQuerier) GetUser(_ context.Context, id int64) (*backend.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getUserCalls++
	if u, ok := f.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, backend.ErrNotFound
}

func (f *fakeQuerier) CountUnread(_ context.Context, viewerID int64) (map[int64]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]int, len(f.unread))
	for k, v := range f.unread {
		out[k] = v
	}
	return out, nil
}

func (f *fakeQuerier) MarkConversationRead(_ context.Context, viewerID, conversationID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, conversationID)
	delete(f.unread, conversationID)
	return nil
}

// fakeRealtime records subscriptions and lets tests push changes.
type fakeRealtime struct {
	mu      sync.Mutex
	subs    []*fakeSub
	cancels int
}

type fakeSub struct {
	filter   backend.StreamFilter
	ch       chan backend.Change
	canceled bool
}

func newFakeRealtime() *fakeRealtime {
	return &fakeRealtime{}
}

func (f *fakeRealtime) Subscribe(filter backend.StreamFilter) (<-chan backend.Change, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &fakeSub{filter: filter, ch: make(chan backend.Change, 64)}
	f.subs = append(f.subs, sub)
	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !sub.canceled {
			sub.canceled = true
			close(sub.ch)
			f.cancels++
		}
	}
	return sub.ch, cancel, nil
}

func (f *fakeRealtime) push(change backend.Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.canceled || !fakeFilterMatches(sub.filter, change) {
			continue
		}
		sub.ch <- change
	}
}

func (f *fakeRealtime) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, sub := range f.subs {
		if !sub.canceled {
			n++
		}
	}
	return n
}

func fakeFilterMatches(f backend.StreamFilter, ch backend.Change) bool {
	if f.Table != ch.Table || f.Kind != ch.Kind {
		return false
	}
	if f.Column == "" {
		return true
	}
	switch ch.Table {
	case backend.TableConversations:
		switch f.Column {
		case "created_by":
			return ch.Conversation != nil && ch.Conversation.CreatedBy == f.Value
		case "worker_id":
			return ch.Conversation != nil && ch.Conversation.WorkerID == f.Value
		}
	case backend.TableMessages:
		if f.Column == "conversation_id" {
			return ch.Message != nil && ch.Message.ConversationID == f.Value
		}
	}
	return false
}

// recordingNotifier captures toasts for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	errors []string
	oks    []string
}

func (n *recordingNotifier) Success(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.oks = append(n.oks, msg)
}

func (n *recordingNotifier) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

func (n *recordingNotifier) errorCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.errors)
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

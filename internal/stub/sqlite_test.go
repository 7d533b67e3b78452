package stub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/landtalk/internal/backend"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func mustUser(t *testing.T, st *SQLiteStore, name, email, role string) *backend.User {
	t.Helper()
	u, err := st.CreateUser(context.Background(), name, email, role, "x")
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func TestSQLiteUsers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	u := mustUser(t, st, "Dana Reyes", "dana@landtalk.local", "agent")
	if u.ID == 0 || u.FullName != "Dana Reyes" {
		t.Fatalf("created user = %+v", u)
	}

	got, err := st.GetUserByID(ctx, u.ID)
	if err != nil || got.Email != "dana@landtalk.local" {
		t.Fatalf("GetUserByID = (%+v, %v)", got, err)
	}

	if _, err := st.GetUserByID(ctx, 999); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("missing user error = %v, want ErrNotFound", err)
	}

	byEmail, hash, err := st.GetUserByEmail(ctx, "dana@landtalk.local")
	if err != nil || byEmail.ID != u.ID || hash != "x" {
		t.Fatalf("GetUserByEmail = (%+v, %q, %v)", byEmail, hash, err)
	}

	n, err := st.CountUsers(ctx)
	if err != nil || n != 1 {
		t.Fatalf("CountUsers = (%d, %v)", n, err)
	}
}

func TestSQLiteConversations(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	agent := mustUser(t, st, "Dana Reyes", "dana@landtalk.local", "agent")
	worker := mustUser(t, st, "Omar Castillo", "omar@landtalk.local", "worker")
	other := mustUser(t, st, "Priya Nair", "priya@landtalk.local", "worker")

	conv, err := st.CreateConversation(ctx, agent.ID, worker.ID, "plot survey")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.Status != backend.ConversationOpen {
		t.Fatalf("status = %v, want open", conv.Status)
	}
	if conv.Creator == nil || conv.Creator.FullName != "Dana Reyes" {
		t.Fatalf("creator not embedded: %+v", conv.Creator)
	}
	if conv.Worker == nil || conv.Worker.FullName != "Omar Castillo" {
		t.Fatalf("worker not embedded: %+v", conv.Worker)
	}

	// The agent and the worker see it; an uninvolved user does not.
	for _, id := range []int64{agent.ID, worker.ID} {
		convs, err := st.ListConversations(ctx, id)
		if err != nil || len(convs) != 1 {
			t.Fatalf("ListConversations(%d) = (%d rows, %v)", id, len(convs), err)
		}
	}
	convs, err := st.ListConversations(ctx, other.ID)
	if err != nil || len(convs) != 0 {
		t.Fatalf("ListConversations(uninvolved) = (%d rows, %v)", len(convs), err)
	}

	closed, err := st.SetConversationStatus(ctx, conv.ID, backend.ConversationClosed)
	if err != nil || closed.Status != backend.ConversationClosed {
		t.Fatalf("SetConversationStatus = (%+v, %v)", closed, err)
	}
	if !closed.UpdatedAt.After(conv.UpdatedAt) && !closed.UpdatedAt.Equal(conv.UpdatedAt) {
		t.Fatalf("updated_at not bumped")
	}

	if _, err := st.SetConversationStatus(ctx, 999, backend.ConversationClosed); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("status update on missing row = %v, want ErrNotFound", err)
	}
}

func TestSQLiteMessagesAndNotifications(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	agent := mustUser(t, st, "Dana Reyes", "dana@landtalk.local", "agent")
	worker := mustUser(t, st, "Omar Castillo", "omar@landtalk.local", "worker")
	conv, err := st.CreateConversation(ctx, agent.ID, worker.ID, "plot survey")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	msg, err := st.CreateMessage(ctx, conv.ID, agent.ID, "can you visit the north plot?")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if msg.Sender == nil || msg.Sender.ID != agent.ID {
		t.Fatalf("sender not embedded: %+v", msg.Sender)
	}

	// The recipient got an unread notification; the sender did not.
	unread, err := st.ListUnread(ctx, worker.ID)
	if err != nil || len(unread) != 1 {
		t.Fatalf("ListUnread(recipient) = (%d, %v)", len(unread), err)
	}
	if unread[0].ReferenceID != conv.ID || unread[0].Type != backend.NotificationMessage {
		t.Fatalf("notification = %+v", unread[0])
	}
	if got, _ := st.ListUnread(ctx, agent.ID); len(got) != 0 {
		t.Fatalf("sender has %d unread notifications", len(got))
	}

	// Reply flows the other way.
	if _, err := st.CreateMessage(ctx, conv.ID, worker.ID, "yes, tomorrow morning"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if got, _ := st.ListUnread(ctx, agent.ID); len(got) != 1 {
		t.Fatalf("agent unread = %d, want 1", len(got))
	}

	if err := st.MarkRead(ctx, worker.ID, conv.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if got, _ := st.ListUnread(ctx, worker.ID); len(got) != 0 {
		t.Fatalf("unread after MarkRead = %d", len(got))
	}

	// The last message is embedded in the conversation listing.
	convs, err := st.ListConversations(ctx, agent.ID)
	if err != nil || len(convs) != 1 {
		t.Fatalf("ListConversations = (%d, %v)", len(convs), err)
	}
	if convs[0].LastMessage == nil || convs[0].LastMessage.Body != "yes, tomorrow morning" {
		t.Fatalf("last message = %+v", convs[0].LastMessage)
	}

	if _, err := st.CreateMessage(ctx, 999, agent.ID, "nope"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("message into missing conversation = %v, want ErrNotFound", err)
	}
}

func TestSQLiteListMessagesPagination(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	agent := mustUser(t, st, "Dana Reyes", "dana@landtalk.local", "agent")
	worker := mustUser(t, st, "Omar Castillo", "omar@landtalk.local", "worker")
	conv, err := st.CreateConversation(ctx, agent.ID, worker.ID, "plot survey")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	// Timestamps need to differ for the created_at cursor, so space the
	// inserts out directly.
	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 45; i++ {
		if _, err := st.db.ExecContext(ctx, `
			INSERT INTO messages (conversation_id, sender_id, body, created_at)
			VALUES (?, ?, ?, ?)
		`, conv.ID, agent.ID, "m", base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("insert message %d: %v", i, err)
		}
	}

	page, total, err := st.ListMessages(ctx, conv.ID, nil, 20)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if total != 45 || len(page) != 20 {
		t.Fatalf("page = %d rows, total = %d", len(page), total)
	}
	// Newest first.
	if !page[0].CreatedAt.After(page[19].CreatedAt) {
		t.Fatalf("page not newest-first")
	}

	cursor := page[len(page)-1].CreatedAt
	older, _, err := st.ListMessages(ctx, conv.ID, &cursor, 20)
	if err != nil {
		t.Fatalf("ListMessages before: %v", err)
	}
	if len(older) != 20 {
		t.Fatalf("second page = %d rows, want 20", len(older))
	}
	for _, m := range older {
		if !m.CreatedAt.Before(cursor) {
			t.Fatalf("cursor not strict: %v >= %v", m.CreatedAt, cursor)
		}
	}

	cursor = older[len(older)-1].CreatedAt
	last, _, err := st.ListMessages(ctx, conv.ID, &cursor, 20)
	if err != nil {
		t.Fatalf("ListMessages final page: %v", err)
	}
	if len(last) != 5 {
		t.Fatalf("final page = %d rows, want 5", len(last))
	}
}

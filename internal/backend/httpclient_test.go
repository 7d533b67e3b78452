package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token", zerolog.Nop())
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func TestClientListConversationsQuery(t *testing.T) {
	var gotQuery map[string]string
	var gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = map[string]string{
			"or":    r.URL.Query().Get("or"),
			"order": r.URL.Query().Get("order"),
			"embed": r.URL.Query().Get("embed"),
		}
		writeJSON(t, w, rowList[Conversation]{
			Items: []Conversation{{ID: 1, CreatedBy: 5, WorkerID: 9}},
			Total: 1,
		})
	})

	convs, err := c.ListConversations(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != 1 {
		t.Fatalf("convs = %+v", convs)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotQuery["or"] != "(created_by.eq.5,worker_id.eq.5)" {
		t.Fatalf("or filter = %q", gotQuery["or"])
	}
	if gotQuery["order"] != "updated_at.desc" || gotQuery["embed"] != "creator,worker" {
		t.Fatalf("query = %+v", gotQuery)
	}
}

func TestClientListMessagesReversesToAscending(t *testing.T) {
	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("conversation_id"); got != "eq.3" {
			t.Errorf("conversation_id filter = %q", got)
		}
		if got := r.URL.Query().Get("order"); got != "created_at.desc" {
			t.Errorf("order = %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "20" {
			t.Errorf("limit = %q", got)
		}
		// The platform answers newest first.
		writeJSON(t, w, rowList[Message]{
			Items: []Message{
				{ID: 3, ConversationID: 3, CreatedAt: base.Add(2 * time.Second)},
				{ID: 2, ConversationID: 3, CreatedAt: base.Add(time.Second)},
				{ID: 1, ConversationID: 3, CreatedAt: base},
			},
			Total: 45,
		})
	})

	page, err := c.ListMessages(context.Background(), 3, 20)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if page.Total != 45 || len(page.Messages) != 3 {
		t.Fatalf("page = %+v", page)
	}
	// The client hands pages to the window ascending.
	for i, want := range []int64{1, 2, 3} {
		if page.Messages[i].ID != want {
			t.Fatalf("message order = %v", page.Messages)
		}
	}
}

func TestClientListMessagesBeforeCursor(t *testing.T) {
	cursor := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		want := "lt." + cursor.Format(time.RFC3339Nano)
		if got := r.URL.Query().Get("created_at"); got != want {
			t.Errorf("created_at filter = %q, want %q", got, want)
		}
		writeJSON(t, w, rowList[Message]{Items: []Message{{ID: 1, CreatedAt: cursor.Add(-time.Second)}}, Total: 45})
	})

	msgs, err := c.ListMessagesBefore(context.Background(), 3, cursor, 20)
	if err != nil {
		t.Fatalf("ListMessagesBefore: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestClientCountUnread(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("user_id") != "eq.5" || q.Get("is_read") != "eq.false" || q.Get("type") != "eq.message" {
			t.Errorf("query = %v", q)
		}
		writeJSON(t, w, rowList[Notification]{
			Items: []Notification{
				{ID: 1, UserID: 5, ReferenceID: 7, Type: NotificationMessage},
				{ID: 2, UserID: 5, ReferenceID: 7, Type: NotificationMessage},
				{ID: 3, UserID: 5, ReferenceID: 9, Type: NotificationMessage},
			},
			Total: 3,
		})
	})

	counts, err := c.CountUnread(context.Background(), 5)
	if err != nil {
		t.Fatalf("CountUnread: %v", err)
	}
	if counts[7] != 2 || counts[9] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestClientErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		check  func(error) bool
		name   string
	}{
		{http.StatusUnauthorized, `{"error":"invalid token"}`, func(err error) bool { return errors.Is(err, ErrUnauthorized) }, "unauthorized"},
		{http.StatusNotFound, `{"error":"not found"}`, func(err error) bool { return errors.Is(err, ErrNotFound) }, "not found"},
		{http.StatusInternalServerError, `{"error":"boom"}`, func(err error) bool { return err != nil && !errors.Is(err, ErrNotFound) }, "server error"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(c.status)
				w.Write([]byte(c.body))
			})
			_, err := client.GetConversation(context.Background(), 1)
			if !c.check(err) {
				t.Fatalf("status %d mapped to %v", c.status, err)
			}
		})
	}
}

func TestClientCreateMessageBody(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(t, w, Message{ID: 11, ConversationID: 3, SenderID: 5, Body: "hi"})
	})

	msg, err := c.CreateMessage(context.Background(), 3, 5, "hi")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if msg.ID != 11 {
		t.Fatalf("msg = %+v", msg)
	}
	if got["conversation_id"] != float64(3) || got["sender_id"] != float64(5) || got["body"] != "hi" {
		t.Fatalf("request body = %v", got)
	}
}

func TestRealtimeURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"http://localhost:8080", "ws://localhost:8080/realtime"},
		{"https://api.example.com", "wss://api.example.com/realtime"},
	}
	for _, c := range cases {
		if got := RealtimeURL(c.in); got != c.want {
			t.Fatalf("RealtimeURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

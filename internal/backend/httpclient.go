package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// rowList is the envelope the platform returns for list queries.
type rowList[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// apiError is the platform's error response body.
type apiError struct {
	Error string `json:"error"`
}

// Client implements Querier over the platform's REST API. Filters are
// expressed in the platform dialect: `column=eq.value`, `column=lt.value`,
// `or=(a.eq.x,b.eq.y)`, `order=column.dir`, `limit`/`offset`, and `embed`
// for joined rows.
type Client struct {
	base  string
	token string
	http  *http.Client
	log   zerolog.Logger
}

// NewClient builds a Querier against the given base URL using a bearer token.
func NewClient(base, token string, logger zerolog.Logger) *Client {
	return &Client{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: 15 * time.Second},
		log:   logger,
	}
}

func (c *Client) ListConversations(ctx context.Context, viewerID int64) ([]Conversation, error) {
	q := url.Values{}
	q.Set("or", fmt.Sprintf("(created_by.eq.%d,worker_id.eq.%d)", viewerID, viewerID))
	q.Set("order", "updated_at.desc")
	q.Set("embed", "creator,worker")

	var list rowList[Conversation]
	if err := c.get(ctx, "/api/v1/conversations", q, &list); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return list.Items, nil
}

func (c *Client) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	q := url.Values{}
	q.Set("embed", "creator,worker")

	var conv Conversation
	if err := c.get(ctx, "/api/v1/conversations/"+strconv.FormatInt(id, 10), q, &conv); err != nil {
		return nil, fmt.Errorf("get conversation %d: %w", id, err)
	}
	return &conv, nil
}

func (c *Client) CreateConversation(ctx context.Context, createdBy, workerID int64, subject string) (*Conversation, error) {
	body := map[string]any{
		"created_by": createdBy,
		"worker_id":  workerID,
		"subject":    subject,
	}
	var conv Conversation
	if err := c.post(ctx, "/api/v1/conversations", body, &conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &conv, nil
}

func (c *Client) CloseConversation(ctx context.Context, id int64) error {
	body := map[string]any{"status": string(ConversationClosed)}
	if err := c.patch(ctx, "/api/v1/conversations/"+strconv.FormatInt(id, 10), body, nil); err != nil {
		return fmt.Errorf("close conversation %d: %w", id, err)
	}
	return nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID int64, limit int) (*MessagePage, error) {
	q := url.Values{}
	q.Set("conversation_id", "eq."+strconv.FormatInt(conversationID, 10))
	q.Set("order", "created_at.desc")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("embed", "sender")

	var list rowList[Message]
	if err := c.get(ctx, "/api/v1/messages", q, &list); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	reverse(list.Items)
	return &MessagePage{Messages: list.Items, Total: list.Total}, nil
}

func (c *Client) ListMessagesBefore(ctx context.Context, conversationID int64, before time.Time, limit int) ([]Message, error) {
	q := url.Values{}
	q.Set("conversation_id", "eq."+strconv.FormatInt(conversationID, 10))
	q.Set("created_at", "lt."+before.UTC().Format(time.RFC3339Nano))
	q.Set("order", "created_at.desc")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("embed", "sender")

	var list rowList[Message]
	if err := c.get(ctx, "/api/v1/messages", q, &list); err != nil {
		return nil, fmt.Errorf("list older messages: %w", err)
	}
	reverse(list.Items)
	return list.Items, nil
}

func (c *Client) CreateMessage(ctx context.Context, conversationID, senderID int64, body string) (*Message, error) {
	payload := map[string]any{
		"conversation_id": conversationID,
		"sender_id":       senderID,
		"body":            body,
	}
	var msg Message
	if err := c.post(ctx, "/api/v1/messages", payload, &msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &msg, nil
}

func (c *Client) GetUser(ctx context.Context, id int64) (*User, error) {
	var user User
	if err := c.get(ctx, "/api/v1/users/"+strconv.FormatInt(id, 10), nil, &user); err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &user, nil
}

func (c *Client) CountUnread(ctx context.Context, viewerID int64) (map[int64]int, error) {
	q := url.Values{}
	q.Set("user_id", "eq."+strconv.FormatInt(viewerID, 10))
	q.Set("is_read", "eq.false")
	q.Set("type", "eq."+NotificationMessage)

	var list rowList[Notification]
	if err := c.get(ctx, "/api/v1/notifications", q, &list); err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}
	counts := make(map[int64]int, len(list.Items))
	for _, n := range list.Items {
		counts[n.ReferenceID]++
	}
	return counts, nil
}

func (c *Client) MarkConversationRead(ctx context.Context, viewerID, conversationID int64) error {
	body := map[string]any{
		"user_id":      viewerID,
		"reference_id": conversationID,
	}
	if err := c.post(ctx, "/api/v1/notifications/read", body, nil); err != nil {
		return fmt.Errorf("mark conversation %d read: %w", conversationID, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) patch(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPatch, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		var ae apiError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&ae); decodeErr == nil && ae.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, ae.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func reverse(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

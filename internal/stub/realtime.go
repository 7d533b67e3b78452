package stub

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/landtalk/internal/backend"
)

const feedSendBuffer = 64

// Hub fans row-change events out to websocket subscribers. REST handlers
// call Publish after every successful mutation.
type Hub struct {
	log *zerolog.Logger

	mu      sync.RWMutex
	clients map[*feedClient]struct{}
}

// NewHub builds an empty hub.
func NewHub(logger *zerolog.Logger) *Hub {
	return &Hub{
		log:     logger,
		clients: make(map[*feedClient]struct{}),
	}
}

type feedClient struct {
	id   string
	send chan backend.Frame

	mu   sync.Mutex
	subs map[string]backend.StreamFilter
}

// Publish delivers a change to every subscription whose filter matches.
// Slow clients lose frames rather than blocking the mutation path.
func (h *Hub) Publish(change backend.Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.mu.Lock()
		for subID, filter := range client.subs {
			if !filterMatches(filter, change) {
				continue
			}
			frame := backend.Frame{Type: backend.FrameChange, Sub: subID, Change: &change}
			select {
			case client.send <- frame:
			default:
				h.log.Warn().Str("client", client.id).Str("sub", subID).Msg("feed frame dropped")
			}
		}
		client.mu.Unlock()
	}
}

func filterMatches(f backend.StreamFilter, ch backend.Change) bool {
	if f.Table != ch.Table || f.Kind != ch.Kind {
		return false
	}
	if f.Column == "" {
		return true
	}
	switch ch.Table {
	case backend.TableConversations:
		if ch.Conversation == nil {
			return false
		}
		switch f.Column {
		case "id":
			return ch.Conversation.ID == f.Value
		case "created_by":
			return ch.Conversation.CreatedBy == f.Value
		case "worker_id":
			return ch.Conversation.WorkerID == f.Value
		}
	case backend.TableMessages:
		if ch.Message == nil {
			return false
		}
		switch f.Column {
		case "id":
			return ch.Message.ID == f.Value
		case "conversation_id":
			return ch.Message.ConversationID == f.Value
		case "sender_id":
			return ch.Message.SenderID == f.Value
		}
	}
	return false
}

// ServeWS upgrades the connection and bridges it to the hub until either
// side closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	client := &feedClient{
		id:   uuid.NewString(),
		send: make(chan backend.Frame, feedSendBuffer),
		subs: make(map[string]backend.StreamFilter),
	}
	h.register(client)
	defer h.unregister(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel()
	<-errCh

	if err != nil && !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == 0 {
		h.log.Warn().Err(err).Str("client", client.id).Msg("feed connection closed with error")
	}
	conn.Close(websocket.StatusNormalClosure, "closing")
}

func (h *Hub) register(client *feedClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.log.Debug().Str("client", client.id).Msg("feed client connected")
}

func (h *Hub) unregister(client *feedClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	h.log.Debug().Str("client", client.id).Msg("feed client disconnected")
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn, client *feedClient) error {
	for {
		var frame backend.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return err
		}

		switch frame.Type {
		case backend.FrameSubscribe:
			if frame.Sub == "" || frame.Filter == nil {
				client.send <- backend.Frame{Type: backend.FrameError, Sub: frame.Sub, Error: "subscribe needs sub id and filter"}
				continue
			}
			client.mu.Lock()
			client.subs[frame.Sub] = *frame.Filter
			client.mu.Unlock()
		case backend.FrameUnsubscribe:
			client.mu.Lock()
			delete(client.subs, frame.Sub)
			client.mu.Unlock()
		default:
			client.send <- backend.Frame{Type: backend.FrameError, Error: "unknown frame type " + frame.Type}
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, client *feedClient) error {
	for {
		select {
		case frame := <-client.send:
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

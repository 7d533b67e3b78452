package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const subscribeBuffer = 64

// WSRealtime implements Realtime over the platform's websocket change feed.
// One connection is shared by all subscriptions of the process.
type WSRealtime struct {
	conn   *websocket.Conn
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]chan Change
}

// DialRealtime connects to the change feed and starts the read loop.
func DialRealtime(ctx context.Context, wsURL, token string, logger zerolog.Logger) (*WSRealtime, error) {
	if token != "" {
		wsURL += "?token=" + token
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &WSRealtime{
		conn:   conn,
		log:    logger,
		ctx:    runCtx,
		cancel: cancel,
		subs:   make(map[string]chan Change),
	}
	go r.readLoop()
	return r, nil
}

// Subscribe registers a filtered listener on the shared connection. The
// returned cancel is idempotent and must be called when the listener's
// owning scope ends.
func (r *WSRealtime) Subscribe(filter StreamFilter) (<-chan Change, func(), error) {
	id := uuid.NewString()
	ch := make(chan Change, subscribeBuffer)

	r.mu.Lock()
	r.subs[id] = ch
	r.mu.Unlock()

	if err := wsjson.Write(r.ctx, r.conn, Frame{
		Type:   FrameSubscribe,
		Sub:    id,
		Filter: &filter,
	}); err != nil {
		r.drop(id)
		return nil, nil, fmt.Errorf("subscribe %s/%s: %w", filter.Table, filter.Kind, err)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := wsjson.Write(r.ctx, r.conn, Frame{Type: FrameUnsubscribe, Sub: id}); err != nil {
				r.log.Debug().Err(err).Str("sub", id).Msg("unsubscribe write failed")
			}
			r.drop(id)
		})
	}
	return ch, cancel, nil
}

// Close tears down the connection and every open subscription channel.
func (r *WSRealtime) Close() error {
	r.cancel()

	r.mu.Lock()
	for id := range r.subs {
		close(r.subs[id])
		delete(r.subs, id)
	}
	r.mu.Unlock()

	return r.conn.Close(websocket.StatusNormalClosure, "closing")
}

func (r *WSRealtime) readLoop() {
	for {
		var frame Frame
		if err := wsjson.Read(r.ctx, r.conn, &frame); err != nil {
			if !errors.Is(err, context.Canceled) {
				r.log.Warn().Err(err).Msg("realtime read loop ended")
			}
			return
		}

		switch frame.Type {
		case FrameChange:
			if frame.Change == nil {
				continue
			}
			r.dispatch(frame.Sub, *frame.Change)
		case FrameError:
			r.log.Warn().Str("sub", frame.Sub).Str("error", frame.Error).Msg("realtime server error")
		}
	}
}

func (r *WSRealtime) dispatch(id string, change Change) {
	r.mu.Lock()
	ch, ok := r.subs[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- change:
	default:
		// Slow consumer; dropping is safe because the session reconciles
		// periodically against the query API.
		r.log.Warn().Str("sub", id).Str("table", change.Table).Msg("realtime event dropped")
	}
}

func (r *WSRealtime) drop(id string) {
	r.mu.Lock()
	if ch, ok := r.subs[id]; ok {
		close(ch)
		delete(r.subs, id)
	}
	r.mu.Unlock()
}

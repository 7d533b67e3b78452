package msgsync

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/landtalk/internal/backend"
)

// routerSeenLimit bounds the duplicate-suppression set. Old ids are evicted
// in insertion order once the limit is reached.
const routerSeenLimit = 4096

type seenIDs struct {
	max int
	m   map[int64]struct{}
	q   []int64
}

func newSeenIDs(max int) *seenIDs {
	if max <= 0 {
		max = routerSeenLimit
	}
	return &seenIDs{max: max, m: make(map[int64]struct{}, max)}
}

func (s *seenIDs) has(id int64) bool {
	_, ok := s.m[id]
	return ok
}

func (s *seenIDs) add(id int64) {
	if _, ok := s.m[id]; ok {
		return
	}
	s.m[id] = struct{}{}
	s.q = append(s.q, id)
	for len(s.q) > s.max {
		evict := s.q[0]
		s.q = s.q[1:]
		delete(s.m, evict)
	}
}

// RouteResult tells the session what a change touched.
type RouteResult struct {
	WindowChanged        bool
	ConversationsChanged bool
	Scroll               bool
}

// RealtimeEventRouter translates row-change events from the realtime feed
// into store mutations. It runs on the session loop; sender and
// conversation details missing from an event are resolved through the
// querier with a small cache in front.
type RealtimeEventRouter struct {
	viewerID int64
	q        backend.Querier
	convs    *ConversationStore
	window   *MessageWindow
	tracker  *OptimisticSendTracker
	scroll   *ScrollPolicy
	users    map[int64]*backend.User
	seen     *seenIDs
	log      zerolog.Logger
}

// NewRealtimeEventRouter wires the router to the session's stores.
func NewRealtimeEventRouter(
	viewerID int64,
	q backend.Querier,
	convs *ConversationStore,
	window *MessageWindow,
	tracker *OptimisticSendTracker,
	scroll *ScrollPolicy,
	logger zerolog.Logger,
) *RealtimeEventRouter {
	return &RealtimeEventRouter{
		viewerID: viewerID,
		q:        q,
		convs:    convs,
		window:   window,
		tracker:  tracker,
		scroll:   scroll,
		users:    make(map[int64]*backend.User),
		seen:     newSeenIDs(routerSeenLimit),
		log:      logger,
	}
}

// HandleChange applies one realtime event. Application is idempotent per
// server-assigned message id, so duplicate delivery from the stream is
// harmless.
func (r *RealtimeEventRouter) HandleChange(ctx context.Context, ch backend.Change) RouteResult {
	switch {
	case ch.Table == backend.TableConversations && ch.Kind == backend.ChangeUpdate:
		return r.handleConversationUpdate(ch.Conversation)
	case ch.Table == backend.TableConversations && ch.Kind == backend.ChangeInsert:
		return r.handleConversationInsert(ctx, ch.Conversation)
	case ch.Table == backend.TableMessages && ch.Kind == backend.ChangeInsert:
		return r.handleMessageInsert(ctx, ch.Message)
	default:
		r.log.Debug().Str("table", ch.Table).Str("kind", string(ch.Kind)).Msg("ignoring realtime change")
		return RouteResult{}
	}
}

func (r *RealtimeEventRouter) handleConversationUpdate(conv *backend.Conversation) RouteResult {
	if conv == nil || !conv.Involves(r.viewerID) {
		return RouteResult{}
	}
	// Unknown ids are not inserts; insert events carry those.
	changed := r.convs.MergeUpdate(*conv)
	return RouteResult{ConversationsChanged: changed}
}

func (r *RealtimeEventRouter) handleConversationInsert(ctx context.Context, conv *backend.Conversation) RouteResult {
	if conv == nil || !conv.Involves(r.viewerID) {
		return RouteResult{}
	}
	if _, ok := r.convs.Get(conv.ID); ok {
		return RouteResult{}
	}

	full, err := r.q.GetConversation(ctx, conv.ID)
	if err != nil {
		// Fall back to the bare event row; participants resolve on the
		// next reconciliation fetch.
		r.log.Warn().Err(err).Int64("conversation_id", conv.ID).Msg("fetch new conversation failed")
		full = conv
	}
	changed := r.convs.Insert(*full)
	return RouteResult{ConversationsChanged: changed}
}

func (r *RealtimeEventRouter) handleMessageInsert(ctx context.Context, row *backend.Message) RouteResult {
	if row == nil {
		return RouteResult{}
	}
	if r.seen.has(row.ID) {
		return RouteResult{}
	}
	r.seen.add(row.ID)

	msg := FromBackend(*row)
	if msg.SenderName == "" {
		if sender := r.resolveUser(ctx, row.SenderID); sender != nil {
			msg.SenderName = sender.FullName
		}
	}

	res := RouteResult{ConversationsChanged: true}
	open := r.window.ConversationID() == msg.ConversationID

	if open {
		if !r.window.ContainsServer(row.ID) {
			dropped := r.window.DropPlaceholders()
			r.tracker.Settle(msg.ConversationID, dropped)
			r.window.AppendIncoming(msg)
			res.WindowChanged = true
			res.Scroll = r.scroll.OnAppend(msg.SenderID == r.viewerID)
		}
	}

	if !r.convs.ApplyMessage(msg, open) {
		// Message for a conversation the store has not seen yet; pull the
		// full row so the overview stays complete.
		if full, err := r.q.GetConversation(ctx, msg.ConversationID); err == nil {
			r.convs.Insert(*full)
			r.convs.ApplyMessage(msg, open)
		} else {
			r.log.Warn().Err(err).Int64("conversation_id", msg.ConversationID).Msg("fetch conversation for message failed")
		}
	}
	return res
}

func (r *RealtimeEventRouter) resolveUser(ctx context.Context, id int64) *backend.User {
	if u, ok := r.users[id]; ok {
		return u
	}
	u, err := r.q.GetUser(ctx, id)
	if err != nil {
		r.log.Debug().Err(err).Int64("user_id", id).Msg("resolve sender failed")
		return nil
	}
	r.users[id] = u
	return u
}

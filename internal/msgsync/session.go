package msgsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/landtalk/internal/backend"
)

// DefaultResyncInterval is how often the session reconciles the
// conversation overview against the query API, as a net under dropped
// realtime events. Zero disables reconciliation.
const DefaultResyncInterval = 2 * time.Minute

// ErrNotParticipant is returned when the viewer tries to act on a
// conversation they are not a party to. The check happens client-side
// before any request is issued.
var ErrNotParticipant = errors.New("viewer is not a participant of this conversation")

// Config carries the session's viewer identity and tunables.
type Config struct {
	ViewerID        int64
	ViewerName      string
	PageSize        int
	ScrollThreshold int
	ResyncInterval  time.Duration
}

// UpdateKind tells the UI which surface to re-render.
type UpdateKind int

const (
	// UpdateConversations means the conversation overview changed.
	UpdateConversations UpdateKind = iota
	// UpdateWindow means the open conversation's message window changed.
	UpdateWindow
)

// Update is a render hint emitted after a store mutation.
type Update struct {
	Kind   UpdateKind
	Scroll bool
}

// Session owns the messaging stores and serializes every mutation on one
// event loop, the way a hub serializes room traffic: UI commands and
// realtime changes interleave on channel selects, and network fetches run
// in worker goroutines that post their results back onto the loop. Stale
// results are discarded by re-checking the open conversation id at apply
// time.
type Session struct {
	cfg    Config
	q      backend.Querier
	rt     backend.Realtime
	san    Sanitizer
	notify Notifier
	log    zerolog.Logger

	convs   *ConversationStore
	window  *MessageWindow
	tracker *OptimisticSendTracker
	scroll  *ScrollPolicy
	router  *RealtimeEventRouter

	ops     chan func()
	changes chan backend.Change
	updates chan Update

	openID         int64
	composer       string
	sessionCancels []func()
	msgCancel      func()

	ctx       context.Context
	cancelRun context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession builds an unstarted session.
func NewSession(cfg Config, q backend.Querier, rt backend.Realtime, san Sanitizer, notify Notifier, logger zerolog.Logger) *Session {
	if san == nil {
		san = NewSanitizer()
	}
	if notify == nil {
		notify = NopNotifier{}
	}
	convs := NewConversationStore(cfg.ViewerID)
	window := NewMessageWindow(cfg.PageSize)
	tracker := NewOptimisticSendTracker()
	scroll := NewScrollPolicy(cfg.ScrollThreshold)

	s := &Session{
		cfg:     cfg,
		q:       q,
		rt:      rt,
		san:     san,
		notify:  notify,
		log:     logger,
		convs:   convs,
		window:  window,
		tracker: tracker,
		scroll:  scroll,
		ops:     make(chan func(), 64),
		changes: make(chan backend.Change, 256),
		updates: make(chan Update, 16),
		done:    make(chan struct{}),
	}
	s.router = NewRealtimeEventRouter(cfg.ViewerID, q, convs, window, tracker, scroll, logger)
	return s
}

// Start loads the conversation overview, acquires the session-scoped
// realtime subscriptions, and starts the event loop. The conversation-list
// subscriptions live until Close; the per-conversation message stream is
// paired with the open-conversation lifetime.
func (s *Session) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.ctx = runCtx
	s.cancelRun = cancel

	convs, err := s.q.ListConversations(runCtx, s.cfg.ViewerID)
	if err != nil {
		cancel()
		return fmt.Errorf("load conversations: %w", err)
	}
	unread, err := s.q.CountUnread(runCtx, s.cfg.ViewerID)
	if err != nil {
		cancel()
		return fmt.Errorf("count unread: %w", err)
	}
	s.convs.SetAll(convs, unread)

	for _, f := range s.sessionFilters() {
		ch, cancelSub, err := s.rt.Subscribe(f)
		if err != nil {
			s.teardown()
			return fmt.Errorf("subscribe %s/%s: %w", f.Table, f.Kind, err)
		}
		s.sessionCancels = append(s.sessionCancels, cancelSub)
		go s.forward(ch)
	}

	go s.run()
	s.emit(Update{Kind: UpdateConversations})
	return nil
}

func (s *Session) sessionFilters() []backend.StreamFilter {
	viewer := s.cfg.ViewerID
	return []backend.StreamFilter{
		{Table: backend.TableConversations, Kind: backend.ChangeUpdate, Column: "created_by", Value: viewer},
		{Table: backend.TableConversations, Kind: backend.ChangeUpdate, Column: "worker_id", Value: viewer},
		{Table: backend.TableConversations, Kind: backend.ChangeInsert, Column: "created_by", Value: viewer},
		{Table: backend.TableConversations, Kind: backend.ChangeInsert, Column: "worker_id", Value: viewer},
		// Session-wide message stream keeps unread counters and overview
		// rows moving for conversations that are not open. The open
		// conversation additionally gets its own stream; the router's
		// per-id dedup makes the overlap harmless.
		{Table: backend.TableMessages, Kind: backend.ChangeInsert},
	}
}

func (s *Session) forward(ch <-chan backend.Change) {
	for change := range ch {
		select {
		case s.changes <- change:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) run() {
	defer close(s.done)
	defer s.teardown()

	var resync <-chan time.Time
	if s.cfg.ResyncInterval > 0 {
		t := time.NewTicker(s.cfg.ResyncInterval)
		defer t.Stop()
		resync = t.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case op := <-s.ops:
			op()
		case change := <-s.changes:
			res := s.router.HandleChange(s.ctx, change)
			if res.WindowChanged {
				s.emit(Update{Kind: UpdateWindow, Scroll: res.Scroll})
			}
			if res.ConversationsChanged {
				s.emit(Update{Kind: UpdateConversations})
			}
		case <-resync:
			s.startResync()
		}
	}
}

func (s *Session) teardown() {
	if s.msgCancel != nil {
		s.msgCancel()
		s.msgCancel = nil
	}
	for _, cancel := range s.sessionCancels {
		cancel()
	}
	s.sessionCancels = nil
}

// Close stops the loop and releases every subscription. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancelRun()
		<-s.done
	})
}

// Updates delivers render hints. The channel is buffered and lossy; the UI
// re-reads snapshots, so a dropped hint only delays a repaint until the
// next one.
func (s *Session) Updates() <-chan Update { return s.updates }

func (s *Session) emit(u Update) {
	select {
	case s.updates <- u:
	default:
	}
}

// post queues work onto the loop.
func (s *Session) post(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.ctx.Done():
	}
}

// call runs fn on the loop and waits for it.
func (s *Session) call(fn func()) {
	doneCh := make(chan struct{})
	s.post(func() {
		fn()
		close(doneCh)
	})
	select {
	case <-doneCh:
	case <-s.ctx.Done():
	}
}

// OpenConversation selects a conversation, releases the previous message
// stream, subscribes to the new one, and loads the most recent history
// page. Fetching the history marks the conversation's notifications read.
func (s *Session) OpenConversation(id int64) error {
	var openErr error
	s.call(func() {
		if s.openID == id {
			return
		}
		if conv, ok := s.convs.Get(id); ok && !conv.Conversation.Involves(s.cfg.ViewerID) {
			openErr = ErrNotParticipant
			return
		}

		if s.msgCancel != nil {
			s.msgCancel()
			s.msgCancel = nil
		}
		ch, cancelSub, err := s.rt.Subscribe(backend.StreamFilter{
			Table:  backend.TableMessages,
			Kind:   backend.ChangeInsert,
			Column: "conversation_id",
			Value:  id,
		})
		if err != nil {
			openErr = fmt.Errorf("subscribe conversation %d: %w", id, err)
			return
		}
		s.msgCancel = cancelSub
		go s.forward(ch)

		s.openID = id
		s.window.Reset(id)
		s.startInitialLoad(id)
	})
	return openErr
}

func (s *Session) startInitialLoad(id int64) {
	go func() {
		page, err := s.q.ListMessages(s.ctx, id, s.window.PageSize())
		if err == nil {
			if markErr := s.q.MarkConversationRead(s.ctx, s.cfg.ViewerID, id); markErr != nil {
				s.log.Warn().Err(markErr).Int64("conversation_id", id).Msg("mark read failed")
			}
		}
		s.post(func() {
			// Discard results that resolved after a conversation switch.
			if s.openID != id {
				return
			}
			if err != nil {
				s.log.Error().Err(err).Int64("conversation_id", id).Msg("load history failed")
				s.notify.Error("could not load messages")
				return
			}
			msgs := make([]Message, 0, len(page.Messages))
			for _, m := range page.Messages {
				msgs = append(msgs, FromBackend(m))
			}
			s.window.ApplyInitial(id, msgs, page.Total)
			s.convs.ResetUnread(id)
			s.scroll.OnAppend(true)
			s.emit(Update{Kind: UpdateWindow, Scroll: true})
			s.emit(Update{Kind: UpdateConversations})
		})
	}()
}

// LeaveConversation closes the open conversation view and releases its
// message stream.
func (s *Session) LeaveConversation() {
	s.call(func() {
		if s.msgCancel != nil {
			s.msgCancel()
			s.msgCancel = nil
		}
		s.openID = 0
		s.window.Reset(0)
	})
}

// LoadOlder extends the window backward by one page. No request is issued
// while a load is in flight or when no older messages exist.
func (s *Session) LoadOlder() {
	s.post(func() {
		id := s.openID
		before, ok := s.window.BeginOlder()
		if !ok {
			return
		}
		go func() {
			rows, err := s.q.ListMessagesBefore(s.ctx, id, before, s.window.PageSize())
			s.post(func() {
				if err != nil {
					s.window.AbortOlder()
					s.log.Error().Err(err).Int64("conversation_id", id).Msg("load older failed")
					s.notify.Error("could not load older messages")
					return
				}
				msgs := make([]Message, 0, len(rows))
				for _, m := range rows {
					msgs = append(msgs, FromBackend(m))
				}
				if s.window.ApplyOlder(id, msgs) > 0 {
					s.scroll.OnPrepend()
					s.emit(Update{Kind: UpdateWindow})
				}
			})
		}()
	})
}

// Send validates and sanitizes the body, inserts an optimistic placeholder,
// and issues the create request. Empty bodies are rejected before any side
// effect. On failure the placeholder is rolled back and the original body
// is restored to the composer.
func (s *Session) Send(body string) error {
	clean := s.san.Sanitize(body)
	if clean == "" {
		return ErrEmptyMessage
	}

	var sendErr error
	s.call(func() {
		id := s.openID
		if id == 0 {
			sendErr = ErrNotParticipant
			return
		}
		if conv, ok := s.convs.Get(id); ok && !conv.Conversation.Involves(s.cfg.ViewerID) {
			sendErr = ErrNotParticipant
			return
		}

		s.composer = ""
		placeholder := s.tracker.Begin(id, s.cfg.ViewerID, s.cfg.ViewerName, clean)
		s.window.AppendIncoming(placeholder)
		s.scroll.OnAppend(true)
		s.emit(Update{Kind: UpdateWindow, Scroll: true})

		go func() {
			row, err := s.q.CreateMessage(s.ctx, id, s.cfg.ViewerID, clean)
			s.post(func() {
				if err != nil {
					if orig, ok := s.tracker.Fail(placeholder.ID); ok {
						s.window.RemovePlaceholder(placeholder.ID)
						s.composer = orig
					}
					s.log.Error().Err(err).Int64("conversation_id", id).Msg("send failed")
					s.notify.Error("message was not sent")
					s.emit(Update{Kind: UpdateWindow})
					return
				}

				confirmed := FromBackend(*row)
				if confirmed.SenderName == "" {
					confirmed.SenderName = s.cfg.ViewerName
				}
				stillOpen := s.openID == id
				if s.tracker.Confirm(placeholder.ID) && stillOpen {
					s.window.RemovePlaceholder(placeholder.ID)
				}
				if stillOpen {
					s.window.AppendIncoming(confirmed)
					s.scroll.OnAppend(true)
					s.emit(Update{Kind: UpdateWindow, Scroll: true})
				}
				s.convs.ApplyMessage(confirmed, stillOpen)
				s.emit(Update{Kind: UpdateConversations})
			})
		}()
	})
	return sendErr
}

// CreateConversation opens a new thread with a worker. The realtime insert
// event delivers the same row; the store dedupes the overlap.
func (s *Session) CreateConversation(workerID int64, subject string) {
	go func() {
		conv, err := s.q.CreateConversation(s.ctx, s.cfg.ViewerID, workerID, subject)
		s.post(func() {
			if err != nil {
				s.log.Error().Err(err).Int64("worker_id", workerID).Msg("create conversation failed")
				s.notify.Error("could not start conversation")
				return
			}
			if s.convs.Insert(*conv) {
				s.emit(Update{Kind: UpdateConversations})
			}
			s.notify.Success("conversation started")
		})
	}()
}

// CloseThread marks a conversation closed.
func (s *Session) CloseThread(id int64) error {
	var closeErr error
	s.call(func() {
		conv, ok := s.convs.Get(id)
		if !ok || !conv.Conversation.Involves(s.cfg.ViewerID) {
			closeErr = ErrNotParticipant
			return
		}
		go func() {
			err := s.q.CloseConversation(s.ctx, id)
			s.post(func() {
				if err != nil {
					s.log.Error().Err(err).Int64("conversation_id", id).Msg("close conversation failed")
					s.notify.Error("could not close conversation")
					return
				}
				if cur, ok := s.convs.Get(id); ok {
					updated := cur.Conversation
					updated.Status = backend.ConversationClosed
					updated.UpdatedAt = time.Now()
					s.convs.MergeUpdate(updated)
				}
				s.emit(Update{Kind: UpdateConversations})
				s.notify.Success("conversation closed")
			})
		}()
	})
	return closeErr
}

// SetScrollDistance reports the viewport's distance from the bottom of the
// message list.
func (s *Session) SetScrollDistance(d int) {
	s.post(func() { s.scroll.SetDistanceFromBottom(d) })
}

// startResync refetches the overview and merges it, trusting the platform
// as source of truth for rows and read state.
func (s *Session) startResync() {
	go func() {
		convs, err := s.q.ListConversations(s.ctx, s.cfg.ViewerID)
		if err != nil {
			s.log.Warn().Err(err).Msg("resync conversations failed")
			return
		}
		unread, err := s.q.CountUnread(s.ctx, s.cfg.ViewerID)
		if err != nil {
			s.log.Warn().Err(err).Msg("resync unread failed")
			return
		}
		s.post(func() {
			s.convs.SetAll(convs, unread)
			if s.openID != 0 {
				s.convs.ResetUnread(s.openID)
			}
			s.emit(Update{Kind: UpdateConversations})
		})
	}()
}

// Resync forces an immediate reconciliation fetch.
func (s *Session) Resync() {
	s.post(s.startResync)
}

// Conversations returns a snapshot of the overview, newest activity first.
func (s *Session) Conversations() []ConversationSummary {
	var out []ConversationSummary
	s.call(func() { out = s.convs.Snapshot() })
	return out
}

// WindowSnapshot returns the open conversation's messages and whether older
// pages exist.
func (s *Session) WindowSnapshot() ([]Message, bool) {
	var msgs []Message
	var hasMore bool
	s.call(func() {
		msgs = s.window.Messages()
		hasMore = s.window.HasMore()
	})
	return msgs, hasMore
}

// OpenID returns the open conversation id, 0 when none.
func (s *Session) OpenID() int64 {
	var id int64
	s.call(func() { id = s.openID })
	return id
}

// Composer returns the draft restored after a failed send.
func (s *Session) Composer() string {
	var text string
	s.call(func() { text = s.composer })
	return text
}

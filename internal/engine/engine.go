// Package engine is the conversation screen's core: it owns the display
// window over the message log and coordinates sends, inbound reconciliation,
// deletion and read marking for one conversation at a time.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mfigueira/convo/internal/bus"
	"github.com/mfigueira/convo/internal/config"
	"github.com/mfigueira/convo/internal/metrics"
	"github.com/mfigueira/convo/internal/outbound"
	"github.com/mfigueira/convo/internal/presence"
	"github.com/mfigueira/convo/internal/reconcile"
	"github.com/mfigueira/convo/internal/store"
	"github.com/mfigueira/convo/internal/window"
	"go.uber.org/zap"
)

// ReadReceipter delivers read receipts to the server. Best-effort and
// non-blocking; a false or failed result is logged, never surfaced.
type ReadReceipter interface {
	MarkRead(ctx context.Context, msg *store.Message) (bool, error)
}

// ViewportSource reports the current scroll geometry from the rendering
// layer when a reconciliation pass needs it.
type ViewportSource interface {
	Viewport() reconcile.Viewport
}

// staticViewport is used when no rendering layer is attached (tests, the
// headless daemon).
type staticViewport struct{}

func (staticViewport) Viewport() reconcile.Viewport { return reconcile.Viewport{} }

// ErrMessageGone is returned when an operation targets a message that is no
// longer in the log.
var ErrMessageGone = errors.New("message no longer in the log")

// Options configures an Engine for one conversation.
type Options struct {
	ConversationID string
	SelfID         string
	RecipientID    string
	RecipientKind  outbound.RecipientKind
	PeerName       string

	Transport outbound.Transport
	Notifier  presence.Notifier // may be nil
	Receipter ReadReceipter     // may be nil
	Viewport  ViewportSource    // may be nil
}

// Engine ties the store, window, reconciler, outbound sender, presence
// monitor and metrics cache together behind the surface the screen consumes.
type Engine struct {
	db     *store.DB
	cfg    *config.Config
	bus    *bus.Bus
	logger *zap.Logger

	opts     Options
	win      *window.Window
	calc     *metrics.Calculator
	rec      *reconcile.Reconciler
	sender   *outbound.Sender
	presence *presence.Monitor
	viewport ViewportSource

	// mu serializes window mutation: reconciliation, backward extension
	// and deletion all reshape the same range.
	mu sync.Mutex

	// active mirrors whether the conversation screen is the visible
	// top-level view. Deferred work re-checks it before committing.
	active atomic.Bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New assembles an engine for one conversation.
func New(db *store.DB, cfg *config.Config, b *bus.Bus, opts Options, logger *zap.Logger) *Engine {
	if opts.Viewport == nil {
		opts.Viewport = staticViewport{}
	}
	win := &window.Window{}
	calc := metrics.New(cfg.Metrics, nil)
	return &Engine{
		db:       db,
		cfg:      cfg,
		bus:      b,
		logger:   logger,
		opts:     opts,
		win:      win,
		calc:     calc,
		rec:      reconcile.New(db, win, calc, cfg.Metrics.CellSpacing, logger),
		sender:   outbound.NewSender(db, opts.Transport, b, opts.SelfID, logger),
		presence: presence.NewMonitor(cfg.Presence, opts.PeerName, opts.Notifier, b, logger),
		viewport: opts.Viewport,
	}
}

// Start arms the presence decay ticker and marks the screen active.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.presence.Start(ctx)
	e.active.Store(true)
}

// Stop tears the screen down: presence and deferred read marking stop, and
// in-flight background work is joined so no timer or goroutine outlives the
// screen.
func (e *Engine) Stop() {
	e.active.Store(false)
	e.presence.Stop()
	if e.cancel != nil {
		e.cancel()
	}
	e.sender.Wait()
	e.wg.Wait()
}

// SetActive records whether this conversation is the visible top-level
// view. Deferred read marking re-checks this at write time.
func (e *Engine) SetActive(active bool) {
	e.active.Store(active)
}

// Active reports whether the conversation screen is currently visible.
func (e *Engine) Active() bool {
	return e.active.Load()
}

// InitializeWindow materializes the last bunch of the conversation log, the
// view a chat screen opens on.
func (e *Engine) InitializeWindow() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	count, err := e.db.Count(e.opts.ConversationID)
	if err != nil {
		return err
	}
	e.win.Initialize(count, e.cfg.BunchSize)
	return nil
}

// Window returns the current display range as {offset, length}.
func (e *Engine) Window() (offset, length int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.win.Offset(), e.win.Length()
}

// MessageAtWindowIndex resolves a windowed index to its message. Returns nil
// when the index fell outside the log, which callers treat as staleness.
func (e *Engine) MessageAtWindowIndex(windowedIndex int) (*store.Message, error) {
	e.mu.Lock()
	global := e.win.GlobalIndex(windowedIndex)
	e.mu.Unlock()
	return e.db.MessageAt(e.opts.ConversationID, global)
}

// ExtendBackward loads one more bunch of older history, returning how many
// entries were actually available. Zero means the head of history.
func (e *Engine) ExtendBackward() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.win.ExtendBackward(e.cfg.BunchSize), nil
}

// HandleIncomingMessages reconciles store growth into the window. ids, when
// supplied by the realtime channel, are resolved against current store
// positions; absent ids the growth since the last pass is appended at the
// tail. The pass is skipped while the screen is not the active view, and
// picked up wholesale on the next pass once it is again.
func (e *Engine) HandleIncomingMessages(ids []string, scrollToBottom bool) (*reconcile.WindowDelta, error) {
	if !e.active.Load() {
		return &reconcile.WindowDelta{}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	count, err := e.db.Count(e.opts.ConversationID)
	if err != nil {
		return nil, err
	}
	prev := reconcile.Snapshot{Count: e.win.LastObservedCount()}
	curr := reconcile.Snapshot{Count: count}

	delta, err := e.rec.Reconcile(prev, curr, e.opts.ConversationID, ids, scrollToBottom, e.viewport.Viewport())
	if err != nil {
		return nil, err
	}
	if delta.Appended > 0 {
		e.bus.Publish(bus.Event{
			Kind:      bus.KindWindowExtended,
			Timestamp: time.Now(),
			Payload:   delta,
		})
	}
	return delta, nil
}

// Send creates the optimistic local echo, kicks off the transport attempt
// and folds the new tail entry into the window scrolled to the bottom.
func (e *Engine) Send(ctx context.Context, content outbound.Content) (*store.Message, error) {
	msg, err := e.sender.Send(ctx, e.opts.ConversationID, content, e.opts.RecipientID, e.opts.RecipientKind)
	if err != nil {
		return nil, err
	}
	if _, err := e.HandleIncomingMessages(nil, true); err != nil {
		return nil, err
	}
	return msg, nil
}

// Resend re-attempts a failed send on the same message entity.
func (e *Engine) Resend(ctx context.Context, msg *store.Message) error {
	return e.sender.Resend(ctx, msg, e.opts.RecipientID, e.opts.RecipientKind)
}

// DeleteMessage removes a message from the log and shrinks the window. When
// the entry directly follows a section-date marker and has no other sibling
// left in its day, the marker is removed in the same transaction so no
// orphaned day header survives.
func (e *Engine) DeleteMessage(msg *store.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Always recompute the global index from identity just before use;
	// an index carried across an async boundary may be stale.
	globalIndex, ok, err := e.db.IndexOf(e.opts.ConversationID, msg.Seq)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMessageGone
	}

	var section *store.Message
	if prev, err := e.db.MessageAt(e.opts.ConversationID, globalIndex-1); err != nil {
		return err
	} else if prev != nil && prev.IsSectionDate() {
		next, err := e.db.MessageAt(e.opts.ConversationID, globalIndex+1)
		if err != nil {
			return err
		}
		if next == nil || next.IsSectionDate() {
			// The deleted message was the day's only remaining entry.
			section = prev
		}
	}

	if section != nil {
		if err := e.db.DeleteMessagePair(msg.Seq, section.Seq); err != nil {
			return err
		}
		if e.win.Length() >= 2 {
			e.win.Shrink(2, false)
		} else {
			// Boundary case: the day marker sat in the previous bunch,
			// before the window's first index.
			e.win.RetreatOffset()
			e.win.Shrink(1, false)
		}
		e.calc.Invalidate(section.ServerID)
	} else {
		if err := e.db.DeleteMessage(msg.Seq); err != nil {
			return err
		}
		e.win.Shrink(1, false)
	}
	e.calc.Invalidate(msg.ServerID)

	newCount, err := e.db.Count(e.opts.ConversationID)
	if err != nil {
		return err
	}
	e.win.ObserveCount(newCount)

	e.bus.Publish(bus.Event{
		Kind:      bus.KindMessageDeleted,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"conversation_id": e.opts.ConversationID,
			"server_id":       msg.ServerID,
		},
	})
	return nil
}

// HeightOf returns the cached display height for a message.
func (e *Engine) HeightOf(msg *store.Message) float64 {
	return e.calc.HeightOf(msg)
}

// ContentWidthOf returns the cached content width for a message.
func (e *Engine) ContentWidthOf(msg *store.Message) float64 {
	return e.calc.ContentWidthOf(msg)
}

// Metrics exposes the calculator for audio-progress bookkeeping.
func (e *Engine) Metrics() *metrics.Calculator {
	return e.calc
}

// MarkVisibleMessagesRead marks every unread received message in the window
// as read. The store writes and receipt delivery run on a background
// goroutine that re-checks, at write time, that this screen is still the
// active view, so messages are never marked read after navigating away.
func (e *Engine) MarkVisibleMessagesRead(ctx context.Context) error {
	e.mu.Lock()
	offset, length := e.win.Offset(), e.win.Length()
	e.mu.Unlock()

	unread, err := e.db.UnreadIncoming(e.opts.ConversationID, e.opts.SelfID, offset, length)
	if err != nil {
		return err
	}
	if len(unread) == 0 {
		return nil
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for i := range unread {
			e.markRead(ctx, &unread[i])
		}
	}()
	return nil
}

func (e *Engine) markRead(ctx context.Context, msg *store.Message) {
	// Re-check at write time: the user may have navigated away between
	// scheduling and now.
	if !e.active.Load() {
		return
	}
	if err := e.db.MarkRead(msg.Seq); err != nil {
		e.logger.Error("failed to commit read state",
			zap.Error(err), zap.Int64("seq", msg.Seq))
		return
	}
	if e.opts.Receipter == nil {
		return
	}
	if ok, err := e.opts.Receipter.MarkRead(ctx, msg); err != nil || !ok {
		e.logger.Warn("read receipt not delivered",
			zap.Error(err), zap.String("server_id", msg.ServerID))
	}
}

// HandlePresenceSignal records a remote typing/recording signal.
func (e *Engine) HandlePresenceSignal(kind presence.Kind) {
	e.presence.Signal(kind)
}

// PresenceStatus returns the currently displayed peer activity.
func (e *Engine) PresenceStatus() presence.Status {
	return e.presence.Status()
}

// NotifyTyping broadcasts the local user's activity to the peer.
func (e *Engine) NotifyTyping(ctx context.Context, kind presence.Kind) {
	e.presence.NotifyOwn(ctx, kind, e.opts.RecipientID)
}

// SaveDraft persists the composer draft for this conversation.
func (e *Engine) SaveDraft(text, toolbarState string) error {
	return e.db.SaveDraft(e.opts.ConversationID, text, toolbarState)
}

// ClearDraft empties the draft after a successful send.
func (e *Engine) ClearDraft() error {
	return e.db.ClearDraft(e.opts.ConversationID)
}

// Search runs a full-text search over this conversation's history.
func (e *Engine) Search(query string, limit int) ([]store.SearchResult, error) {
	return e.db.SearchMessages(query, e.opts.ConversationID, limit)
}

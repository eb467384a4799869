// Package reconcile merges store growth into the display window and computes
// the resulting scroll adjustment.
package reconcile

import (
	"github.com/mfigueira/convo/internal/metrics"
	"github.com/mfigueira/convo/internal/store"
	"github.com/mfigueira/convo/internal/window"
	"go.uber.org/zap"
)

// Snapshot is an explicit versioned view of the store size, passed into the
// reconciler instead of ambient mutable state.
type Snapshot struct {
	Count int
}

// Viewport describes the scroll geometry the rendering layer reports.
type Viewport struct {
	Height         float64 // visible frame height
	ContentHeight  float64 // laid-out content height before the new messages
	ContentOffset  float64 // current scroll position
	ObscuredHeight float64 // toolbar and keyboard overlay
}

// ScrollAction tells the rendering layer how to adjust after an insertion.
type ScrollAction int

const (
	// ScrollNone: the content still fits the viewport, nothing to adjust.
	ScrollNone ScrollAction = iota
	// ScrollShiftOffset: shift the content offset by OffsetDelta.
	ScrollShiftOffset
	// ScrollJumpToBottom: jump to NewOffset, the recomputed true bottom.
	ScrollJumpToBottom
)

// ScrollAdjustment is the scroll decision for one reconciliation pass.
type ScrollAdjustment struct {
	Action      ScrollAction
	OffsetDelta float64
	NewOffset   float64
}

// Insertion locates one delivered message in the current log and window.
type Insertion struct {
	ServerID    string
	GlobalIndex int
	WindowIndex int
	InWindow    bool
}

// WindowDelta is the outcome of one reconciliation pass.
type WindowDelta struct {
	Appended         int         // how far the window was extended forward
	Insertions       []Insertion // resolved explicit identifiers, log order positions
	Unresolved       []string    // identifiers that no longer mapped to a store entry
	NewContentHeight float64     // summed display height of the appended range
	Scroll           ScrollAdjustment
}

// Reconciler folds asynchronous store growth into the window.
type Reconciler struct {
	db          *store.DB
	win         *window.Window
	calc        *metrics.Calculator
	cellSpacing float64
	logger      *zap.Logger
}

// New creates a reconciler operating on the given window.
func New(db *store.DB, win *window.Window, calc *metrics.Calculator, cellSpacing float64, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		db:          db,
		win:         win,
		calc:        calc,
		cellSpacing: cellSpacing,
		logger:      logger,
	}
}

// Reconcile merges the growth between two store snapshots into the window.
// Explicit identifiers, when supplied, are resolved against the store's
// current positions: new messages are not always appended at the tail in
// order once multiple senders interleave, so index assumptions are wrong in
// general and identity is the only reliable key. Identifiers that fail to
// resolve are skipped as recoverable inconsistencies, never fatal.
//
// Shrinkage is handled by the explicit deletion path and never inferred
// here; a non-growing snapshot pair is a no-op. On a store error the window
// is left exactly as the previous pass left it.
func (r *Reconciler) Reconcile(prev, curr Snapshot, conversationID string, ids []string, scrollToBottom bool, vp Viewport) (*WindowDelta, error) {
	delta := &WindowDelta{}

	if curr.Count <= prev.Count {
		return delta, nil
	}

	newCount := curr.Count - prev.Count
	if ids != nil {
		newCount = len(ids)
	}

	// Resolve identities and sum heights before touching the window, so an
	// error leaves it exactly as the previous pass left it.
	type resolution struct {
		serverID    string
		globalIndex int
	}
	var resolved []resolution
	for _, id := range ids {
		msg, err := r.db.MessageByServerID(conversationID, id)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			// Raced with a deletion between notification and lookup.
			r.logger.Warn("incoming message id did not resolve",
				zap.String("server_id", id))
			delta.Unresolved = append(delta.Unresolved, id)
			continue
		}
		globalIndex, ok, err := r.db.IndexOf(conversationID, msg.Seq)
		if err != nil {
			return nil, err
		}
		if !ok {
			r.logger.Warn("incoming message vanished before indexing",
				zap.String("server_id", id))
			delta.Unresolved = append(delta.Unresolved, id)
			continue
		}
		resolved = append(resolved, resolution{serverID: id, globalIndex: globalIndex})
	}

	height, err := r.appendedHeight(conversationID, prev.Count, curr.Count)
	if err != nil {
		return nil, err
	}

	r.win.ExtendForward(newCount)
	r.win.ObserveCount(curr.Count)
	delta.Appended = newCount

	for _, res := range resolved {
		windowIndex, inWindow := r.win.WindowedIndex(res.globalIndex)
		delta.Insertions = append(delta.Insertions, Insertion{
			ServerID:    res.serverID,
			GlobalIndex: res.globalIndex,
			WindowIndex: windowIndex,
			InWindow:    inWindow,
		})
	}

	delta.NewContentHeight = height
	delta.Scroll = decideScroll(vp, height, scrollToBottom)

	return delta, nil
}

// appendedHeight sums display heights over the global range [from, to).
func (r *Reconciler) appendedHeight(conversationID string, from, to int) (float64, error) {
	var total float64
	for i := from; i < to; i++ {
		msg, err := r.db.MessageAt(conversationID, i)
		if err != nil {
			return 0, err
		}
		if msg == nil {
			// The range shifted under us; skip the stale position.
			continue
		}
		total += r.calc.HeightOf(msg) + r.cellSpacing
	}
	return total, nil
}

// decideScroll picks the adjustment that keeps the visible tail stable.
// When the viewport still has idle space, only the consumed part of the new
// height is shifted; once content overflows, either jump to the recomputed
// bottom (when requested) or shift by the full new height so the reader's
// position is preserved.
func decideScroll(vp Viewport, newHeight float64, scrollToBottom bool) ScrollAdjustment {
	visibleField := vp.Height - vp.ObscuredHeight

	if vp.ContentHeight+newHeight <= visibleField {
		return ScrollAdjustment{Action: ScrollNone}
	}

	idleSpace := visibleField - vp.ContentHeight
	if idleSpace > 0 {
		return ScrollAdjustment{
			Action:      ScrollShiftOffset,
			OffsetDelta: newHeight - idleSpace,
		}
	}

	if scrollToBottom {
		return ScrollAdjustment{
			Action:    ScrollJumpToBottom,
			NewOffset: vp.ContentHeight + newHeight - visibleField,
		}
	}

	return ScrollAdjustment{
		Action:      ScrollShiftOffset,
		OffsetDelta: newHeight,
	}
}

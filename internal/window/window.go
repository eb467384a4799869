// Package window maintains the contiguous sub-range of a conversation's
// message log that is currently materialized for display.
package window

// Window is the materialized {offset, length} view over the ordered log.
// Every operation preserves offset >= 0 and offset+length <= the store count
// it was last reconciled against. The window never copies messages; it only
// addresses them.
type Window struct {
	offset int
	length int

	// lastObservedCount is the store size at the previous reconciliation
	// pass, used to detect growth since then.
	lastObservedCount int
}

// Initialize sets the window to the last min(storeCount, bunchSize) entries.
// A conversation opens scrolled to the newest messages; loading the whole
// history up front is wasteful.
func (w *Window) Initialize(storeCount, bunchSize int) {
	if storeCount < 0 {
		storeCount = 0
	}
	if storeCount >= bunchSize {
		w.offset = storeCount - bunchSize
		w.length = bunchSize
	} else {
		w.offset = 0
		w.length = storeCount
	}
	w.lastObservedCount = storeCount
}

// Offset returns the global index of the first materialized entry.
func (w *Window) Offset() int { return w.offset }

// Length returns the number of materialized entries.
func (w *Window) Length() int { return w.length }

// LastObservedCount returns the store size recorded by the previous
// reconciliation pass.
func (w *Window) LastObservedCount() int { return w.lastObservedCount }

// ObserveCount records the store size seen by a reconciliation pass.
func (w *Window) ObserveCount(storeCount int) { w.lastObservedCount = storeCount }

// ExtendBackward grows the window toward older history by up to
// requestedCount entries and returns how many were actually available.
// A return smaller than requested means the head of history was reached;
// zero means no further backward extension is possible.
func (w *Window) ExtendBackward(requestedCount int) int {
	if requestedCount < 0 {
		requestedCount = 0
	}
	take := requestedCount
	if take > w.offset {
		take = w.offset
	}
	w.offset -= take
	w.length += take
	return take
}

// ExtendForward grows the window by newCount entries appended at the tail.
func (w *Window) ExtendForward(newCount int) {
	if newCount < 0 {
		return
	}
	w.length += newCount
}

// Shrink removes byCount entries from the window after a deletion. When
// fromFront, the offset advances so the retained range stays anchored and
// unrelated indices do not shift.
func (w *Window) Shrink(byCount int, fromFront bool) {
	if byCount < 0 {
		byCount = 0
	}
	if byCount > w.length {
		byCount = w.length
	}
	w.length -= byCount
	if fromFront {
		w.offset += byCount
	}
}

// RetreatOffset pulls the window start back by one without changing length.
// Used when a deletion removes an entry before the window's first index,
// e.g. a day marker sitting in the previous bunch.
func (w *Window) RetreatOffset() {
	if w.offset > 0 {
		w.offset--
	}
}

// GlobalIndex maps a windowed index to its global log position.
func (w *Window) GlobalIndex(windowedIndex int) int {
	return w.offset + windowedIndex
}

// WindowedIndex maps a global log position into the window. The second
// return is false when the position lies outside the materialized range.
func (w *Window) WindowedIndex(globalIndex int) (int, bool) {
	if globalIndex < w.offset || globalIndex >= w.offset+w.length {
		return 0, false
	}
	return globalIndex - w.offset, true
}

// Valid reports whether the window invariant holds against a store count.
func (w *Window) Valid(storeCount int) bool {
	return w.offset >= 0 && w.length >= 0 && w.offset+w.length <= storeCount
}

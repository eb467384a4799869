package window

import (
	"math/rand"
	"testing"
)

func TestInitializeTailBunch(t *testing.T) {
	var w Window
	w.Initialize(120, 50)
	if w.Offset() != 70 || w.Length() != 50 {
		t.Errorf("got {%d, %d}, want {70, 50}", w.Offset(), w.Length())
	}
}

func TestInitializeShortHistory(t *testing.T) {
	var w Window
	w.Initialize(30, 50)
	if w.Offset() != 0 || w.Length() != 30 {
		t.Errorf("got {%d, %d}, want {0, 30}", w.Offset(), w.Length())
	}
}

func TestExtendBackward(t *testing.T) {
	var w Window
	w.Initialize(120, 50)

	got := w.ExtendBackward(50)
	if got != 50 {
		t.Errorf("first extension = %d, want 50", got)
	}
	if w.Offset() != 20 || w.Length() != 100 {
		t.Errorf("window = {%d, %d}, want {20, 100}", w.Offset(), w.Length())
	}

	// Only 20 remain before the head: partial page.
	got = w.ExtendBackward(50)
	if got != 20 {
		t.Errorf("partial extension = %d, want 20", got)
	}
	if w.Offset() != 0 || w.Length() != 120 {
		t.Errorf("window = {%d, %d}, want {0, 120}", w.Offset(), w.Length())
	}

	// At the head: terminal condition.
	got = w.ExtendBackward(50)
	if got != 0 {
		t.Errorf("extension at head = %d, want 0", got)
	}
}

func TestExtendForward(t *testing.T) {
	var w Window
	w.Initialize(10, 50)
	w.ExtendForward(3)
	if w.Offset() != 0 || w.Length() != 13 {
		t.Errorf("window = {%d, %d}, want {0, 13}", w.Offset(), w.Length())
	}
}

func TestShrink(t *testing.T) {
	var w Window
	w.Initialize(120, 50)

	w.Shrink(1, false)
	if w.Offset() != 70 || w.Length() != 49 {
		t.Errorf("window = {%d, %d}, want {70, 49}", w.Offset(), w.Length())
	}

	// Front shrink anchors the retained range.
	w.Shrink(2, true)
	if w.Offset() != 72 || w.Length() != 47 {
		t.Errorf("window = {%d, %d}, want {72, 47}", w.Offset(), w.Length())
	}
}

func TestIndexMapping(t *testing.T) {
	var w Window
	w.Initialize(120, 50)

	if got := w.GlobalIndex(0); got != 70 {
		t.Errorf("GlobalIndex(0) = %d, want 70", got)
	}
	if got, ok := w.WindowedIndex(119); !ok || got != 49 {
		t.Errorf("WindowedIndex(119) = %d, %v, want 49, true", got, ok)
	}
	if _, ok := w.WindowedIndex(69); ok {
		t.Error("WindowedIndex(69) should be outside the window")
	}
	if _, ok := w.WindowedIndex(120); ok {
		t.Error("WindowedIndex(120) should be outside the window")
	}
}

// TestInvariantUnderRandomOperations drives a long random sequence of
// extend/shrink calls against a simulated store count and checks the
// window invariant after every call.
func TestInvariantUnderRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	var w Window
	storeCount := 200
	w.Initialize(storeCount, 50)

	for i := 0; i < 5000; i++ {
		switch rng.Intn(4) {
		case 0:
			w.ExtendBackward(rng.Intn(80))
		case 1:
			grow := rng.Intn(5)
			storeCount += grow
			w.ExtendForward(grow)
		case 2:
			// Narrow the materialized range without touching the store.
			w.Shrink(rng.Intn(3), rng.Intn(2) == 0)
		case 3:
			// Deletion: the store and the window shrink together.
			if n := rng.Intn(2) + 1; w.Length() >= n {
				storeCount -= n
				w.Shrink(n, false)
			}
		}
		if !w.Valid(storeCount) {
			t.Fatalf("invariant broken at op %d: window {%d, %d}, store %d",
				i, w.Offset(), w.Length(), storeCount)
		}
	}
}

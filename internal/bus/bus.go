package bus

import (
	"strings"
	"sync"
)

// Bus is the in-process event channel between the message log and the
// conversation screen: store mutations, send acknowledgements and presence
// flips all travel through it. Subscribers pick a kind prefix ("message."
// catches every log mutation, "" catches everything).
//
// Publish never blocks: a subscriber that stops draining loses events
// rather than stalling a store write.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscriber),
	}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
// Full subscriber buffers are skipped.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// Subscribe registers interest in event kinds starting with prefix and
// returns the delivery channel plus an unsubscribe function. bufSize bounds
// how far the subscriber may fall behind before events are dropped.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Package presence tracks the remote peer's typing/recording activity with a
// decaying timeout, and broadcasts the local user's activity.
package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mfigueira/convo/internal/bus"
	"github.com/mfigueira/convo/internal/config"
	"go.uber.org/zap"
)

// Kind is the activity the peer signalled.
type Kind string

const (
	KindTyping    Kind = "typing"
	KindRecording Kind = "recording"
)

// tickStep is how much the reset delay decays per tick, in seconds. The
// ticker fires every half time-unit; missed ticks just let stale text
// linger slightly longer, which is acceptable for a best-effort indicator.
const tickStep = 0.5

const tickInterval = 500 * time.Millisecond

// Notifier broadcasts the local user's activity state to the peer. Delivery
// is best-effort; this is not a guaranteed protocol.
type Notifier interface {
	NotifyState(ctx context.Context, kind Kind, recipientID string) error
}

// Status is the payload of presence.changed events.
type Status struct {
	Active   bool
	Kind     Kind
	PeerName string
}

// Text renders the header status line for the current activity.
func (s Status) Text() string {
	if !s.Active {
		return ""
	}
	switch s.Kind {
	case KindRecording:
		return fmt.Sprintf("%s is recording...", s.PeerName)
	default:
		return fmt.Sprintf("%s is typing...", s.PeerName)
	}
}

// Monitor runs the decaying-timeout state machine for one conversation
// screen. The ticker is owned by the screen's lifecycle and cancelled
// deterministically on Stop.
type Monitor struct {
	delays   config.Presence
	peerName string
	notifier Notifier
	bus      *bus.Bus
	logger   *zap.Logger

	mu         sync.Mutex
	resetDelay float64
	active     bool
	kind       Kind

	cancel context.CancelFunc
}

// NewMonitor creates a presence monitor for a conversation with the given
// peer display name. notifier may be nil when the transport offers no
// presence channel.
func NewMonitor(delays config.Presence, peerName string, notifier Notifier, b *bus.Bus, logger *zap.Logger) *Monitor {
	return &Monitor{
		delays:   delays,
		peerName: peerName,
		notifier: notifier,
		bus:      b,
		logger:   logger,
	}
}

// Start arms the decay ticker.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Tick()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the decay ticker. Safe to call more than once.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Signal records a remote activity signal: the displayed state flips
// immediately and the decay delay resets to the kind-specific value
// (recording lingers longer than typing).
func (m *Monitor) Signal(kind Kind) {
	m.mu.Lock()
	switch kind {
	case KindRecording:
		m.resetDelay = m.delays.RecordingResetDelay
	default:
		m.resetDelay = m.delays.TypingResetDelay
	}
	m.active = true
	m.kind = kind
	status := m.statusLocked()
	m.mu.Unlock()

	m.publish(status)
}

// Tick advances the decay by one step. Exposed so tests can drive time.
func (m *Monitor) Tick() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.resetDelay -= tickStep
	if m.resetDelay >= 0 {
		m.mu.Unlock()
		return
	}
	// Crossed zero: revert to the default header text.
	m.active = false
	status := m.statusLocked()
	m.mu.Unlock()

	m.publish(status)
}

// Status returns the currently displayed activity state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Monitor) statusLocked() Status {
	return Status{Active: m.active, Kind: m.kind, PeerName: m.peerName}
}

func (m *Monitor) publish(status Status) {
	m.bus.Publish(bus.Event{
		Kind:      bus.KindPresenceChanged,
		Timestamp: time.Now(),
		Payload:   status,
	})
}

// NotifyOwn broadcasts the local user's activity to the peer. Failures are
// logged, never surfaced: a lost typing signal costs nothing.
func (m *Monitor) NotifyOwn(ctx context.Context, kind Kind, recipientID string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.NotifyState(ctx, kind, recipientID); err != nil {
		m.logger.Warn("failed to broadcast activity state",
			zap.Error(err), zap.String("recipient", recipientID))
	}
}

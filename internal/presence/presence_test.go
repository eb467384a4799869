package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mfigueira/convo/internal/bus"
	"github.com/mfigueira/convo/internal/config"
	"go.uber.org/zap"
)

func testMonitor(t *testing.T, n Notifier) (*Monitor, *bus.Bus) {
	t.Helper()
	b := bus.New()
	logger, _ := zap.NewDevelopment()
	return NewMonitor(config.Default().Presence, "Alice", n, b, logger), b
}

func TestSignalOverwritesStatusImmediately(t *testing.T) {
	m, b := testMonitor(t, nil)
	ch, unsub := b.Subscribe(bus.KindPresenceChanged, 10)
	defer unsub()

	m.Signal(KindTyping)

	status := m.Status()
	if !status.Active || status.Kind != KindTyping {
		t.Errorf("status = %+v, want active typing", status)
	}
	if got := status.Text(); got != "Alice is typing..." {
		t.Errorf("status text = %q", got)
	}

	select {
	case evt := <-ch:
		if s := evt.Payload.(Status); !s.Active {
			t.Error("published status should be active")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for presence event")
	}
}

func TestTypingDecay(t *testing.T) {
	m, _ := testMonitor(t, nil)

	m.Signal(KindTyping) // reset delay 0.5
	m.Tick()             // 0.0, still displayed
	if !m.Status().Active {
		t.Fatal("typing should still display at delay 0")
	}
	m.Tick() // below zero, reverts
	if m.Status().Active {
		t.Error("typing should have decayed")
	}
}

func TestRecordingLingersLonger(t *testing.T) {
	m, _ := testMonitor(t, nil)

	m.Signal(KindRecording) // reset delay 2.5
	for i := 0; i < 5; i++ {
		m.Tick()
	}
	if !m.Status().Active {
		t.Fatal("recording should survive five ticks")
	}
	m.Tick()
	if m.Status().Active {
		t.Error("recording should have decayed after the sixth tick")
	}
	if m.Status().Text() != "" {
		t.Errorf("idle status text = %q, want empty", m.Status().Text())
	}
}

func TestSignalResetsDecay(t *testing.T) {
	m, _ := testMonitor(t, nil)

	m.Signal(KindTyping)
	m.Tick()
	m.Signal(KindTyping) // fresh delay
	m.Tick()
	if !m.Status().Active {
		t.Error("renewed signal should keep the status alive")
	}
}

func TestIdleTickPublishesNothing(t *testing.T) {
	m, b := testMonitor(t, nil)
	ch, unsub := b.Subscribe(bus.KindPresenceChanged, 10)
	defer unsub()

	m.Tick()
	m.Tick()

	select {
	case evt := <-ch:
		t.Errorf("unexpected presence event while idle: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStopCancelsTicker(t *testing.T) {
	m, _ := testMonitor(t, nil)

	m.Start(context.Background())
	m.Signal(KindRecording)
	m.Stop()

	// After Stop the ticker no longer decays the state.
	time.Sleep(100 * time.Millisecond)
	before := m.Status()
	time.Sleep(600 * time.Millisecond)
	after := m.Status()
	if before.Active != after.Active {
		t.Error("state decayed after Stop; ticker leaked")
	}
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) NotifyState(context.Context, Kind, string) error {
	f.calls++
	return errors.New("socket closed")
}

func TestNotifyOwnFailureIsLoggedNotSurfaced(t *testing.T) {
	n := &failingNotifier{}
	m, _ := testMonitor(t, n)

	m.NotifyOwn(context.Background(), KindTyping, "peer1")
	if n.calls != 1 {
		t.Errorf("notifier calls = %d, want 1", n.calls)
	}
}

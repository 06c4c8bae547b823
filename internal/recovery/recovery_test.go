package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/feedpilot/feedpilot/internal/action"
	"github.com/feedpilot/feedpilot/internal/events"
	"github.com/feedpilot/feedpilot/internal/session"
	"pgregory.net/rapid"
)

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) snapshot() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.Event(nil), b.events...)
}

func TestRecoverClimbsNavigateThenRelaunchThenExhausted(t *testing.T) {
	t.Parallel()

	bus := &recordingBus{}
	controller, err := NewController(Config{RelaunchAttempts: 2, EventBus: bus})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	controller.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	view := session.View{SessionID: "s-1", ConsecutiveStuck: 3}

	first := controller.Recover(context.Background(), view)
	if first.Rung != session.RungNavigate {
		t.Fatalf("first rung = %q, want navigate", first.Rung)
	}
	if len(first.Gestures) != action.RecoveryPatternCount {
		t.Fatalf("gestures = %d, want %d", len(first.Gestures), action.RecoveryPatternCount)
	}
	for i, gesture := range first.Gestures {
		if gesture.Kind != action.KindScroll || gesture.Pattern != i+1 {
			t.Fatalf("gesture %d = %+v, want scroll pattern %d", i, gesture, i+1)
		}
	}

	for attempt := 1; attempt <= 2; attempt++ {
		step := controller.Recover(context.Background(), view)
		if step.Rung != session.RungRelaunch || step.Attempt != attempt {
			t.Fatalf("step %d = %+v, want relaunch attempt %d", attempt, step, attempt)
		}
	}

	last := controller.Recover(context.Background(), view)
	if last.Rung != session.RungExhausted {
		t.Fatalf("final rung = %q, want exhausted", last.Rung)
	}
	if !controller.Ladder().Exhausted {
		t.Fatal("ladder should report exhausted")
	}

	audit := bus.snapshot()
	if len(audit) != 4 {
		t.Fatalf("audit events = %d, want 4", len(audit))
	}
	payload, ok := audit[3].Payload.(events.StateTransitionPayload)
	if !ok || payload.To != string(session.RungExhausted) || audit[3].Severity != events.SeverityError {
		t.Fatalf("unexpected exhausted audit event %+v", audit[3])
	}
	if audit[0].EntityID != "s-1" || !audit[0].Timestamp.Equal(controller.now()) {
		t.Fatalf("unexpected audit metadata %+v", audit[0])
	}
}

func TestProgressedResetsLadder(t *testing.T) {
	t.Parallel()

	controller, err := NewController(Config{RelaunchAttempts: 1})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	controller.Recover(context.Background(), session.View{})
	controller.Recover(context.Background(), session.View{})
	controller.Progressed()

	if ladder := controller.Ladder(); ladder.Navigated || ladder.Relaunches != 0 || ladder.Resets != 1 {
		t.Fatalf("ladder after progress = %+v", ladder)
	}
	if step := controller.Recover(context.Background(), session.View{}); step.Rung != session.RungNavigate {
		t.Fatalf("rung after reset = %q, want navigate", step.Rung)
	}

	controller.Progressed()
	controller.Progressed()
	if resets := controller.Ladder().Resets; resets != 2 {
		t.Fatalf("resets = %d, want 2; progress on an idle ladder is not a reset", resets)
	}
}

func TestNewControllerDefaultsAndValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewController(Config{RelaunchAttempts: -1}); err == nil {
		t.Fatal("expected negative relaunch attempts error")
	}
	controller, err := NewController(Config{Gestures: 99})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if controller.relaunchAttempts != DefaultRelaunchAttempts {
		t.Fatalf("relaunch attempts = %d, want default", controller.relaunchAttempts)
	}
	if controller.gestures != action.RecoveryPatternCount {
		t.Fatalf("gestures = %d, want %d", controller.gestures, action.RecoveryPatternCount)
	}

	var nilController *Controller
	if step := nilController.Recover(context.Background(), session.View{}); step.Rung != session.RungExhausted {
		t.Fatalf("nil controller rung = %q", step.Rung)
	}
}

func TestNavigationAlwaysPrecedesRelaunch(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		attempts := rapid.IntRange(1, 5).Draw(t, "attempts")
		controller, err := NewController(Config{RelaunchAttempts: attempts})
		if err != nil {
			t.Fatalf("new controller: %v", err)
		}
		ops := rapid.SliceOfN(rapid.Bool(), 1, 40).Draw(t, "ops")

		streak := 0
		for _, recoverCall := range ops {
			if !recoverCall {
				controller.Progressed()
				streak = 0
				continue
			}
			step := controller.Recover(context.Background(), session.View{})
			switch {
			case streak == 0:
				if step.Rung != session.RungNavigate {
					t.Fatalf("first step of a streak = %q, want navigate", step.Rung)
				}
			case streak <= attempts:
				if step.Rung != session.RungRelaunch || step.Attempt != streak {
					t.Fatalf("step %d = %+v, want relaunch %d", streak, step, streak)
				}
			default:
				if step.Rung != session.RungExhausted {
					t.Fatalf("step %d = %q, want exhausted", streak, step.Rung)
				}
			}
			streak++
		}
	})
}

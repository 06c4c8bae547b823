// Package recovery decides how a stalled session climbs back to a known-good
// screen: neutral navigation first, then application relaunches, then
// exhaustion.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/feedpilot/feedpilot/internal/action"
	"github.com/feedpilot/feedpilot/internal/events"
	"github.com/feedpilot/feedpilot/internal/session"
)

const (
	// DefaultRelaunchAttempts bounds relaunches between verified progress.
	DefaultRelaunchAttempts = 3
)

// EventBus publishes recovery audit events.
type EventBus interface {
	Publish(event events.Event)
}

// Config configures the recovery ladder.
type Config struct {
	RelaunchAttempts int
	// Gestures is the number of neutral navigation patterns tried on the
	// navigate rung.
	Gestures int
	EventBus EventBus
}

// Ladder is the observable position on the recovery ladder.
type Ladder struct {
	Navigated  bool
	Relaunches int
	Exhausted  bool
	Resets     int
}

// Controller tracks the recovery ladder for one session.
type Controller struct {
	relaunchAttempts int
	gestures         int
	bus              EventBus
	now              func() time.Time

	mu     sync.Mutex
	ladder Ladder
}

// NewController constructs a recovery ladder.
func NewController(cfg Config) (*Controller, error) {
	if cfg.RelaunchAttempts < 0 {
		return nil, errors.New("relaunch attempts must not be negative")
	}
	if cfg.RelaunchAttempts == 0 {
		cfg.RelaunchAttempts = DefaultRelaunchAttempts
	}
	if cfg.Gestures <= 0 || cfg.Gestures > action.RecoveryPatternCount {
		cfg.Gestures = action.RecoveryPatternCount
	}
	return &Controller{
		relaunchAttempts: cfg.RelaunchAttempts,
		gestures:         cfg.Gestures,
		bus:              cfg.EventBus,
		now:              time.Now,
	}, nil
}

// Recover returns the next rung. Navigation is always offered once per
// stuck streak before any relaunch.
func (c *Controller) Recover(_ context.Context, view session.View) session.RecoveryStep {
	if c == nil {
		return session.RecoveryStep{Rung: session.RungExhausted, Reason: "recovery controller is nil"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ladder.Navigated {
		c.ladder.Navigated = true
		step := session.RecoveryStep{
			Rung:     session.RungNavigate,
			Gestures: c.navigationGestures(),
			Reason:   fmt.Sprintf("stuck for %d cycles", view.ConsecutiveStuck),
		}
		c.audit(view.SessionID, "stuck", string(step.Rung), events.SeverityWarn)
		return step
	}

	if c.ladder.Relaunches < c.relaunchAttempts {
		c.ladder.Relaunches++
		step := session.RecoveryStep{
			Rung:    session.RungRelaunch,
			Attempt: c.ladder.Relaunches,
			Reason:  fmt.Sprintf("relaunch %d of %d", c.ladder.Relaunches, c.relaunchAttempts),
		}
		from := string(session.RungNavigate)
		if c.ladder.Relaunches > 1 {
			from = string(session.RungRelaunch)
		}
		c.audit(view.SessionID, from, string(step.Rung), events.SeverityWarn)
		return step
	}

	c.ladder.Exhausted = true
	c.audit(view.SessionID, string(session.RungRelaunch), string(session.RungExhausted), events.SeverityError)
	return session.RecoveryStep{
		Rung:    session.RungExhausted,
		Attempt: c.ladder.Relaunches,
		Reason:  fmt.Sprintf("no progress after %d relaunches", c.ladder.Relaunches),
	}
}

// Progressed resets the ladder after a verified Progressed outcome.
func (c *Controller) Progressed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ladder.Navigated && c.ladder.Relaunches == 0 {
		return
	}
	resets := c.ladder.Resets + 1
	c.ladder = Ladder{Resets: resets}
}

// Ladder returns the current ladder position.
func (c *Controller) Ladder() Ladder {
	if c == nil {
		return Ladder{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ladder
}

func (c *Controller) navigationGestures() []action.Intent {
	gestures := make([]action.Intent, 0, c.gestures)
	for pattern := 1; pattern <= c.gestures; pattern++ {
		gestures = append(gestures, action.ScrollPattern(pattern, fmt.Sprintf("recovery gesture %d", pattern)))
	}
	return gestures
}

func (c *Controller) audit(sessionID, from, to, severity string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.Event{
		Type:       events.EventTypeStateTransition,
		Timestamp:  c.now().UTC(),
		EntityType: "recovery",
		EntityID:   sessionID,
		Payload: events.StateTransitionPayload{
			From:   from,
			To:     to,
			Reason: "recovery ladder",
		},
		Severity: severity,
	})
}

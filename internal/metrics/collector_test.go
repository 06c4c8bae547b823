package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/feedpilot/feedpilot/internal/events"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestObserveCountsSessionEvents(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.Observe(events.Event{Payload: events.CycleCompletedPayload{Outcome: "progressed", SentLike: true, SentComment: true}})
	c.Observe(events.Event{Payload: events.CycleCompletedPayload{Outcome: "no_change", SentLike: true, StuckCount: 1}})
	c.Observe(events.Event{Payload: events.IntentDecidedPayload{Intent: "like_only", Strategy: "deterministic"}})
	c.Observe(events.Event{Payload: events.ConfirmationPayload{Decision: "decline"}})
	c.Observe(events.Event{Payload: events.RecoveryStepPayload{Step: "navigate"}})
	c.Observe(events.Event{EntityType: "session", Payload: events.StateTransitionPayload{From: "init", To: "ready_for_cycle"}})
	c.Observe(events.Event{Payload: events.SessionFinishedPayload{Reason: "completed:budget_reached", Processed: 4}})
	c.Observe(events.Event{Payload: "ignored"})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.cycles.WithLabelValues("progressed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cycles.WithLabelValues("no_change")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.sent.WithLabelValues("like")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sent.WithLabelValues("comment")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stuck))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.intents.WithLabelValues("like_only", "deterministic", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.confirmations.WithLabelValues("decline")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recoverySteps.WithLabelValues("navigate", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("session", "ready_for_cycle")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.processed))
}

func TestSubscribeReceivesBusEvents(t *testing.T) {
	t.Parallel()

	bus := events.New()
	c := NewCollector()
	c.Subscribe(bus)
	bus.Publish(events.Event{Type: events.EventTypeSessionFinished, Payload: events.SessionFinishedPayload{Reason: "cancelled"}})
	bus.Close()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessions.WithLabelValues("cancelled")))
}

func TestHandlerServesRegistry(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.Observe(events.Event{Payload: events.CycleCompletedPayload{Outcome: "progressed"}})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `feedpilot_cycles_total{outcome="progressed"} 1`))
}

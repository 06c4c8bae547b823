// Package metrics turns session events into Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/feedpilot/feedpilot/internal/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "feedpilot"

// Collector holds the session metrics.
type Collector struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	intents       *prometheus.CounterVec
	sent          *prometheus.CounterVec
	confirmations *prometheus.CounterVec
	recoverySteps *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	sessions      *prometheus.CounterVec
	stuck         prometheus.Gauge
	processed     prometheus.Gauge
}

// NewCollector registers the session metrics on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cycles_total",
			Help:      "Finished cycles by outcome.",
		}, []string{"outcome"}),
		intents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "intents_total",
			Help:      "Decided intents by kind and strategy.",
		}, []string{"kind", "strategy", "simulated"}),
		sent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sent_total",
			Help:      "Likes and comments physically sent.",
		}, []string{"what"}),
		confirmations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "confirmations_total",
			Help:      "Operator confirmation answers by decision.",
		}, []string{"decision"}),
		recoverySteps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "recovery_steps_total",
			Help:      "Recovery ladder steps by rung and result.",
		}, []string{"rung", "progressed"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "state_transitions_total",
			Help:      "State transitions by entity and target state.",
		}, []string{"entity", "to"}),
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_total",
			Help:      "Finished sessions by reason.",
		}, []string{"reason"}),
		stuck: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "stuck_count",
			Help:      "Consecutive cycles without progress.",
		}),
		processed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "processed_subjects",
			Help:      "Subjects processed by the last finished session.",
		}),
	}
}

// Subscribe feeds the collector from bus.
func (c *Collector) Subscribe(bus events.Bus) {
	if c == nil || bus == nil {
		return
	}
	bus.SubscribeAll(c.Observe)
}

// Observe updates metrics from one event. Unknown events are ignored.
func (c *Collector) Observe(event events.Event) {
	switch payload := event.Payload.(type) {
	case events.CycleCompletedPayload:
		c.cycles.WithLabelValues(payload.Outcome).Inc()
		c.stuck.Set(float64(payload.StuckCount))
		if payload.SentLike {
			c.sent.WithLabelValues("like").Inc()
		}
		if payload.SentComment {
			c.sent.WithLabelValues("comment").Inc()
		}
	case events.IntentDecidedPayload:
		c.intents.WithLabelValues(payload.Intent, payload.Strategy, boolLabel(payload.Simulated)).Inc()
	case events.ConfirmationPayload:
		c.confirmations.WithLabelValues(payload.Decision).Inc()
	case events.RecoveryStepPayload:
		c.recoverySteps.WithLabelValues(payload.Step, boolLabel(payload.Progressed)).Inc()
	case events.StateTransitionPayload:
		c.transitions.WithLabelValues(event.EntityType, payload.To).Inc()
	case events.SessionFinishedPayload:
		c.sessions.WithLabelValues(payload.Reason).Inc()
		c.processed.Set(float64(payload.Processed))
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

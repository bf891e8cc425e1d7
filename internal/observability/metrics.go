// Package observability exports dialogue activity as Prometheus metrics.
package observability

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ai-talker/internal/dialogue"
	"ai-talker/internal/domain"
)

// Metrics holds the talker_* collectors.
//
//   - talker_step_entries_total{step}
//   - talker_turns_total{role}
//   - talker_transitions_total{decision}
//   - talker_field_failures_total{step,field}
//   - talker_gateway_errors_total{step}
//   - talker_gateway_requests_total{outcome}
//   - talker_gateway_duration_seconds
type Metrics struct {
	StepEntries     *prometheus.CounterVec
	Turns           *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	FieldFailures   *prometheus.CounterVec
	GatewayErrors   *prometheus.CounterVec
	GatewayRequests *prometheus.CounterVec
	GatewayDuration prometheus.Histogram
}

// NewMetrics registers the collectors with reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StepEntries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "talker_step_entries_total",
			Help: "Number of times a dialogue entered a step.",
		}, []string{"step"}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "talker_turns_total",
			Help: "Transcript turns recorded, by role.",
		}, []string{"role"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "talker_transitions_total",
			Help: "Supervisor decisions applied, by kind.",
		}, []string{"decision"}),
		FieldFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "talker_field_failures_total",
			Help: "Field lookups that failed and rendered empty.",
		}, []string{"step", "field"}),
		GatewayErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "talker_gateway_errors_total",
			Help: "Assistant turns replaced by an apology after a gateway failure.",
		}, []string{"step"}),
		GatewayRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "talker_gateway_requests_total",
			Help: "Model gateway calls, by outcome.",
		}, []string{"outcome"}),
		GatewayDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "talker_gateway_duration_seconds",
			Help:    "Latency of model gateway calls.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}

// Hooks returns dialogue hooks that feed m.
func (m *Metrics) Hooks() dialogue.Hooks {
	return dialogue.Hooks{
		OnStepEnter: func(_ context.Context, e *dialogue.StepEvent) {
			m.StepEntries.WithLabelValues(e.Step).Inc()
		},
		OnTurn: func(_ context.Context, e *dialogue.TurnEvent) {
			m.Turns.WithLabelValues(string(e.Turn.Role)).Inc()
		},
		OnTransition: func(_ context.Context, e *dialogue.TransitionEvent) {
			m.Transitions.WithLabelValues(e.Decision.Kind.String()).Inc()
		},
		OnFieldUnavailable: func(_ context.Context, e *dialogue.FailureEvent) {
			m.FieldFailures.WithLabelValues(e.Step, e.Field).Inc()
		},
		OnGatewayError: func(_ context.Context, e *dialogue.FailureEvent) {
			m.GatewayErrors.WithLabelValues(e.Step).Inc()
		},
	}
}

// InstrumentGateway wraps g so every call is counted and timed.
func (m *Metrics) InstrumentGateway(g dialogue.Gateway) dialogue.Gateway {
	return dialogue.GatewayFunc(func(ctx context.Context, msgs []domain.ChatMessage, maxTokens int) (string, error) {
		start := time.Now()
		reply, err := g.Complete(ctx, msgs, maxTokens)
		m.GatewayDuration.Observe(time.Since(start).Seconds())
		m.GatewayRequests.WithLabelValues(outcome(err)).Inc()
		return reply, err
	})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

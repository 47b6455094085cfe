// Package metrics exposes Prometheus collectors for the scheduler, the agent
// pool and backend calls.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// tasksEnqueued counts tasks accepted into a queue.
	// Labels: role (task affinity, "any" when unset)
	tasksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "turboswarm",
		Subsystem: "tasks",
		Name:      "enqueued_total",
		Help:      "Total tasks accepted into a session queue",
	}, []string{"role"})

	// tasksFinished counts tasks reaching a terminal or requeued state.
	// Labels: role (agent role), outcome (completed, failed, retried, requeued, cascaded)
	tasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "turboswarm",
		Subsystem: "tasks",
		Name:      "finished_total",
		Help:      "Task outcomes by agent role",
	}, []string{"role", "outcome"})

	// taskDuration measures execution time of a single task attempt.
	// Labels: role, model
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "turboswarm",
		Subsystem: "tasks",
		Name:      "duration_seconds",
		Help:      "Task execution time in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"role", "model"})

	// backendErrors counts backend failures by classification.
	// Labels: model, kind (transient, fatal)
	backendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "turboswarm",
		Subsystem: "backend",
		Name:      "errors_total",
		Help:      "Backend execution errors by classification",
	}, []string{"model", "kind"})

	// backendCost accumulates estimated dollar spend.
	// Labels: model
	backendCost = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "turboswarm",
		Subsystem: "backend",
		Name:      "cost_dollars_total",
		Help:      "Estimated backend spend in dollars",
	}, []string{"model"})

	// agentsLive tracks agents by status across all sessions.
	// Labels: status
	agentsLive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "turboswarm",
		Subsystem: "agents",
		Name:      "current",
		Help:      "Agents by status",
	}, []string{"status"})

	// agentsSpawned counts spawned agents.
	// Labels: role
	agentsSpawned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "turboswarm",
		Subsystem: "agents",
		Name:      "spawned_total",
		Help:      "Total agents spawned",
	}, []string{"role"})

	// sessionsActive tracks sessions that have not been destroyed.
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "turboswarm",
		Subsystem: "sessions",
		Name:      "current",
		Help:      "Sessions currently held by the manager",
	})

	// sessionsFinished counts sessions reaching a terminal status.
	// Labels: status (completed, failed)
	sessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "turboswarm",
		Subsystem: "sessions",
		Name:      "finished_total",
		Help:      "Sessions reaching a terminal status",
	}, []string{"status"})

	// busDropped counts events dropped because a subscriber fell behind.
	busDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "turboswarm",
		Subsystem: "bus",
		Name:      "dropped_total",
		Help:      "Events dropped for slow subscribers",
	})
)

func roleLabel(role string) string {
	if role == "" {
		return "any"
	}
	return role
}

// RecordEnqueued records a task accepted into a queue.
func RecordEnqueued(role string) {
	tasksEnqueued.WithLabelValues(roleLabel(role)).Inc()
}

// RecordTaskOutcome records a task outcome for an agent role.
func RecordTaskOutcome(role, outcome string) {
	tasksFinished.WithLabelValues(roleLabel(role), outcome).Inc()
}

// RecordTaskDuration records one execution attempt.
func RecordTaskDuration(role, model string, seconds float64) {
	taskDuration.WithLabelValues(role, model).Observe(seconds)
}

// RecordBackendError records a classified backend error.
func RecordBackendError(model, kind string) {
	backendErrors.WithLabelValues(model, kind).Inc()
}

// RecordCost adds estimated spend.
func RecordCost(model string, dollars float64) {
	if dollars > 0 {
		backendCost.WithLabelValues(model).Add(dollars)
	}
}

// RecordAgentSpawned records a spawned agent.
func RecordAgentSpawned(role string) {
	agentsSpawned.WithLabelValues(role).Inc()
}

// RecordAgentTransition moves one agent between status gauges. An empty
// from or to means the agent appeared or disappeared.
func RecordAgentTransition(from, to string) {
	if from == to {
		return
	}
	if from != "" {
		agentsLive.WithLabelValues(from).Dec()
	}
	if to != "" {
		agentsLive.WithLabelValues(to).Inc()
	}
}

// SessionOpened records a new session.
func SessionOpened() {
	sessionsActive.Inc()
}

// SessionClosed records a destroyed session.
func SessionClosed() {
	sessionsActive.Dec()
}

// RecordSessionFinished records a terminal session status.
func RecordSessionFinished(status string) {
	sessionsFinished.WithLabelValues(status).Inc()
}

// RecordBusDropped records a dropped event.
func RecordBusDropped() {
	busDropped.Inc()
}

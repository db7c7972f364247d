// Package metrics exposes Prometheus counters for the access-control layer.
//
// Labels are bounded: roles, resources and actions come from fixed enums and
// rate-limit identifiers are reduced to their action prefix.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AuthzDecisions counts permission checks by outcome
	AuthzDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecclesia_authz_decisions_total",
			Help: "Total number of permission decisions",
		},
		[]string{"role", "resource", "action", "decision"},
	)

	// ScopeCheckErrors counts scope lookups that failed and were denied
	ScopeCheckErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ecclesia_scope_check_errors_total",
			Help: "Scope containment lookups that failed against the store",
		},
	)

	// RateLimitDecisions counts limiter outcomes per action prefix
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecclesia_rate_limit_decisions_total",
			Help: "Rate limiter outcomes (allowed, denied, fail_open)",
		},
		[]string{"action", "outcome"},
	)

	// SessionEvents counts session lifecycle events
	SessionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecclesia_session_events_total",
			Help: "Session lifecycle events by type",
		},
		[]string{"event"},
	)

	// ActivityLogWriteFailures counts entries that only reached the fallback log
	ActivityLogWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ecclesia_activity_log_write_failures_total",
			Help: "Activity log entries that could not be persisted",
		},
	)

	// Notifications counts outbound member notifications
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecclesia_notifications_total",
			Help: "Outbound notifications by result (sent, failed, rejected)",
		},
		[]string{"result"},
	)

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ecclesia_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// MaintenanceRuns counts worker sweeps by job and result
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecclesia_maintenance_runs_total",
			Help: "Maintenance sweeps by job and result",
		},
		[]string{"job", "result"},
	)
)

// RecordAuthzDecision counts one permission decision
func RecordAuthzDecision(role, resource, action string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	if role == "" {
		role = "anonymous"
	}
	AuthzDecisions.WithLabelValues(role, resource, action, decision).Inc()
}

// RecordRateLimit counts a limiter outcome for identifier
func RecordRateLimit(identifier, outcome string) {
	RateLimitDecisions.WithLabelValues(ActionOf(identifier), outcome).Inc()
}

// ActionOf returns the action prefix of a limiter identifier ("login:ip:x" -> "login")
func ActionOf(identifier string) string {
	if i := strings.IndexByte(identifier, ':'); i > 0 {
		return identifier[:i]
	}
	return "unknown"
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "school_auth_login_attempts_total",
		Help: "Login attempts by outcome",
	}, []string{"outcome"})

	loginDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "school_auth_login_duration_seconds",
		Help:    "Duration of login evaluations",
		Buckets: prometheus.DefBuckets,
	})

	refreshAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "school_auth_refresh_attempts_total",
		Help: "Refresh token exchanges by outcome",
	}, []string{"outcome"})

	accountLocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "school_auth_account_locks_total",
		Help: "Accounts locked after repeated failed logins",
	})

	sessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "school_auth_sessions_ended_total",
		Help: "Sessions ended by reason",
	}, []string{"reason"})

	collaboratorDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "school_auth_collaborator_degraded_total",
		Help: "Collaborator failures that were tolerated",
	}, []string{"collaborator"})

	concurrentRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "school_auth_concurrent_update_retries_total",
		Help: "Reload and retry cycles after an optimistic concurrency conflict",
	})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "school_auth_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

// ObserveLogin records the outcome and duration of a login.
func ObserveLogin(outcome string, duration time.Duration) {
	loginAttempts.WithLabelValues(outcome).Inc()
	loginDuration.Observe(duration.Seconds())
}

func ObserveRefresh(outcome string) {
	refreshAttempts.WithLabelValues(outcome).Inc()
}

func IncAccountLocks() {
	accountLocks.Inc()
}

// ObserveSessionsEnded adds n ended sessions under reason.
func ObserveSessionsEnded(reason string, n int) {
	if n <= 0 {
		return
	}
	sessionsEnded.WithLabelValues(reason).Add(float64(n))
}

// ObserveDegraded counts a tolerated failure of a collaborator such as the
// rate limiter or the breach list.
func ObserveDegraded(collaborator string) {
	collaboratorDegraded.WithLabelValues(collaborator).Inc()
}

func IncConcurrentRetries() {
	concurrentRetries.Inc()
}

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RegistrationAttempts records registration requests by result
	// (accepted|rejected|conflict|dispatch_failure).
	RegistrationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stayline_registration_attempts_total",
			Help: "Total number of account registration attempts",
		},
		[]string{"result"},
	)

	// VerificationAttempts counts token redemptions by result
	// (created|verified|not_found|expired|conflict|error).
	VerificationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stayline_verification_attempts_total",
			Help: "Total number of email verification attempts",
		},
		[]string{"result"},
	)

	// ResendRequests counts verification resend requests by result
	// (sent|hidden|expired|error).
	ResendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stayline_resend_requests_total",
			Help: "Total number of verification resend requests",
		},
		[]string{"result"},
	)

	// TokensPurged tracks verification token rows removed by the maintenance sweep.
	TokensPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stayline_verification_tokens_purged_total",
			Help: "Verification token rows removed by expiry cleanup",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stayline_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

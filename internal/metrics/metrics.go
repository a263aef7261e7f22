// Package metrics declares the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts HTTP responses by route pattern and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsign_http_requests_total",
		Help: "The total number of HTTP requests by route and status code",
	}, []string{"route", "status"})

	// HTTPRequestDuration observes HTTP handling time by route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docsign_http_request_duration_seconds",
		Help:    "The HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// OTPIssuedTotal counts issued codes by delivery result (delivered, failed).
	OTPIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsign_otp_issued_total",
		Help: "The total number of one-time codes issued",
	}, []string{"delivery"})

	// OTPIssuanceRefusedTotal counts refused issuances by reason (cooldown, issue_limit, concurrent_request).
	OTPIssuanceRefusedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsign_otp_issuance_refused_total",
		Help: "The total number of refused one-time code requests",
	}, []string{"reason"})

	// OTPVerificationsTotal counts verifications by precise outcome.
	OTPVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsign_otp_verifications_total",
		Help: "The total number of one-time code verifications by outcome",
	}, []string{"outcome"})

	// TransitionsTotal counts lifecycle transitions by target status.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsign_transitions_total",
		Help: "The total number of signature request transitions by target status",
	}, []string{"status"})

	// AuditWriteFailuresTotal counts audit events that could not be persisted.
	AuditWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docsign_audit_write_failures_total",
		Help: "The total number of audit events that failed to persist",
	})

	// IntegrityViolationsTotal counts signing attempts refused for a changed document.
	IntegrityViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docsign_integrity_violations_total",
		Help: "The total number of document integrity violations detected at signing",
	})

	// SweptTotal counts requests expired by the sweeper.
	SweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docsign_sweeper_expired_total",
		Help: "The total number of requests expired by the sweeper",
	})

	// RateLimitedTotal counts public requests rejected by the per-IP limiter.
	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docsign_rate_limited_total",
		Help: "The total number of public requests rejected by the rate limiter",
	})
)

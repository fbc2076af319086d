package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	expiredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "challenge_service",
		Subsystem: "reconciler",
		Name:      "challenges_expired_total",
		Help:      "Number of challenges transitioned to expired by the expiry pass.",
	})

	certifiedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "challenge_service",
		Subsystem: "reconciler",
		Name:      "challenges_closed_certified_total",
		Help:      "Number of challenges closed by the certification safety-net pass.",
	})

	resolvedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "challenge_service",
		Subsystem: "reconciler",
		Name:      "challenges_resolved_superior_total",
		Help:      "Number of challenges resolved by a later superior activity.",
	})

	passErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "challenge_service",
		Subsystem: "reconciler",
		Name:      "pass_errors_total",
		Help:      "Per-challenge failures left for the next tick, labeled by pass.",
	}, []string{"pass"})

	tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "challenge_service",
		Subsystem: "reconciler",
		Name:      "tick_duration_seconds",
		Help:      "Time spent running all maintenance passes in one tick.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(expiredCounter, certifiedCounter, resolvedCounter, passErrors, tickDuration)
}

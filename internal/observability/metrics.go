package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	challengeOpenedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "challenge_service",
		Subsystem: "persistence",
		Name:      "last_challenge_opened_timestamp_seconds",
		Help:      "Unix timestamp of the most recent challenge opened.",
	})
	challengeSettledGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "challenge_service",
		Subsystem: "persistence",
		Name:      "last_challenge_settled_timestamp_seconds",
		Help:      "Unix timestamp of the most recent terminal challenge transition.",
	})
	certificationGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "challenge_service",
		Subsystem: "persistence",
		Name:      "last_certification_timestamp_seconds",
		Help:      "Unix timestamp of the most recent certification recorded.",
	})
)

func init() {
	prometheus.MustRegister(challengeOpenedGauge, challengeSettledGauge, certificationGauge)
}

// RecordChallengeOpened updates the open watermark gauge.
func RecordChallengeOpened(ts time.Time) {
	if ts.IsZero() {
		return
	}
	challengeOpenedGauge.Set(float64(ts.Unix()))
}

// RecordChallengeSettled updates the settlement watermark gauge.
func RecordChallengeSettled(ts time.Time) {
	if ts.IsZero() {
		return
	}
	challengeSettledGauge.Set(float64(ts.Unix()))
}

// RecordCertificationRecorded updates the certification watermark gauge.
func RecordCertificationRecorded(ts time.Time) {
	if ts.IsZero() {
		return
	}
	certificationGauge.Set(float64(ts.Unix()))
}

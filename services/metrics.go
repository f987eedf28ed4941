package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ranking_submissions_total",
		Help: "Score submissions by outcome.",
	}, []string{"outcome"})

	leaderboardCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ranking_leaderboard_cache_total",
		Help: "Leaderboard cache lookups by result.",
	}, []string{"result"})

	storeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ranking_store_duration_seconds",
		Help:    "Ranking store operation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	tournamentTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ranking_tournament_transitions_total",
		Help: "Tournament state transitions by target state.",
	}, []string{"state"})

	prizeClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ranking_prize_claims_total",
		Help: "Asynchronous prize claim writes by outcome.",
	}, []string{"outcome"})
)

func observeStore(op string, start time.Time) {
	storeDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

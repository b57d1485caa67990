// Package metrics exposes Prometheus instrumentation for the game service.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/game-storage/internal/domain"
)

const namespace = "game_storage"

// Metrics holds the service collectors and the registry they are registered on
type Metrics struct {
	registry *prometheus.Registry

	scoresSubmitted      *prometheus.CounterVec
	leaderboardImproved  *prometheus.CounterVec
	rewardClaims         *prometheus.CounterVec
	achievementsUnlocked prometheus.Counter
	usersRegistered      prometheus.Counter

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates the collectors on a dedicated registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scoresSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scores_submitted_total",
			Help:      "Game scores recorded, by game mode.",
		}, []string{"game_mode"}),
		leaderboardImproved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leaderboard_improvements_total",
			Help:      "Submissions that raised a user's best score, by period.",
		}, []string{"period"}),
		rewardClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daily_reward_claims_total",
			Help:      "Daily reward claim attempts, by result.",
		}, []string{"result"}),
		achievementsUnlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "achievements_unlocked_total",
			Help:      "Achievements appended.",
		}),
		usersRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "users_registered_total",
			Help:      "New users created.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	m.registry.MustRegister(
		m.scoresSubmitted,
		m.leaderboardImproved,
		m.rewardClaims,
		m.achievementsUnlocked,
		m.usersRegistered,
		m.httpRequests,
		m.httpRequestDuration,
	)
	return m
}

// Registry returns the registry backing the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ScoreSubmitted counts a recorded game score
func (m *Metrics) ScoreSubmitted(gameMode string) {
	m.scoresSubmitted.WithLabelValues(gameMode).Inc()
}

// LeaderboardImproved counts a best-score change
func (m *Metrics) LeaderboardImproved(period domain.Period) {
	m.leaderboardImproved.WithLabelValues(string(period)).Inc()
}

// RewardClaimed counts a claim attempt with its result label
func (m *Metrics) RewardClaimed(result string) {
	m.rewardClaims.WithLabelValues(result).Inc()
}

// AchievementUnlocked counts an appended achievement
func (m *Metrics) AchievementUnlocked() {
	m.achievementsUnlocked.Inc()
}

// UserRegistered counts a newly created user
func (m *Metrics) UserRegistered() {
	m.usersRegistered.Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the recorder
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware records request counts and latency labelled by chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.httpRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

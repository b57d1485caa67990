package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/game-storage/internal/domain"
)

func TestMetrics_DomainCounters(t *testing.T) {
	m := New()

	m.ScoreSubmitted("classic")
	m.ScoreSubmitted("classic")
	m.LeaderboardImproved(domain.PeriodDaily)
	m.RewardClaimed("claimed")
	m.AchievementUnlocked()
	m.UserRegistered()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.scoresSubmitted.WithLabelValues("classic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.leaderboardImproved.WithLabelValues("daily")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rewardClaims.WithLabelValues("claimed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.achievementsUnlocked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.usersRegistered))
}

func TestMetrics_MiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/users/{userID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/"+id, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/users/{userID}", "GET", "418")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.UserRegistered()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "game_storage_users_registered_total 1"))
}

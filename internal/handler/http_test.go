package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/game-storage/internal/config"
	"github.com/game-storage/internal/memory"
	"github.com/game-storage/internal/metrics"
	"github.com/game-storage/internal/service"
	"github.com/game-storage/internal/websocket"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestHandler(t *testing.T, limiter *RateLimiter) *Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	svc := service.NewGameService(memory.New(), nil, nil, m, config.DefaultConfig(), logger)
	return NewHandler(svc, websocket.NewHub(logger), m, limiter, logger)
}

func doRequest(t *testing.T, router http.Handler, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func registerUser(t *testing.T, router http.Handler, telegramID string) string {
	t.Helper()
	code, env := doRequest(t, router, http.MethodPost, "/api/v1/users", map[string]string{
		"telegram_id": telegramID,
		"username":    "user" + telegramID,
	})
	require.Equal(t, http.StatusOK, code)

	var data struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.User.ID)
	return data.User.ID
}

func TestHandler_HealthAndReady(t *testing.T) {
	h := newTestHandler(t, nil)
	router := h.Router()

	code, env := doRequest(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	code, _ = doRequest(t, router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, code)

	h.AddReadinessCheck("redis", func(context.Context) error { return errors.New("down") })
	code, env = doRequest(t, router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, env.Success)
}

func TestHandler_UserLifecycle(t *testing.T) {
	router := newTestHandler(t, nil).Router()
	userID := registerUser(t, router, "1001")

	code, env := doRequest(t, router, http.MethodGet, "/api/v1/users/"+userID, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	code, _ = doRequest(t, router, http.MethodGet, "/api/v1/users/telegram/1001", nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = doRequest(t, router, http.MethodGet, "/api/v1/users/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "user not found", env.Error)

	code, env = doRequest(t, router, http.MethodPatch, "/api/v1/users/"+userID+"/player", map[string]int{"coins": 70})
	assert.Equal(t, http.StatusOK, code)
	var player struct {
		Coins int `json:"coins"`
		Level int `json:"level"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &player))
	assert.Equal(t, 70, player.Coins)
	assert.Equal(t, 1, player.Level)

	code, _ = doRequest(t, router, http.MethodPatch, "/api/v1/users/"+userID+"/player", map[string]int{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doRequest(t, router, http.MethodGet, "/api/v1/users/"+userID+"/profile", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestHandler_RegisterRejectsMalformedBody(t *testing.T) {
	router := newTestHandler(t, nil).Router()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	code, env := doRequest(t, router, http.MethodPost, "/api/v1/users", map[string]string{"telegram_id": ""})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
}

func TestHandler_DailyRewards(t *testing.T) {
	router := newTestHandler(t, nil).Router()
	userID := registerUser(t, router, "2001")

	code, env := doRequest(t, router, http.MethodGet, "/api/v1/users/"+userID+"/rewards", nil)
	require.Equal(t, http.StatusOK, code)
	var rewards []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &rewards))
	assert.Len(t, rewards, 7)

	code, _ = doRequest(t, router, http.MethodPost, "/api/v1/users/"+userID+"/rewards/1/claim", nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = doRequest(t, router, http.MethodPost, "/api/v1/users/"+userID+"/rewards/1/claim", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "daily reward already claimed", env.Error)

	code, _ = doRequest(t, router, http.MethodPost, "/api/v1/users/"+userID+"/rewards/x/claim", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doRequest(t, router, http.MethodPost, "/api/v1/users/nobody/rewards/1/claim", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = doRequest(t, router, http.MethodPost, "/api/v1/users/"+userID+"/rewards/reset", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = doRequest(t, router, http.MethodPost, "/api/v1/users/"+userID+"/rewards/1/claim", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestHandler_ScoresAndLeaderboard(t *testing.T) {
	router := newTestHandler(t, nil).Router()
	alice := registerUser(t, router, "3001")
	bob := registerUser(t, router, "3002")

	for _, s := range []struct {
		userID string
		score  int
	}{{alice, 50}, {bob, 70}, {alice, 90}} {
		code, _ := doRequest(t, router, http.MethodPost, "/api/v1/scores", map[string]interface{}{
			"user_id":   s.userID,
			"game_mode": "classic",
			"score":     s.score,
		})
		require.Equal(t, http.StatusCreated, code)
	}

	code, env := doRequest(t, router, http.MethodGet, "/api/v1/leaderboards/all_time?limit=5", nil)
	require.Equal(t, http.StatusOK, code)
	var entries []struct {
		UserID string `json:"user_id"`
		Rank   int    `json:"rank"`
		Score  int    `json:"score"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, alice, entries[0].UserID)
	assert.Equal(t, 90, entries[0].Score)
	assert.Equal(t, 2, entries[1].Rank)

	code, env = doRequest(t, router, http.MethodGet, "/api/v1/leaderboards/daily/users/"+bob, nil)
	require.Equal(t, http.StatusOK, code)
	var entry struct {
		Rank int `json:"rank"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &entry))
	assert.Equal(t, 2, entry.Rank)

	code, env = doRequest(t, router, http.MethodGet, "/api/v1/leaderboards/all_time/stats", nil)
	require.Equal(t, http.StatusOK, code)
	var stats struct {
		TotalUsers int `json:"total_users"`
		TopScore   int `json:"top_score"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 2, stats.TotalUsers)
	assert.Equal(t, 90, stats.TopScore)

	code, _ = doRequest(t, router, http.MethodGet, "/api/v1/leaderboards/daily/users/nobody", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = doRequest(t, router, http.MethodGet, "/api/v1/users/"+alice+"/scores?limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	var scores []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &scores))
	assert.Len(t, scores, 1)

	code, _ = doRequest(t, router, http.MethodPost, "/api/v1/scores", map[string]interface{}{
		"user_id": alice,
		"bogus":   true,
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandler_Achievements(t *testing.T) {
	router := newTestHandler(t, nil).Router()
	userID := registerUser(t, router, "4001")

	code, _ := doRequest(t, router, http.MethodPost, "/api/v1/users/"+userID+"/achievements", map[string]interface{}{
		"type":   "streak",
		"title":  "Three in a row",
		"reward": 15,
	})
	require.Equal(t, http.StatusCreated, code)

	code, env := doRequest(t, router, http.MethodGet, "/api/v1/users/"+userID+"/achievements", nil)
	require.Equal(t, http.StatusOK, code)
	var achievements []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &achievements))
	assert.Len(t, achievements, 1)
}

func TestHandler_RateLimit(t *testing.T) {
	router := newTestHandler(t, NewRateLimiter(1, 2)).Router()

	var codes []int
	for i := 0; i < 3; i++ {
		code, _ := doRequest(t, router, http.MethodGet, "/api/v1/leaderboards/daily", nil)
		codes = append(codes, code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// health is not limited
	code, _ := doRequest(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestHandler_Metrics(t *testing.T) {
	router := newTestHandler(t, nil).Router()
	registerUser(t, router, "5001")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "game_storage_users_registered_total 1")
}

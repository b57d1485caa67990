package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/game-storage/internal/domain"
)

// SubmitScore records a finished game
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var input domain.NewGameScore
	if err := decodeJSON(r, &input); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.service.SubmitGameScore(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, err, "failed to submit score")
		return
	}
	h.writeSuccess(w, http.StatusCreated, result)
}

// GetRecentScores returns a user's latest games
func (h *Handler) GetRecentScores(w http.ResponseWriter, r *http.Request) {
	scores, err := h.service.RecentScores(r.Context(), chi.URLParam(r, "userID"), queryLimit(r))
	if err != nil {
		h.writeServiceError(w, err, "failed to get recent scores")
		return
	}
	h.writeSuccess(w, http.StatusOK, scores)
}

// GetLeaderboard returns the ranked top list of a period
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	period := domain.Period(chi.URLParam(r, "period"))

	entries, err := h.service.Leaderboard(r.Context(), period, queryLimit(r))
	if err != nil {
		h.writeServiceError(w, err, "failed to get leaderboard")
		return
	}
	h.writeSuccess(w, http.StatusOK, entries)
}

// GetUserRank returns a user's rank and best score in a period
func (h *Handler) GetUserRank(w http.ResponseWriter, r *http.Request) {
	period := domain.Period(chi.URLParam(r, "period"))

	entry, err := h.service.UserRank(r.Context(), period, chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, err, "failed to get user rank")
		return
	}
	h.writeSuccess(w, http.StatusOK, entry)
}

// GetLeaderboardStats returns the size and top score of a period
func (h *Handler) GetLeaderboardStats(w http.ResponseWriter, r *http.Request) {
	period := domain.Period(chi.URLParam(r, "period"))

	stats, err := h.service.LeaderboardStats(r.Context(), period)
	if err != nil {
		h.writeServiceError(w, err, "failed to get leaderboard stats")
		return
	}
	h.writeSuccess(w, http.StatusOK, stats)
}

package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/game-storage/internal/domain"
)

// RegisterUser creates a user or returns the one linked to the Telegram id
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var input domain.NewUser
	if err := decodeJSON(r, &input); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	user, player, err := h.service.RegisterUser(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, err, "failed to register user")
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"user":   user,
		"player": player,
	})
}

// GetUser returns a user by id
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, err, "failed to get user")
		return
	}
	h.writeSuccess(w, http.StatusOK, user)
}

// GetUserByTelegramID returns the user linked to a Telegram account
func (h *Handler) GetUserByTelegramID(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUserByTelegramID(r.Context(), chi.URLParam(r, "telegramID"))
	if err != nil {
		h.writeServiceError(w, err, "failed to get user by telegram id")
		return
	}
	h.writeSuccess(w, http.StatusOK, user)
}

// GetProfile returns a user with its player and achievements
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.GetProfile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, err, "failed to get profile")
		return
	}
	h.writeSuccess(w, http.StatusOK, profile)
}

// GetPlayer returns the game state of a user
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	player, err := h.service.GetPlayer(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, err, "failed to get player")
		return
	}
	h.writeSuccess(w, http.StatusOK, player)
}

// UpdatePlayer applies a partial update to the player
func (h *Handler) UpdatePlayer(w http.ResponseWriter, r *http.Request) {
	var patch domain.PlayerPatch
	if err := decodeJSON(r, &patch); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	player, err := h.service.UpdatePlayer(r.Context(), chi.URLParam(r, "userID"), patch)
	if err != nil {
		h.writeServiceError(w, err, "failed to update player")
		return
	}
	h.writeSuccess(w, http.StatusOK, player)
}

// GetDailyRewards returns the user's reward cycle
func (h *Handler) GetDailyRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.service.DailyRewards(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, err, "failed to get daily rewards")
		return
	}
	h.writeSuccess(w, http.StatusOK, rewards)
}

// ResetDailyRewards starts a new reward cycle
func (h *Handler) ResetDailyRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.service.ResetDailyRewards(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, err, "failed to reset daily rewards")
		return
	}
	h.writeSuccess(w, http.StatusOK, rewards)
}

// ClaimDailyReward claims one day of the reward cycle
func (h *Handler) ClaimDailyReward(w http.ResponseWriter, r *http.Request) {
	day, err := strconv.Atoi(chi.URLParam(r, "day"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	reward, player, err := h.service.ClaimDailyReward(r.Context(), chi.URLParam(r, "userID"), day)
	if err != nil {
		h.writeServiceError(w, err, "failed to claim daily reward")
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"reward": reward,
		"player": player,
	})
}

// GetAchievements returns a user's achievements
func (h *Handler) GetAchievements(w http.ResponseWriter, r *http.Request) {
	achievements, err := h.service.GetAchievements(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, err, "failed to get achievements")
		return
	}
	h.writeSuccess(w, http.StatusOK, achievements)
}

// UnlockAchievement appends an achievement for the user
func (h *Handler) UnlockAchievement(w http.ResponseWriter, r *http.Request) {
	var input domain.NewAchievement
	if err := decodeJSON(r, &input); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	input.UserID = chi.URLParam(r, "userID")

	achievement, player, err := h.service.UnlockAchievement(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, err, "failed to unlock achievement")
		return
	}

	h.writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"achievement": achievement,
		"player":      player,
	})
}

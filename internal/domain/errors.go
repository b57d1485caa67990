package domain

import "errors"

// Domain errors
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrPlayerNotFound       = errors.New("player not found")
	ErrRewardNotFound       = errors.New("daily reward not found")
	ErrRewardAlreadyClaimed = errors.New("daily reward already claimed")
	ErrEntryNotFound        = errors.New("leaderboard entry not found")
	ErrInvalidPeriod        = errors.New("invalid leaderboard period")
	ErrRateLimited          = errors.New("rate limit exceeded")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInternalError        = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrRewardNotFound) ||
		errors.Is(err, ErrEntryNotFound)
}

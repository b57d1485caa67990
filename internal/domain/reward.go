package domain

import "time"

const (
	// RewardCycleDays is the length of the daily reward track
	RewardCycleDays = 7

	// RewardResetInterval is how far ahead of a reset the cycle's ResetAt is stamped
	RewardResetInterval = 24 * time.Hour
)

// DailyReward is one day of a user's reward cycle
type DailyReward struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Day       int        `json:"day"`
	Claimed   bool       `json:"claimed"`
	ClaimedAt *time.Time `json:"claimed_at"`
	ResetAt   time.Time  `json:"reset_at"`
}

// Claim marks the reward as claimed at the given time
func (r *DailyReward) Claim(at time.Time) error {
	if r.Claimed {
		return ErrRewardAlreadyClaimed
	}
	r.Claimed = true
	r.ClaimedAt = &at
	return nil
}

// NewRewardCycle builds a fresh, fully unclaimed cycle for a user
func NewRewardCycle(userID string, now time.Time, newID func() string) []DailyReward {
	resetAt := now.Add(RewardResetInterval)
	rewards := make([]DailyReward, 0, RewardCycleDays)
	for day := 1; day <= RewardCycleDays; day++ {
		rewards = append(rewards, DailyReward{
			ID:      newID(),
			UserID:  userID,
			Day:     day,
			ResetAt: resetAt,
		})
	}
	return rewards
}

// CycleExpired reports whether every reward of the cycle may be regenerated at now.
// An empty cycle is considered expired.
func CycleExpired(rewards []DailyReward, now time.Time) bool {
	for _, r := range rewards {
		if now.Before(r.ResetAt) {
			return false
		}
	}
	return true
}

// Achievement is an append-only unlock event
type Achievement struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Reward      int       `json:"reward"`
	UnlockedAt  time.Time `json:"unlocked_at"`
}

// NewAchievement holds the caller-supplied fields of an achievement
type NewAchievement struct {
	UserID      string `json:"user_id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Reward      int    `json:"reward"`
}

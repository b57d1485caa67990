package domain

import (
	"sort"
	"time"
)

// Period tags a leaderboard time window
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodAllTime Period = "all_time"
)

// DefaultLimit is used when a listing is requested without a positive limit
const DefaultLimit = 10

// Valid reports whether the period is usable as a tag. Periods are free-form.
func (p Period) Valid() bool {
	return p != ""
}

// GameScore is an append-only play record
type GameScore struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	GameMode         string    `json:"game_mode"`
	Score            int       `json:"score"`
	CoinsEarned      int       `json:"coins_earned"`
	ExperienceEarned int       `json:"experience_earned"`
	PlayedAt         time.Time `json:"played_at"`
}

// NewGameScore holds the caller-supplied fields of a game score
type NewGameScore struct {
	UserID           string `json:"user_id"`
	GameMode         string `json:"game_mode"`
	Score            int    `json:"score"`
	CoinsEarned      int    `json:"coins_earned"`
	ExperienceEarned int    `json:"experience_earned"`
}

// LeaderboardEntry is a user's best score for a period
type LeaderboardEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Rank      int       `json:"rank"`
	Score     int       `json:"score"`
	Period    Period    `json:"period"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Merge applies the best-score-wins rule. It reports whether the entry changed.
func (e *LeaderboardEntry) Merge(score int, at time.Time) bool {
	if score <= e.Score {
		return false
	}
	e.Score = score
	e.UpdatedAt = at
	return true
}

// RankedEntry is a leaderboard entry joined with its user.
// User is nil when the user record is missing.
type RankedEntry struct {
	LeaderboardEntry
	User *User `json:"user"`
}

// RankEntries sorts entries by score descending, keeping insertion order on ties,
// truncates to limit and stamps 1-based ranks. The input slice is not modified.
func RankEntries(entries []LeaderboardEntry, limit int) []LeaderboardEntry {
	if limit <= 0 {
		limit = DefaultLimit
	}
	sorted := make([]LeaderboardEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	for i := range sorted {
		sorted[i].Rank = i + 1
	}
	return sorted
}

// RecentScores orders scores by PlayedAt descending, keeping insertion order on ties,
// and truncates to limit. The input slice is not modified.
func RecentScores(scores []GameScore, limit int) []GameScore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	sorted := make([]GameScore, len(scores))
	copy(sorted, scores)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PlayedAt.After(sorted[j].PlayedAt)
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// LeaderboardStats summarises a period
type LeaderboardStats struct {
	Period     Period `json:"period"`
	TotalUsers int64  `json:"total_users"`
	TopScore   int    `json:"top_score"`
}

// ScoreResult is the outcome of a game score submission
type ScoreResult struct {
	Score   GameScore       `json:"score"`
	Player  Player          `json:"player"`
	Periods map[Period]bool `json:"periods_improved"`
}

// Profile groups a user with its game state
type Profile struct {
	User         User          `json:"user"`
	Player       *Player       `json:"player,omitempty"`
	Achievements []Achievement `json:"achievements"`
}

// Package memory implements storage.Repository with in-process maps.
//
// The store is not durable. A single lock serialises whole calls, so the
// read-modify-write sequences (player updates, reward claims, leaderboard
// merges) never interleave.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/game-storage/internal/domain"
	"github.com/game-storage/internal/storage"
)

// Store is an in-memory game repository
type Store struct {
	mu sync.RWMutex

	users        map[string]*domain.User
	userOrder    []string                        // user ids in creation order
	players      map[string]*domain.Player       // by user id
	dailyRewards map[string][]domain.DailyReward // by user id
	achievements map[string][]domain.Achievement // by user id
	gameScores   map[string][]domain.GameScore   // by user id
	leaderboard  map[domain.Period][]domain.LeaderboardEntry

	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

var _ storage.Repository = (*Store)(nil)

// New creates an empty in-memory store
func New(opts ...Option) *Store {
	s := &Store{
		users:        make(map[string]*domain.User),
		players:      make(map[string]*domain.Player),
		dailyRewards: make(map[string][]domain.DailyReward),
		achievements: make(map[string][]domain.Achievement),
		gameScores:   make(map[string][]domain.GameScore),
		leaderboard:  make(map[domain.Period][]domain.LeaderboardEntry),
		now:          time.Now,
		newID:        uuid.NewString,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetUser returns a user by id
func (s *Store) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	u := *user
	return &u, nil
}

// GetUserByTelegramID returns the earliest created user with the given Telegram id
func (s *Store) GetUserByTelegramID(_ context.Context, telegramID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.userOrder {
		if user := s.users[id]; user.TelegramID == telegramID {
			u := *user
			return &u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

// CreateUser stores a new user. Telegram id uniqueness is not checked here.
func (s *Store) CreateUser(_ context.Context, in domain.NewUser) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := &domain.User{
		ID:         s.newID(),
		TelegramID: in.TelegramID,
		Username:   in.Username,
		FirstName:  in.FirstName,
		LastName:   in.LastName,
		PhotoURL:   in.PhotoURL,
		CreatedAt:  s.now(),
	}
	s.users[user.ID] = user
	s.userOrder = append(s.userOrder, user.ID)

	u := *user
	return &u, nil
}

// GetPlayer returns the player of a user
func (s *Store) GetPlayer(_ context.Context, userID string) (*domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	player, ok := s.players[userID]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	p := *player
	return &p, nil
}

// CreatePlayer stores a player for its user, replacing any existing one
func (s *Store) CreatePlayer(_ context.Context, in domain.NewPlayer) (*domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.players[in.UserID]; exists {
		s.logger.Warn("replacing existing player", "user_id", in.UserID)
	}
	player := in.ToPlayer(s.newID(), s.now())
	s.players[in.UserID] = &player

	p := player
	return &p, nil
}

// UpdatePlayer applies a patch to an existing player
func (s *Store) UpdatePlayer(_ context.Context, userID string, patch domain.PlayerPatch) (*domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.players[userID]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	updated := *existing
	patch.Apply(&updated)
	updated.UpdatedAt = s.now()
	s.players[userID] = &updated

	p := updated
	return &p, nil
}

// ApplyPlayerProgress adds the increments to the player under the store lock
func (s *Store) ApplyPlayerProgress(_ context.Context, userID string, progress domain.PlayerProgress) (*domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated domain.Player
	if existing, ok := s.players[userID]; ok {
		updated = *existing
	} else {
		updated = domain.NewPlayer{UserID: userID, Level: 1}.ToPlayer(s.newID(), s.now())
	}
	progress.Apply(&updated)
	updated.UpdatedAt = s.now()
	s.players[userID] = &updated

	p := updated
	return &p, nil
}

// GetDailyRewards returns the user's current reward cycle ordered by day
func (s *Store) GetDailyRewards(_ context.Context, userID string) ([]domain.DailyReward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneRewards(s.dailyRewards[userID]), nil
}

// ClaimDailyReward marks one day of the user's cycle as claimed
func (s *Store) ClaimDailyReward(_ context.Context, userID string, day int) (*domain.DailyReward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rewards := s.dailyRewards[userID]
	for i := range rewards {
		if rewards[i].Day != day {
			continue
		}
		if err := rewards[i].Claim(s.now()); err != nil {
			return nil, err
		}
		r := cloneReward(rewards[i])
		return &r, nil
	}
	return nil, domain.ErrRewardNotFound
}

// ResetDailyRewards replaces the user's cycle with seven fresh unclaimed days
func (s *Store) ResetDailyRewards(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dailyRewards[userID] = domain.NewRewardCycle(userID, s.now(), s.newID)
	return nil
}

// GetAchievements returns the user's achievements in unlock order
func (s *Store) GetAchievements(_ context.Context, userID string) ([]domain.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.achievements[userID]
	out := make([]domain.Achievement, len(list))
	copy(out, list)
	return out, nil
}

// AddAchievement appends an achievement to the user's list
func (s *Store) AddAchievement(_ context.Context, in domain.NewAchievement) (*domain.Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	achievement := domain.Achievement{
		ID:          s.newID(),
		UserID:      in.UserID,
		Type:        in.Type,
		Title:       in.Title,
		Description: in.Description,
		Reward:      in.Reward,
		UnlockedAt:  s.now(),
	}
	s.achievements[in.UserID] = append(s.achievements[in.UserID], achievement)
	return &achievement, nil
}

// AddGameScore appends a play record to the user's history
func (s *Store) AddGameScore(_ context.Context, in domain.NewGameScore) (*domain.GameScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	score := domain.GameScore{
		ID:               s.newID(),
		UserID:           in.UserID,
		GameMode:         in.GameMode,
		Score:            in.Score,
		CoinsEarned:      in.CoinsEarned,
		ExperienceEarned: in.ExperienceEarned,
		PlayedAt:         s.now(),
	}
	s.gameScores[in.UserID] = append(s.gameScores[in.UserID], score)
	return &score, nil
}

// GetRecentScores returns the user's latest scores, newest first
func (s *Store) GetRecentScores(_ context.Context, userID string, limit int) ([]domain.GameScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.RecentScores(s.gameScores[userID], limit), nil
}

// GetLeaderboard ranks a period's entries by score and joins each with its user
func (s *Store) GetLeaderboard(_ context.Context, period domain.Period, limit int) ([]domain.RankedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ranked := domain.RankEntries(s.leaderboard[period], limit)
	out := make([]domain.RankedEntry, len(ranked))
	for i, entry := range ranked {
		out[i] = domain.RankedEntry{LeaderboardEntry: entry}
		if user, ok := s.users[entry.UserID]; ok {
			u := *user
			out[i].User = &u
		}
	}
	return out, nil
}

// UpdateLeaderboard merges a score into the period using best-score-wins
func (s *Store) UpdateLeaderboard(ctx context.Context, userID string, score int, period domain.Period) error {
	_, err := s.MergeLeaderboardScore(ctx, userID, score, period)
	return err
}

// MergeLeaderboardScore merges a score and reports whether the stored best changed
func (s *Store) MergeLeaderboardScore(_ context.Context, userID string, score int, period domain.Period) (bool, error) {
	if !period.Valid() {
		return false, domain.ErrInvalidPeriod
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.leaderboard[period]
	for i := range entries {
		if entries[i].UserID == userID {
			return entries[i].Merge(score, s.now()), nil
		}
	}

	s.leaderboard[period] = append(entries, domain.LeaderboardEntry{
		ID:        s.newID(),
		UserID:    userID,
		Rank:      0,
		Score:     score,
		Period:    period,
		UpdatedAt: s.now(),
	})
	return true, nil
}

// Periods lists the periods that have at least one entry
func (s *Store) Periods(_ context.Context) ([]domain.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	periods := make([]domain.Period, 0, len(s.leaderboard))
	for period, entries := range s.leaderboard {
		if len(entries) > 0 {
			periods = append(periods, period)
		}
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i] < periods[j] })
	return periods, nil
}

func cloneReward(r domain.DailyReward) domain.DailyReward {
	if r.ClaimedAt != nil {
		at := *r.ClaimedAt
		r.ClaimedAt = &at
	}
	return r
}

func cloneRewards(rewards []domain.DailyReward) []domain.DailyReward {
	out := make([]domain.DailyReward, len(rewards))
	for i, r := range rewards {
		out[i] = cloneReward(r)
	}
	return out
}

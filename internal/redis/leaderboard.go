package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/game-storage/internal/config"
	"github.com/game-storage/internal/domain"
)

// LeaderboardCache keeps a real-time copy of each period's best scores in sorted sets
type LeaderboardCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewLeaderboardCache connects to Redis and returns a cache
func NewLeaderboardCache(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*LeaderboardCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewWithClient(client, logger), nil
}

// NewWithClient wraps an existing Redis client
func NewWithClient(client *redis.Client, logger *slog.Logger) *LeaderboardCache {
	return &LeaderboardCache{
		client: client,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *LeaderboardCache) Close() error {
	return c.client.Close()
}

// Ping checks Redis connectivity
func (c *LeaderboardCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// periodKey returns the Redis key for a period's sorted set
func periodKey(period domain.Period) string {
	return fmt.Sprintf("leaderboard:%s:realtime", period)
}

// SetScoreIfBetter stores the score only when it beats the user's cached best.
// It reports whether the cached score changed.
func (c *LeaderboardCache) SetScoreIfBetter(ctx context.Context, period domain.Period, userID string, score int) (bool, error) {
	changed, err := c.client.ZAddArgs(ctx, periodKey(period), redis.ZAddArgs{
		GT:      true,
		Ch:      true,
		Members: []redis.Z{{Score: float64(score), Member: userID}},
	}).Result()
	if err != nil {
		return false, fmt.Errorf("setting score: %w", err)
	}
	return changed > 0, nil
}

// BatchSetScores merges many scores using best-score-wins in one round trip
func (c *LeaderboardCache) BatchSetScores(ctx context.Context, period domain.Period, scores map[string]int) error {
	if len(scores) == 0 {
		return nil
	}

	key := periodKey(period)
	pipe := c.client.Pipeline()
	for userID, score := range scores {
		pipe.ZAddArgs(ctx, key, redis.ZAddArgs{
			GT:      true,
			Members: []redis.Z{{Score: float64(score), Member: userID}},
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batch setting scores: %w", err)
	}
	return nil
}

// GetTopN returns the top N users of a period in descending score order
func (c *LeaderboardCache) GetTopN(ctx context.Context, period domain.Period, n int) ([]domain.LeaderboardEntry, error) {
	if n <= 0 {
		n = domain.DefaultLimit
	}
	results, err := c.client.ZRevRangeWithScores(ctx, periodKey(period), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, len(results))
	for i, result := range results {
		entries[i] = domain.LeaderboardEntry{
			Rank:   i + 1,
			UserID: result.Member.(string),
			Score:  int(result.Score),
			Period: period,
		}
	}
	return entries, nil
}

// GetUserRank returns a user's 1-based rank and score in a period
func (c *LeaderboardCache) GetUserRank(ctx context.Context, period domain.Period, userID string) (*domain.LeaderboardEntry, error) {
	key := periodKey(period)

	// Use pipeline to get both rank and score
	pipe := c.client.Pipeline()
	rankCmd := pipe.ZRevRank(ctx, key, userID)
	scoreCmd := pipe.ZScore(ctx, key, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrEntryNotFound
		}
		return nil, fmt.Errorf("getting user rank: %w", err)
	}

	rank, err := rankCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting rank result: %w", err)
	}
	score, err := scoreCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting score result: %w", err)
	}

	return &domain.LeaderboardEntry{
		Rank:   int(rank) + 1,
		UserID: userID,
		Score:  int(score),
		Period: period,
	}, nil
}

// GetCount returns the number of users ranked in a period
func (c *LeaderboardCache) GetCount(ctx context.Context, period domain.Period) (int64, error) {
	count, err := c.client.ZCard(ctx, periodKey(period)).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

// ResetPeriod drops every cached score of a period
func (c *LeaderboardCache) ResetPeriod(ctx context.Context, period domain.Period) error {
	if err := c.client.Del(ctx, periodKey(period)).Err(); err != nil {
		return fmt.Errorf("resetting period: %w", err)
	}
	return nil
}

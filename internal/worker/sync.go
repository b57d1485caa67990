package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/game-storage/internal/config"
	"github.com/game-storage/internal/domain"
	"github.com/game-storage/internal/redis"
	"github.com/game-storage/internal/storage"
)

// SyncWorker keeps the Redis leaderboard cache aligned with the repository.
// The repository is authoritative; scores only ever move up in the cache.
type SyncWorker struct {
	repo    storage.Repository
	cache   *redis.LeaderboardCache
	config  *config.SyncConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	repo storage.Repository,
	cache *redis.LeaderboardCache,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		repo:   repo,
		cache:  cache,
		config: cfg,
		logger: logger,
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx, w.stopCh, w.doneCh)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)
	<-doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			w.syncAll(ctx)
		}
	}
}

// syncAll copies every period from the repository into the cache
func (w *SyncWorker) syncAll(ctx context.Context) {
	w.logger.Info("starting sync cycle")
	startTime := time.Now()

	periods, err := w.repo.Periods(ctx)
	if err != nil {
		w.logger.Error("failed to list periods for sync", "error", err)
		return
	}

	syncedCount := 0
	errorCount := 0

	for _, period := range periods {
		if err := w.SyncPeriod(ctx, period); err != nil {
			w.logger.Error("failed to sync period",
				"period", period,
				"error", err,
			)
			errorCount++
		} else {
			syncedCount++
		}
	}

	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"synced", syncedCount,
		"errors", errorCount,
	)
}

// SyncPeriod copies every entry of a period into the cache in batches, along
// with the display names of their users
func (w *SyncWorker) SyncPeriod(ctx context.Context, period domain.Period) error {
	w.logger.Debug("syncing period to cache", "period", period)

	entries, err := w.repo.GetLeaderboard(ctx, period, math.MaxInt32)
	if err != nil {
		return fmt.Errorf("reading %s leaderboard: %w", period, err)
	}
	if len(entries) == 0 {
		w.logger.Debug("no scores to sync", "period", period)
		return nil
	}

	// Process in batches to keep pipelines bounded
	batchSize := w.config.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	batch := make(map[string]int, batchSize)
	for _, entry := range entries {
		batch[entry.UserID] = entry.Score

		if len(batch) >= batchSize {
			if err := w.cache.BatchSetScores(ctx, period, batch); err != nil {
				return fmt.Errorf("writing %s scores to cache: %w", period, err)
			}
			batch = make(map[string]int, batchSize)
		}
	}

	// Process remaining batch
	if err := w.cache.BatchSetScores(ctx, period, batch); err != nil {
		return fmt.Errorf("writing %s scores to cache: %w", period, err)
	}

	w.logger.Debug("synced period to cache",
		"period", period,
		"user_count", len(entries),
	)
	return nil
}

// Rebuild drops every cached period and reloads it from the repository.
// It runs at startup, before traffic, so stale cache contents cannot outrank
// the repository.
func (w *SyncWorker) Rebuild(ctx context.Context) error {
	w.logger.Info("rebuilding leaderboard cache from repository")

	periods, err := w.repo.Periods(ctx)
	if err != nil {
		return fmt.Errorf("listing periods: %w", err)
	}

	for _, period := range periods {
		if err := w.cache.ResetPeriod(ctx, period); err != nil {
			return err
		}
		if err := w.SyncPeriod(ctx, period); err != nil {
			return err
		}
	}

	w.logger.Info("completed rebuilding leaderboard cache", "periods", len(periods))
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle (useful for manual triggers)
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.syncAll(ctx)
}

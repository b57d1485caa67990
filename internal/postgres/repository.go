package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/game-storage/internal/config"
	"github.com/game-storage/internal/domain"
	"github.com/game-storage/internal/storage"
)

// Repository provides PostgreSQL-based game storage
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return NewWithPool(pool, logger), nil
}

// NewWithPool wraps an existing connection pool
func NewWithPool(pool *pgxpool.Pool, logger *slog.Logger) *Repository {
	return &Repository{
		pool:   pool,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations creates the game schema
func (r *Repository) RunMigrations(ctx context.Context) error {
	for _, migration := range migrations {
		if _, err := r.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

const userColumns = `id, telegram_id, username, first_name, last_name, photo_url, created_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName, &u.PhotoURL, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser retrieves a user by id
func (r *Repository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return user, nil
}

// GetUserByTelegramID retrieves a user by Telegram id
func (r *Repository) GetUserByTelegramID(ctx context.Context, telegramID string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`
	user, err := scanUser(r.pool.QueryRow(ctx, query, telegramID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user by telegram id: %w", err)
	}
	return user, nil
}

// CreateUser inserts a new user. The schema enforces telegram_id uniqueness.
func (r *Repository) CreateUser(ctx context.Context, in domain.NewUser) (*domain.User, error) {
	user := &domain.User{
		ID:         uuid.NewString(),
		TelegramID: in.TelegramID,
		Username:   in.Username,
		FirstName:  in.FirstName,
		LastName:   in.LastName,
		PhotoURL:   in.PhotoURL,
		CreatedAt:  r.now(),
	}

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		user.ID, user.TelegramID, user.Username, user.FirstName, user.LastName, user.PhotoURL, user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

const playerColumns = `id, user_id, level, coins, experience, total_score, games_played, updated_at`

func scanPlayer(row pgx.Row) (*domain.Player, error) {
	var p domain.Player
	err := row.Scan(&p.ID, &p.UserID, &p.Level, &p.Coins, &p.Experience, &p.TotalScore, &p.GamesPlayed, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPlayer retrieves the player of a user
func (r *Repository) GetPlayer(ctx context.Context, userID string) (*domain.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE user_id = $1`
	player, err := scanPlayer(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return player, nil
}

// CreatePlayer inserts a player, replacing any existing player of the same user
func (r *Repository) CreatePlayer(ctx context.Context, in domain.NewPlayer) (*domain.Player, error) {
	player := in.ToPlayer(uuid.NewString(), r.now())

	query := `
		INSERT INTO players (` + playerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			id = EXCLUDED.id,
			level = EXCLUDED.level,
			coins = EXCLUDED.coins,
			experience = EXCLUDED.experience,
			total_score = EXCLUDED.total_score,
			games_played = EXCLUDED.games_played,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.pool.Exec(ctx, query,
		player.ID, player.UserID, player.Level, player.Coins,
		player.Experience, player.TotalScore, player.GamesPlayed, player.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating player: %w", err)
	}
	return &player, nil
}

// UpdatePlayer applies a patch to an existing player
func (r *Repository) UpdatePlayer(ctx context.Context, userID string, patch domain.PlayerPatch) (*domain.Player, error) {
	query := `
		UPDATE players SET
			level = COALESCE($2, level),
			coins = COALESCE($3, coins),
			experience = COALESCE($4, experience),
			total_score = COALESCE($5, total_score),
			games_played = COALESCE($6, games_played),
			updated_at = $7
		WHERE user_id = $1
		RETURNING ` + playerColumns
	player, err := scanPlayer(r.pool.QueryRow(ctx, query,
		userID, patch.Level, patch.Coins, patch.Experience, patch.TotalScore, patch.GamesPlayed, r.now(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("updating player: %w", err)
	}
	return player, nil
}

// ApplyPlayerProgress adds the increments in a single upsert so concurrent
// callers never overwrite each other
func (r *Repository) ApplyPlayerProgress(ctx context.Context, userID string, progress domain.PlayerProgress) (*domain.Player, error) {
	query := `
		INSERT INTO players (` + playerColumns + `)
		VALUES ($1, $2, GREATEST(1, 1 + $4::int / NULLIF($7::int, 0)), $3, $4, $5, $6, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			coins = players.coins + EXCLUDED.coins,
			experience = players.experience + EXCLUDED.experience,
			total_score = players.total_score + EXCLUDED.total_score,
			games_played = players.games_played + EXCLUDED.games_played,
			level = GREATEST(players.level, 1 + (players.experience + EXCLUDED.experience) / NULLIF($7::int, 0)),
			updated_at = EXCLUDED.updated_at
		RETURNING ` + playerColumns
	player, err := scanPlayer(r.pool.QueryRow(ctx, query,
		uuid.NewString(), userID,
		progress.Coins, progress.Experience, progress.TotalScore, progress.GamesPlayed,
		progress.ExperiencePerLevel, r.now(),
	))
	if err != nil {
		return nil, fmt.Errorf("applying player progress: %w", err)
	}
	return player, nil
}

const rewardColumns = `id, user_id, day, claimed, claimed_at, reset_at`

func scanReward(row pgx.Row) (*domain.DailyReward, error) {
	var d domain.DailyReward
	if err := row.Scan(&d.ID, &d.UserID, &d.Day, &d.Claimed, &d.ClaimedAt, &d.ResetAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDailyRewards retrieves the user's reward cycle ordered by day
func (r *Repository) GetDailyRewards(ctx context.Context, userID string) ([]domain.DailyReward, error) {
	query := `SELECT ` + rewardColumns + ` FROM daily_rewards WHERE user_id = $1 ORDER BY day`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("getting daily rewards: %w", err)
	}
	defer rows.Close()

	rewards := []domain.DailyReward{}
	for rows.Next() {
		reward, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning daily reward: %w", err)
		}
		rewards = append(rewards, *reward)
	}
	return rewards, rows.Err()
}

// ClaimDailyReward marks one day of the user's cycle as claimed
func (r *Repository) ClaimDailyReward(ctx context.Context, userID string, day int) (*domain.DailyReward, error) {
	query := `
		UPDATE daily_rewards SET claimed = TRUE, claimed_at = $3
		WHERE user_id = $1 AND day = $2 AND claimed = FALSE
		RETURNING ` + rewardColumns
	reward, err := scanReward(r.pool.QueryRow(ctx, query, userID, day, r.now()))
	if err == nil {
		return reward, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("claiming daily reward: %w", err)
	}

	// Nothing updated: tell a missing day from an already claimed one
	var exists bool
	err = r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM daily_rewards WHERE user_id = $1 AND day = $2)`,
		userID, day,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking daily reward: %w", err)
	}
	if exists {
		return nil, domain.ErrRewardAlreadyClaimed
	}
	return nil, domain.ErrRewardNotFound
}

// ResetDailyRewards replaces the user's cycle with seven fresh unclaimed days
func (r *Repository) ResetDailyRewards(ctx context.Context, userID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM daily_rewards WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clearing daily rewards: %w", err)
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO daily_rewards (` + rewardColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	cycle := domain.NewRewardCycle(userID, r.now(), uuid.NewString)
	for _, reward := range cycle {
		batch.Queue(query, reward.ID, reward.UserID, reward.Day, reward.Claimed, reward.ClaimedAt, reward.ResetAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting daily rewards: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing daily rewards: %w", err)
	}
	return nil
}

// GetAchievements retrieves the user's achievements in unlock order
func (r *Repository) GetAchievements(ctx context.Context, userID string) ([]domain.Achievement, error) {
	query := `
		SELECT id, user_id, type, title, description, reward, unlocked_at
		FROM achievements
		WHERE user_id = $1
		ORDER BY unlocked_at, seq
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("getting achievements: %w", err)
	}
	defer rows.Close()

	achievements := []domain.Achievement{}
	for rows.Next() {
		var a domain.Achievement
		if err := rows.Scan(&a.ID, &a.UserID, &a.Type, &a.Title, &a.Description, &a.Reward, &a.UnlockedAt); err != nil {
			return nil, fmt.Errorf("scanning achievement: %w", err)
		}
		achievements = append(achievements, a)
	}
	return achievements, rows.Err()
}

// AddAchievement appends an achievement
func (r *Repository) AddAchievement(ctx context.Context, in domain.NewAchievement) (*domain.Achievement, error) {
	a := &domain.Achievement{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		Type:        in.Type,
		Title:       in.Title,
		Description: in.Description,
		Reward:      in.Reward,
		UnlockedAt:  r.now(),
	}
	query := `
		INSERT INTO achievements (id, user_id, type, title, description, reward, unlocked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query, a.ID, a.UserID, a.Type, a.Title, a.Description, a.Reward, a.UnlockedAt)
	if err != nil {
		return nil, fmt.Errorf("adding achievement: %w", err)
	}
	return a, nil
}

// AddGameScore appends a play record
func (r *Repository) AddGameScore(ctx context.Context, in domain.NewGameScore) (*domain.GameScore, error) {
	s := &domain.GameScore{
		ID:               uuid.NewString(),
		UserID:           in.UserID,
		GameMode:         in.GameMode,
		Score:            in.Score,
		CoinsEarned:      in.CoinsEarned,
		ExperienceEarned: in.ExperienceEarned,
		PlayedAt:         r.now(),
	}
	query := `
		INSERT INTO game_scores (id, user_id, game_mode, score, coins_earned, experience_earned, played_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query, s.ID, s.UserID, s.GameMode, s.Score, s.CoinsEarned, s.ExperienceEarned, s.PlayedAt)
	if err != nil {
		return nil, fmt.Errorf("adding game score: %w", err)
	}
	return s, nil
}

// GetRecentScores retrieves the user's latest scores, newest first
func (r *Repository) GetRecentScores(ctx context.Context, userID string, limit int) ([]domain.GameScore, error) {
	if limit <= 0 {
		limit = domain.DefaultLimit
	}
	query := `
		SELECT id, user_id, game_mode, score, coins_earned, experience_earned, played_at
		FROM game_scores
		WHERE user_id = $1
		ORDER BY played_at DESC, seq
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("getting recent scores: %w", err)
	}
	defer rows.Close()

	scores := []domain.GameScore{}
	for rows.Next() {
		var s domain.GameScore
		if err := rows.Scan(&s.ID, &s.UserID, &s.GameMode, &s.Score, &s.CoinsEarned, &s.ExperienceEarned, &s.PlayedAt); err != nil {
			return nil, fmt.Errorf("scanning game score: %w", err)
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}

// GetLeaderboard ranks a period's entries by score and joins each with its user
func (r *Repository) GetLeaderboard(ctx context.Context, period domain.Period, limit int) ([]domain.RankedEntry, error) {
	if limit <= 0 {
		limit = domain.DefaultLimit
	}
	query := `
		SELECT l.id, l.user_id, l.score, l.period, l.updated_at,
			   ROW_NUMBER() OVER (ORDER BY l.score DESC, l.seq) AS rank,
			   u.id, u.telegram_id, u.username, u.first_name, u.last_name, u.photo_url, u.created_at
		FROM leaderboard l
		LEFT JOIN users u ON u.id = l.user_id
		WHERE l.period = $1
		ORDER BY l.score DESC, l.seq
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, string(period), limit)
	if err != nil {
		return nil, fmt.Errorf("getting leaderboard: %w", err)
	}
	defer rows.Close()

	entries := []domain.RankedEntry{}
	for rows.Next() {
		var (
			e          domain.RankedEntry
			userID     *string
			telegramID *string
			createdAt  *time.Time
			u          domain.User
		)
		err := rows.Scan(
			&e.ID, &e.UserID, &e.Score, &e.Period, &e.UpdatedAt, &e.Rank,
			&userID, &telegramID, &u.Username, &u.FirstName, &u.LastName, &u.PhotoURL, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning leaderboard entry: %w", err)
		}
		if userID != nil {
			u.ID = *userID
			u.TelegramID = *telegramID
			u.CreatedAt = *createdAt
			e.User = &u
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateLeaderboard merges a score into the period using best-score-wins
func (r *Repository) UpdateLeaderboard(ctx context.Context, userID string, score int, period domain.Period) error {
	_, err := r.MergeLeaderboardScore(ctx, userID, score, period)
	return err
}

// MergeLeaderboardScore upserts the score and reports whether the stored best changed.
// The conditional update affects no row when the score is not strictly greater.
func (r *Repository) MergeLeaderboardScore(ctx context.Context, userID string, score int, period domain.Period) (bool, error) {
	if !period.Valid() {
		return false, domain.ErrInvalidPeriod
	}

	query := `
		INSERT INTO leaderboard (id, user_id, rank, score, period, updated_at)
		VALUES ($1, $2, 0, $3, $4, $5)
		ON CONFLICT (user_id, period)
		DO UPDATE SET score = EXCLUDED.score, updated_at = EXCLUDED.updated_at
		WHERE leaderboard.score < EXCLUDED.score
	`
	tag, err := r.pool.Exec(ctx, query, uuid.NewString(), userID, score, string(period), r.now())
	if err != nil {
		return false, fmt.Errorf("updating leaderboard: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Periods lists the periods that have at least one entry
func (r *Repository) Periods(ctx context.Context) ([]domain.Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT period FROM leaderboard ORDER BY period`)
	if err != nil {
		return nil, fmt.Errorf("listing periods: %w", err)
	}
	defer rows.Close()

	var periods []domain.Period
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning period: %w", err)
		}
		periods = append(periods, domain.Period(p))
	}
	return periods, rows.Err()
}

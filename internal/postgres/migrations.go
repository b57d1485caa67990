package postgres

// migrations create the game schema. Timestamps are stored as TIMESTAMPTZ.
// seq columns keep insertion order for tie-breaking.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) PRIMARY KEY,
		telegram_id VARCHAR(64) NOT NULL UNIQUE,
		username TEXT,
		first_name TEXT,
		last_name TEXT,
		photo_url TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS players (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL UNIQUE REFERENCES users(id),
		level INT NOT NULL DEFAULT 1,
		coins INT NOT NULL DEFAULT 0,
		experience INT NOT NULL DEFAULT 0,
		total_score INT NOT NULL DEFAULT 0,
		games_played INT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS daily_rewards (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL REFERENCES users(id),
		day INT NOT NULL CHECK (day BETWEEN 1 AND 7),
		claimed BOOLEAN NOT NULL DEFAULT FALSE,
		claimed_at TIMESTAMPTZ,
		reset_at TIMESTAMPTZ NOT NULL,
		UNIQUE(user_id, day),
		CHECK (claimed = (claimed_at IS NOT NULL))
	)`,
	`CREATE TABLE IF NOT EXISTS achievements (
		seq BIGSERIAL,
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL REFERENCES users(id),
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		reward INT NOT NULL,
		unlocked_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS game_scores (
		seq BIGSERIAL,
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL REFERENCES users(id),
		game_mode TEXT NOT NULL,
		score INT NOT NULL,
		coins_earned INT NOT NULL,
		experience_earned INT NOT NULL,
		played_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS leaderboard (
		seq BIGSERIAL,
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL REFERENCES users(id),
		rank INT NOT NULL DEFAULT 0,
		score INT NOT NULL,
		period TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(user_id, period)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_game_scores_user ON game_scores(user_id, played_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_achievements_user ON achievements(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_leaderboard_period_score ON leaderboard(period, score DESC)`,
}

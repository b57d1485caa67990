package domain

import "time"

// User is a player identity linked to an external Telegram account
type User struct {
	ID         string    `json:"id"`
	TelegramID string    `json:"telegram_id"`
	Username   *string   `json:"username,omitempty"`
	FirstName  *string   `json:"first_name,omitempty"`
	LastName   *string   `json:"last_name,omitempty"`
	PhotoURL   *string   `json:"photo_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewUser holds the caller-supplied fields of a user
type NewUser struct {
	TelegramID string  `json:"telegram_id"`
	Username   *string `json:"username,omitempty"`
	FirstName  *string `json:"first_name,omitempty"`
	LastName   *string `json:"last_name,omitempty"`
	PhotoURL   *string `json:"photo_url,omitempty"`
}

// Player is the per-user game state
type Player struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Level       int       `json:"level"`
	Coins       int       `json:"coins"`
	Experience  int       `json:"experience"`
	TotalScore  int       `json:"total_score"`
	GamesPlayed int       `json:"games_played"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewPlayer holds the caller-supplied fields of a player
type NewPlayer struct {
	UserID      string `json:"user_id"`
	Level       int    `json:"level"`
	Coins       int    `json:"coins"`
	Experience  int    `json:"experience"`
	TotalScore  int    `json:"total_score"`
	GamesPlayed int    `json:"games_played"`
}

// ToPlayer builds a Player from the input, defaulting the level to 1
func (n NewPlayer) ToPlayer(id string, now time.Time) Player {
	level := n.Level
	if level == 0 {
		level = 1
	}
	return Player{
		ID:          id,
		UserID:      n.UserID,
		Level:       level,
		Coins:       n.Coins,
		Experience:  n.Experience,
		TotalScore:  n.TotalScore,
		GamesPlayed: n.GamesPlayed,
		UpdatedAt:   now,
	}
}

// PlayerPatch lists the player fields that may be updated. Nil fields are left untouched.
type PlayerPatch struct {
	Level       *int `json:"level,omitempty"`
	Coins       *int `json:"coins,omitempty"`
	Experience  *int `json:"experience,omitempty"`
	TotalScore  *int `json:"total_score,omitempty"`
	GamesPlayed *int `json:"games_played,omitempty"`
}

// IsEmpty reports whether the patch sets no field
func (p PlayerPatch) IsEmpty() bool {
	return p.Level == nil && p.Coins == nil && p.Experience == nil &&
		p.TotalScore == nil && p.GamesPlayed == nil
}

// Apply copies every set field of the patch onto the player
func (p PlayerPatch) Apply(player *Player) {
	if p.Level != nil {
		player.Level = *p.Level
	}
	if p.Coins != nil {
		player.Coins = *p.Coins
	}
	if p.Experience != nil {
		player.Experience = *p.Experience
	}
	if p.TotalScore != nil {
		player.TotalScore = *p.TotalScore
	}
	if p.GamesPlayed != nil {
		player.GamesPlayed = *p.GamesPlayed
	}
}

// Int returns a pointer to v, for building patches
func Int(v int) *int {
	return &v
}

// PlayerProgress holds increments applied to a player in one atomic step.
// When ExperiencePerLevel is positive the level is raised to match the new
// experience and never lowered.
type PlayerProgress struct {
	Coins              int
	Experience         int
	TotalScore         int
	GamesPlayed        int
	ExperiencePerLevel int
}

// Apply adds the increments to the player
func (d PlayerProgress) Apply(player *Player) {
	player.Coins += d.Coins
	player.Experience += d.Experience
	player.TotalScore += d.TotalScore
	player.GamesPlayed += d.GamesPlayed
	if d.ExperiencePerLevel > 0 && player.Experience >= 0 {
		if level := 1 + player.Experience/d.ExperiencePerLevel; level > player.Level {
			player.Level = level
		}
	}
}

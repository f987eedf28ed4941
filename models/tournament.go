package models

import (
	"time"
)

type TournamentState string

const (
	TournamentScheduled   TournamentState = "scheduled"
	TournamentRegistering TournamentState = "registering"
	TournamentActive      TournamentState = "active"
	TournamentEnding      TournamentState = "ending"
	TournamentEnded       TournamentState = "ended"
)

// Tournament is a time-boxed competition with its own scope and prize pool.
type Tournament struct {
	ID                  string          `json:"id" gorm:"primaryKey;size:36"`
	Name                string          `json:"name" gorm:"not null"`
	Slug                string          `json:"slug" gorm:"size:160;index"`
	PrizePool           int64           `json:"prize_pool" gorm:"not null"`
	PrizeTable          string          `json:"prize_table,omitempty" gorm:"type:text"` // JSON tiers; empty uses the service default
	State               TournamentState `json:"state" gorm:"type:varchar(16);not null;index"`
	RegistrationOpensAt *time.Time      `json:"registration_opens_at,omitempty"`
	StartAt             time.Time       `json:"start_at" gorm:"not null"`
	EndAt               time.Time       `json:"end_at" gorm:"not null"`
	StartedAt           *time.Time      `json:"started_at,omitempty"`
	EndedAt             *time.Time      `json:"ended_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt           time.Time       `json:"updated_at" gorm:"autoUpdateTime"`

	// Calculated fields (not stored in DB)
	ParticipantCount int64 `json:"participant_count" gorm:"-"`
}

// Participant is a registered player. PlayerName is denormalized at
// registration time and used as the tournament display name.
type Participant struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	TournamentID string    `json:"tournament_id" gorm:"size:36;not null;uniqueIndex:idx_participants_tournament_player,priority:1"`
	PlayerID     string    `json:"player_id" gorm:"size:64;not null;uniqueIndex:idx_participants_tournament_player,priority:2"`
	PlayerName   string    `json:"player_name"`
	RegisteredAt time.Time `json:"registered_at" gorm:"not null"`
}

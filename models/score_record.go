package models

import "time"

// ScoreRecord is a player's best score within one scope. BestScore only
// ever increases for a given (Scope, PlayerID).
type ScoreRecord struct {
	Scope       string    `json:"scope" gorm:"primaryKey;size:160;index:idx_score_records_rank,priority:1"`
	PlayerID    string    `json:"player_id" gorm:"primaryKey;size:64"`
	BestScore   int64     `json:"best_score" gorm:"not null;index:idx_score_records_rank,priority:2"`
	TieBreakKey int64     `json:"tie_break_key" gorm:"not null"` // unix nanos of the play that set BestScore
	UpdatedAt   time.Time `json:"updated_at"`
}

// LeaderboardEntry is one ranked row as returned to clients.
type LeaderboardEntry struct {
	Rank        int64  `json:"rank"`
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	Score       int64  `json:"score"`
}

type RankInfo struct {
	Rank       int64   `json:"rank"`
	Total      int64   `json:"total"`
	Percentile float64 `json:"percentile"`
}

type Leaderboard struct {
	Scope         string             `json:"scope"`
	Entries       []LeaderboardEntry `json:"entries"`
	RequestorRank *RankInfo          `json:"requestor_rank,omitempty"`
	Total         int64              `json:"total,omitempty"`
}

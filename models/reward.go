package models

import "time"

// PrizeGrant is one awarded prize. At most one grant exists per
// (TournamentID, PlayerID); ClaimedAt is nil until the player claims it.
type PrizeGrant struct {
	PrizeID      string     `json:"prize_id" gorm:"primaryKey;size:36"`
	TournamentID string     `json:"tournament_id" gorm:"size:36;not null;uniqueIndex:idx_prize_grants_tournament_player,priority:1"`
	PlayerID     string     `json:"player_id" gorm:"size:64;not null;uniqueIndex:idx_prize_grants_tournament_player,priority:2;index"`
	Rank         int        `json:"rank" gorm:"not null"`
	Coins        int64      `json:"coins" gorm:"not null"`
	Gems         int64      `json:"gems" gorm:"not null"`
	AwardedAt    time.Time  `json:"awarded_at" gorm:"not null;index"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	NotifiedAt   *time.Time `json:"notified_at,omitempty"`
}

type PrizeTotals struct {
	Coins int64 `json:"coins"`
	Gems  int64 `json:"gems"`
}

type PrizeStats struct {
	TotalPrizes int64 `json:"total_prizes"`
	Claimed     int64 `json:"claimed"`
	Pending     int64 `json:"pending"`
	TotalCoins  int64 `json:"total_coins"`
	TotalGems   int64 `json:"total_gems"`
	BestRank    *int  `json:"best_rank,omitempty"`
}

package models

import "time"

// Player mirrors the display name owned by the profile service.
type Player struct {
	PlayerID    string    `json:"player_id" gorm:"primaryKey;size:64"`
	DisplayName string    `json:"display_name" gorm:"not null"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"index"`
}

package services

import (
	"context"
	"strings"
	"time"

	"arcade-ranking/models"
	"arcade-ranking/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const MaxDisplayNameLength = 32

// PlayerService maintains the display-name mirror used by global and
// periodic leaderboards. Name changes evict those cached pages at once.
type PlayerService struct {
	DB           *gorm.DB
	Cache        utils.Cache
	Periods      *PeriodClock
	Timeout      time.Duration
	CacheTimeout time.Duration

	log *zap.Logger
}

func NewPlayerService(db *gorm.DB, cache utils.Cache, periods *PeriodClock, log *zap.Logger) *PlayerService {
	if log == nil {
		log = zap.NewNop()
	}
	return &PlayerService{
		DB:           db,
		Cache:        cache,
		Periods:      periods,
		Timeout:      3 * time.Second,
		CacheTimeout: 50 * time.Millisecond,
		log:          log.Named("players"),
	}
}

func (s *PlayerService) SetDisplayName(ctx context.Context, playerID, name string) (*models.Player, error) {
	if playerID == "" {
		return nil, ValidationError("player id is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ValidationError("display name is required")
	}
	if len([]rune(name)) > MaxDisplayNameLength {
		return nil, ValidationError("display name is too long")
	}

	p := models.Player{PlayerID: playerID, DisplayName: name, UpdatedAt: time.Now().UTC()}
	if _, err := s.UpsertDisplayNames(ctx, []models.Player{p}); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertDisplayNames writes names in bulk and evicts affected cached pages.
func (s *PlayerService) UpsertDisplayNames(ctx context.Context, players []models.Player) (int64, error) {
	if len(players) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "player_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "updated_at"}),
	}).Create(&players)
	if res.Error != nil {
		return 0, storeError(ctx, "upsert display names", res.Error)
	}

	scopes := []models.Scope{models.GlobalScope()}
	if s.Periods != nil {
		scopes = append(scopes, models.PeriodScope(s.Periods.Current()))
	}
	invalidate(ctx, s.Cache, s.CacheTimeout, s.log, scopes...)
	return res.RowsAffected, nil
}

// LatestUpdate returns the newest mirrored name change, or zero time.
func (s *PlayerService) LatestUpdate(ctx context.Context) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var p models.Player
	err := s.DB.WithContext(ctx).Order("updated_at DESC").Limit(1).Find(&p).Error
	if err != nil {
		return time.Time{}, storeError(ctx, "latest display name", err)
	}
	return p.UpdatedAt, nil
}

package services

import (
	"context"
	"errors"
	"time"

	"arcade-ranking/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *RankingStore) CreateTournament(ctx context.Context, t *models.Tournament) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.DB.WithContext(ctx).Create(t).Error; err != nil {
		return storeError(ctx, "create tournament", err)
	}
	return nil
}

func (s *RankingStore) GetTournament(ctx context.Context, id string) (*models.Tournament, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var t models.Tournament
	err := s.DB.WithContext(ctx).Where("id = ?", id).Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFoundError("tournament not found")
	}
	if err != nil {
		return nil, storeError(ctx, "load tournament", err)
	}
	return &t, nil
}

// TransitionState moves a tournament from one state to another only if it
// is still in from. It reports whether this caller performed the move.
func (s *RankingStore) TransitionState(ctx context.Context, id string, from, to models.TournamentState) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"state":      to,
		"updated_at": now,
	}
	switch to {
	case models.TournamentActive:
		updates["started_at"] = now
	case models.TournamentEnded:
		updates["ended_at"] = now
	}

	res := s.DB.WithContext(ctx).Model(&models.Tournament{}).
		Where("id = ? AND state = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, storeError(ctx, "transition tournament", res.Error)
	}
	if res.RowsAffected == 1 {
		tournamentTransitionsTotal.WithLabelValues(string(to)).Inc()
		return true, nil
	}
	return false, nil
}

// DueTournaments lists tournaments in state whose timeColumn is at or
// before now. An empty timeColumn lists every tournament in state.
func (s *RankingStore) DueTournaments(ctx context.Context, state models.TournamentState, timeColumn string, now time.Time) ([]models.Tournament, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	q := s.DB.WithContext(ctx).Where("state = ?", state)
	switch timeColumn {
	case "registration_opens_at", "start_at", "end_at":
		q = q.Where(timeColumn+" IS NOT NULL AND "+timeColumn+" <= ?", now)
	case "":
	default:
		return nil, InternalError("due tournaments", errors.New("unsupported column "+timeColumn))
	}

	var list []models.Tournament
	if err := q.Order("created_at ASC").Find(&list).Error; err != nil {
		return nil, storeError(ctx, "list due tournaments", err)
	}
	return list, nil
}

// AddParticipant registers playerID. Registering twice returns the existing
// participant and created=false.
func (s *RankingStore) AddParticipant(ctx context.Context, tournamentID, playerID, playerName string) (*models.Participant, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p := models.Participant{
		ID:           uuid.New().String(),
		TournamentID: tournamentID,
		PlayerID:     playerID,
		PlayerName:   playerName,
		RegisteredAt: time.Now().UTC(),
	}
	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tournament_id"}, {Name: "player_id"}},
		DoNothing: true,
	}).Create(&p)
	if res.Error != nil {
		return nil, false, storeError(ctx, "register participant", res.Error)
	}
	if res.RowsAffected == 1 {
		return &p, true, nil
	}

	var existing models.Participant
	if err := s.DB.WithContext(ctx).
		Where("tournament_id = ? AND player_id = ?", tournamentID, playerID).
		Take(&existing).Error; err != nil {
		return nil, false, storeError(ctx, "load participant", err)
	}
	return &existing, false, nil
}

func (s *RankingStore) IsParticipant(ctx context.Context, tournamentID, playerID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := s.DB.WithContext(ctx).Model(&models.Participant{}).
		Where("tournament_id = ? AND player_id = ?", tournamentID, playerID).
		Count(&n).Error; err != nil {
		return false, storeError(ctx, "check participant", err)
	}
	return n > 0, nil
}

func (s *RankingStore) CountParticipants(ctx context.Context, tournamentID string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := s.DB.WithContext(ctx).Model(&models.Participant{}).
		Where("tournament_id = ?", tournamentID).
		Count(&n).Error; err != nil {
		return 0, storeError(ctx, "count participants", err)
	}
	return n, nil
}

func (s *RankingStore) ListParticipants(ctx context.Context, tournamentID string) ([]models.Participant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var list []models.Participant
	if err := s.DB.WithContext(ctx).
		Where("tournament_id = ?", tournamentID).
		Order("registered_at ASC, player_id ASC").
		Find(&list).Error; err != nil {
		return nil, storeError(ctx, "list participants", err)
	}
	return list, nil
}

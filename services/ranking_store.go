package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"arcade-ranking/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxPageSize caps every leaderboard read.
const MaxPageSize = 100

// MaxRadius caps the context window on either side of a player.
const MaxRadius = 50

type TieBreakPolicy string

const (
	TieBreakEarliest TieBreakPolicy = "earliest" // first to reach the score ranks higher
	TieBreakLatest   TieBreakPolicy = "latest"
)

func ParseTieBreakPolicy(raw string) (TieBreakPolicy, error) {
	switch TieBreakPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", TieBreakEarliest:
		return TieBreakEarliest, nil
	case TieBreakLatest:
		return TieBreakLatest, nil
	}
	return "", fmt.Errorf("unknown tie-break policy %q", raw)
}

type UpsertResult struct {
	IsNewBest bool
	Record    models.ScoreRecord
}

// RankingStore is the only writer of score records, tournaments and
// participants.
type RankingStore struct {
	DB       *gorm.DB
	policies map[models.ScopeKind]TieBreakPolicy
	timeout  time.Duration
	log      *zap.Logger
}

func NewRankingStore(db *gorm.DB, policies map[models.ScopeKind]TieBreakPolicy, timeout time.Duration, log *zap.Logger) *RankingStore {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	p := make(map[models.ScopeKind]TieBreakPolicy, len(policies))
	for k, v := range policies {
		p[k] = v
	}
	return &RankingStore{DB: db, policies: p, timeout: timeout, log: log.Named("ranking")}
}

func (s *RankingStore) Policy(scope models.Scope) TieBreakPolicy {
	if p, ok := s.policies[scope.Kind]; ok {
		return p
	}
	return TieBreakEarliest
}

func (s *RankingStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// UpsertIfBetter writes score only if it strictly beats the stored best.
// The comparison happens inside the database so concurrent writers for the
// same player cannot lower the record.
func (s *RankingStore) UpsertIfBetter(ctx context.Context, scope models.Scope, playerID string, score int64, tieBreakKey int64) (*UpsertResult, error) {
	defer observeStore("upsert", time.Now())
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rec := models.ScoreRecord{
		Scope:       scope.Key(),
		PlayerID:    playerID,
		BestScore:   score,
		TieBreakKey: tieBreakKey,
		UpdatedAt:   time.Now().UTC(),
	}
	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}, {Name: "player_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"best_score", "tie_break_key", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "score_records.best_score < excluded.best_score"},
		}},
	}).Create(&rec)
	if res.Error != nil {
		return nil, storeError(ctx, "upsert score", res.Error)
	}

	var current models.ScoreRecord
	if err := s.DB.WithContext(ctx).
		Where("scope = ? AND player_id = ?", scope.Key(), playerID).
		Take(&current).Error; err != nil {
		return nil, storeError(ctx, "read score", err)
	}
	return &UpsertResult{IsNewBest: res.RowsAffected > 0, Record: current}, nil
}

func (s *RankingStore) orderBy(scope models.Scope) string {
	tie := "tie_break_key ASC"
	if s.Policy(scope) == TieBreakLatest {
		tie = "tie_break_key DESC"
	}
	return "best_score DESC, " + tie + ", player_id ASC"
}

// Query returns one page of the scope in rank order. limit is capped at
// MaxPageSize.
func (s *RankingStore) Query(ctx context.Context, scope models.Scope, limit, offset int) ([]models.ScoreRecord, error) {
	if limit <= 0 {
		return nil, ValidationError("limit must be positive")
	}
	if offset < 0 {
		return nil, ValidationError("offset must not be negative")
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return s.page(ctx, scope, limit, offset)
}

func (s *RankingStore) page(ctx context.Context, scope models.Scope, limit, offset int) ([]models.ScoreRecord, error) {
	defer observeStore("query", time.Now())
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var records []models.ScoreRecord
	q := s.DB.WithContext(ctx).
		Where("scope = ?", scope.Key()).
		Order(s.orderBy(scope)).
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, storeError(ctx, "query leaderboard", err)
	}
	return records, nil
}

// Snapshot returns the entire scope in rank order. Used to freeze a
// tournament at end time.
func (s *RankingStore) Snapshot(ctx context.Context, scope models.Scope) ([]models.ScoreRecord, error) {
	return s.page(ctx, scope, 0, 0)
}

// RankOf returns the 1-based rank of playerID and the number of players
// in the scope.
func (s *RankingStore) RankOf(ctx context.Context, scope models.Scope, playerID string) (int64, int64, error) {
	defer observeStore("rank", time.Now())
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rec, err := s.record(ctx, scope, playerID)
	if err != nil {
		return 0, 0, err
	}

	ahead, err := s.countAhead(ctx, scope, rec)
	if err != nil {
		return 0, 0, err
	}

	var total int64
	if err := s.DB.WithContext(ctx).Model(&models.ScoreRecord{}).
		Where("scope = ?", scope.Key()).
		Count(&total).Error; err != nil {
		return 0, 0, storeError(ctx, "count scope", err)
	}
	return ahead + 1, total, nil
}

// ContextWindow returns up to radius records on either side of playerID
// plus the rank of the first returned record.
func (s *RankingStore) ContextWindow(ctx context.Context, scope models.Scope, playerID string, radius int) ([]models.ScoreRecord, int64, error) {
	if radius < 0 {
		return nil, 0, ValidationError("radius must not be negative")
	}
	if radius > MaxRadius {
		radius = MaxRadius
	}

	rank, _, err := s.RankOf(ctx, scope, playerID)
	if err != nil {
		return nil, 0, err
	}
	start := rank - 1 - int64(radius)
	if start < 0 {
		start = 0
	}
	end := rank + int64(radius)
	records, err := s.page(ctx, scope, int(end-start), int(start))
	if err != nil {
		return nil, 0, err
	}
	return records, start + 1, nil
}

func (s *RankingStore) record(ctx context.Context, scope models.Scope, playerID string) (*models.ScoreRecord, error) {
	var rec models.ScoreRecord
	err := s.DB.WithContext(ctx).
		Where("scope = ? AND player_id = ?", scope.Key(), playerID).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFoundError("player has no score in " + scope.Key())
	}
	if err != nil {
		return nil, storeError(ctx, "read score", err)
	}
	return &rec, nil
}

func (s *RankingStore) countAhead(ctx context.Context, scope models.Scope, rec *models.ScoreRecord) (int64, error) {
	cmp := "<"
	if s.Policy(scope) == TieBreakLatest {
		cmp = ">"
	}
	var ahead int64
	err := s.DB.WithContext(ctx).Model(&models.ScoreRecord{}).
		Where("scope = ?", scope.Key()).
		Where("(best_score > ? OR (best_score = ? AND tie_break_key "+cmp+" ?) OR (best_score = ? AND tie_break_key = ? AND player_id < ?))",
			rec.BestScore,
			rec.BestScore, rec.TieBreakKey,
			rec.BestScore, rec.TieBreakKey, rec.PlayerID).
		Count(&ahead).Error
	if err != nil {
		return 0, storeError(ctx, "count ahead", err)
	}
	return ahead, nil
}

// DisplayNames resolves names for the given players. Tournament scopes use
// the name captured at registration; other scopes use the players mirror.
// Players without a known name are absent from the result.
func (s *RankingStore) DisplayNames(ctx context.Context, scope models.Scope, playerIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(playerIDs))
	if len(playerIDs) == 0 {
		return names, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if scope.Kind == models.ScopeTournament {
		var parts []models.Participant
		if err := s.DB.WithContext(ctx).
			Select("player_id", "player_name").
			Where("tournament_id = ? AND player_id IN ?", scope.TournamentID, playerIDs).
			Find(&parts).Error; err != nil {
			return nil, storeError(ctx, "load participant names", err)
		}
		for _, p := range parts {
			if p.PlayerName != "" {
				names[p.PlayerID] = p.PlayerName
			}
		}
		return names, nil
	}

	var players []models.Player
	if err := s.DB.WithContext(ctx).
		Where("player_id IN ?", playerIDs).
		Find(&players).Error; err != nil {
		return nil, storeError(ctx, "load display names", err)
	}
	for _, p := range players {
		names[p.PlayerID] = p.DisplayName
	}
	return names, nil
}

// Entries converts ordered records into ranked entries starting at firstRank.
func (s *RankingStore) Entries(ctx context.Context, scope models.Scope, records []models.ScoreRecord, firstRank int64) ([]models.LeaderboardEntry, error) {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.PlayerID
	}
	names, err := s.DisplayNames(ctx, scope, ids)
	if err != nil {
		return nil, err
	}
	entries := make([]models.LeaderboardEntry, len(records))
	for i, r := range records {
		name := names[r.PlayerID]
		if name == "" {
			name = r.PlayerID
		}
		entries[i] = models.LeaderboardEntry{
			Rank:        firstRank + int64(i),
			PlayerID:    r.PlayerID,
			DisplayName: name,
			Score:       r.BestScore,
		}
	}
	return entries, nil
}

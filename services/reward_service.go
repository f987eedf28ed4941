package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"arcade-ranking/models"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// PrizeLedger owns prize grants. Claims are acknowledged immediately and
// written in the background by a fixed set of workers with retries; the
// write is idempotent, so at-least-once delivery is safe.
type PrizeLedger struct {
	DB      *gorm.DB
	Events  EventSink
	Timeout time.Duration

	// NewBackOff builds the retry policy for one claim write.
	NewBackOff func() backoff.BackOff

	log     *zap.Logger
	now     func() time.Time
	claims  chan claimJob
	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
	workers sync.WaitGroup
}

type claimJob struct {
	prizeID  string
	playerID string
	at       time.Time
}

// NewPrizeLedger starts workers claim writers fed by a queue of queueSize.
// Close stops them.
func NewPrizeLedger(db *gorm.DB, events EventSink, workers, queueSize int, timeout time.Duration, log *zap.Logger) *PrizeLedger {
	if log == nil {
		log = zap.NewNop()
	}
	if events == nil {
		events = NopSink{}
	}
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	l := &PrizeLedger{
		DB:      db,
		Events:  events,
		Timeout: timeout,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 30 * time.Second
			return backoff.WithMaxRetries(b, 5)
		},
		log:    log.Named("prizes"),
		now:    time.Now,
		claims: make(chan claimJob, queueSize),
	}
	l.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go l.claimWorker()
	}
	return l
}

func (l *PrizeLedger) claimWorker() {
	defer l.workers.Done()
	for job := range l.claims {
		l.persistClaim(job.prizeID, job.playerID, job.at)
		l.pending.Done()
	}
}

// RecordGrants inserts the grants of one tournament in one transaction,
// all or nothing: once any grant exists for the tournament, later calls
// insert nothing and return 0. The tournament row is locked for the
// duration so concurrent callers serialise.
func (l *PrizeLedger) RecordGrants(ctx context.Context, grants []models.PrizeGrant) (int64, error) {
	if len(grants) == 0 {
		return 0, nil
	}
	tournamentID := grants[0].TournamentID
	for _, g := range grants[1:] {
		if g.TournamentID != tournamentID {
			return 0, InternalError("record prize grants", fmt.Errorf("grants span tournaments %s and %s", tournamentID, g.TournamentID))
		}
	}
	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	var inserted int64
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked []models.Tournament
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", tournamentID).
			Find(&locked).Error; err != nil {
			return err
		}

		var existing int64
		if err := tx.Model(&models.PrizeGrant{}).Where("tournament_id = ?", tournamentID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			l.log.Info("prizes already recorded, keeping persisted grants",
				zap.String("tournament_id", tournamentID), zap.Int64("existing", existing))
			return nil
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&grants)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, storeError(ctx, "record prize grants", err)
	}
	return inserted, nil
}

func (l *PrizeLedger) ForTournament(ctx context.Context, tournamentID string) ([]models.PrizeGrant, error) {
	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	var grants []models.PrizeGrant
	if err := l.DB.WithContext(ctx).
		Where("tournament_id = ?", tournamentID).
		Order("rank ASC").
		Find(&grants).Error; err != nil {
		return nil, storeError(ctx, "load tournament prizes", err)
	}
	return grants, nil
}

// Pending lists unclaimed prizes, newest first.
func (l *PrizeLedger) Pending(ctx context.Context, playerID string) ([]models.PrizeGrant, error) {
	if playerID == "" {
		return nil, ValidationError("player id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	grants := []models.PrizeGrant{}
	if err := l.DB.WithContext(ctx).
		Where("player_id = ? AND claimed_at IS NULL", playerID).
		Order("awarded_at DESC, prize_id ASC").
		Find(&grants).Error; err != nil {
		return nil, storeError(ctx, "load pending prizes", err)
	}
	return grants, nil
}

// History lists all prizes for playerID, newest first.
func (l *PrizeLedger) History(ctx context.Context, playerID string, limit int) ([]models.PrizeGrant, error) {
	if playerID == "" {
		return nil, ValidationError("player id is required")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	grants := []models.PrizeGrant{}
	if err := l.DB.WithContext(ctx).
		Where("player_id = ?", playerID).
		Order("awarded_at DESC, prize_id ASC").
		Limit(limit).
		Find(&grants).Error; err != nil {
		return nil, storeError(ctx, "load prize history", err)
	}
	return grants, nil
}

func (l *PrizeLedger) Stats(ctx context.Context, playerID string) (*models.PrizeStats, error) {
	if playerID == "" {
		return nil, ValidationError("player id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	var row struct {
		TotalPrizes int64
		Claimed     int64
		TotalCoins  int64
		TotalGems   int64
		BestRank    *int
	}
	if err := l.DB.WithContext(ctx).Model(&models.PrizeGrant{}).
		Select("COUNT(*) AS total_prizes, COUNT(claimed_at) AS claimed, CAST(COALESCE(SUM(coins), 0) AS BIGINT) AS total_coins, CAST(COALESCE(SUM(gems), 0) AS BIGINT) AS total_gems, MIN(rank) AS best_rank").
		Where("player_id = ?", playerID).
		Scan(&row).Error; err != nil {
		return nil, storeError(ctx, "load prize stats", err)
	}
	return &models.PrizeStats{
		TotalPrizes: row.TotalPrizes,
		Claimed:     row.Claimed,
		Pending:     row.TotalPrizes - row.Claimed,
		TotalCoins:  row.TotalCoins,
		TotalGems:   row.TotalGems,
		BestRank:    row.BestRank,
	}, nil
}

// Claim acknowledges a claim and queues it for persistence. The caller is
// never told whether the write succeeded. A future claimedAt is clamped to
// now; a nil claimedAt means now. Claims arriving while the queue is full
// or after Close are dropped and logged.
func (l *PrizeLedger) Claim(prizeID, playerID string, claimedAt *time.Time) {
	now := l.now().UTC()
	at := now
	if claimedAt != nil && !claimedAt.IsZero() && claimedAt.Before(now) {
		at = claimedAt.UTC()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		prizeClaimsTotal.WithLabelValues("dropped").Inc()
		l.log.Error("claim dropped, ledger closed", zap.String("prize_id", prizeID), zap.String("player_id", playerID))
		return
	}

	l.pending.Add(1)
	select {
	case l.claims <- claimJob{prizeID: prizeID, playerID: playerID, at: at}:
	default:
		l.pending.Done()
		prizeClaimsTotal.WithLabelValues("dropped").Inc()
		l.log.Error("claim dropped, queue full",
			zap.String("prize_id", prizeID), zap.String("player_id", playerID), zap.Int("queue", cap(l.claims)))
	}
}

func (l *PrizeLedger) persistClaim(prizeID, playerID string, at time.Time) {
	var rows int64
	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), l.Timeout)
		defer cancel()
		res := l.DB.WithContext(ctx).Model(&models.PrizeGrant{}).
			Where("prize_id = ? AND player_id = ?", prizeID, playerID).
			Update("claimed_at", at)
		if res.Error != nil {
			l.log.Warn("claim write failed, retrying", zap.String("prize_id", prizeID), zap.Error(res.Error))
			return res.Error
		}
		rows = res.RowsAffected
		return nil
	}

	if err := backoff.Retry(op, l.NewBackOff()); err != nil {
		prizeClaimsTotal.WithLabelValues("failed").Inc()
		l.log.Error("claim write abandoned",
			zap.String("prize_id", prizeID), zap.String("player_id", playerID), zap.Error(err))
		return
	}
	if rows == 0 {
		prizeClaimsTotal.WithLabelValues("unmatched").Inc()
		l.log.Warn("claim matched no prize",
			zap.String("prize_id", prizeID), zap.String("player_id", playerID))
		return
	}
	prizeClaimsTotal.WithLabelValues("ok").Inc()
	l.log.Info("prize claimed", zap.String("prize_id", prizeID), zap.String("player_id", playerID), zap.Time("claimed_at", at))
	emit(context.Background(), l.Events, EventPrizeClaimed, playerID, map[string]any{"prize_id": prizeID})
}

// Flush waits until every queued claim has been written or abandoned.
func (l *PrizeLedger) Flush() {
	l.pending.Wait()
}

// Close stops accepting claims, drains the queue and stops the workers.
func (l *PrizeLedger) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.claims)
	l.mu.Unlock()
	l.workers.Wait()
}

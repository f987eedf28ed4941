package services

import (
	"context"
	"time"

	"arcade-ranking/models"
	"arcade-ranking/utils"

	"go.uber.org/zap"
)

type SubmissionStage string

const (
	StageReceived         SubmissionStage = "received"
	StageValidated        SubmissionStage = "validated"
	StageAntiCheatChecked SubmissionStage = "anti_cheat_checked"
	StageCommitted        SubmissionStage = "committed"
	StageRejected         SubmissionStage = "rejected"
)

type SubmitResult struct {
	Accepted  bool            `json:"accepted"`
	IsNewBest bool            `json:"is_new_best"`
	Rank      *int64          `json:"rank,omitempty"`
	Flagged   bool            `json:"flagged,omitempty"`
	Scope     string          `json:"scope"`
	BestScore int64           `json:"best_score"`
	Stage     SubmissionStage `json:"stage"`
}

// SubmissionPipeline validates, screens and commits one play.
type SubmissionPipeline struct {
	Store   *RankingStore
	Gate    AntiCheatGate
	Cache   utils.Cache
	Events  EventSink
	Periods *PeriodClock
	Limiter *PlayerLimiter

	// InvalidateOnNewBest lists scope kinds whose cached page is dropped
	// when a new best lands. Other kinds converge by TTL.
	InvalidateOnNewBest map[models.ScopeKind]bool
	CacheTimeout        time.Duration

	log *zap.Logger
	now func() time.Time
}

func NewSubmissionPipeline(store *RankingStore, gate AntiCheatGate, cache utils.Cache, events EventSink, periods *PeriodClock, limiter *PlayerLimiter, log *zap.Logger) *SubmissionPipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if events == nil {
		events = NopSink{}
	}
	return &SubmissionPipeline{
		Store:               store,
		Gate:                gate,
		Cache:               cache,
		Events:              events,
		Periods:             periods,
		Limiter:             limiter,
		InvalidateOnNewBest: map[models.ScopeKind]bool{models.ScopeTournament: true},
		CacheTimeout:        50 * time.Millisecond,
		log:                 log.Named("submission"),
		now:                 time.Now,
	}
}

func (p *SubmissionPipeline) Submit(ctx context.Context, playerID string, scope models.Scope, score int64, metadata map[string]any) (*SubmitResult, error) {
	if !p.Limiter.Allow(playerID) {
		submissionsTotal.WithLabelValues("rate_limited").Inc()
		return nil, RateLimitError("too many submissions, slow down")
	}

	scope, err := p.validate(ctx, playerID, scope, score)
	if err != nil {
		submissionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	flagged := false
	if p.Gate != nil {
		decision, err := p.Gate.Check(ctx, Submission{PlayerID: playerID, Scope: scope, Score: score, Metadata: metadata})
		if err != nil {
			p.log.Warn("anti-cheat unavailable, committing flagged",
				zap.String("player_id", playerID), zap.String("scope", scope.Key()), zap.Error(err))
			decision = AntiCheatDecision{Verdict: VerdictFlag, Reason: "anti-cheat unavailable"}
		}
		switch decision.Verdict {
		case VerdictReject:
			submissionsTotal.WithLabelValues("rejected").Inc()
			p.log.Info("submission rejected",
				zap.String("player_id", playerID), zap.String("scope", scope.Key()),
				zap.Int64("score", score), zap.String("reason", decision.Reason))
			return nil, AntiCheatRejection(decision.Reason)
		case VerdictFlag:
			flagged = true
			emit(ctx, p.Events, EventScoreFlagged, playerID, map[string]any{
				"scope":  scope.Key(),
				"score":  score,
				"reason": decision.Reason,
			})
		}
	}

	res, err := p.Store.UpsertIfBetter(ctx, scope, playerID, score, p.now().UTC().UnixNano())
	if err != nil {
		submissionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	submissionsTotal.WithLabelValues("committed").Inc()

	out := &SubmitResult{
		Accepted:  true,
		IsNewBest: res.IsNewBest,
		Flagged:   flagged,
		Scope:     scope.Key(),
		BestScore: res.Record.BestScore,
		Stage:     StageCommitted,
	}

	if res.IsNewBest {
		if p.InvalidateOnNewBest[scope.Kind] {
			invalidate(ctx, p.Cache, p.CacheTimeout, p.log, scope)
		}
		rank, _, err := p.Store.RankOf(ctx, scope, playerID)
		if err != nil {
			p.log.Warn("rank lookup after commit failed", zap.String("player_id", playerID), zap.Error(err))
		} else {
			out.Rank = &rank
		}
	}

	emit(ctx, p.Events, EventScoreSubmitted, playerID, map[string]any{
		"scope":       scope.Key(),
		"score":       score,
		"best_score":  res.Record.BestScore,
		"is_new_best": res.IsNewBest,
		"flagged":     flagged,
	})
	return out, nil
}

func (p *SubmissionPipeline) validate(ctx context.Context, playerID string, scope models.Scope, score int64) (models.Scope, error) {
	if playerID == "" {
		return scope, ValidationError("player id is required")
	}
	if score < 0 {
		return scope, ValidationError("score must not be negative")
	}

	switch scope.Kind {
	case models.ScopeGlobal:
		return scope, nil
	case models.ScopePeriodic:
		if p.Periods == nil {
			return scope, ValidationError("periodic leaderboards are not configured")
		}
		current := p.Periods.Current()
		if scope.Period == "" {
			scope.Period = current
		}
		if scope.Period != current {
			return scope, ValidationError("period %s is closed", scope.Period)
		}
		return scope, nil
	case models.ScopeTournament:
		t, err := p.Store.GetTournament(ctx, scope.TournamentID)
		if err != nil {
			return scope, err
		}
		if t.State != models.TournamentActive {
			return scope, ValidationError("tournament is not accepting scores")
		}
		ok, err := p.Store.IsParticipant(ctx, t.ID, playerID)
		if err != nil {
			return scope, err
		}
		if !ok {
			return scope, ValidationError("player is not registered for this tournament")
		}
		return scope, nil
	}
	return scope, ValidationError("unknown scope %q", scope.Key())
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"arcade-ranking/models"
	"arcade-ranking/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGate struct {
	decision AntiCheatDecision
	err      error
}

func (g stubGate) Check(context.Context, Submission) (AntiCheatDecision, error) {
	return g.decision, g.err
}

type pipelineFixture struct {
	pipeline *SubmissionPipeline
	store    *RankingStore
	sink     *recordingSink
	cache    *utils.MemoryCache
	periods  *PeriodClock
	clock    *fakeClock
}

func newPipelineFixture(t *testing.T, gate AntiCheatGate) *pipelineFixture {
	t.Helper()
	store := setupTestStore(t)
	sink := &recordingSink{}
	cache := utils.NewMemoryCache()
	clock := newFakeClock(time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC))

	periods, err := NewPeriodClock("0 0 * * 1")
	require.NoError(t, err)
	periods.now = clock.Now

	p := NewSubmissionPipeline(store, gate, cache, sink, periods, nil, nil)
	p.now = clock.Now
	return &pipelineFixture{pipeline: p, store: store, sink: sink, cache: cache, periods: periods, clock: clock}
}

func activeTournament(t *testing.T, store *RankingStore, players ...string) *models.Tournament {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	tour := &models.Tournament{
		ID:        "t-" + t.Name(),
		Name:      "Weekend Cup",
		Slug:      "weekend-cup",
		PrizePool: 0,
		State:     models.TournamentRegistering,
		StartAt:   now,
		EndAt:     now.Add(time.Hour),
	}
	require.NoError(t, store.CreateTournament(ctx, tour))
	for _, p := range players {
		_, _, err := store.AddParticipant(ctx, tour.ID, p, "name-"+p)
		require.NoError(t, err)
	}
	ok, err := store.TransitionState(ctx, tour.ID, models.TournamentRegistering, models.TournamentActive)
	require.NoError(t, err)
	require.True(t, ok)
	tour.State = models.TournamentActive
	return tour
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("negative score", func(t *testing.T) {
		f := newPipelineFixture(t, nil)
		_, err := f.pipeline.Submit(ctx, "p1", models.GlobalScope(), -1, nil)
		assert.True(t, IsKind(err, KindValidation))
	})

	t.Run("missing player", func(t *testing.T) {
		f := newPipelineFixture(t, nil)
		_, err := f.pipeline.Submit(ctx, "", models.GlobalScope(), 10, nil)
		assert.True(t, IsKind(err, KindValidation))
	})

	t.Run("unknown tournament", func(t *testing.T) {
		f := newPipelineFixture(t, nil)
		_, err := f.pipeline.Submit(ctx, "p1", models.TournamentScope("nope"), 10, nil)
		assert.True(t, IsKind(err, KindNotFound))
	})

	t.Run("tournament not active", func(t *testing.T) {
		f := newPipelineFixture(t, nil)
		now := time.Now().UTC()
		require.NoError(t, f.store.CreateTournament(ctx, &models.Tournament{
			ID: "t-reg", Name: "Cup", State: models.TournamentRegistering, StartAt: now, EndAt: now.Add(time.Hour),
		}))
		_, _, err := f.store.AddParticipant(ctx, "t-reg", "p1", "P1")
		require.NoError(t, err)

		_, err = f.pipeline.Submit(ctx, "p1", models.TournamentScope("t-reg"), 10, nil)
		assert.True(t, IsKind(err, KindValidation))
	})

	t.Run("not a participant", func(t *testing.T) {
		f := newPipelineFixture(t, nil)
		tour := activeTournament(t, f.store, "p1")

		_, err := f.pipeline.Submit(ctx, "p2", models.TournamentScope(tour.ID), 10, nil)
		assert.True(t, IsKind(err, KindValidation))
	})

	t.Run("closed period", func(t *testing.T) {
		f := newPipelineFixture(t, nil)
		_, err := f.pipeline.Submit(ctx, "p1", models.PeriodScope("2026-10-12T00:00Z"), 10, nil)
		assert.True(t, IsKind(err, KindValidation))
	})
}

func TestSubmitCommits(t *testing.T) {
	ctx := context.Background()

	t.Run("rank only on new best", func(t *testing.T) {
		f := newPipelineFixture(t, nil)

		res, err := f.pipeline.Submit(ctx, "p1", models.GlobalScope(), 120, nil)
		require.NoError(t, err)
		assert.True(t, res.Accepted)
		assert.True(t, res.IsNewBest)
		require.NotNil(t, res.Rank)
		assert.Equal(t, int64(1), *res.Rank)
		assert.Equal(t, StageCommitted, res.Stage)

		res, err = f.pipeline.Submit(ctx, "p1", models.GlobalScope(), 80, nil)
		require.NoError(t, err)
		assert.True(t, res.Accepted)
		assert.False(t, res.IsNewBest)
		assert.Nil(t, res.Rank)
		assert.Equal(t, int64(120), res.BestScore)

		events := f.sink.named(EventScoreSubmitted)
		require.Len(t, events, 2)
		assert.Equal(t, true, events[0].Props["is_new_best"])
		assert.Equal(t, false, events[1].Props["is_new_best"])
	})

	t.Run("bare period resolves to current", func(t *testing.T) {
		f := newPipelineFixture(t, nil)

		res, err := f.pipeline.Submit(ctx, "p1", models.PeriodScope(""), 5, nil)
		require.NoError(t, err)
		assert.Equal(t, "period:2026-10-19T00:00Z", res.Scope)
	})

	t.Run("tournament participant", func(t *testing.T) {
		f := newPipelineFixture(t, nil)
		tour := activeTournament(t, f.store, "p1", "p2")

		_, err := f.pipeline.Submit(ctx, "p2", models.TournamentScope(tour.ID), 300, nil)
		require.NoError(t, err)
		res, err := f.pipeline.Submit(ctx, "p1", models.TournamentScope(tour.ID), 200, nil)
		require.NoError(t, err)
		require.NotNil(t, res.Rank)
		assert.Equal(t, int64(2), *res.Rank)
	})
}

func TestSubmitAntiCheat(t *testing.T) {
	ctx := context.Background()

	t.Run("reject leaves no record", func(t *testing.T) {
		f := newPipelineFixture(t, stubGate{decision: AntiCheatDecision{Verdict: VerdictReject, Reason: "too fast"}})

		_, err := f.pipeline.Submit(ctx, "p1", models.GlobalScope(), 999, nil)
		require.Error(t, err)
		assert.Equal(t, KindAntiCheat, KindOf(err))

		_, _, err = f.store.RankOf(ctx, models.GlobalScope(), "p1")
		assert.True(t, IsKind(err, KindNotFound))
	})

	t.Run("flag commits and emits", func(t *testing.T) {
		f := newPipelineFixture(t, stubGate{decision: AntiCheatDecision{Verdict: VerdictFlag, Reason: "review"}})

		res, err := f.pipeline.Submit(ctx, "p1", models.GlobalScope(), 999, nil)
		require.NoError(t, err)
		assert.True(t, res.Flagged)
		assert.Equal(t, int64(999), res.BestScore)

		flagged := f.sink.named(EventScoreFlagged)
		require.Len(t, flagged, 1)
		assert.Equal(t, "review", flagged[0].Props["reason"])
	})

	t.Run("gate failure commits flagged", func(t *testing.T) {
		f := newPipelineFixture(t, stubGate{err: errors.New("timeout")})

		res, err := f.pipeline.Submit(ctx, "p1", models.GlobalScope(), 50, nil)
		require.NoError(t, err)
		assert.True(t, res.Flagged)
	})

	t.Run("threshold gate", func(t *testing.T) {
		f := newPipelineFixture(t, ThresholdGate{MaxScore: 1000, FlagScore: 500})

		_, err := f.pipeline.Submit(ctx, "p1", models.GlobalScope(), 1001, nil)
		assert.True(t, IsKind(err, KindAntiCheat))

		res, err := f.pipeline.Submit(ctx, "p1", models.GlobalScope(), 600, nil)
		require.NoError(t, err)
		assert.True(t, res.Flagged)
	})
}

func TestSubmitRateLimit(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, nil)
	f.pipeline.Limiter = NewPlayerLimiter(0.001, 1)

	_, err := f.pipeline.Submit(ctx, "p1", models.GlobalScope(), 10, nil)
	require.NoError(t, err)

	_, err = f.pipeline.Submit(ctx, "p1", models.GlobalScope(), 20, nil)
	assert.True(t, IsKind(err, KindRateLimited))

	_, err = f.pipeline.Submit(ctx, "p2", models.GlobalScope(), 20, nil)
	assert.NoError(t, err)
}

func TestSubmitCacheInvalidation(t *testing.T) {
	ctx := context.Background()

	t.Run("global page is left to expire", func(t *testing.T) {
		f := newPipelineFixture(t, nil)
		key := LeaderboardCacheKey(models.GlobalScope())
		require.NoError(t, f.cache.Set(ctx, key, []byte("[]"), time.Minute))

		_, err := f.pipeline.Submit(ctx, "p1", models.GlobalScope(), 10, nil)
		require.NoError(t, err)

		_, ok, _ := f.cache.Get(ctx, key)
		assert.True(t, ok)
	})

	t.Run("tournament page is dropped on new best", func(t *testing.T) {
		f := newPipelineFixture(t, nil)
		tour := activeTournament(t, f.store, "p1")
		key := LeaderboardCacheKey(models.TournamentScope(tour.ID))
		require.NoError(t, f.cache.Set(ctx, key, []byte("[]"), time.Minute))

		_, err := f.pipeline.Submit(ctx, "p1", models.TournamentScope(tour.ID), 10, nil)
		require.NoError(t, err)

		_, ok, _ := f.cache.Get(ctx, key)
		assert.False(t, ok)
	})

	t.Run("cache failure does not fail the submission", func(t *testing.T) {
		f := newPipelineFixture(t, nil)
		f.pipeline.Cache = failingCache{}
		tour := activeTournament(t, f.store, "p1")

		res, err := f.pipeline.Submit(ctx, "p1", models.TournamentScope(tour.ID), 10, nil)
		require.NoError(t, err)
		assert.True(t, res.IsNewBest)
	})
}

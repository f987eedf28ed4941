package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"arcade-ranking/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fakeArchive struct {
	mu   sync.Mutex
	keys []string
	done chan struct{}
}

func (a *fakeArchive) PutJSON(_ context.Context, key string, _ any) error {
	a.mu.Lock()
	a.keys = append(a.keys, key)
	a.mu.Unlock()
	a.done <- struct{}{}
	return nil
}

type tournamentFixture struct {
	svc    *TournamentService
	store  *RankingStore
	ledger *PrizeLedger
	sink   *recordingSink
	clock  *fakeClock
}

func newTournamentFixture(t *testing.T) *tournamentFixture {
	t.Helper()
	store := setupTestStore(t)
	sink := &recordingSink{}
	ledger := fastLedger(store.DB, sink)
	t.Cleanup(ledger.Close)

	clock := newFakeClock(time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC))
	svc := NewTournamentService(store, ledger, nil, sink, nil)
	svc.now = clock.Now
	return &tournamentFixture{svc: svc, store: store, ledger: ledger, sink: sink, clock: clock}
}

func (f *tournamentFixture) create(t *testing.T, in CreateTournamentInput) *models.Tournament {
	t.Helper()
	if in.Name == "" {
		in.Name = "Friday Night Cup"
	}
	if in.StartAt.IsZero() {
		in.StartAt = f.clock.Now().Add(time.Hour)
		in.EndAt = in.StartAt.Add(24 * time.Hour)
	}
	tour, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	return tour
}

// activeWithScores registers players p1..pN, starts the tournament and
// gives pK a score of 100*(N-K+1).
func (f *tournamentFixture) activeWithScores(t *testing.T, n int) *models.Tournament {
	t.Helper()
	ctx := context.Background()
	tour := f.create(t, CreateTournamentInput{OpenRegistration: true, PrizePool: 0})
	for i := 1; i <= n; i++ {
		_, _, err := f.svc.Register(ctx, tour.ID, fmt.Sprintf("p%d", i), fmt.Sprintf("Player %d", i))
		require.NoError(t, err)
	}
	_, err := f.svc.Start(ctx, tour.ID)
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		seedScore(t, f.store, models.TournamentScope(tour.ID), fmt.Sprintf("p%d", i), int64(100*(n-i+1)), int64(i))
	}
	return tour
}

func countGrants(t *testing.T, f *tournamentFixture, tournamentID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.store.DB.Model(&models.PrizeGrant{}).Where("tournament_id = ?", tournamentID).Count(&n).Error)
	return n
}

func TestTournamentCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("scheduled by default", func(t *testing.T) {
		f := newTournamentFixture(t)
		tour := f.create(t, CreateTournamentInput{Name: "Spooky Sprint", PrizePool: 5000})
		assert.Equal(t, models.TournamentScheduled, tour.State)
		assert.True(t, strings.HasPrefix(tour.Slug, "spooky-sprint-"))
	})

	t.Run("open registration", func(t *testing.T) {
		f := newTournamentFixture(t)
		tour := f.create(t, CreateTournamentInput{OpenRegistration: true})
		assert.Equal(t, models.TournamentRegistering, tour.State)
	})

	t.Run("registration window already open", func(t *testing.T) {
		f := newTournamentFixture(t)
		opened := f.clock.Now().Add(-time.Minute)
		tour := f.create(t, CreateTournamentInput{RegistrationOpensAt: &opened})
		assert.Equal(t, models.TournamentRegistering, tour.State)
	})

	t.Run("validation", func(t *testing.T) {
		f := newTournamentFixture(t)
		start := f.clock.Now()

		_, err := f.svc.Create(ctx, CreateTournamentInput{Name: " ", StartAt: start, EndAt: start.Add(time.Hour)})
		assert.True(t, IsKind(err, KindValidation))

		_, err = f.svc.Create(ctx, CreateTournamentInput{Name: "x", StartAt: start, EndAt: start})
		assert.True(t, IsKind(err, KindValidation))

		_, err = f.svc.Create(ctx, CreateTournamentInput{Name: "x", PrizePool: -1, StartAt: start, EndAt: start.Add(time.Hour)})
		assert.True(t, IsKind(err, KindValidation))

		_, err = f.svc.Create(ctx, CreateTournamentInput{
			Name: "x", StartAt: start, EndAt: start.Add(time.Hour),
			PrizeTable: PrizeTable{{RankMin: 2, RankMax: 1, Coins: 1}},
		})
		assert.True(t, IsKind(err, KindValidation))
	})
}

func TestTournamentRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent", func(t *testing.T) {
		f := newTournamentFixture(t)
		tour := f.create(t, CreateTournamentInput{OpenRegistration: true})

		first, created, err := f.svc.Register(ctx, tour.ID, "p1", "Ace")
		require.NoError(t, err)
		assert.True(t, created)

		second, created, err := f.svc.Register(ctx, tour.ID, "p1", "Ace Again")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "Ace", second.PlayerName)

		n, err := f.store.CountParticipants(ctx, tour.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("concurrent duplicates create one row", func(t *testing.T) {
		f := newTournamentFixture(t)
		tour := f.create(t, CreateTournamentInput{OpenRegistration: true})

		var g errgroup.Group
		for i := 0; i < 10; i++ {
			g.Go(func() error {
				_, _, err := f.svc.Register(ctx, tour.ID, "p1", "Ace")
				return err
			})
		}
		require.NoError(t, g.Wait())

		n, err := f.store.CountParticipants(ctx, tour.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("late registration while active", func(t *testing.T) {
		f := newTournamentFixture(t)
		tour := f.activeWithScores(t, 1)

		_, created, err := f.svc.Register(ctx, tour.ID, "late", "Late Comer")
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("closed states", func(t *testing.T) {
		f := newTournamentFixture(t)
		scheduled := f.create(t, CreateTournamentInput{})
		_, _, err := f.svc.Register(ctx, scheduled.ID, "p1", "Ace")
		assert.True(t, IsKind(err, KindConflict))

		ended := f.activeWithScores(t, 1)
		_, err = f.svc.End(ctx, ended.ID)
		require.NoError(t, err)
		_, _, err = f.svc.Register(ctx, ended.ID, "p9", "Nine")
		assert.True(t, IsKind(err, KindConflict))

		_, _, err = f.svc.Register(ctx, "missing", "p1", "Ace")
		assert.True(t, IsKind(err, KindNotFound))
	})
}

func TestTournamentStart(t *testing.T) {
	ctx := context.Background()

	t.Run("no participants", func(t *testing.T) {
		f := newTournamentFixture(t)
		tour := f.create(t, CreateTournamentInput{OpenRegistration: true})

		_, err := f.svc.Start(ctx, tour.ID)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindConflict))
		assert.Contains(t, err.Error(), "no participants")
	})

	t.Run("reports participant count", func(t *testing.T) {
		f := newTournamentFixture(t)
		tour := f.create(t, CreateTournamentInput{OpenRegistration: true})
		for _, p := range []string{"a", "b", "c"} {
			_, _, err := f.svc.Register(ctx, tour.ID, p, p)
			require.NoError(t, err)
		}

		n, err := f.svc.Start(ctx, tour.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		got, err := f.svc.Get(ctx, tour.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TournamentActive, got.State)
		assert.NotNil(t, got.StartedAt)
		assert.Equal(t, int64(3), got.ParticipantCount)
	})

	t.Run("already started", func(t *testing.T) {
		f := newTournamentFixture(t)
		tour := f.activeWithScores(t, 1)

		_, err := f.svc.Start(ctx, tour.ID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already started")
	})

	t.Run("already ended", func(t *testing.T) {
		f := newTournamentFixture(t)
		tour := f.activeWithScores(t, 1)
		_, err := f.svc.End(ctx, tour.ID)
		require.NoError(t, err)

		_, err = f.svc.Start(ctx, tour.ID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already ended")
	})
}

func TestTournamentEnd(t *testing.T) {
	ctx := context.Background()

	t.Run("rewards the top three only", func(t *testing.T) {
		f := newTournamentFixture(t)
		tour := f.activeWithScores(t, 5)

		res, err := f.svc.End(ctx, tour.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TournamentEnded, res.State)
		assert.False(t, res.AlreadyEnded)
		require.Len(t, res.FinalLeaderboard, 5)
		assert.Equal(t, "Player 1", res.FinalLeaderboard[0].DisplayName)

		require.Len(t, res.PrizeDistributions, 3)
		coins := map[string]int64{}
		for _, g := range res.PrizeDistributions {
			coins[g.PlayerID] = g.Coins
		}
		assert.Equal(t, map[string]int64{"p1": 1000, "p2": 500, "p3": 250}, coins)
		assert.Equal(t, int64(1750), res.TotalDistributed.Coins)
		assert.Equal(t, int64(3), countGrants(t, f, tour.ID))

		awarded := f.sink.named(EventPrizeAwarded)
		require.Len(t, awarded, 3)
		assert.Equal(t, "You placed #1 in Friday Night Cup and won 1,000 coins!", awarded[0].Props["message"])
		assert.Len(t, f.sink.named(EventTournamentEnded), 1)
	})

	t.Run("second call returns the persisted result", func(t *testing.T) {
		f := newTournamentFixture(t)
		tour := f.activeWithScores(t, 5)

		first, err := f.svc.End(ctx, tour.ID)
		require.NoError(t, err)
		second, err := f.svc.End(ctx, tour.ID)
		require.NoError(t, err)

		assert.True(t, second.AlreadyEnded)
		assert.Equal(t, first.PrizeDistributions, second.PrizeDistributions)
		assert.Equal(t, int64(3), countGrants(t, f, tour.ID))
		assert.Len(t, f.sink.named(EventTournamentEnded), 1)
	})

	t.Run("concurrent calls issue prizes once", func(t *testing.T) {
		f := newTournamentFixture(t)
		tour := f.activeWithScores(t, 5)

		results := make([]*EndResult, 8)
		var g errgroup.Group
		for i := range results {
			i := i
			g.Go(func() error {
				res, err := f.svc.End(ctx, tour.ID)
				results[i] = res
				return err
			})
		}
		require.NoError(t, g.Wait())

		assert.Equal(t, int64(3), countGrants(t, f, tour.ID))
		for _, res := range results {
			assert.Equal(t, results[0].PrizeDistributions, res.PrizeDistributions)
			assert.Equal(t, int64(1750), res.TotalDistributed.Coins)
		}
		assert.Len(t, f.sink.named(EventTournamentEnded), 1)
	})

	t.Run("resumes from ending", func(t *testing.T) {
		f := newTournamentFixture(t)
		tour := f.activeWithScores(t, 4)
		ok, err := f.store.TransitionState(ctx, tour.ID, models.TournamentActive, models.TournamentEnding)
		require.NoError(t, err)
		require.True(t, ok)

		res, err := f.svc.End(ctx, tour.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TournamentEnded, res.State)
		assert.Len(t, res.PrizeDistributions, 3)
	})

	t.Run("resume keeps prizes issued before a late score", func(t *testing.T) {
		f := newTournamentFixture(t)
		tour := f.activeWithScores(t, 5)
		ok, err := f.store.TransitionState(ctx, tour.ID, models.TournamentActive, models.TournamentEnding)
		require.NoError(t, err)
		require.True(t, ok)

		// An earlier attempt recorded prizes and then failed before Ended.
		first, err := f.store.Snapshot(ctx, models.TournamentScope(tour.ID))
		require.NoError(t, err)
		_, err = f.ledger.RecordGrants(ctx, DefaultPrizeTable().Distribute(tour, first, f.clock.Now()))
		require.NoError(t, err)

		// A submission validated before the freeze lands afterwards.
		seedScore(t, f.store, models.TournamentScope(tour.ID), "p5", 10000, 99)

		res, err := f.svc.End(ctx, tour.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TournamentEnded, res.State)

		require.Len(t, res.PrizeDistributions, 3)
		ranks := map[int]int{}
		winners := map[int]string{}
		for _, g := range res.PrizeDistributions {
			ranks[g.Rank]++
			winners[g.Rank] = g.PlayerID
		}
		assert.Equal(t, map[int]int{1: 1, 2: 1, 3: 1}, ranks)
		assert.Equal(t, map[int]string{1: "p1", 2: "p2", 3: "p3"}, winners)
		assert.Equal(t, int64(3), countGrants(t, f, tour.ID))
	})

	t.Run("failure leaves ending and retry completes", func(t *testing.T) {
		f := newTournamentFixture(t)
		tour := f.activeWithScores(t, 5)
		require.NoError(t, f.store.DB.Migrator().DropTable(&models.PrizeGrant{}))

		_, err := f.svc.End(ctx, tour.ID)
		require.Error(t, err)
		got, err := f.store.GetTournament(ctx, tour.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TournamentEnding, got.State)

		require.NoError(t, f.store.DB.AutoMigrate(&models.PrizeGrant{}))
		res, err := f.svc.End(ctx, tour.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TournamentEnded, res.State)
		assert.Equal(t, int64(3), countGrants(t, f, tour.ID))
	})

	t.Run("not started", func(t *testing.T) {
		f := newTournamentFixture(t)
		tour := f.create(t, CreateTournamentInput{OpenRegistration: true})

		_, err := f.svc.End(ctx, tour.ID)
		assert.True(t, IsKind(err, KindConflict))
	})

	t.Run("tournament prize table with pool share", func(t *testing.T) {
		f := newTournamentFixture(t)
		tour := f.create(t, CreateTournamentInput{
			OpenRegistration: true,
			PrizePool:        10000,
			PrizeTable: PrizeTable{
				{RankMin: 1, RankMax: 1, PoolShareBps: 6000, Gems: 5},
				{RankMin: 2, RankMax: 4, PoolShareBps: 1000},
			},
		})
		for i := 1; i <= 5; i++ {
			_, _, err := f.svc.Register(ctx, tour.ID, fmt.Sprintf("p%d", i), "")
			require.NoError(t, err)
		}
		_, err := f.svc.Start(ctx, tour.ID)
		require.NoError(t, err)
		for i := 1; i <= 5; i++ {
			seedScore(t, f.store, models.TournamentScope(tour.ID), fmt.Sprintf("p%d", i), int64(10-i), 1)
		}

		res, err := f.svc.End(ctx, tour.ID)
		require.NoError(t, err)
		require.Len(t, res.PrizeDistributions, 4)
		assert.Equal(t, int64(6000), res.PrizeDistributions[0].Coins)
		assert.Equal(t, int64(5), res.PrizeDistributions[0].Gems)
		assert.Equal(t, int64(1000), res.PrizeDistributions[3].Coins)
		assert.Equal(t, int64(9000), res.TotalDistributed.Coins)
		assert.Equal(t, "p1", res.FinalLeaderboard[0].DisplayName)
	})

	t.Run("archives results", func(t *testing.T) {
		f := newTournamentFixture(t)
		archive := &fakeArchive{done: make(chan struct{}, 1)}
		f.svc.Archive = archive
		tour := f.activeWithScores(t, 2)

		_, err := f.svc.End(ctx, tour.ID)
		require.NoError(t, err)

		select {
		case <-archive.done:
		case <-time.After(2 * time.Second):
			t.Fatal("archive upload not attempted")
		}
		archive.mu.Lock()
		defer archive.mu.Unlock()
		assert.Equal(t, []string{fmt.Sprintf("tournaments/%s/%s.json", tour.Slug, tour.ID)}, archive.keys)
	})
}

func TestTournamentAdvanceDue(t *testing.T) {
	ctx := context.Background()
	f := newTournamentFixture(t)
	now := f.clock.Now()

	opens := now.Add(10 * time.Minute)
	toOpen := f.create(t, CreateTournamentInput{Name: "Opens Soon", RegistrationOpensAt: &opens, StartAt: now.Add(time.Hour), EndAt: now.Add(2 * time.Hour)})

	toStart := f.create(t, CreateTournamentInput{Name: "Starts Soon", OpenRegistration: true, StartAt: now.Add(20 * time.Minute), EndAt: now.Add(3 * time.Hour)})
	_, _, err := f.svc.Register(ctx, toStart.ID, "p1", "Ace")
	require.NoError(t, err)

	empty := f.create(t, CreateTournamentInput{Name: "Nobody Came", OpenRegistration: true, StartAt: now.Add(20 * time.Minute), EndAt: now.Add(3 * time.Hour)})

	toEnd := f.activeWithScores(t, 3)

	report, err := f.svc.AdvanceDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, AdvanceReport{}, report)

	// toEnd was created with EndAt = now+25h by the fixture helper.
	f.clock.Advance(26 * time.Hour)
	report, err = f.svc.AdvanceDue(ctx)
	require.NoError(t, err)
	// toOpen opens and is immediately due to start, but has nobody registered.
	assert.Equal(t, AdvanceReport{Opened: 1, Started: 1, Ended: 2}, report)

	for id, want := range map[string]models.TournamentState{
		toOpen.ID:  models.TournamentRegistering,
		empty.ID:   models.TournamentRegistering,
		toStart.ID: models.TournamentEnded,
		toEnd.ID:   models.TournamentEnded,
	} {
		got, err := f.store.GetTournament(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.State, id)
	}
}

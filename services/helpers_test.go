package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"arcade-ranking/database"
	"arcade-ranking/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// One connection keeps every goroutine on the same in-memory database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

func setupTestStore(t *testing.T) *RankingStore {
	t.Helper()
	return NewRankingStore(setupTestDB(t), nil, time.Second, nil)
}

func fastLedger(db *gorm.DB, events EventSink) *PrizeLedger {
	l := NewPrizeLedger(db, events, 4, 256, time.Second, nil)
	l.NewBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 2)
	}
	return l
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(_ context.Context, e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) named(name string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type failingCache struct{}

var errCacheDown = errors.New("cache down")

func (failingCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errCacheDown }
func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errCacheDown
}
func (failingCache) Delete(context.Context, ...string) error { return errCacheDown }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func seedScore(t *testing.T, store *RankingStore, scope models.Scope, playerID string, score, tieBreak int64) {
	t.Helper()
	_, err := store.UpsertIfBetter(context.Background(), scope, playerID, score, tieBreak)
	require.NoError(t, err)
}

func playerIDs(records []models.ScoreRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.PlayerID
	}
	return ids
}

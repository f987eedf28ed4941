package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"arcade-ranking/models"
	"arcade-ranking/utils"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// LeaderboardCacheKey is the cache key for the top page of scope.
func LeaderboardCacheKey(scope models.Scope) string {
	return "leaderboard:" + scope.Key()
}

// Percentile is the share of the scope at or below rank, rounded to one
// decimal. Rank 1 of any non-empty scope is 100.
func Percentile(rank, total int64) float64 {
	if total <= 0 || rank <= 0 {
		return 0
	}
	v := (1 - float64(rank-1)/float64(total)) * 100
	return math.Round(v*10) / 10
}

// LeaderboardService serves ranked reads. The top MaxPageSize rows of
// each scope are cached for a per-kind TTL; personal reads always go to
// the store.
type LeaderboardService struct {
	Store        *RankingStore
	Cache        utils.Cache
	Periods      *PeriodClock
	TTL          map[models.ScopeKind]time.Duration
	CacheTimeout time.Duration

	group singleflight.Group
	log   *zap.Logger
}

func NewLeaderboardService(store *RankingStore, cache utils.Cache, periods *PeriodClock, ttl map[models.ScopeKind]time.Duration, cacheTimeout time.Duration, log *zap.Logger) *LeaderboardService {
	if log == nil {
		log = zap.NewNop()
	}
	if cacheTimeout <= 0 {
		cacheTimeout = 50 * time.Millisecond
	}
	return &LeaderboardService{
		Store:        store,
		Cache:        cache,
		Periods:      periods,
		TTL:          ttl,
		CacheTimeout: cacheTimeout,
		log:          log.Named("leaderboard"),
	}
}

// Resolve fills in the current period for a bare "period" scope.
func (s *LeaderboardService) Resolve(scope models.Scope) models.Scope {
	if scope.Kind == models.ScopePeriodic && scope.Period == "" && s.Periods != nil {
		scope.Period = s.Periods.Current()
	}
	return scope
}

// GlobalTop is Get on the global scope from rank 1.
func (s *LeaderboardService) GlobalTop(ctx context.Context, limit int, requester string) (*models.Leaderboard, error) {
	return s.Get(ctx, models.GlobalScope(), limit, 0, requester)
}

func (s *LeaderboardService) Get(ctx context.Context, scope models.Scope, limit, offset int, requester string) (*models.Leaderboard, error) {
	if limit <= 0 {
		return nil, ValidationError("limit must be positive")
	}
	if offset < 0 {
		return nil, ValidationError("offset must not be negative")
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	scope = s.Resolve(scope)

	var entries []models.LeaderboardEntry
	if offset+limit <= MaxPageSize {
		top, err := s.topPage(ctx, scope)
		if err != nil {
			return nil, err
		}
		entries = window(top, offset, limit)
	} else {
		records, err := s.Store.Query(ctx, scope, limit, offset)
		if err != nil {
			return nil, err
		}
		entries, err = s.Store.Entries(ctx, scope, records, int64(offset)+1)
		if err != nil {
			return nil, err
		}
	}

	board := &models.Leaderboard{Scope: scope.Key(), Entries: entries}
	if requester != "" {
		info, err := s.Rank(ctx, scope, requester)
		switch {
		case err == nil:
			board.RequestorRank = info
		case IsKind(err, KindNotFound):
		default:
			return nil, err
		}
	}
	return board, nil
}

// Around returns the requester's neighbourhood. Never cached.
func (s *LeaderboardService) Around(ctx context.Context, scope models.Scope, playerID string, radius int) (*models.Leaderboard, error) {
	scope = s.Resolve(scope)
	records, first, err := s.Store.ContextWindow(ctx, scope, playerID, radius)
	if err != nil {
		return nil, err
	}
	entries, err := s.Store.Entries(ctx, scope, records, first)
	if err != nil {
		return nil, err
	}
	info, err := s.Rank(ctx, scope, playerID)
	if err != nil {
		return nil, err
	}
	return &models.Leaderboard{Scope: scope.Key(), Entries: entries, RequestorRank: info, Total: info.Total}, nil
}

func (s *LeaderboardService) Rank(ctx context.Context, scope models.Scope, playerID string) (*models.RankInfo, error) {
	scope = s.Resolve(scope)
	rank, total, err := s.Store.RankOf(ctx, scope, playerID)
	if err != nil {
		return nil, err
	}
	return &models.RankInfo{Rank: rank, Total: total, Percentile: Percentile(rank, total)}, nil
}

// Invalidate drops cached pages for the given scopes. Failures are logged.
func (s *LeaderboardService) Invalidate(ctx context.Context, scopes ...models.Scope) {
	invalidate(ctx, s.Cache, s.CacheTimeout, s.log, scopes...)
}

func (s *LeaderboardService) ttlFor(scope models.Scope) time.Duration {
	if d, ok := s.TTL[scope.Kind]; ok {
		return d
	}
	return time.Minute
}

func (s *LeaderboardService) topPage(ctx context.Context, scope models.Scope) ([]models.LeaderboardEntry, error) {
	key := LeaderboardCacheKey(scope)
	if entries, ok := s.cacheGet(ctx, key); ok {
		leaderboardCacheTotal.WithLabelValues("hit").Inc()
		return entries, nil
	}
	leaderboardCacheTotal.WithLabelValues("miss").Inc()

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		records, err := s.Store.Query(ctx, scope, MaxPageSize, 0)
		if err != nil {
			return nil, err
		}
		entries, err := s.Store.Entries(ctx, scope, records, 1)
		if err != nil {
			return nil, err
		}
		s.cacheSet(ctx, key, entries, s.ttlFor(scope))
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.LeaderboardEntry), nil
}

func (s *LeaderboardService) cacheGet(ctx context.Context, key string) ([]models.LeaderboardEntry, bool) {
	if s.Cache == nil {
		return nil, false
	}
	cctx, cancel := context.WithTimeout(ctx, s.CacheTimeout)
	defer cancel()

	raw, ok, err := s.Cache.Get(cctx, key)
	if err != nil {
		leaderboardCacheTotal.WithLabelValues("error").Inc()
		s.log.Warn("cache read failed, using store", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var entries []models.LeaderboardEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		s.log.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return entries, true
}

func (s *LeaderboardService) cacheSet(ctx context.Context, key string, entries []models.LeaderboardEntry, ttl time.Duration) {
	if s.Cache == nil {
		return
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.CacheTimeout)
	defer cancel()
	if err := s.Cache.Set(cctx, key, raw, ttl); err != nil {
		s.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func invalidate(ctx context.Context, cache utils.Cache, timeout time.Duration, log *zap.Logger, scopes ...models.Scope) {
	if cache == nil || len(scopes) == 0 {
		return
	}
	keys := make([]string, len(scopes))
	for i, sc := range scopes {
		keys[i] = LeaderboardCacheKey(sc)
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := cache.Delete(cctx, keys...); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func window(entries []models.LeaderboardEntry, offset, limit int) []models.LeaderboardEntry {
	if offset >= len(entries) {
		return []models.LeaderboardEntry{}
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	out := make([]models.LeaderboardEntry, end-offset)
	copy(out, entries[offset:end])
	return out
}

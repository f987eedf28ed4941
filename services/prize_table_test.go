package services

import (
	"testing"
	"time"

	"arcade-ranking/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrizeTableRewardFor(t *testing.T) {
	table := DefaultPrizeTable()

	tests := []struct {
		rank  int
		coins int64
		ok    bool
	}{
		{1, 1000, true},
		{2, 500, true},
		{3, 250, true},
		{4, 0, false},
		{100, 0, false},
	}
	for _, tt := range tests {
		coins, _, ok := table.RewardFor(tt.rank, 0)
		assert.Equal(t, tt.ok, ok, "rank %d", tt.rank)
		assert.Equal(t, tt.coins, coins, "rank %d", tt.rank)
	}
}

func TestPrizeTablePoolShare(t *testing.T) {
	table := PrizeTable{{RankMin: 1, RankMax: 1, Coins: 100, PoolShareBps: 2500}}
	coins, gems, ok := table.RewardFor(1, 4000)
	assert.True(t, ok)
	assert.Equal(t, int64(1100), coins)
	assert.Zero(t, gems)
}

func TestPrizeTableValidate(t *testing.T) {
	assert.NoError(t, DefaultPrizeTable().Validate())

	bad := map[string]PrizeTable{
		"zero rank":     {{RankMin: 0, RankMax: 1, Coins: 1}},
		"inverted":      {{RankMin: 3, RankMax: 2, Coins: 1}},
		"negative":      {{RankMin: 1, RankMax: 1, Coins: -1}},
		"share too big": {{RankMin: 1, RankMax: 1, PoolShareBps: 10001}},
		"overlap":       {{RankMin: 1, RankMax: 3}, {RankMin: 3, RankMax: 5}},
	}
	for name, table := range bad {
		assert.Error(t, table.Validate(), name)
	}
}

func TestParsePrizeTable(t *testing.T) {
	table, err := ParsePrizeTable(`[{"rank_min":1,"rank_max":1,"coins":50,"gems":2}]`)
	require.NoError(t, err)
	require.Len(t, table, 1)
	assert.Equal(t, int64(2), table[0].Gems)

	empty, err := ParsePrizeTable("")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = ParsePrizeTable("{")
	assert.Error(t, err)

	_, err = ParsePrizeTable(`[{"rank_min":2,"rank_max":1}]`)
	assert.Error(t, err)
}

func TestPrizeTableDistribute(t *testing.T) {
	tour := &models.Tournament{ID: "t1"}
	snapshot := []models.ScoreRecord{
		{PlayerID: "a", BestScore: 90},
		{PlayerID: "b", BestScore: 80},
		{PlayerID: "c", BestScore: 70},
		{PlayerID: "d", BestScore: 60},
	}
	at := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)

	grants := DefaultPrizeTable().Distribute(tour, snapshot, at)
	require.Len(t, grants, 3)
	seen := map[string]bool{}
	for i, g := range grants {
		assert.Equal(t, i+1, g.Rank)
		assert.Equal(t, snapshot[i].PlayerID, g.PlayerID)
		assert.Equal(t, "t1", g.TournamentID)
		assert.Equal(t, at, g.AwardedAt)
		assert.Nil(t, g.ClaimedAt)
		assert.False(t, seen[g.PrizeID])
		seen[g.PrizeID] = true
	}

	assert.Empty(t, DefaultPrizeTable().Distribute(tour, nil, at))
}

func TestPrizeMessage(t *testing.T) {
	assert.Equal(t, "You placed #2 in Weekly Cup and won 12,500 coins!", prizeMessage("Weekly Cup", 2, 12500, 0))
	assert.Equal(t, "You placed #1 in Weekly Cup and won 1,000 coins and 3 gems!", prizeMessage("Weekly Cup", 1, 1000, 3))
}

package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"arcade-ranking/models"

	"github.com/google/uuid"
)

// PrizeTier pays every rank in [RankMin, RankMax] the fixed amounts plus
// PoolShareBps basis points of the tournament prize pool in coins.
type PrizeTier struct {
	RankMin      int   `json:"rank_min"`
	RankMax      int   `json:"rank_max"`
	Coins        int64 `json:"coins"`
	Gems         int64 `json:"gems"`
	PoolShareBps int64 `json:"pool_share_bps,omitempty"`
}

type PrizeTable []PrizeTier

func DefaultPrizeTable() PrizeTable {
	return PrizeTable{
		{RankMin: 1, RankMax: 1, Coins: 1000},
		{RankMin: 2, RankMax: 2, Coins: 500},
		{RankMin: 3, RankMax: 3, Coins: 250},
	}
}

// ParsePrizeTable decodes a JSON tier list. Empty input yields nil.
func ParsePrizeTable(raw string) (PrizeTable, error) {
	if raw == "" {
		return nil, nil
	}
	var t PrizeTable
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decode prize table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t PrizeTable) Validate() error {
	tiers := make(PrizeTable, len(t))
	copy(tiers, t)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].RankMin < tiers[j].RankMin })

	for i, tier := range tiers {
		if tier.RankMin < 1 || tier.RankMax < tier.RankMin {
			return fmt.Errorf("prize tier %d-%d: invalid rank range", tier.RankMin, tier.RankMax)
		}
		if tier.Coins < 0 || tier.Gems < 0 || tier.PoolShareBps < 0 || tier.PoolShareBps > 10000 {
			return fmt.Errorf("prize tier %d-%d: invalid amounts", tier.RankMin, tier.RankMax)
		}
		if i > 0 && tier.RankMin <= tiers[i-1].RankMax {
			return fmt.Errorf("prize tier %d-%d overlaps %d-%d", tier.RankMin, tier.RankMax, tiers[i-1].RankMin, tiers[i-1].RankMax)
		}
	}
	return nil
}

func (t PrizeTable) JSON() string {
	if len(t) == 0 {
		return ""
	}
	b, _ := json.Marshal(t)
	return string(b)
}

// RewardFor returns the prize for rank, or ok=false when the rank pays nothing.
func (t PrizeTable) RewardFor(rank int, prizePool int64) (coins, gems int64, ok bool) {
	for _, tier := range t {
		if rank < tier.RankMin || rank > tier.RankMax {
			continue
		}
		coins = tier.Coins + prizePool*tier.PoolShareBps/10000
		gems = tier.Gems
		return coins, gems, coins > 0 || gems > 0
	}
	return 0, 0, false
}

// Distribute turns a final snapshot (already in rank order) into grants.
func (t PrizeTable) Distribute(tournament *models.Tournament, snapshot []models.ScoreRecord, awardedAt time.Time) []models.PrizeGrant {
	var grants []models.PrizeGrant
	for i, rec := range snapshot {
		rank := i + 1
		coins, gems, ok := t.RewardFor(rank, tournament.PrizePool)
		if !ok {
			continue
		}
		grants = append(grants, models.PrizeGrant{
			PrizeID:      uuid.New().String(),
			TournamentID: tournament.ID,
			PlayerID:     rec.PlayerID,
			Rank:         rank,
			Coins:        coins,
			Gems:         gems,
			AwardedAt:    awardedAt,
		})
	}
	return grants
}

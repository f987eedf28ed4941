package services

import (
	"context"
	"fmt"

	"arcade-ranking/models"
)

type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictReject Verdict = "reject"
	VerdictFlag   Verdict = "flag"
)

type AntiCheatDecision struct {
	Verdict Verdict `json:"verdict"`
	Reason  string  `json:"reason,omitempty"`
}

// Submission is what the anti-cheat gate sees for one play.
type Submission struct {
	PlayerID string         `json:"player_id"`
	Scope    models.Scope   `json:"scope"`
	Score    int64          `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AntiCheatGate judges a submission before it is committed.
type AntiCheatGate interface {
	Check(ctx context.Context, sub Submission) (AntiCheatDecision, error)
}

// ThresholdGate applies static plausibility limits. Zero limits are off.
type ThresholdGate struct {
	MaxScore  int64
	FlagScore int64
}

func (g ThresholdGate) Check(_ context.Context, sub Submission) (AntiCheatDecision, error) {
	if g.MaxScore > 0 && sub.Score > g.MaxScore {
		return AntiCheatDecision{Verdict: VerdictReject, Reason: fmt.Sprintf("score %d exceeds plausible maximum", sub.Score)}, nil
	}
	if d, ok := numberField(sub.Metadata, "duration_ms"); ok && d <= 0 && sub.Score > 0 {
		return AntiCheatDecision{Verdict: VerdictReject, Reason: "invalid session duration"}, nil
	}
	if g.FlagScore > 0 && sub.Score >= g.FlagScore {
		return AntiCheatDecision{Verdict: VerdictFlag, Reason: "score above review threshold"}, nil
	}
	return AntiCheatDecision{Verdict: VerdictAccept}, nil
}

func numberField(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

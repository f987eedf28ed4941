package models

import (
	"fmt"
	"strings"
)

type ScopeKind string

const (
	ScopeGlobal     ScopeKind = "global"
	ScopePeriodic   ScopeKind = "period"
	ScopeTournament ScopeKind = "tournament"
)

// Scope identifies one independent ranking. Period is empty for the
// "current period" selector until a service resolves it.
type Scope struct {
	Kind         ScopeKind `json:"kind"`
	Period       string    `json:"period,omitempty"`
	TournamentID string    `json:"tournament_id,omitempty"`
}

func GlobalScope() Scope { return Scope{Kind: ScopeGlobal} }

func PeriodScope(period string) Scope { return Scope{Kind: ScopePeriodic, Period: period} }

func TournamentScope(id string) Scope { return Scope{Kind: ScopeTournament, TournamentID: id} }

// Key is the stable storage and cache key of the scope.
func (s Scope) Key() string {
	switch s.Kind {
	case ScopePeriodic:
		if s.Period == "" {
			return string(ScopePeriodic)
		}
		return string(ScopePeriodic) + ":" + s.Period
	case ScopeTournament:
		return string(ScopeTournament) + ":" + s.TournamentID
	default:
		return string(ScopeGlobal)
	}
}

func (s Scope) String() string { return s.Key() }

// ParseScope accepts "global", "period", "period:<key>" and "tournament:<id>".
func ParseScope(raw string) (Scope, error) {
	raw = strings.TrimSpace(raw)
	kind, value, hasValue := strings.Cut(raw, ":")

	switch ScopeKind(kind) {
	case ScopeGlobal:
		if hasValue {
			return Scope{}, fmt.Errorf("global scope takes no qualifier")
		}
		return GlobalScope(), nil
	case ScopePeriodic:
		if hasValue && value == "" {
			return Scope{}, fmt.Errorf("empty period key")
		}
		return PeriodScope(value), nil
	case ScopeTournament:
		if value == "" {
			return Scope{}, fmt.Errorf("tournament scope requires an id")
		}
		return TournamentScope(value), nil
	}
	return Scope{}, fmt.Errorf("unknown scope %q", raw)
}

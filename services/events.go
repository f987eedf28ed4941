package services

import (
	"context"
	"time"
)

const (
	EventScoreSubmitted  = "score_submitted"
	EventScoreFlagged    = "score_flagged"
	EventTournamentEnded = "tournament_ended"
	EventPrizeAwarded    = "prize_awarded"
	EventPrizeClaimed    = "prize_claimed"
)

// Event is an analytics record. Delivery is best-effort.
type Event struct {
	Name     string         `json:"name"`
	PlayerID string         `json:"player_id,omitempty"`
	Props    map[string]any `json:"props,omitempty"`
	At       time.Time      `json:"at"`
}

// EventSink accepts events without blocking the caller. Implementations
// log their own delivery failures.
type EventSink interface {
	Emit(ctx context.Context, e Event)
}

type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

func emit(ctx context.Context, sink EventSink, name, playerID string, props map[string]any) {
	if sink == nil {
		return
	}
	sink.Emit(ctx, Event{Name: name, PlayerID: playerID, Props: props, At: time.Now().UTC()})
}

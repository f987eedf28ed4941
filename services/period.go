package services

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// PeriodKeyLayout formats the reset boundary that closes a period.
const PeriodKeyLayout = "2006-01-02T15:04Z"

// PeriodClock names periodic leaderboards after the reset that ends them,
// so every instant between two resets maps to the same key.
type PeriodClock struct {
	schedule cron.Schedule
	now      func() time.Time
}

func NewPeriodClock(expr string) (*PeriodClock, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse period schedule %q: %w", expr, err)
	}
	return &PeriodClock{schedule: sched, now: time.Now}, nil
}

func (p *PeriodClock) KeyAt(t time.Time) string {
	return p.schedule.Next(t.UTC()).UTC().Format(PeriodKeyLayout)
}

func (p *PeriodClock) Current() string {
	return p.KeyAt(p.now())
}

// ResetsAt returns when the current period closes.
func (p *PeriodClock) ResetsAt() time.Time {
	return p.schedule.Next(p.now().UTC()).UTC()
}

package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// TournamentScheduler runs AdvanceDue on a fixed interval.
type TournamentScheduler struct {
	tournaments *TournamentService
	interval    time.Duration
	sched       gocron.Scheduler
	log         *zap.Logger
}

func NewTournamentScheduler(tournaments *TournamentService, interval time.Duration, log *zap.Logger) (*TournamentScheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &TournamentScheduler{
		tournaments: tournaments,
		interval:    interval,
		sched:       sched,
		log:         log.Named("scheduler"),
	}, nil
}

func (s *TournamentScheduler) Start() error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.Tick),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}
	s.sched.Start()
	s.log.Info("tournament scheduler started", zap.Duration("interval", s.interval))
	return nil
}

func (s *TournamentScheduler) Stop() error {
	return s.sched.Shutdown()
}

// Tick advances every due tournament once.
func (s *TournamentScheduler) Tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	report, err := s.tournaments.AdvanceDue(ctx)
	if err != nil {
		s.log.Error("advance tournaments", zap.Error(err))
		return
	}
	if report.Opened+report.Started+report.Ended > 0 {
		s.log.Info("tournaments advanced",
			zap.Int("opened", report.Opened),
			zap.Int("started", report.Started),
			zap.Int("ended", report.Ended))
	}
}

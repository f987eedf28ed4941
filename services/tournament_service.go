package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"arcade-ranking/models"
	"arcade-ranking/utils"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

// ResultArchiver stores a final tournament report somewhere durable.
type ResultArchiver interface {
	PutJSON(ctx context.Context, key string, v any) error
}

type CreateTournamentInput struct {
	Name                string     `json:"name"`
	PrizePool           int64      `json:"prize_pool"`
	StartAt             time.Time  `json:"start_at"`
	EndAt               time.Time  `json:"end_at"`
	RegistrationOpensAt *time.Time `json:"registration_opens_at,omitempty"`
	OpenRegistration    bool       `json:"open_registration"`
	PrizeTable          PrizeTable `json:"prize_table,omitempty"`
}

type EndResult struct {
	TournamentID       string                    `json:"tournament_id"`
	State              models.TournamentState    `json:"state"`
	FinalLeaderboard   []models.LeaderboardEntry `json:"final_leaderboard"`
	PrizeDistributions []models.PrizeGrant       `json:"prize_distributions"`
	TotalDistributed   models.PrizeTotals        `json:"total_distributed"`
	AlreadyEnded       bool                      `json:"already_ended"`
}

type AdvanceReport struct {
	Opened  int
	Started int
	Ended   int
}

// TournamentService drives tournaments from creation to prize distribution.
type TournamentService struct {
	Store    *RankingStore
	Ledger   *PrizeLedger
	Events   EventSink
	Archive  ResultArchiver
	Cache    utils.Cache
	Prizes   PrizeTable
	Timeout  time.Duration
	archives chan struct{}

	log *zap.Logger
	now func() time.Time
}

func NewTournamentService(store *RankingStore, ledger *PrizeLedger, prizes PrizeTable, events EventSink, log *zap.Logger) *TournamentService {
	if log == nil {
		log = zap.NewNop()
	}
	if events == nil {
		events = NopSink{}
	}
	if len(prizes) == 0 {
		prizes = DefaultPrizeTable()
	}
	return &TournamentService{
		Store:    store,
		Ledger:   ledger,
		Events:   events,
		Prizes:   prizes,
		Timeout:  10 * time.Second,
		archives: make(chan struct{}, 4),
		log:      log.Named("tournament"),
		now:      time.Now,
	}
}

func (s *TournamentService) Create(ctx context.Context, in CreateTournamentInput) (*models.Tournament, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ValidationError("name is required")
	}
	if in.PrizePool < 0 {
		return nil, ValidationError("prize_pool must not be negative")
	}
	if in.StartAt.IsZero() || in.EndAt.IsZero() {
		return nil, ValidationError("start_at and end_at are required")
	}
	if !in.EndAt.After(in.StartAt) {
		return nil, ValidationError("end_at must be after start_at")
	}
	if in.RegistrationOpensAt != nil && in.RegistrationOpensAt.After(in.StartAt) {
		return nil, ValidationError("registration must open before start_at")
	}
	if len(in.PrizeTable) > 0 {
		if err := in.PrizeTable.Validate(); err != nil {
			return nil, ValidationError("%s", err.Error())
		}
	}

	now := s.now().UTC()
	id := uuid.New().String()
	t := &models.Tournament{
		ID:         id,
		Name:       name,
		Slug:       slug.Make(name) + "-" + id[:8],
		PrizePool:  in.PrizePool,
		PrizeTable: in.PrizeTable.JSON(),
		State:      models.TournamentScheduled,
		StartAt:    in.StartAt.UTC(),
		EndAt:      in.EndAt.UTC(),
	}
	if in.RegistrationOpensAt != nil {
		opens := in.RegistrationOpensAt.UTC()
		t.RegistrationOpensAt = &opens
	}
	if in.OpenRegistration || (t.RegistrationOpensAt != nil && !t.RegistrationOpensAt.After(now)) {
		t.State = models.TournamentRegistering
	}

	if err := s.Store.CreateTournament(ctx, t); err != nil {
		return nil, err
	}
	s.log.Info("tournament created", zap.String("tournament_id", t.ID), zap.String("slug", t.Slug), zap.String("state", string(t.State)))
	return t, nil
}

// Get loads a tournament with its participant count.
func (s *TournamentService) Get(ctx context.Context, id string) (*models.Tournament, error) {
	t, err := s.Store.GetTournament(ctx, id)
	if err != nil {
		return nil, err
	}
	n, err := s.Store.CountParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	t.ParticipantCount = n
	return t, nil
}

func (s *TournamentService) Participants(ctx context.Context, id string) ([]models.Participant, error) {
	if _, err := s.Store.GetTournament(ctx, id); err != nil {
		return nil, err
	}
	return s.Store.ListParticipants(ctx, id)
}

// OpenRegistration moves a Scheduled tournament to Registering.
func (s *TournamentService) OpenRegistration(ctx context.Context, id string) (*models.Tournament, error) {
	ok, err := s.Store.TransitionState(ctx, id, models.TournamentScheduled, models.TournamentRegistering)
	if err != nil {
		return nil, err
	}
	t, err := s.Store.GetTournament(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok && t.State != models.TournamentRegistering {
		return nil, ConflictError(fmt.Sprintf("cannot open registration from %s", t.State))
	}
	if ok {
		s.log.Info("registration opened", zap.String("tournament_id", id))
	}
	return t, nil
}

// Register adds a participant. Repeat registration returns the existing
// participant with created=false.
func (s *TournamentService) Register(ctx context.Context, id, playerID, playerName string) (*models.Participant, bool, error) {
	if playerID == "" {
		return nil, false, ValidationError("player id is required")
	}
	playerName = strings.TrimSpace(playerName)
	if len([]rune(playerName)) > MaxDisplayNameLength {
		return nil, false, ValidationError("display name is too long")
	}

	t, err := s.Store.GetTournament(ctx, id)
	if err != nil {
		return nil, false, err
	}
	switch t.State {
	case models.TournamentRegistering, models.TournamentActive:
	case models.TournamentScheduled:
		return nil, false, ConflictError("registration has not opened")
	default:
		return nil, false, ConflictError("registration is closed")
	}

	p, created, err := s.Store.AddParticipant(ctx, id, playerID, playerName)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.log.Info("participant registered", zap.String("tournament_id", id), zap.String("player_id", playerID))
	}
	return p, created, nil
}

// Start activates a Registering tournament with at least one participant.
func (s *TournamentService) Start(ctx context.Context, id string) (int64, error) {
	t, err := s.Store.GetTournament(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := startConflict(t.State); err != nil {
		return 0, err
	}

	n, err := s.Store.CountParticipants(ctx, id)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ConflictError("no participants")
	}

	ok, err := s.Store.TransitionState(ctx, id, models.TournamentRegistering, models.TournamentActive)
	if err != nil {
		return 0, err
	}
	if !ok {
		cur, err := s.Store.GetTournament(ctx, id)
		if err != nil {
			return 0, err
		}
		if err := startConflict(cur.State); err != nil {
			return 0, err
		}
		return 0, ConflictError("tournament state changed, retry")
	}
	s.log.Info("tournament started", zap.String("tournament_id", id), zap.Int64("participants", n))
	return n, nil
}

func startConflict(state models.TournamentState) error {
	switch state {
	case models.TournamentRegistering:
		return nil
	case models.TournamentScheduled:
		return ConflictError("registration has not opened")
	case models.TournamentActive:
		return ConflictError("already started")
	default:
		return ConflictError("already ended")
	}
}

// End freezes the tournament and issues prizes exactly once. Calling End
// again, concurrently or later, returns the persisted result. A failure
// after the Ending transition leaves the tournament in Ending and the next
// call resumes the work.
func (s *TournamentService) End(ctx context.Context, id string) (*EndResult, error) {
	t, err := s.Store.GetTournament(ctx, id)
	if err != nil {
		return nil, err
	}

	if t.State == models.TournamentActive {
		ok, err := s.Store.TransitionState(ctx, id, models.TournamentActive, models.TournamentEnding)
		if err != nil {
			return nil, err
		}
		if ok {
			t.State = models.TournamentEnding
		} else if t, err = s.Store.GetTournament(ctx, id); err != nil {
			return nil, err
		}
	}

	switch t.State {
	case models.TournamentEnded:
		return s.result(ctx, t, true)
	case models.TournamentEnding:
		return s.finish(ctx, t)
	default:
		return nil, ConflictError("tournament has not started")
	}
}

func (s *TournamentService) finish(ctx context.Context, t *models.Tournament) (*EndResult, error) {
	table := s.Prizes
	if t.PrizeTable != "" {
		custom, err := ParsePrizeTable(t.PrizeTable)
		if err != nil {
			return nil, InternalError("tournament prize table", err)
		}
		table = custom
	}

	snapshot, err := s.Store.Snapshot(ctx, models.TournamentScope(t.ID))
	if err != nil {
		return nil, err
	}
	grants := table.Distribute(t, snapshot, s.now().UTC())
	inserted, err := s.Ledger.RecordGrants(ctx, grants)
	if err != nil {
		s.log.Error("prize grants failed, tournament left ending", zap.String("tournament_id", t.ID), zap.Error(err))
		return nil, err
	}

	ok, err := s.Store.TransitionState(ctx, t.ID, models.TournamentEnding, models.TournamentEnded)
	if err != nil {
		return nil, err
	}
	cur, err := s.Store.GetTournament(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	res, err := s.resultFrom(ctx, cur, snapshot, !ok)
	if err != nil {
		return nil, err
	}
	if ok {
		s.log.Info("tournament ended",
			zap.String("tournament_id", t.ID),
			zap.Int("ranked", len(snapshot)),
			zap.Int64("grants_inserted", inserted),
			zap.Int64("coins", res.TotalDistributed.Coins))
		s.announce(ctx, cur, res)
		invalidate(ctx, s.Cache, 50*time.Millisecond, s.log, models.TournamentScope(t.ID))
	}
	return res, nil
}

func (s *TournamentService) result(ctx context.Context, t *models.Tournament, already bool) (*EndResult, error) {
	snapshot, err := s.Store.Snapshot(ctx, models.TournamentScope(t.ID))
	if err != nil {
		return nil, err
	}
	return s.resultFrom(ctx, t, snapshot, already)
}

// resultFrom reports persisted grants, never freshly computed ones.
func (s *TournamentService) resultFrom(ctx context.Context, t *models.Tournament, snapshot []models.ScoreRecord, already bool) (*EndResult, error) {
	grants, err := s.Ledger.ForTournament(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	board, err := s.Store.Entries(ctx, models.TournamentScope(t.ID), snapshot, 1)
	if err != nil {
		return nil, err
	}
	res := &EndResult{
		TournamentID:       t.ID,
		State:              t.State,
		FinalLeaderboard:   board,
		PrizeDistributions: grants,
		AlreadyEnded:       already,
	}
	for _, g := range grants {
		res.TotalDistributed.Coins += g.Coins
		res.TotalDistributed.Gems += g.Gems
	}
	return res, nil
}

func (s *TournamentService) announce(ctx context.Context, t *models.Tournament, res *EndResult) {
	emit(ctx, s.Events, EventTournamentEnded, "", map[string]any{
		"tournament_id": t.ID,
		"participants":  len(res.FinalLeaderboard),
		"coins":         res.TotalDistributed.Coins,
		"gems":          res.TotalDistributed.Gems,
	})
	for _, g := range res.PrizeDistributions {
		emit(ctx, s.Events, EventPrizeAwarded, g.PlayerID, map[string]any{
			"tournament_id": t.ID,
			"prize_id":      g.PrizeID,
			"rank":          g.Rank,
			"coins":         g.Coins,
			"gems":          g.Gems,
			"message":       prizeMessage(t.Name, g.Rank, g.Coins, g.Gems),
		})
	}

	if s.Archive == nil {
		return
	}
	select {
	case s.archives <- struct{}{}:
	default:
		s.log.Warn("archive backlog full, skipping upload", zap.String("tournament_id", t.ID))
		return
	}
	key := fmt.Sprintf("tournaments/%s/%s.json", t.Slug, t.ID)
	go func() {
		defer func() { <-s.archives }()
		actx, cancel := context.WithTimeout(context.Background(), s.Timeout)
		defer cancel()
		if err := s.Archive.PutJSON(actx, key, res); err != nil {
			s.log.Warn("archive upload failed", zap.String("key", key), zap.Error(err))
			return
		}
		s.log.Info("results archived", zap.String("key", key))
	}()
}

// AdvanceDue applies time-driven transitions: open registration, start and
// end on schedule, and resume tournaments stuck in Ending.
func (s *TournamentService) AdvanceDue(ctx context.Context) (AdvanceReport, error) {
	var report AdvanceReport
	now := s.now().UTC()

	opening, err := s.Store.DueTournaments(ctx, models.TournamentScheduled, "registration_opens_at", now)
	if err != nil {
		return report, err
	}
	for _, t := range opening {
		if _, err := s.OpenRegistration(ctx, t.ID); err != nil {
			s.log.Warn("auto-open failed", zap.String("tournament_id", t.ID), zap.Error(err))
			continue
		}
		report.Opened++
	}

	starting, err := s.Store.DueTournaments(ctx, models.TournamentRegistering, "start_at", now)
	if err != nil {
		return report, err
	}
	for _, t := range starting {
		if _, err := s.Start(ctx, t.ID); err != nil {
			s.log.Info("auto-start skipped", zap.String("tournament_id", t.ID), zap.Error(err))
			continue
		}
		report.Started++
	}

	ending, err := s.Store.DueTournaments(ctx, models.TournamentActive, "end_at", now)
	if err != nil {
		return report, err
	}
	stuck, err := s.Store.DueTournaments(ctx, models.TournamentEnding, "", now)
	if err != nil {
		return report, err
	}
	for _, t := range append(ending, stuck...) {
		if _, err := s.End(ctx, t.ID); err != nil {
			s.log.Warn("auto-end failed", zap.String("tournament_id", t.ID), zap.Error(err))
			continue
		}
		report.Ended++
	}
	return report, nil
}

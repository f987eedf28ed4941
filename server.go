package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"arcade-ranking/config"
	"arcade-ranking/database"
	"arcade-ranking/handlers"
	"arcade-ranking/models"
	"arcade-ranking/services"
	"arcade-ranking/utils"
	"arcade-ranking/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
)

func serve(parent context.Context, cfg *config.Config, log *zap.Logger, autoMigrate bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	if autoMigrate {
		err = database.AutoMigrate(db)
	} else {
		err = database.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir)
	}
	if err != nil {
		return err
	}

	var cache utils.Cache = utils.NewMemoryCache()
	if cfg.RedisURL != "" {
		rc, err := utils.NewRedisCache(cfg.RedisURL, "arcade-ranking:")
		if err != nil {
			return err
		}
		defer rc.Close()
		cache = rc
		log.Info("using redis leaderboard cache")
	}

	periods, err := services.NewPeriodClock(cfg.PeriodSchedule)
	if err != nil {
		return err
	}
	prizes := services.DefaultPrizeTable()
	if cfg.PrizeTable != "" {
		if prizes, err = services.ParsePrizeTable(cfg.PrizeTable); err != nil {
			return err
		}
	}
	policies, err := tieBreakPolicies(cfg)
	if err != nil {
		return err
	}

	httpClient := utils.NewHTTPClient(10 * time.Second)
	events := workers.NewEventDispatcher(cfg.AnalyticsURL, cfg.GatewayToken, cfg.EventQueueSize, httpClient, log)
	events.Start(ctx)
	defer events.Stop()

	var gate services.AntiCheatGate = services.ThresholdGate{MaxScore: cfg.AntiCheatMaxScore, FlagScore: cfg.AntiCheatFlagScore}
	if cfg.AntiCheatURL != "" {
		gate = services.NewAntiCheatClient(cfg.AntiCheatURL, cfg.GatewayToken)
	}

	store := services.NewRankingStore(db, policies, cfg.StoreTimeout, log)
	ledger := services.NewPrizeLedger(db, events, cfg.ClaimWorkers, cfg.ClaimQueueSize, cfg.StoreTimeout, log)
	defer ledger.Close()

	pipeline := services.NewSubmissionPipeline(store, gate, cache, events, periods, services.NewPlayerLimiter(cfg.SubmitRatePerSec, cfg.SubmitBurst), log)
	pipeline.CacheTimeout = cfg.CacheTimeout

	boards := services.NewLeaderboardService(store, cache, periods, map[models.ScopeKind]time.Duration{
		models.ScopeGlobal:     cfg.CacheTTLGlobal,
		models.ScopePeriodic:   cfg.CacheTTLPeriodic,
		models.ScopeTournament: cfg.CacheTTLTournament,
	}, cfg.CacheTimeout, log)

	tournaments := services.NewTournamentService(store, ledger, prizes, events, log)
	tournaments.Cache = cache
	if cfg.ArchiveBucket != "" {
		archive, err := utils.NewR2Archive(ctx, cfg.R2AccountID, cfg.R2AccessKeyID, cfg.R2SecretAccessKey, cfg.ArchiveBucket)
		if err != nil {
			return err
		}
		tournaments.Archive = archive
	}

	players := services.NewPlayerService(db, cache, periods, log)
	players.CacheTimeout = cfg.CacheTimeout

	if cfg.AutoAdvance {
		sched, err := services.NewTournamentScheduler(tournaments, cfg.SchedulerInterval, log)
		if err != nil {
			return err
		}
		if err := sched.Start(); err != nil {
			return err
		}
		defer func() { _ = sched.Stop() }()
	}

	if cfg.ProfileSyncURL != "" {
		workers.NewProfileSyncWorker(players, cfg.ProfileSyncURL, "/api/v1/public/profiles", cfg.GatewayToken, cfg.ProfileSyncEvery, httpClient, log).Start(ctx)
	}

	app := fiber.New(fiber.Config{
		AppName:      "arcade-ranking",
		Immutable:    true,
		BodyLimit:    1 << 20,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: "GET,POST,PUT,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-Session-Token, X-Service-Token, X-User-ID, X-User-Roles",
		MaxAge:       86400,
	}))

	handlers.Register(app, handlers.Services{
		DB:           db,
		Pipeline:     pipeline,
		Leaderboards: boards,
		Tournaments:  tournaments,
		Ledger:       ledger,
		Players:      players,
	}, handlers.AuthConfig{
		GatewayToken:  cfg.GatewayToken,
		SessionSecret: []byte(cfg.SessionSecret),
	}, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(":" + cfg.Port)
	}()
	log.Info("server running", zap.String("port", cfg.Port), zap.String("env", cfg.Env))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}

func tieBreakPolicies(cfg *config.Config) (map[models.ScopeKind]services.TieBreakPolicy, error) {
	out := make(map[models.ScopeKind]services.TieBreakPolicy, 3)
	for kind, raw := range map[models.ScopeKind]string{
		models.ScopeGlobal:     cfg.TieBreakGlobal,
		models.ScopePeriodic:   cfg.TieBreakPeriodic,
		models.ScopeTournament: cfg.TieBreakTournament,
	} {
		p, err := services.ParseTieBreakPolicy(raw)
		if err != nil {
			return nil, err
		}
		out[kind] = p
	}
	return out, nil
}

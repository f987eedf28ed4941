package handlers

import (
	"arcade-ranking/middleware"
	"arcade-ranking/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Services struct {
	DB           *gorm.DB
	Pipeline     *services.SubmissionPipeline
	Leaderboards *services.LeaderboardService
	Tournaments  *services.TournamentService
	Ledger       *services.PrizeLedger
	Players      *services.PlayerService
}

type AuthConfig struct {
	GatewayToken  string
	SessionSecret []byte
}

// Register mounts every route on app. Probes stay outside the gateway check.
func Register(app *fiber.App, svc Services, auth AuthConfig, log *zap.Logger) {
	SetupHealthRoutes(app, svc.DB)

	app.Use(middleware.GatewayAuthMiddleware(auth.GatewayToken, log))
	secured := app.Group("/", middleware.UserContextMiddleware(auth.SessionSecret, log))

	SetupScoreRoutes(secured, svc.Pipeline)
	SetupLeaderboardRoutes(secured, svc.Leaderboards)
	SetupTournamentRoutes(secured, svc.Tournaments)
	SetupPrizeRoutes(secured, svc.Ledger)
	SetupPlayerRoutes(secured, svc.Players)
}

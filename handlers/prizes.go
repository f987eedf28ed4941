package handlers

import (
	"time"

	"arcade-ranking/middleware"
	"arcade-ranking/services"

	"github.com/gofiber/fiber/v2"
	fiberutils "github.com/gofiber/fiber/v2/utils"
)

type claimRequest struct {
	ClaimedAt *time.Time `json:"claimed_at"`
}

func SetupPrizeRoutes(router fiber.Router, ledger *services.PrizeLedger) {
	router.Get("/prizes/pending", func(c *fiber.Ctx) error {
		grants, err := ledger.Pending(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"prizes": grants})
	})

	// Always acknowledges. The client has already credited the reward;
	// persistence happens in the background.
	router.Post("/prizes/:prize_id/claim", func(c *fiber.Ctx) error {
		var req claimRequest
		if len(c.Body()) > 0 {
			_ = c.BodyParser(&req)
		}
		// The write runs after the response; copy ids out of request buffers.
		ledger.Claim(fiberutils.CopyString(c.Params("prize_id")), fiberutils.CopyString(middleware.UserID(c)), req.ClaimedAt)
		return c.JSON(fiber.Map{"success": true})
	})

	router.Get("/prizes/history", func(c *fiber.Ctx) error {
		grants, err := ledger.History(c.UserContext(), middleware.UserID(c), c.QueryInt("limit", services.DefaultHistoryLimit))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"prizes": grants})
	})

	router.Get("/prizes/stats", func(c *fiber.Ctx) error {
		stats, err := ledger.Stats(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(stats)
	})
}

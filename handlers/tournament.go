package handlers

import (
	"time"

	"arcade-ranking/middleware"
	"arcade-ranking/services"

	"github.com/gofiber/fiber/v2"
)

type createTournamentRequest struct {
	Name                string              `json:"name"`
	PrizePool           int64               `json:"prize_pool"`
	StartAt             time.Time           `json:"start_at"`
	EndAt               time.Time           `json:"end_at"`
	RegistrationOpensAt *time.Time          `json:"registration_opens_at"`
	OpenRegistration    bool                `json:"open_registration"`
	PrizeTable          services.PrizeTable `json:"prize_table"`
}

type registerRequest struct {
	DisplayName string `json:"display_name"`
}

func SetupTournamentRoutes(router fiber.Router, tournaments *services.TournamentService) {
	router.Get("/tournaments/:id", func(c *fiber.Ctx) error {
		t, err := tournaments.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(t)
	})

	router.Get("/tournaments/:id/participants", func(c *fiber.Ctx) error {
		list, err := tournaments.Participants(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"participants": list, "count": len(list)})
	})

	router.Post("/tournaments/:id/register", func(c *fiber.Ctx) error {
		var req registerRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, "invalid request body")
			}
		}
		p, created, err := tournaments.Register(c.UserContext(), c.Params("id"), middleware.UserID(c), req.DisplayName)
		if err != nil {
			return respondError(c, err)
		}
		status := fiber.StatusOK
		if created {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(fiber.Map{"participant_id": p.ID, "created": created})
	})

	adminOnly := middleware.RequireRole("admin")

	router.Post("/tournaments", adminOnly, func(c *fiber.Ctx) error {
		var req createTournamentRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		t, err := tournaments.Create(c.UserContext(), services.CreateTournamentInput{
			Name:                req.Name,
			PrizePool:           req.PrizePool,
			StartAt:             req.StartAt,
			EndAt:               req.EndAt,
			RegistrationOpensAt: req.RegistrationOpensAt,
			OpenRegistration:    req.OpenRegistration,
			PrizeTable:          req.PrizeTable,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(t)
	})

	router.Post("/tournaments/:id/open", adminOnly, func(c *fiber.Ctx) error {
		t, err := tournaments.OpenRegistration(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(t)
	})

	router.Post("/tournaments/:id/start", adminOnly, func(c *fiber.Ctx) error {
		n, err := tournaments.Start(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"participant_count": n})
	})

	router.Post("/tournaments/:id/end", adminOnly, func(c *fiber.Ctx) error {
		res, err := tournaments.End(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})
}

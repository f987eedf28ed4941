package handlers

import (
	"arcade-ranking/middleware"
	"arcade-ranking/services"

	"github.com/gofiber/fiber/v2"
)

func SetupPlayerRoutes(router fiber.Router, players *services.PlayerService) {
	router.Put("/players/me/display-name", func(c *fiber.Ctx) error {
		var req struct {
			DisplayName string `json:"display_name"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		p, err := players.SetDisplayName(c.UserContext(), middleware.UserID(c), req.DisplayName)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(p)
	})
}

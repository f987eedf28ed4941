package handlers

import (
	"net/url"

	"arcade-ranking/middleware"
	"arcade-ranking/models"
	"arcade-ranking/services"

	"github.com/gofiber/fiber/v2"
)

func SetupLeaderboardRoutes(router fiber.Router, boards *services.LeaderboardService) {
	router.Get("/leaderboards/:scope", func(c *fiber.Ctx) error {
		scope, err := scopeParam(c)
		if err != nil {
			return badRequest(c, err.Error())
		}
		limit := c.QueryInt("limit", 10)
		offset := c.QueryInt("offset", 0)

		board, err := boards.Get(c.UserContext(), scope, limit, offset, middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(board)
	})

	router.Get("/leaderboards/:scope/around/:player_id", func(c *fiber.Ctx) error {
		scope, err := scopeParam(c)
		if err != nil {
			return badRequest(c, err.Error())
		}
		board, err := boards.Around(c.UserContext(), scope, c.Params("player_id"), c.QueryInt("radius", 5))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(board)
	})

	router.Get("/leaderboards/:scope/rank/:player_id", func(c *fiber.Ctx) error {
		scope, err := scopeParam(c)
		if err != nil {
			return badRequest(c, err.Error())
		}
		info, err := boards.Rank(c.UserContext(), scope, c.Params("player_id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(info)
	})
}

func scopeParam(c *fiber.Ctx) (models.Scope, error) {
	raw, err := url.PathUnescape(c.Params("scope"))
	if err != nil {
		return models.Scope{}, err
	}
	return models.ParseScope(raw)
}

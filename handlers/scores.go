package handlers

import (
	"arcade-ranking/middleware"
	"arcade-ranking/models"
	"arcade-ranking/services"

	"github.com/gofiber/fiber/v2"
)

type submitScoreRequest struct {
	Scope    string         `json:"scope"`
	Score    *int64         `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

func SetupScoreRoutes(router fiber.Router, pipeline *services.SubmissionPipeline) {
	router.Post("/scores", func(c *fiber.Ctx) error {
		var req submitScoreRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		if req.Score == nil {
			return badRequest(c, "score is required")
		}
		if req.Scope == "" {
			req.Scope = string(models.ScopeGlobal)
		}
		scope, err := models.ParseScope(req.Scope)
		if err != nil {
			return badRequest(c, err.Error())
		}

		res, err := pipeline.Submit(c.UserContext(), middleware.UserID(c), scope, *req.Score, req.Metadata)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})
}

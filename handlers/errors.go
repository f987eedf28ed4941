package handlers

import (
	"errors"

	"arcade-ranking/services"

	"github.com/gofiber/fiber/v2"
)

func statusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindValidation:
		return fiber.StatusBadRequest
	case services.KindAntiCheat:
		return fiber.StatusUnprocessableEntity
	case services.KindConflict:
		return fiber.StatusConflict
	case services.KindNotFound:
		return fiber.StatusNotFound
	case services.KindRateLimited:
		return fiber.StatusTooManyRequests
	case services.KindStorage:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes {"error", "kind", "retryable"}. Storage and internal
// failures never leak driver messages to the client.
func respondError(c *fiber.Ctx, err error) error {
	var appErr *services.AppError
	if !errors.As(err, &appErr) {
		appErr = services.InternalError("unexpected error", err)
	}

	msg := appErr.Message
	switch appErr.Kind {
	case services.KindStorage:
		msg = "storage unavailable, retry later"
	case services.KindInternal:
		msg = "internal error, retry later"
	}

	return c.Status(statusFor(appErr.Kind)).JSON(fiber.Map{
		"error":     msg,
		"kind":      appErr.Kind,
		"retryable": appErr.Retryable(),
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return respondError(c, services.ValidationError("%s", msg))
}

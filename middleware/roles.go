package middleware

import "github.com/gofiber/fiber/v2"

// RequireRole allows the request through only when the caller holds one
// of roles. Must run after UserContextMiddleware.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		for _, have := range UserRoles(c) {
			for _, want := range roles {
				if have == want {
					return c.Next()
				}
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "insufficient permissions",
		})
	}
}

package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	LocalUserID    = "user_id"
	LocalUserRoles = "user_roles"
)

// SessionClaims is the payload of an HS256 session token.
type SessionClaims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// UserContextMiddleware resolves the caller. Gateway-supplied X-User-ID and
// X-User-Roles headers win; otherwise an X-Session-Token JWT signed with
// sessionSecret is accepted. Requests with neither get 401.
func UserContextMiddleware(sessionSecret []byte, log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("user_ctx")

	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		roles := splitRoles(c.Get("X-User-Roles"))

		if userID == "" {
			if raw := c.Get("X-Session-Token"); raw != "" && len(sessionSecret) > 0 {
				claims, err := ParseSessionToken(raw, sessionSecret)
				if err != nil {
					log.Info("rejected session token", zap.String("path", c.Path()), zap.Error(err))
					return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
						"error": "invalid session token",
					})
				}
				userID = claims.Subject
				roles = claims.Roles
			}
		}

		if userID == "" {
			log.Info("missing user context", zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID: request must come through the gateway with auth context",
			})
		}

		// Header values alias fasthttp buffers that are reused after the
		// request; locals may outlive it in background work.
		c.Locals(LocalUserID, utils.CopyString(userID))
		c.Locals(LocalUserRoles, copyRoles(roles))
		return c.Next()
	}
}

func ParseSessionToken(raw string, secret []byte) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// UserID returns the caller resolved by UserContextMiddleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

func UserRoles(c *fiber.Ctx) []string {
	roles, _ := c.Locals(LocalUserRoles).([]string)
	return roles
}

func copyRoles(roles []string) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = utils.CopyString(r)
	}
	return out
}

func splitRoles(raw string) []string {
	var roles []string
	for _, r := range strings.Split(raw, ",") {
		r = strings.TrimSpace(r)
		if r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

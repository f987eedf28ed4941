package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("session-secret")

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware("gw-token", nil))
	app.Use(UserContextMiddleware(testSecret, nil))
	app.Get("/whoami", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"id": UserID(c), "roles": UserRoles(c)})
	})
	app.Post("/admin", RequireRole("admin"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func signToken(t *testing.T, claims SessionClaims, secret []byte) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return raw
}

func TestGatewayAuth(t *testing.T) {
	app := newApp()

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", fiber.StatusUnauthorized},
		{"wrong", "Bearer nope", fiber.StatusUnauthorized},
		{"bearer", "Bearer gw-token", fiber.StatusOK},
		{"raw token", "gw-token", fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			req.Header.Set("X-User-ID", "p1")
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestUserContext(t *testing.T) {
	app := newApp()
	call := func(headers map[string]string) (int, string) {
		req := httptest.NewRequest("GET", "/whoami", nil)
		req.Header.Set("Authorization", "Bearer gw-token")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	status, body := call(map[string]string{"X-User-ID": "p1", "X-User-Roles": "player, admin ,"})
	assert.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"id":"p1","roles":["player","admin"]}`, body)

	status, _ = call(nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	token := signToken(t, SessionClaims{
		Roles: []string{"player"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "p7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSecret)
	status, body = call(map[string]string{"X-Session-Token": token})
	assert.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"id":"p7","roles":["player"]}`, body)

	forged := signToken(t, SessionClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "p7"}}, []byte("other"))
	status, _ = call(map[string]string{"X-Session-Token": forged})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	expired := signToken(t, SessionClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "p7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}, testSecret)
	status, _ = call(map[string]string{"X-Session-Token": expired})
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestParseSessionTokenRequiresSubject(t *testing.T) {
	raw := signToken(t, SessionClaims{Roles: []string{"admin"}}, testSecret)
	_, err := ParseSessionToken(raw, testSecret)
	assert.Error(t, err)
}

func TestRequireRole(t *testing.T) {
	app := newApp()
	call := func(roles string) int {
		req := httptest.NewRequest("POST", "/admin", nil)
		req.Header.Set("Authorization", "Bearer gw-token")
		req.Header.Set("X-User-ID", "p1")
		req.Header.Set("X-User-Roles", roles)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusForbidden, call("player"))
	assert.Equal(t, fiber.StatusNoContent, call("player,admin"))
}

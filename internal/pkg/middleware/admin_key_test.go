package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdminApp(key string) *fiber.App {
	app := fiber.New()
	app.Get("/admin", AdminKeyMiddleware(key), func(c *fiber.Ctx) error {
		if !IsAdmin(c) {
			return c.SendStatus(fiber.StatusTeapot)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func TestAdminKeyMiddleware(t *testing.T) {
	app := newAdminApp("s3cret")

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", fiber.StatusUnauthorized},
		{"wrong key", "X-Admin-Key", "nope", fiber.StatusUnauthorized},
		{"header key", "X-Admin-Key", "s3cret", fiber.StatusNoContent},
		{"bearer key", "Authorization", "Bearer s3cret", fiber.StatusNoContent},
		{"prefix of key", "X-Admin-Key", "s3c", fiber.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestAdminKeyMiddlewareRejectsEverythingWithoutKey(t *testing.T) {
	app := newAdminApp("")

	req := httptest.NewRequest(fiber.MethodGet, "/admin", nil)
	req.Header.Set("X-Admin-Key", "")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(fiber.MethodGet, "/admin", nil)
	req.Header.Set("X-Admin-Key", "anything")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

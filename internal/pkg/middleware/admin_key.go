package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/constants"
)

// AdminKeyMiddleware guards operator endpoints with the configured admin key.
// The key is read from X-Admin-Key or a bearer Authorization header.
func AdminKeyMiddleware(adminKey string) fiber.Handler {
	expected := []byte(strings.TrimSpace(adminKey))

	return func(c *fiber.Ctx) error {
		provided := extractAdminKey(c)
		if provided == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing admin key"})
		}
		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
			log.Warnf("[Admin] Rejected admin request %s %s from %s", c.Method(), c.Path(), c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid admin key"})
		}

		c.Locals(constants.LocalIsAdmin, true)
		return c.Next()
	}
}

// IsAdmin reports whether the request passed AdminKeyMiddleware.
func IsAdmin(c *fiber.Ctx) bool {
	v, ok := c.Locals(constants.LocalIsAdmin).(bool)
	return ok && v
}

func extractAdminKey(c *fiber.Ctx) string {
	key := strings.TrimSpace(c.Get(constants.HeaderAdminKey))
	if key != "" {
		return key
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

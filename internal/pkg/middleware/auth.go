package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	icuser "github.com/ManuelReschke/SignalFox/internal/pkg/usercontext"
)

// RequireAuth rejects requests without an authenticated user.
func RequireAuth(c *fiber.Ctx) error {
	if !icuser.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	return c.Next()
}

// RequireAdmin ensures a logged-in admin.
func RequireAdmin(c *fiber.Ctx) error {
	if !icuser.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	if !icuser.IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "admin role required",
		})
	}
	return c.Next()
}

// CronSecret guards internal trigger endpoints with a shared secret in the
// X-Cron-Secret header. An empty configured secret disables the endpoint.
func CronSecret(secret string) fiber.Handler {
	secret = strings.TrimSpace(secret)
	return func(c *fiber.Ctx) error {
		if secret == "" {
			log.Warn("[Cron] CRON_SECRET not configured, rejecting trigger")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "cron_disabled",
				"message": "cron trigger is not configured",
			})
		}
		got := c.Get("X-Cron-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "invalid cron secret",
			})
		}
		return c.Next()
	}
}

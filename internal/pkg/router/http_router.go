package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/SignalFox/internal/pkg/middleware"
)

// providers retry in bursts after an outage; keep this well above normal
// delivery rates
const webhookRateLimit = 600

// HttpRouter serves the unauthenticated surface: health, provider webhooks
// and the cron trigger.
type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	webhooks := limiter.New(limiter.Config{
		Max:        webhookRateLimit,
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "webhook:" + c.Params("provider") + ":" + c.IP()
		},
	})
	app.Post("/webhooks/:provider", webhooks, h.deps.Webhooks.HandleWebhook)

	internal := app.Group("/internal", middleware.CronSecret(h.deps.CronSecret))
	internal.Post("/cron/sweep", h.deps.Cron.HandleSweep)
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}

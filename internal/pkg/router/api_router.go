package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/internal/pkg/middleware"
)

const defaultRateLimit = 60

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(h.limiterConfig()))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	v1.Get("/plans", h.deps.Checkout.HandleListPlans)

	authed := v1.Group("", middleware.APIKeyAuth(h.deps.Users))
	authed.Post("/checkout", h.deps.Checkout.HandleCreateCheckout)
	authed.Get("/subscription", h.deps.Checkout.HandleGetSubscription)
	authed.Get("/payments", h.deps.Checkout.HandleListPayments)

	partner := authed.Group("/partner")
	partner.Get("/commission", h.deps.Partner.HandleCommission)
	partner.Get("/balance", h.deps.Partner.HandleBalance)
	partner.Get("/withdrawals", h.deps.Partner.HandleListWithdrawals)
	partner.Post("/withdrawals", h.deps.Partner.HandleRequestWithdrawal)

	admin := authed.Group("/admin", middleware.RequireAdmin)
	admin.Get("/withdrawals", h.deps.Admin.HandleListWithdrawals)
	admin.Post("/withdrawals/:id/approve", h.deps.Admin.HandleApproveWithdrawal)
	admin.Post("/withdrawals/:id/deny", h.deps.Admin.HandleDenyWithdrawal)
	admin.Get("/webhooks", h.deps.Admin.HandleListWebhookAttempts)
	admin.Get("/webhooks/stats", h.deps.Webhooks.HandleStats)
	admin.Get("/webhooks/:id", h.deps.Admin.HandleGetWebhookAttempt)
	admin.Post("/webhooks/:id/replay", h.deps.Admin.HandleReplayWebhookAttempt)
}

func (h ApiRouter) limiterConfig() limiter.Config {
	limit := h.deps.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	return limiter.Config{
		Max:        limit,
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
		// key by API key when present so clients behind one NAT don't share
		// a bucket
		KeyGenerator: func(c *fiber.Ctx) string {
			if key := middleware.ExtractAPIKey(c); key != "" {
				return "key:" + models.HashAPIKey(key)
			}
			return "ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "too many requests",
			})
		},
	}
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}

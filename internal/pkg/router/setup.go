package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/SignalFox/app/controllers"
	"github.com/ManuelReschke/SignalFox/app/repository"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies carries the controllers and settings the routers need.
type Dependencies struct {
	Users    repository.UserRepository
	Webhooks *controllers.WebhookController
	Checkout *controllers.CheckoutController
	Partner  *controllers.PartnerController
	Admin    *controllers.AdminBillingController
	Cron     *controllers.CronController

	CronSecret string
	// LimiterStorage backs the API rate limiter. Nil keeps the counters in
	// process memory.
	LimiterStorage fiber.Storage
	RateLimit      int
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// provider and cron routes first: they must not pass the API key check
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}

package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/app/repository"
	"github.com/ManuelReschke/SignalFox/internal/pkg/apperror"
	"github.com/ManuelReschke/SignalFox/internal/pkg/billing"
	"github.com/ManuelReschke/SignalFox/internal/pkg/usercontext"
)

var errInvalidBody = apperror.Validation("invalid_body", "request body could not be parsed")

// CheckoutController serves the plan catalog, checkout creation and the
// caller's own subscription state.
type CheckoutController struct {
	checkout *billing.CheckoutService
	plans    *billing.Catalog
	repos    *repository.Repositories
}

func NewCheckoutController(checkout *billing.CheckoutService, plans *billing.Catalog, repos *repository.Repositories) *CheckoutController {
	return &CheckoutController{checkout: checkout, plans: plans, repos: repos}
}

// HandleListPlans handles GET /api/v1/plans
func (cc *CheckoutController) HandleListPlans(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"plans": cc.plans.List()})
}

type checkoutBody struct {
	PlanID   string `json:"plan_id"`
	Provider string `json:"provider"`
}

// HandleCreateCheckout handles POST /api/v1/checkout
func (cc *CheckoutController) HandleCreateCheckout(c *fiber.Ctx) error {
	var body checkoutBody
	if err := c.BodyParser(&body); err != nil {
		return respondError(c, errInvalidBody)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	uc := usercontext.GetUserContext(c)
	res, err := cc.checkout.Create(ctx, billing.CheckoutRequest{
		UserID:   uc.UserID,
		Email:    uc.Email,
		PlanID:   body.PlanID,
		Provider: body.Provider,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// HandleGetSubscription handles GET /api/v1/subscription
func (cc *CheckoutController) HandleGetSubscription(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	sub, err := cc.repos.Subscription.GetByUserID(ctx, usercontext.GetUserID(c))
	if err != nil {
		if repository.IsNotFound(err) {
			return c.JSON(fiber.Map{
				"plan_id":              models.FreePlanID,
				"status":               models.SubscriptionStatusActive,
				"end_date":             nil,
				"pending_subscription": nil,
			})
		}
		return respondError(c, apperror.Internal("subscription_lookup_failed", err))
	}

	var pending interface{}
	if p := sub.Pending(); p != nil {
		pending = fiber.Map{
			"plan_id":              p.PlanID,
			"amount":               p.Amount,
			"duration_days":        p.DurationDays,
			"scheduled_start_date": formatTimePtr(&p.ScheduledStartDate),
		}
	}
	return c.JSON(fiber.Map{
		"plan_id":              sub.PlanID,
		"status":               sub.Status,
		"amount":               sub.Amount,
		"start_date":           formatTimePtr(&sub.StartDate),
		"end_date":             formatTimePtr(sub.EndDate),
		"pending_subscription": pending,
	})
}

// HandleListPayments handles GET /api/v1/payments
func (cc *CheckoutController) HandleListPayments(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	_, limit := pagination(c, 20)
	intents, err := cc.repos.Intent.ListByUser(ctx, usercontext.GetUserID(c), limit)
	if err != nil {
		return respondError(c, apperror.Internal("payment_list_failed", err))
	}
	return c.JSON(fiber.Map{"payments": intents})
}

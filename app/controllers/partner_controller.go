package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/SignalFox/internal/pkg/billing"
	"github.com/ManuelReschke/SignalFox/internal/pkg/usercontext"
)

// PartnerController exposes commission and payout endpoints to referrers.
type PartnerController struct {
	commission *billing.CommissionService
	payouts    *billing.PayoutService
}

func NewPartnerController(commission *billing.CommissionService, payouts *billing.PayoutService) *PartnerController {
	return &PartnerController{commission: commission, payouts: payouts}
}

// HandleCommission handles GET /api/v1/partner/commission
func (p *PartnerController) HandleCommission(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	report, err := p.commission.Compute(ctx, usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(report)
}

// HandleBalance handles GET /api/v1/partner/balance
func (p *PartnerController) HandleBalance(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	balance, err := p.payouts.Balance(ctx, usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	policy := p.payouts.Policy()
	return c.JSON(fiber.Map{
		"balance":            balance,
		"minimum_withdrawal": policy.MinimumWithdrawal,
		"fee_rate":           policy.FeeRate,
	})
}

// HandleListWithdrawals handles GET /api/v1/partner/withdrawals
func (p *PartnerController) HandleListWithdrawals(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	list, err := p.payouts.ListForPartner(ctx, usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"withdrawals": list})
}

type withdrawalBody struct {
	Amount float64 `json:"amount"`
}

// HandleRequestWithdrawal handles POST /api/v1/partner/withdrawals
func (p *PartnerController) HandleRequestWithdrawal(c *fiber.Ctx) error {
	var body withdrawalBody
	if err := c.BodyParser(&body); err != nil {
		return respondError(c, errInvalidBody)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	w, err := p.payouts.Request(ctx, usercontext.GetUserID(c), body.Amount)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(w)
}

package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/app/repository"
	"github.com/ManuelReschke/SignalFox/internal/pkg/billing"
	"github.com/ManuelReschke/SignalFox/internal/pkg/usercontext"
)

// AdminBillingController handles withdrawal review and the webhook audit log.
type AdminBillingController struct {
	payouts *billing.PayoutService
	audit   *billing.AuditLog
	engine  *billing.Engine
}

func NewAdminBillingController(payouts *billing.PayoutService, audit *billing.AuditLog, engine *billing.Engine) *AdminBillingController {
	return &AdminBillingController{payouts: payouts, audit: audit, engine: engine}
}

// HandleListWithdrawals handles GET /api/v1/admin/withdrawals?status=pending
func (a *AdminBillingController) HandleListWithdrawals(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	offset, limit := pagination(c, 50)
	list, err := a.payouts.ListByStatus(ctx, strings.ToLower(c.Query("status")), offset, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"withdrawals": list})
}

// HandleApproveWithdrawal handles POST /api/v1/admin/withdrawals/:id/approve
func (a *AdminBillingController) HandleApproveWithdrawal(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	adminID := usercontext.GetUserID(c)
	w, err := a.payouts.Approve(ctx, id, adminID)
	if err != nil {
		return respondError(c, err)
	}
	log.Infof("[Payout] Admin %d approved withdrawal %d", adminID, w.ID)
	return c.JSON(w)
}

type denyBody struct {
	Note string `json:"note"`
}

// HandleDenyWithdrawal handles POST /api/v1/admin/withdrawals/:id/deny
func (a *AdminBillingController) HandleDenyWithdrawal(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var body denyBody
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return respondError(c, errInvalidBody)
		}
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	adminID := usercontext.GetUserID(c)
	w, err := a.payouts.Deny(ctx, id, adminID, strings.TrimSpace(body.Note))
	if err != nil {
		return respondError(c, err)
	}
	log.Infof("[Payout] Admin %d denied withdrawal %d", adminID, w.ID)
	return c.JSON(w)
}

// HandleListWebhookAttempts handles GET /api/v1/admin/webhooks
func (a *AdminBillingController) HandleListWebhookAttempts(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	offset, limit := pagination(c, 50)
	attempts, err := a.audit.List(ctx, repository.WebhookAttemptFilter{
		Provider:    strings.ToLower(c.Query("provider")),
		Reference:   c.Query("reference"),
		ErroredOnly: c.QueryBool("errored", false),
		Offset:      offset,
		Limit:       limit,
	})
	if err != nil {
		return respondError(c, err)
	}

	out := make([]fiber.Map, 0, len(attempts))
	for i := range attempts {
		out = append(out, attemptView(&attempts[i]))
	}
	return c.JSON(fiber.Map{"attempts": out})
}

// HandleGetWebhookAttempt handles GET /api/v1/admin/webhooks/:id and
// includes the stored payload.
func (a *AdminBillingController) HandleGetWebhookAttempt(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	attempt, err := a.audit.Get(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	view := attemptView(attempt)
	view["payload"] = attempt.PayloadJSON
	return c.JSON(view)
}

// HandleReplayWebhookAttempt handles POST /api/v1/admin/webhooks/:id/replay
func (a *AdminBillingController) HandleReplayWebhookAttempt(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := a.engine.Replay(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	log.Infof("[Audit] Admin %d replayed webhook attempt %d: %s", usercontext.GetUserID(c), id, res.Action)
	return c.JSON(fiber.Map{
		"ok":         true,
		"action":     res.Action,
		"reference":  res.Reference,
		"attempt_id": res.AttemptID,
	})
}

func attemptView(w *models.WebhookAttempt) fiber.Map {
	return fiber.Map{
		"id":              w.ID,
		"provider":        w.Provider,
		"event":           w.Event,
		"reference":       w.Reference,
		"outcome":         w.Outcome,
		"provider_txn_id": w.ProviderTxnID,
		"processed":       w.Processed,
		"ignored":         w.Ignored,
		"reason":          w.Reason,
		"error":           w.Error,
		"signature_valid": w.SignatureValid,
		"replayable":      w.Replayable(),
		"created_at":      formatTimePtr(&w.CreatedAt),
		"processed_at":    formatTimePtr(w.ProcessedAt),
	}
}

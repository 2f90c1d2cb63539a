package controllers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/internal/pkg/apperror"
	"github.com/ManuelReschke/SignalFox/internal/pkg/billing"
	"github.com/ManuelReschke/SignalFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/SignalFox/internal/pkg/verifier"
)

// WebhookController receives provider notifications. Every delivery that
// reaches a registered verifier leaves exactly one audit row, whether it was
// applied, ignored or rejected.
type WebhookController struct {
	verifiers *verifier.Registry
	engine    *billing.Engine
	audit     *billing.AuditLog
	counter   *counter.WebhookCounter
}

// NewWebhookController builds the controller. stats may be nil.
func NewWebhookController(verifiers *verifier.Registry, engine *billing.Engine, audit *billing.AuditLog, stats *counter.WebhookCounter) *WebhookController {
	return &WebhookController{verifiers: verifiers, engine: engine, audit: audit, counter: stats}
}

// HandleWebhook handles POST /webhooks/:provider
func (w *WebhookController) HandleWebhook(c *fiber.Ctx) error {
	v, err := w.verifiers.Get(c.Params("provider"))
	if err != nil {
		return respondError(c, err)
	}

	// fasthttp reuses the body buffer after the handler returns
	raw := append([]byte(nil), c.BodyRaw()...)
	ctx, cancel := requestContext(c)
	defer cancel()

	n, err := v.Verify(ctx, raw, requestHeaders(c))
	if err != nil {
		return w.rejected(c, v.Provider(), raw, n, err)
	}

	res, err := w.engine.Reconcile(ctx, n)
	if err != nil {
		w.count(c, n.Provider, counter.OutcomeError)
		return respondError(c, err)
	}
	if res.Duplicate() {
		w.count(c, n.Provider, counter.OutcomeDuplicate)
		return c.JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	w.count(c, n.Provider, counter.OutcomeProcessed)
	return c.JSON(fiber.Map{
		"ok":        true,
		"action":    res.Action,
		"reference": res.Reference,
	})
}

// rejected audits a delivery that failed verification and picks the response
// the provider sees. Unsupported events are acknowledged so providers stop
// retrying them.
func (w *WebhookController) rejected(c *fiber.Ctx, provider string, raw []byte, n *verifier.Notification, verr error) error {
	entry := billing.AuditEntry{Provider: provider, Payload: raw}
	if n != nil {
		entry = billing.EntryFromNotification(n)
		entry.Payload = raw
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var auditErr error
	switch {
	case errors.Is(verr, verifier.ErrUnsupportedEvent):
		log.Infof("[Webhook] provider=%s event=%s ignored: unsupported event", provider, entry.Event)
		w.count(c, provider, counter.OutcomeIgnored)
		_, auditErr = w.audit.Ignored(ctx, entry, models.WebhookReasonUnsupportedEvent)
		if auditErr == nil {
			return c.JSON(fiber.Map{"ok": true, "ignored": true})
		}
	case errors.Is(verr, verifier.ErrInvalidSignature):
		log.Warnf("[Webhook] provider=%s rejected: invalid signature from %s", provider, c.IP())
		w.count(c, provider, counter.OutcomeInvalidSignature)
		entry.SignatureValid = false
		_, auditErr = w.audit.Ignored(ctx, entry, models.WebhookReasonInvalidSignature)
	default:
		if apperror.IsKind(verr, apperror.KindInternal) {
			log.Errorf("[Webhook] provider=%s verification failed: %v", provider, verr)
		} else {
			log.Warnf("[Webhook] provider=%s rejected: %v", provider, verr)
		}
		w.count(c, provider, counter.OutcomeError)
		entry.SignatureValid = false
		_, auditErr = w.audit.Errored(ctx, entry, apperror.CodeOf(verr))
	}
	if auditErr != nil {
		log.Errorf("[Webhook] provider=%s failed to write audit entry: %v", provider, auditErr)
	}
	return respondError(c, verr)
}

// HandleStats handles GET /api/v1/admin/webhooks/stats; ?reset=true drains
// the counters.
func (w *WebhookController) HandleStats(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	read := w.counter.Snapshot
	if c.QueryBool("reset", false) {
		read = w.counter.Drain
	}
	stats, err := read(ctx)
	if err != nil {
		return respondError(c, apperror.Internal("webhook_stats_failed", err))
	}
	return c.JSON(fiber.Map{"providers": stats})
}

func (w *WebhookController) count(c *fiber.Ctx, provider, outcome string) {
	if err := w.counter.Add(c.UserContext(), provider, outcome); err != nil {
		log.Warnf("[Webhook] Failed to count %s/%s: %v", provider, outcome, err)
	}
}

func requestHeaders(c *fiber.Ctx) http.Header {
	h := make(http.Header)
	for k, values := range c.GetReqHeaders() {
		for _, v := range values {
			h.Add(k, v)
		}
	}
	return h
}

package billing

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/app/repository"
	"github.com/ManuelReschke/SignalFox/internal/pkg/apperror"
	"github.com/ManuelReschke/SignalFox/internal/pkg/verifier"
	"github.com/gofiber/fiber/v2/log"
)

var (
	ErrIntentNotFound   = apperror.NotFound(models.WebhookErrorIntentNotFound, "no payment intent for reference")
	ErrProviderMismatch = apperror.Validation("provider_mismatch", "notification provider does not match the payment intent")
	ErrMissingReference = apperror.Validation("missing_reference", "notification has no reference")
	ErrNotReplayable    = apperror.State("not_replayable", "webhook attempt cannot be replayed")
	ErrAmountMismatch   = apperror.Validation(models.WebhookErrorAmountMismatch, "paid amount does not match the payment intent")
)

// amountTolerance absorbs rounding in provider decimal strings.
const amountTolerance = 0.005

type Action string

const (
	ActionActivated Action = "activated"
	ActionQueued    Action = "queued"
	ActionDeclined  Action = "declined"
	ActionDuplicate Action = "duplicate"
)

// Result describes what a reconciliation did.
type Result struct {
	Reference string
	UserID    uint
	Action    Action
	PlanID    string
	StartDate *time.Time
	EndDate   *time.Time
	AttemptID uint
}

func (r *Result) Duplicate() bool {
	return r.Action == ActionDuplicate
}

// Engine converges verified notifications into intent and subscription state.
// The intent CAS is the only serialization point; everything after it runs in
// the same transaction and happens at most once per reference.
type Engine struct {
	repos    *repository.Repositories
	plans    *Catalog
	audit    *AuditLog
	notifier Notifier
	now      func() time.Time
}

func NewEngine(repos *repository.Repositories, plans *Catalog, audit *AuditLog, notifier Notifier) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Engine{repos: repos, plans: plans, audit: audit, notifier: notifier, now: time.Now}
}

// WithClock replaces the engine clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Reconcile applies one verified notification and records the attempt.
// Duplicate deliveries return a Result with ActionDuplicate and no error.
func (e *Engine) Reconcile(ctx context.Context, n *verifier.Notification) (*Result, error) {
	entry := EntryFromNotification(n)
	res, err := e.apply(ctx, n)
	if err != nil {
		code := apperror.CodeOf(err)
		if apperror.KindOf(err) == apperror.KindInternal {
			log.Errorf("[Reconcile] provider=%s event=%s reference=%s failed: %v", n.Provider, n.Event, n.Reference, err)
		} else {
			log.Warnf("[Reconcile] provider=%s event=%s reference=%s rejected: %s", n.Provider, n.Event, n.Reference, code)
		}
		if _, auditErr := e.audit.Errored(ctx, entry, code); auditErr != nil {
			log.Errorf("[Reconcile] Failed to write audit entry for %s: %v", n.Reference, auditErr)
		}
		return nil, err
	}

	var attempt *models.WebhookAttempt
	var auditErr error
	if res.Duplicate() {
		log.Infof("[Reconcile] provider=%s reference=%s duplicate delivery ignored", n.Provider, n.Reference)
		attempt, auditErr = e.audit.Ignored(ctx, entry, models.WebhookReasonDuplicate)
	} else {
		log.Infof("[Reconcile] provider=%s reference=%s user=%d action=%s", n.Provider, n.Reference, res.UserID, res.Action)
		attempt, auditErr = e.audit.Processed(ctx, entry)
	}
	if auditErr != nil {
		log.Errorf("[Reconcile] Failed to write audit entry for %s: %v", n.Reference, auditErr)
	} else {
		res.AttemptID = attempt.ID
	}

	e.notify(ctx, res)
	return res, nil
}

// Replay runs an errored audit entry through reconciliation again, for
// example after an operator restored a missing intent.
func (e *Engine) Replay(ctx context.Context, attemptID uint) (*Result, error) {
	attempt, err := e.audit.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if !attempt.Replayable() {
		return nil, ErrNotReplayable
	}

	n := &verifier.Notification{
		Provider:      attempt.Provider,
		Event:         attempt.Event,
		Reference:     attempt.Reference,
		Outcome:       verifier.Outcome(attempt.Outcome),
		ProviderTxnID: attempt.ProviderTxnID,
		RawPayload:    []byte(attempt.PayloadJSON),
	}
	res, err := e.Reconcile(ctx, n)
	if err != nil {
		return nil, err
	}
	if err := e.audit.Resolved(ctx, attempt.ID); err != nil {
		log.Warnf("[Reconcile] Replayed attempt %d but could not mark it processed: %v", attempt.ID, err)
	}
	return res, nil
}

func (e *Engine) apply(ctx context.Context, n *verifier.Notification) (*Result, error) {
	if n.Reference == "" {
		return nil, ErrMissingReference
	}
	now := e.now().UTC()
	res := &Result{Reference: n.Reference}

	err := e.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		intent, err := tx.Intent.GetByReference(ctx, n.Reference)
		if err != nil {
			if repository.IsNotFound(err) {
				return ErrIntentNotFound.Withf("no payment intent for reference %s", n.Reference)
			}
			return apperror.Internal("intent_lookup_failed", err)
		}
		if intent.Provider != n.Provider {
			return ErrProviderMismatch.Withf("intent %s belongs to %s, notification came from %s", n.Reference, intent.Provider, n.Provider)
		}
		if n.Outcome == verifier.OutcomeConfirmed {
			if err := checkPaidAmount(intent, n); err != nil {
				return err
			}
		}
		res.UserID = intent.UserID
		res.PlanID = intent.PlanID

		target := models.IntentStatusCompleted
		if n.Outcome != verifier.OutcomeConfirmed {
			target = models.IntentStatusDeclined
		}
		swapped, err := tx.Intent.CompareAndSwapStatus(ctx, n.Reference, models.IntentStatusPending, target, n.ProviderTxnID, now)
		if err != nil {
			return apperror.Internal("intent_cas_failed", err)
		}
		if !swapped {
			res.Action = ActionDuplicate
			return nil
		}
		if target == models.IntentStatusDeclined {
			res.Action = ActionDeclined
			return nil
		}

		plan, err := e.plans.Get(intent.PlanID)
		if err != nil {
			return apperror.Internal("intent_plan_invalid", err)
		}

		sub, err := tx.Subscription.GetOrCreateForUpdate(ctx, intent.UserID, now)
		if err != nil {
			return apperror.Internal("subscription_lock_failed", err)
		}

		if sub.ActiveAt(now) {
			pending := &models.PendingSubscription{
				PlanID:             plan.ID,
				Amount:             intent.Amount,
				DurationDays:       plan.DurationDays,
				ScheduledStartDate: *sub.EndDate,
			}
			if sub.PendingPlanID != nil {
				log.Warnf("[Reconcile] user %d queued plan %s replaced by %s", intent.UserID, *sub.PendingPlanID, plan.ID)
			}
			if err := tx.Subscription.SetPending(ctx, intent.UserID, pending, now); err != nil {
				return apperror.Internal("subscription_queue_failed", err)
			}
			start := *sub.EndDate
			end := start.AddDate(0, 0, plan.DurationDays)
			res.Action = ActionQueued
			res.StartDate = &start
			res.EndDate = &end
			return nil
		}

		fields := repository.ActiveFields{
			PlanID:    plan.ID,
			Amount:    intent.Amount,
			StartDate: now,
			UpdatedAt: now,
		}
		if !plan.Permanent() {
			end := now.AddDate(0, 0, plan.DurationDays)
			fields.EndDate = &end
		}
		if err := tx.Subscription.UpsertActive(ctx, intent.UserID, fields); err != nil {
			return apperror.Internal("subscription_activate_failed", err)
		}
		res.Action = ActionActivated
		res.StartDate = &fields.StartDate
		res.EndDate = fields.EndDate
		return nil
	})
	if err != nil {
		var appErr *apperror.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperror.Internal("reconcile_failed", err)
	}
	return res, nil
}

func (e *Engine) notify(ctx context.Context, res *Result) {
	var kind string
	switch res.Action {
	case ActionActivated:
		kind = MessageSubscriptionActivated
	case ActionQueued:
		kind = MessageSubscriptionQueued
	case ActionDeclined:
		kind = MessagePaymentDeclined
	default:
		return
	}
	data := map[string]string{"reference": res.Reference, "plan_id": res.PlanID}
	if res.StartDate != nil {
		data["start_date"] = res.StartDate.Format(time.RFC3339)
	}
	if res.EndDate != nil {
		data["end_date"] = res.EndDate.Format(time.RFC3339)
	}
	if err := e.notifier.Notify(ctx, Message{UserID: res.UserID, Kind: kind, Data: data}); err != nil {
		log.Warnf("[Reconcile] Failed to enqueue %s notification for user %d: %v", kind, res.UserID, err)
	}
}

// checkPaidAmount rejects a confirmation whose reported amount or currency
// differs from the intent. Providers that report neither pass.
func checkPaidAmount(intent *models.PaymentIntent, n *verifier.Notification) error {
	if n.Amount != nil && math.Abs(*n.Amount-intent.Amount) > amountTolerance {
		return ErrAmountMismatch.Withf("intent %s expects %.2f %s, provider reported %.2f", intent.Reference, intent.Amount, intent.Currency, *n.Amount)
	}
	if n.Currency != "" && intent.Currency != "" && !strings.EqualFold(n.Currency, intent.Currency) {
		return ErrAmountMismatch.Withf("intent %s expects %s, provider reported %s", intent.Reference, intent.Currency, n.Currency)
	}
	return nil
}

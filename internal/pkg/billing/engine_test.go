package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/app/repository"
	"github.com/ManuelReschke/SignalFox/internal/pkg/apperror"
	"github.com/ManuelReschke/SignalFox/internal/pkg/verifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func confirmed(provider, ref string) *verifier.Notification {
	return &verifier.Notification{
		Provider:      provider,
		Event:         "payment.succeeded",
		Reference:     ref,
		Outcome:       verifier.OutcomeConfirmed,
		ProviderTxnID: "txn-" + ref,
		RawPayload:    []byte(`{"reference":"` + ref + `"}`),
	}
}

func TestReconcileImmediateActivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.intent(t, "ref-a", 1, "monthly", models.ProviderWallet)

	res, err := f.engine.Reconcile(ctx, confirmed(models.ProviderWallet, "ref-a"))
	require.NoError(t, err)
	assert.Equal(t, ActionActivated, res.Action)
	assert.NotZero(t, res.AttemptID)

	sub := f.subscription(t, 1)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "monthly", sub.PlanID)
	assert.InDelta(t, 29.00, sub.Amount, 0.001)
	assert.True(t, t0.Equal(sub.StartDate))
	require.NotNil(t, sub.EndDate)
	assert.True(t, t0.AddDate(0, 0, 30).Equal(*sub.EndDate))
	assert.Nil(t, sub.Pending())
	assert.True(t, t0.Equal(sub.UpdatedAt))

	intent, err := f.repos.Intent.GetByReference(ctx, "ref-a")
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusCompleted, intent.Status)
	assert.Equal(t, "txn-ref-a", intent.ProviderTxnID)

	assert.Equal(t, []string{MessageSubscriptionActivated}, f.notifier.kinds())
}

func TestReconcileDuplicateDeliveryIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.intent(t, "ref-dup", 2, "monthly", models.ProviderCard)

	_, err := f.engine.Reconcile(ctx, confirmed(models.ProviderCard, "ref-dup"))
	require.NoError(t, err)
	first := f.subscription(t, 2)

	f.clock = t0.Add(6 * time.Hour)
	res, err := f.engine.Reconcile(ctx, confirmed(models.ProviderCard, "ref-dup"))
	require.NoError(t, err)
	assert.True(t, res.Duplicate())

	second := f.subscription(t, 2)
	require.NotNil(t, second.EndDate)
	assert.True(t, first.EndDate.Equal(*second.EndDate))
	assert.Equal(t, first.Version, second.Version)

	attempts, err := f.repos.WebhookAttempt.List(ctx, repository.WebhookAttemptFilter{Reference: "ref-dup"})
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	// newest first
	assert.True(t, attempts[0].Ignored)
	assert.Equal(t, models.WebhookReasonDuplicate, attempts[0].Reason)
	assert.True(t, attempts[1].Processed)

	assert.Len(t, f.notifier.kinds(), 1)
}

func TestReconcileConcurrentDuplicatesActivateOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.intent(t, "ref-race", 3, "quarterly", models.ProviderCrypto)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan *Result, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.Reconcile(ctx, confirmed(models.ProviderCrypto, "ref-race"))
			if err == nil {
				results <- res
			}
		}()
	}
	wg.Wait()
	close(results)

	activated, duplicates := 0, 0
	for res := range results {
		switch res.Action {
		case ActionActivated:
			activated++
		case ActionDuplicate:
			duplicates++
		}
	}
	assert.Equal(t, 1, activated)
	assert.Equal(t, workers-1, duplicates)
	assert.Equal(t, "quarterly", f.subscription(t, 3).PlanID)
}

func TestReconcileOverlapQueuesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.intent(t, "ref-first", 4, "monthly", models.ProviderWallet)
	f.intent(t, "ref-second", 4, "yearly", models.ProviderWallet)
	f.intent(t, "ref-third", 4, "quarterly", models.ProviderWallet)

	_, err := f.engine.Reconcile(ctx, confirmed(models.ProviderWallet, "ref-first"))
	require.NoError(t, err)
	t1 := t0.AddDate(0, 0, 30)

	f.clock = t0.AddDate(0, 0, 10)
	res, err := f.engine.Reconcile(ctx, confirmed(models.ProviderWallet, "ref-second"))
	require.NoError(t, err)
	assert.Equal(t, ActionQueued, res.Action)

	sub := f.subscription(t, 4)
	assert.Equal(t, "monthly", sub.PlanID)
	assert.True(t, t0.Equal(sub.StartDate))
	assert.True(t, t1.Equal(*sub.EndDate))
	pending := sub.Pending()
	require.NotNil(t, pending)
	assert.Equal(t, "yearly", pending.PlanID)
	assert.Equal(t, 365, pending.DurationDays)
	assert.InDelta(t, 290.0, pending.Amount, 0.001)
	assert.True(t, t1.Equal(pending.ScheduledStartDate))
	assert.True(t, f.clock.Equal(sub.UpdatedAt))

	// a third payment replaces the queued entry
	_, err = f.engine.Reconcile(ctx, confirmed(models.ProviderWallet, "ref-third"))
	require.NoError(t, err)
	pending = f.subscription(t, 4).Pending()
	require.NotNil(t, pending)
	assert.Equal(t, "quarterly", pending.PlanID)

	assert.Equal(t, []string{MessageSubscriptionActivated, MessageSubscriptionQueued, MessageSubscriptionQueued}, f.notifier.kinds())
}

func TestReconcileAfterExpiryActivatesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.intent(t, "ref-old", 5, "monthly", models.ProviderMarketplace)
	f.intent(t, "ref-new", 5, "yearly", models.ProviderMarketplace)

	_, err := f.engine.Reconcile(ctx, confirmed(models.ProviderMarketplace, "ref-old"))
	require.NoError(t, err)

	f.clock = t0.AddDate(0, 0, 31)
	res, err := f.engine.Reconcile(ctx, confirmed(models.ProviderMarketplace, "ref-new"))
	require.NoError(t, err)
	assert.Equal(t, ActionActivated, res.Action)

	sub := f.subscription(t, 5)
	assert.Equal(t, "yearly", sub.PlanID)
	assert.True(t, f.clock.Equal(sub.StartDate))
	assert.True(t, f.clock.AddDate(0, 0, 365).Equal(*sub.EndDate))
}

func TestReconcileDeclinedLeavesSubscriptionAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.intent(t, "ref-dec", 6, "monthly", models.ProviderMobileMoney)

	n := confirmed(models.ProviderMobileMoney, "ref-dec")
	n.Outcome = verifier.OutcomeDeclined
	res, err := f.engine.Reconcile(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, ActionDeclined, res.Action)

	intent, err := f.repos.Intent.GetByReference(ctx, "ref-dec")
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusDeclined, intent.Status)

	_, err = f.repos.Subscription.GetByUserID(ctx, 6)
	assert.True(t, repository.IsNotFound(err))

	// a late success for the same reference cannot resurrect it
	res, err = f.engine.Reconcile(ctx, confirmed(models.ProviderMobileMoney, "ref-dec"))
	require.NoError(t, err)
	assert.True(t, res.Duplicate())
	assert.Equal(t, []string{MessagePaymentDeclined}, f.notifier.kinds())
}

func TestReconcileUnknownReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Reconcile(ctx, confirmed(models.ProviderCard, "ref-ghost"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntentNotFound)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	attempts, err := f.repos.WebhookAttempt.List(ctx, repository.WebhookAttemptFilter{ErroredOnly: true})
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.WebhookErrorIntentNotFound, attempts[0].Error)
	assert.Equal(t, "ref-ghost", attempts[0].Reference)
	assert.Equal(t, []uint{attempts[0].ID}, f.archiver.attempts)
	assert.Empty(t, f.notifier.kinds())
}

func TestReconcileProviderMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.intent(t, "ref-card", 7, "monthly", models.ProviderCard)

	_, err := f.engine.Reconcile(ctx, confirmed(models.ProviderWallet, "ref-card"))
	assert.ErrorIs(t, err, ErrProviderMismatch)

	intent, err := f.repos.Intent.GetByReference(ctx, "ref-card")
	require.NoError(t, err)
	assert.True(t, intent.IsPending())
}

func TestReconcileRejectsAmountMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.intent(t, "ref-cheap", 8, "yearly", models.ProviderCrypto)
	f.intent(t, "ref-eur", 9, "monthly", models.ProviderMobileMoney)

	n := confirmed(models.ProviderCrypto, "ref-cheap")
	paid := 2.90
	n.Amount = &paid
	_, err := f.engine.Reconcile(ctx, n)
	assert.ErrorIs(t, err, ErrAmountMismatch)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	intent, err := f.repos.Intent.GetByReference(ctx, "ref-cheap")
	require.NoError(t, err)
	assert.True(t, intent.IsPending())
	_, err = f.repos.Subscription.GetByUserID(ctx, 8)
	assert.True(t, repository.IsNotFound(err))

	attempts, err := f.repos.WebhookAttempt.List(ctx, repository.WebhookAttemptFilter{ErroredOnly: true})
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.WebhookErrorAmountMismatch, attempts[0].Error)
	assert.False(t, attempts[0].Replayable())
	_, err = f.engine.Replay(ctx, attempts[0].ID)
	assert.ErrorIs(t, err, ErrNotReplayable)

	n = confirmed(models.ProviderMobileMoney, "ref-eur")
	full := 29.00
	n.Amount = &full
	n.Currency = "EUR"
	_, err = f.engine.Reconcile(ctx, n)
	assert.ErrorIs(t, err, ErrAmountMismatch)

	n.Currency = "usd"
	res, err := f.engine.Reconcile(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, ActionActivated, res.Action)

	// declines carry no payment to compare
	f.intent(t, "ref-failed", 10, "monthly", models.ProviderCrypto)
	declined := confirmed(models.ProviderCrypto, "ref-failed")
	declined.Outcome = verifier.OutcomeDeclined
	zero := 0.0
	declined.Amount = &zero
	res, err = f.engine.Reconcile(ctx, declined)
	require.NoError(t, err)
	assert.Equal(t, ActionDeclined, res.Action)
}

func TestReplayAfterIntentRestored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Reconcile(ctx, confirmed(models.ProviderCard, "ref-late"))
	require.ErrorIs(t, err, ErrIntentNotFound)
	attempts, err := f.repos.WebhookAttempt.List(ctx, repository.WebhookAttemptFilter{ErroredOnly: true})
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	errored := attempts[0]

	f.intent(t, "ref-late", 8, "monthly", models.ProviderCard)
	res, err := f.engine.Replay(ctx, errored.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionActivated, res.Action)

	stored, err := f.audit.Get(ctx, errored.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ProcessedAt)

	_, err = f.engine.Replay(ctx, errored.ID)
	assert.ErrorIs(t, err, ErrNotReplayable)

	_, err = f.engine.Replay(ctx, 9999)
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}

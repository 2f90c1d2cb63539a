package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/internal/pkg/env"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	stripeSignatureHeader = "Stripe-Signature"

	eventCheckoutCompleted      = "checkout.session.completed"
	eventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	eventCheckoutAsyncFailed    = "checkout.session.async_payment_failed"
	eventCheckoutExpired        = "checkout.session.expired"
)

// CardVerifier checks Stripe signed envelopes for Checkout Session events.
type CardVerifier struct {
	webhookSecret string
}

func NewCardVerifier(webhookSecret string) *CardVerifier {
	return &CardVerifier{webhookSecret: strings.TrimSpace(webhookSecret)}
}

func NewCardVerifierFromEnv() *CardVerifier {
	return NewCardVerifier(env.GetEnv("STRIPE_WEBHOOK_SECRET", ""))
}

func (v *CardVerifier) Provider() string { return models.ProviderCard }

func (v *CardVerifier) Verify(ctx context.Context, raw []byte, headers http.Header) (*Notification, error) {
	if v.webhookSecret == "" {
		return nil, ErrNotConfigured
	}
	// Endpoint API versions drift from the SDK pin; the envelope check still
	// covers authenticity.
	event, err := webhook.ConstructEventWithOptions(raw, headers.Get(stripeSignatureHeader), v.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if isStripeSignatureError(err) {
			return nil, ErrInvalidSignature.Wrap(err)
		}
		return nil, malformed(err)
	}

	n := &Notification{
		Provider:   v.Provider(),
		Event:      string(event.Type),
		RawPayload: raw,
	}

	var outcome Outcome
	switch n.Event {
	case eventCheckoutCompleted, eventCheckoutAsyncSucceeded:
		outcome = OutcomeConfirmed
	case eventCheckoutAsyncFailed:
		outcome = OutcomeDeclined
	case eventCheckoutExpired:
		outcome = OutcomeCancelled
	default:
		return unsupported(n)
	}

	var session stripe.CheckoutSession
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, malformed(nil)
	}
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, malformed(err)
	}

	n.Reference = strings.TrimSpace(session.ClientReferenceID)
	if n.Reference == "" && session.Metadata != nil {
		n.Reference = strings.TrimSpace(session.Metadata["reference"])
	}
	n.ProviderTxnID = session.ID
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		n.ProviderTxnID = session.PaymentIntent.ID
	}
	if n.Reference == "" {
		return nil, ErrMalformedPayload.Withf("checkout session %s has no client_reference_id", session.ID)
	}

	// Delayed payment methods complete the session before funds arrive; the
	// async_payment_succeeded event confirms those later.
	if n.Event == eventCheckoutCompleted && session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return unsupported(n)
	}

	n.Outcome = outcome
	return n, nil
}

func isStripeSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

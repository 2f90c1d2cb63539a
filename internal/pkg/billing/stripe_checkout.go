package billing

import (
	"context"
	"strings"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/internal/pkg/env"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
)

// StripeCheckout opens Stripe Checkout Sessions in payment mode. The intent
// reference travels as client_reference_id and comes back on the webhook.
type StripeCheckout struct {
	SuccessURL string
	CancelURL  string
}

func NewStripeCheckoutFromEnv() *StripeCheckout {
	stripe.Key = strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", ""))
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	return &StripeCheckout{
		SuccessURL: env.GetEnv("STRIPE_SUCCESS_URL", base+"/billing/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  env.GetEnv("STRIPE_CANCEL_URL", base+"/billing/cancelled"),
	}
}

func (s *StripeCheckout) CreateSession(ctx context.Context, intent *models.PaymentIntent, plan Plan, email string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(intent.Reference),
		SuccessURL:        stripe.String(s.SuccessURL),
		CancelURL:         stripe.String(s.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(intent.Currency)),
					UnitAmount: stripe.Int64(plan.AmountMinor()),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(plan.Name + " subscription"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.AddMetadata("reference", intent.Reference)
	params.AddMetadata("plan_id", plan.ID)
	params.SetIdempotencyKey("checkout-" + intent.Reference)

	sess, err := session.New(params)
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

// hostedCheckoutKeys names the URL template setting per redirect provider.
var hostedCheckoutKeys = map[string]string{
	models.ProviderCrypto:      "CRYPTO_CHECKOUT_URL",
	models.ProviderWallet:      "WALLET_CHECKOUT_URL",
	models.ProviderMobileMoney: "MOMO_CHECKOUT_URL",
	models.ProviderMarketplace: "MARKETPLACE_CHECKOUT_URL",
}

// SessionCreatorsFromEnv returns the checkout backends that are configured.
// Cards go through Stripe; the other providers redirect to a hosted page.
func SessionCreatorsFromEnv() map[string]SessionCreator {
	creators := make(map[string]SessionCreator, len(hostedCheckoutKeys)+1)
	if env.GetEnv("STRIPE_SECRET_KEY", "") != "" {
		creators[models.ProviderCard] = NewStripeCheckoutFromEnv()
	}
	for provider, key := range hostedCheckoutKeys {
		if tpl := strings.TrimSpace(env.GetEnv(key, "")); tpl != "" {
			creators[provider] = HostedCheckout{Template: tpl}
		}
	}
	return creators
}

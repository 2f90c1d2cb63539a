package billing

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/app/repository"
	"github.com/ManuelReschke/SignalFox/internal/pkg/apperror"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

var (
	ErrPlanNotPurchasable = apperror.Validation("plan_not_purchasable", "the free plan cannot be purchased")
	ErrProviderDisabled   = apperror.Validation("provider_disabled", "payment provider is not available")
)

// CheckoutRequest comes from the authenticated user context plus the body.
type CheckoutRequest struct {
	UserID   uint   `validate:"required"`
	Email    string `validate:"omitempty,email"`
	PlanID   string `validate:"required,max=32"`
	Provider string `validate:"required,oneof=card crypto wallet momo marketplace"`
}

type CheckoutResult struct {
	Reference   string  `json:"reference"`
	CheckoutURL string  `json:"checkout_url"`
	PlanID      string  `json:"plan_id"`
	Provider    string  `json:"provider"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
}

// SessionCreator opens a hosted checkout with the provider for an intent and
// returns the URL the user is sent to.
type SessionCreator interface {
	CreateSession(ctx context.Context, intent *models.PaymentIntent, plan Plan, email string) (string, error)
}

// CheckoutService creates payment intents. Intents are stored before the
// provider session is opened so that every provider-side payment can be
// matched to a local reference.
type CheckoutService struct {
	intents  repository.PaymentIntentRepository
	plans    *Catalog
	creators map[string]SessionCreator
	validate *validator.Validate
}

func NewCheckoutService(intents repository.PaymentIntentRepository, plans *Catalog, creators map[string]SessionCreator) *CheckoutService {
	return &CheckoutService{
		intents:  intents,
		plans:    plans,
		creators: creators,
		validate: validator.New(),
	}
}

func (s *CheckoutService) Create(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	req.PlanID = strings.ToLower(strings.TrimSpace(req.PlanID))
	if err := s.validate.Struct(req); err != nil {
		return nil, apperror.Validation("invalid_checkout", err.Error())
	}

	plan, err := s.plans.Get(req.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.Purchasable() {
		return nil, ErrPlanNotPurchasable
	}
	creator, ok := s.creators[req.Provider]
	if !ok || creator == nil {
		return nil, ErrProviderDisabled.Withf("payment provider %q is not available", req.Provider)
	}

	intent := &models.PaymentIntent{
		Reference: uuid.NewString(),
		UserID:    req.UserID,
		PlanID:    plan.ID,
		Provider:  req.Provider,
		Amount:    plan.Amount,
		Currency:  plan.Currency,
		Status:    models.IntentStatusPending,
	}
	if err := s.intents.Create(ctx, intent); err != nil {
		return nil, apperror.Internal("intent_create_failed", err)
	}

	checkoutURL, err := creator.CreateSession(ctx, intent, plan, req.Email)
	if err != nil {
		log.Errorf("[Checkout] provider=%s reference=%s session creation failed: %v", intent.Provider, intent.Reference, err)
		return nil, apperror.Internal("checkout_session_failed", err)
	}
	if err := s.intents.SetCheckoutURL(ctx, intent.Reference, checkoutURL); err != nil {
		log.Warnf("[Checkout] Failed to store checkout URL for %s: %v", intent.Reference, err)
	}

	log.Infof("[Checkout] user=%d plan=%s provider=%s reference=%s", req.UserID, plan.ID, req.Provider, intent.Reference)
	return &CheckoutResult{
		Reference:   intent.Reference,
		CheckoutURL: checkoutURL,
		PlanID:      plan.ID,
		Provider:    intent.Provider,
		Amount:      intent.Amount,
		Currency:    intent.Currency,
	}, nil
}

// HostedCheckout renders a provider checkout URL from a template. Supported
// placeholders: {reference}, {plan}, {amount}, {currency}.
type HostedCheckout struct {
	Template string
}

func (h HostedCheckout) CreateSession(ctx context.Context, intent *models.PaymentIntent, plan Plan, email string) (string, error) {
	if strings.TrimSpace(h.Template) == "" {
		return "", fmt.Errorf("checkout url template for %s is not configured", intent.Provider)
	}
	r := strings.NewReplacer(
		"{reference}", url.QueryEscape(intent.Reference),
		"{plan}", url.QueryEscape(plan.ID),
		"{amount}", fmt.Sprintf("%.2f", intent.Amount),
		"{currency}", url.QueryEscape(intent.Currency),
	)
	out := r.Replace(h.Template)
	if _, err := url.ParseRequestURI(out); err != nil {
		return "", fmt.Errorf("invalid checkout url for %s: %w", intent.Provider, err)
	}
	return out, nil
}

package router

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/SignalFox/app/controllers"
	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/app/repository"
	"github.com/ManuelReschke/SignalFox/internal/pkg/billing"
	"github.com/ManuelReschke/SignalFox/internal/pkg/cache"
	"github.com/ManuelReschke/SignalFox/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/SignalFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/SignalFox/internal/pkg/sweeper"
	"github.com/ManuelReschke/SignalFox/internal/pkg/verifier"
)

const (
	walletSecret = "wallet-test-secret"
	cronSecret   = "cron-test-secret"
)

type testServer struct {
	app   *fiber.App
	repos *repository.Repositories
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repos := repository.NewRepositories(dbtest.New(t))
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	plans := billing.DefaultCatalog()
	audit := billing.NewAuditLog(repos.WebhookAttempt, nil)
	engine := billing.NewEngine(repos, plans, audit, nil)
	checkout := billing.NewCheckoutService(repos.Intent, plans, map[string]billing.SessionCreator{
		models.ProviderWallet: billing.HostedCheckout{Template: "https://wallet.example.com/pay?ref={reference}"},
	})
	commission := billing.NewCommissionService(repos.User, repos.Subscription)
	payouts := billing.NewPayoutService(repos, commission, billing.DefaultPayoutPolicy(), nil)
	sw := sweeper.New(repos.Subscription, cache.NewLock(client, sweeper.LockKey, time.Minute), nil)

	app := fiber.New()
	InstallRouter(app, Dependencies{
		Users:      repos.User,
		Webhooks:   controllers.NewWebhookController(verifier.NewRegistry(verifier.NewWalletVerifier(walletSecret)), engine, audit, counter.NewWebhookCounter(client)),
		Checkout:   controllers.NewCheckoutController(checkout, plans, repos),
		Partner:    controllers.NewPartnerController(commission, payouts),
		Admin:      controllers.NewAdminBillingController(payouts, audit, engine),
		Cron:       controllers.NewCronController(sw),
		CronSecret: cronSecret,
	})
	return &testServer{app: app, repos: repos}
}

func (s *testServer) user(t *testing.T, email, referredBy string, profile models.Profile) (*models.User, string) {
	t.Helper()
	u, err := models.CreateUser("tester", email, referredBy)
	require.NoError(t, err)
	if profile != nil {
		u.SetProfile(profile)
	}
	key, err := u.IssueAPIKey()
	require.NoError(t, err)
	require.NoError(t, s.repos.User.Create(context.Background(), u))
	return u, key
}

func (s *testServer) do(t *testing.T, method, path, apiKey string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	return s.send(t, req)
}

func (s *testServer) send(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func walletEvent(event, reference, txnID string) []byte {
	return []byte(fmt.Sprintf(`{"event":%q,"data":{"id":%q,"client_reference":%q,"status":"done"}}`, event, txnID, reference))
}

func (s *testServer) webhook(t *testing.T, provider string, body []byte, secret string) (int, map[string]interface{}) {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	req := httptest.NewRequest("POST", "/webhooks/"+provider, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Wallet-Signature", hex.EncodeToString(mac.Sum(nil)))
	return s.send(t, req)
}

func (s *testServer) checkout(t *testing.T, apiKey, planID string) string {
	t.Helper()
	status, body := s.do(t, "POST", "/api/v1/checkout", apiKey, fiber.Map{"plan_id": planID, "provider": models.ProviderWallet})
	require.Equal(t, fiber.StatusCreated, status, body)
	ref, _ := body["reference"].(string)
	require.NotEmpty(t, ref)
	assert.Contains(t, body["checkout_url"], ref)
	return ref
}

func TestPaymentFlow(t *testing.T) {
	s := newTestServer(t)
	_, key := s.user(t, "buyer@example.com", "", nil)

	status, body := s.do(t, "GET", "/api/v1/plans", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["plans"], 4)

	status, _ = s.do(t, "POST", "/api/v1/checkout", "", fiber.Map{"plan_id": "monthly", "provider": "wallet"})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body = s.do(t, "POST", "/api/v1/checkout", key, fiber.Map{"plan_id": "free", "provider": "wallet"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "plan_not_purchasable", body["error"])

	status, body = s.do(t, "GET", "/api/v1/subscription", key, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, models.FreePlanID, body["plan_id"])

	ref := s.checkout(t, key, "monthly")

	status, _ = s.webhook(t, "wallet", walletEvent("payment.succeeded", ref, "w-1"), "wrong-secret")
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body = s.webhook(t, "wallet", walletEvent("payment.succeeded", ref, "w-1"), walletSecret)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "activated", body["action"])

	status, body = s.webhook(t, "wallet", walletEvent("payment.succeeded", ref, "w-1"), walletSecret)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["duplicate"])

	status, body = s.do(t, "GET", "/api/v1/subscription", key, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "monthly", body["plan_id"])
	assert.Equal(t, models.SubscriptionStatusActive, body["status"])
	assert.NotNil(t, body["end_date"])
	assert.Nil(t, body["pending_subscription"])

	// a second purchase while active is queued
	next := s.checkout(t, key, "yearly")
	status, body = s.webhook(t, "wallet", walletEvent("payment.succeeded", next, "w-2"), walletSecret)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "queued", body["action"])

	status, body = s.do(t, "GET", "/api/v1/subscription", key, nil)
	assert.Equal(t, fiber.StatusOK, status)
	pending, ok := body["pending_subscription"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "yearly", pending["plan_id"])

	status, body = s.do(t, "GET", "/api/v1/payments", key, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["payments"], 2)
}

func TestWebhookRejections(t *testing.T) {
	s := newTestServer(t)
	_, adminKey := s.user(t, "admin@example.com", "", models.AdminProfile{})

	status, _ := s.webhook(t, "paypal", []byte(`{}`), walletSecret)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body := s.webhook(t, "wallet", walletEvent("payment.pending", "ref-x", "w-9"), walletSecret)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["ignored"])

	status, body = s.webhook(t, "wallet", []byte(`{not json`), walletSecret)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "malformed_payload", body["error"])

	status, _ = s.webhook(t, "wallet", walletEvent("payment.succeeded", "ref-x", "w-9"), "forged")
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body = s.do(t, "GET", "/api/v1/admin/webhooks", adminKey, nil)
	require.Equal(t, fiber.StatusOK, status)
	attempts := body["attempts"].([]interface{})
	require.Len(t, attempts, 3)

	reasons := map[string]bool{}
	for _, a := range attempts {
		entry := a.(map[string]interface{})
		if r, _ := entry["reason"].(string); r != "" {
			reasons[r] = true
		}
		assert.Equal(t, false, entry["replayable"])
	}
	assert.True(t, reasons[models.WebhookReasonUnsupportedEvent])
	assert.True(t, reasons[models.WebhookReasonInvalidSignature])

	status, body = s.do(t, "GET", "/api/v1/admin/webhooks?errored=true", adminKey, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["attempts"], 1)

	status, body = s.do(t, "GET", "/api/v1/admin/webhooks/stats?reset=true", adminKey, nil)
	require.Equal(t, fiber.StatusOK, status)
	wallet := body["providers"].(map[string]interface{})["wallet"].(map[string]interface{})
	assert.Equal(t, float64(1), wallet[counter.OutcomeIgnored])
	assert.Equal(t, float64(1), wallet[counter.OutcomeError])
	assert.Equal(t, float64(1), wallet[counter.OutcomeInvalidSignature])

	status, body = s.do(t, "GET", "/api/v1/admin/webhooks/stats", adminKey, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, body["providers"])
}

func TestReplayUnknownReference(t *testing.T) {
	s := newTestServer(t)
	buyer, _ := s.user(t, "late@example.com", "", nil)
	_, adminKey := s.user(t, "admin@example.com", "", models.AdminProfile{})

	status, body := s.webhook(t, "wallet", walletEvent("payment.succeeded", "ref-late", "w-5"), walletSecret)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, models.WebhookErrorIntentNotFound, body["error"])

	status, body = s.do(t, "GET", "/api/v1/admin/webhooks?errored=true&reference=ref-late", adminKey, nil)
	require.Equal(t, fiber.StatusOK, status)
	attempts := body["attempts"].([]interface{})
	require.Len(t, attempts, 1)
	entry := attempts[0].(map[string]interface{})
	assert.Equal(t, true, entry["replayable"])
	id := uint(entry["id"].(float64))

	status, body = s.do(t, "GET", fmt.Sprintf("/api/v1/admin/webhooks/%d", id), adminKey, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body["payload"], "ref-late")

	require.NoError(t, s.repos.Intent.Create(context.Background(), &models.PaymentIntent{
		Reference: "ref-late",
		UserID:    buyer.ID,
		PlanID:    "monthly",
		Provider:  models.ProviderWallet,
		Amount:    29.00,
		Currency:  "USD",
		Status:    models.IntentStatusPending,
	}))

	status, body = s.do(t, "POST", fmt.Sprintf("/api/v1/admin/webhooks/%d/replay", id), adminKey, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "activated", body["action"])

	status, body = s.do(t, "POST", fmt.Sprintf("/api/v1/admin/webhooks/%d/replay", id), adminKey, nil)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "not_replayable", body["error"])

	status, _ = s.do(t, "POST", "/api/v1/admin/webhooks/abc/replay", adminKey, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestPartnerPayoutFlow(t *testing.T) {
	s := newTestServer(t)
	_, partnerKey := s.user(t, "partner@example.com", "", models.PartnerProfile{ReferralCode: "PARTNR", RevenueShare: 0.5, Approved: true})
	_, buyerKey := s.user(t, "referred@example.com", "PARTNR", nil)
	_, adminKey := s.user(t, "admin@example.com", "", models.AdminProfile{})

	ref := s.checkout(t, buyerKey, "yearly")
	status, _ := s.webhook(t, "wallet", walletEvent("payment.succeeded", ref, "w-7"), walletSecret)
	require.Equal(t, fiber.StatusOK, status)

	status, body := s.do(t, "GET", "/api/v1/partner/commission", partnerKey, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.InDelta(t, 145.0, body["total"], 0.001)

	status, body = s.do(t, "GET", "/api/v1/partner/commission", buyerKey, nil)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "not_a_referrer", body["error"])

	status, body = s.do(t, "POST", "/api/v1/partner/withdrawals", partnerKey, fiber.Map{"amount": 20})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = s.do(t, "POST", "/api/v1/partner/withdrawals", partnerKey, fiber.Map{"amount": 100})
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.InDelta(t, 6.0, body["fee"], 0.001)
	assert.InDelta(t, 94.0, body["net_amount"], 0.001)
	id := uint(body["id"].(float64))

	status, _ = s.do(t, "POST", "/api/v1/partner/withdrawals", partnerKey, fiber.Map{"amount": 50})
	assert.Equal(t, fiber.StatusConflict, status)

	status, body = s.do(t, "GET", "/api/v1/partner/balance", partnerKey, nil)
	require.Equal(t, fiber.StatusOK, status)
	balance := body["balance"].(map[string]interface{})
	assert.InDelta(t, 45.0, balance["available"], 0.001)

	status, _ = s.do(t, "POST", fmt.Sprintf("/api/v1/admin/withdrawals/%d/approve", id), partnerKey, nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body = s.do(t, "GET", "/api/v1/admin/withdrawals?status=pending", adminKey, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["withdrawals"], 1)

	status, body = s.do(t, "POST", fmt.Sprintf("/api/v1/admin/withdrawals/%d/approve", id), adminKey, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, models.WithdrawalStatusApproved, body["status"])

	status, body = s.do(t, "POST", fmt.Sprintf("/api/v1/admin/withdrawals/%d/deny", id), adminKey, fiber.Map{"note": "late"})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "withdrawal_resolved", body["error"])

	status, body = s.do(t, "GET", "/api/v1/partner/withdrawals", partnerKey, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["withdrawals"], 1)

	status, _ = s.do(t, "GET", "/api/v1/admin/withdrawals?status=bogus", adminKey, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestCronSweepRoute(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("POST", "/internal/cron/sweep", nil)
	status, _ := s.send(t, req)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	req = httptest.NewRequest("POST", "/internal/cron/sweep", nil)
	req.Header.Set("X-Cron-Secret", cronSecret)
	status, body := s.send(t, req)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, "scanned")
}

func TestAPIRateLimit(t *testing.T) {
	app := fiber.New()
	InstallRouter(app, Dependencies{
		Checkout:  controllers.NewCheckoutController(nil, billing.DefaultCatalog(), nil),
		RateLimit: 2,
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/plans", nil), -1)
		require.NoError(t, err)
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{fiber.StatusOK, fiber.StatusOK, fiber.StatusTooManyRequests}, codes)
}

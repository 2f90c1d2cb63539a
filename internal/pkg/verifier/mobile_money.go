package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/internal/pkg/env"
)

const (
	momoStatusSuccessful = "SUCCESSFUL"
	momoStatusFailed     = "FAILED"
	momoStatusRejected   = "REJECTED"
	momoStatusExpired    = "EXPIRED"
	momoStatusPending    = "PENDING"
)

// MomoTransaction is the provider's view of a collection request.
type MomoTransaction struct {
	ReferenceID            string `json:"referenceId"`
	ExternalID             string `json:"externalId"`
	FinancialTransactionID string `json:"financialTransactionId"`
	Status                 string `json:"status"`
	Amount                 string `json:"amount"`
	Currency               string `json:"currency"`
}

// MomoClient queries transaction status with an authenticated server call.
type MomoClient struct {
	APIBaseURL string
	APIKey     string
	HTTPClient *http.Client
}

func NewMomoClientFromEnv() *MomoClient {
	return &MomoClient{
		APIBaseURL: strings.TrimSpace(env.GetEnv("MOMO_API_BASE_URL", "")),
		APIKey:     strings.TrimSpace(env.GetEnv("MOMO_API_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *MomoClient) GetTransaction(ctx context.Context, referenceID string) (*MomoTransaction, error) {
	if c.APIBaseURL == "" || c.APIKey == "" {
		return nil, errors.New("MOMO_API_BASE_URL/MOMO_API_KEY are not configured")
	}
	endpoint := strings.TrimRight(c.APIBaseURL, "/") + "/transactions/" + url.PathEscape(referenceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrInvalidSignature.Withf("provider does not know transaction %s", referenceID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("momo status query failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out MomoTransaction
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MomoStatusSource is the authenticated status lookup the verifier trusts.
type MomoStatusSource interface {
	GetTransaction(ctx context.Context, referenceID string) (*MomoTransaction, error)
}

// MobileMoneyVerifier handles a provider that does not sign callbacks. The
// callback body only says which transaction to look at; the outcome comes
// from the status query.
type MobileMoneyVerifier struct {
	source MomoStatusSource
}

func NewMobileMoneyVerifier(source MomoStatusSource) *MobileMoneyVerifier {
	return &MobileMoneyVerifier{source: source}
}

func (v *MobileMoneyVerifier) Provider() string { return models.ProviderMobileMoney }

func (v *MobileMoneyVerifier) Verify(ctx context.Context, raw []byte, headers http.Header) (*Notification, error) {
	if v.source == nil {
		return nil, ErrNotConfigured
	}
	var callback MomoTransaction
	if err := json.Unmarshal(raw, &callback); err != nil {
		return nil, malformed(err)
	}
	refID := strings.TrimSpace(callback.ReferenceID)
	if refID == "" {
		refID = strings.TrimSpace(callback.FinancialTransactionID)
	}
	if refID == "" || strings.TrimSpace(callback.ExternalID) == "" {
		return nil, ErrMalformedPayload.Withf("momo callback needs referenceId and externalId")
	}

	queried, err := v.source.GetTransaction(ctx, refID)
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			return nil, err
		}
		return nil, fmt.Errorf("momo status query: %w", err)
	}
	// The callback body is untrusted: it must point at the transaction the
	// provider reports for this reference.
	if strings.TrimSpace(queried.ExternalID) != strings.TrimSpace(callback.ExternalID) {
		return nil, ErrInvalidSignature.Withf("momo transaction %s does not belong to reference %s", refID, callback.ExternalID)
	}

	status := strings.ToUpper(strings.TrimSpace(queried.Status))
	n := &Notification{
		Provider:      v.Provider(),
		Event:         "collection." + strings.ToLower(status),
		Reference:     strings.TrimSpace(queried.ExternalID),
		ProviderTxnID: firstNonEmpty(queried.FinancialTransactionID, refID),
		RawPayload:    raw,
		Currency:      strings.ToUpper(strings.TrimSpace(queried.Currency)),
	}
	if n.Amount, err = parseAmount(queried.Amount); err != nil {
		return nil, err
	}
	switch status {
	case momoStatusSuccessful:
		n.Outcome = OutcomeConfirmed
	case momoStatusFailed:
		n.Outcome = OutcomeDeclined
	case momoStatusRejected, momoStatusExpired:
		n.Outcome = OutcomeCancelled
	case momoStatusPending:
		return unsupported(n)
	default:
		return unsupported(n)
	}
	return n, nil
}

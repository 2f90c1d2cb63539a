package verifier

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/internal/pkg/env"
)

const walletSignatureHeader = "X-Wallet-Signature"

// WalletVerifier checks a hex HMAC-SHA256 of the raw JSON body.
type WalletVerifier struct {
	secret string
}

func NewWalletVerifier(secret string) *WalletVerifier {
	return &WalletVerifier{secret: strings.TrimSpace(secret)}
}

func NewWalletVerifierFromEnv() *WalletVerifier {
	return NewWalletVerifier(env.GetEnv("WALLET_WEBHOOK_SECRET", ""))
}

func (v *WalletVerifier) Provider() string { return models.ProviderWallet }

type walletEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID              string `json:"id"`
		ClientReference string `json:"client_reference"`
		Status          string `json:"status"`
	} `json:"data"`
}

func (v *WalletVerifier) Verify(ctx context.Context, raw []byte, headers http.Header) (*Notification, error) {
	if v.secret == "" {
		return nil, ErrNotConfigured
	}
	if !verifySHA256(v.secret, raw, headers.Get(walletSignatureHeader)) {
		return nil, ErrInvalidSignature
	}

	var ev walletEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, malformed(err)
	}

	n := &Notification{
		Provider:      v.Provider(),
		Event:         strings.TrimSpace(ev.Event),
		Reference:     strings.TrimSpace(ev.Data.ClientReference),
		ProviderTxnID: strings.TrimSpace(ev.Data.ID),
		RawPayload:    raw,
	}
	switch n.Event {
	case "payment.succeeded":
		n.Outcome = OutcomeConfirmed
	case "payment.failed":
		n.Outcome = OutcomeDeclined
	case "payment.cancelled":
		n.Outcome = OutcomeCancelled
	default:
		return unsupported(n)
	}
	if n.Reference == "" {
		return nil, ErrMalformedPayload.Withf("wallet event has no client_reference")
	}
	return n, nil
}

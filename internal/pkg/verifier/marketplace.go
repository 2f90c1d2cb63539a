package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/internal/pkg/env"
)

const (
	marketplaceSignatureHeader = "X-Marketplace-Signature"
	marketplaceEventHeader     = "X-Marketplace-Event"
)

// MarketplaceVerifier handles membership checkouts sold through a creator
// marketplace. Signatures are hex HMAC-MD5 of the body, with HMAC-SHA256
// accepted as well.
type MarketplaceVerifier struct {
	secret string
}

func NewMarketplaceVerifier(secret string) *MarketplaceVerifier {
	return &MarketplaceVerifier{secret: strings.TrimSpace(secret)}
}

func NewMarketplaceVerifierFromEnv() *MarketplaceVerifier {
	return NewMarketplaceVerifier(env.GetEnv("MARKETPLACE_WEBHOOK_SECRET", ""))
}

func (v *MarketplaceVerifier) Provider() string { return models.ProviderMarketplace }

// MarketplaceMembership is the subset of the membership resource we read.
type MarketplaceMembership struct {
	MembershipID      string
	MemberStatus      string
	CheckoutReference string
	ChargeID          string
}

func ParseMarketplaceMembership(payload []byte) (*MarketplaceMembership, error) {
	type relData struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	type rawPayload struct {
		Data struct {
			ID         string `json:"id"`
			Type       string `json:"type"`
			Attributes struct {
				Status            string            `json:"status"`
				CheckoutReference string            `json:"checkout_reference"`
				Metadata          map[string]string `json:"metadata"`
			} `json:"attributes"`
			Relationships struct {
				LastCharge struct {
					Data relData `json:"data"`
				} `json:"last_charge"`
			} `json:"relationships"`
		} `json:"data"`
	}

	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	if raw.Data.Type != "" && raw.Data.Type != "membership" {
		return nil, ErrMalformedPayload.Withf("unsupported marketplace data type: %s", raw.Data.Type)
	}

	out := &MarketplaceMembership{
		MembershipID:      strings.TrimSpace(raw.Data.ID),
		MemberStatus:      strings.TrimSpace(raw.Data.Attributes.Status),
		CheckoutReference: strings.TrimSpace(raw.Data.Attributes.CheckoutReference),
		ChargeID:          strings.TrimSpace(raw.Data.Relationships.LastCharge.Data.ID),
	}
	// Older checkouts carried the reference only in metadata.
	if out.CheckoutReference == "" {
		out.CheckoutReference = strings.TrimSpace(raw.Data.Attributes.Metadata["reference"])
	}
	if out.MembershipID == "" {
		return nil, ErrMalformedPayload.Withf("marketplace payload missing membership id")
	}
	return out, nil
}

func (v *MarketplaceVerifier) Verify(ctx context.Context, raw []byte, headers http.Header) (*Notification, error) {
	if v.secret == "" {
		return nil, ErrNotConfigured
	}
	if !verifyMD5OrSHA256(v.secret, raw, headers.Get(marketplaceSignatureHeader)) {
		return nil, ErrInvalidSignature
	}

	membership, err := ParseMarketplaceMembership(raw)
	if err != nil {
		if errors.Is(err, ErrMalformedPayload) {
			return nil, err
		}
		return nil, malformed(err)
	}

	n := &Notification{
		Provider:      v.Provider(),
		Event:         strings.TrimSpace(headers.Get(marketplaceEventHeader)),
		Reference:     membership.CheckoutReference,
		ProviderTxnID: firstNonEmpty(membership.ChargeID, membership.MembershipID),
		RawPayload:    raw,
	}
	// The event header is not covered by the signature. The outcome comes
	// from the signed member status and the header has to agree with it.
	hinted, known := marketplaceEventOutcome(n.Event)
	if !known {
		return unsupported(n)
	}
	outcome, ok := MarketplaceStatusOutcome(membership.MemberStatus)
	if !ok {
		return unsupported(n)
	}
	if hinted != "" && hinted != outcome {
		return nil, ErrInvalidSignature.Withf("event %q does not match signed member status %q", n.Event, membership.MemberStatus)
	}
	n.Outcome = outcome
	if n.Reference == "" {
		return nil, ErrMalformedPayload.Withf("membership %s has no checkout reference", membership.MembershipID)
	}
	return n, nil
}

// MarketplaceStatusOutcome maps the signed member status to a terminal outcome.
func MarketplaceStatusOutcome(status string) (Outcome, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "active_patron":
		return OutcomeConfirmed, true
	case "declined", "declined_patron":
		return OutcomeDeclined, true
	case "former", "former_patron", "cancelled":
		return OutcomeCancelled, true
	default:
		return "", false
	}
}

// marketplaceEventOutcome reports the outcome an event header claims. An
// empty header makes no claim.
func marketplaceEventOutcome(event string) (Outcome, bool) {
	switch event {
	case "":
		return "", true
	case "membership:activated":
		return OutcomeConfirmed, true
	case "membership:payment_failed":
		return OutcomeDeclined, true
	case "membership:cancelled":
		return OutcomeCancelled, true
	default:
		return "", false
	}
}

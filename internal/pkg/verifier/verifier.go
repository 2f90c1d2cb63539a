// Package verifier authenticates inbound payment notifications and reduces
// them to a provider-neutral Notification. Each provider has one variant,
// selected by the route the webhook arrived on.
package verifier

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/ManuelReschke/SignalFox/internal/pkg/apperror"
)

type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeDeclined  Outcome = "declined"
	OutcomeCancelled Outcome = "cancelled"
)

// Notification is the canonical form of a terminal payment notification.
type Notification struct {
	Provider      string
	Event         string
	Reference     string
	Outcome       Outcome
	ProviderTxnID string
	RawPayload    []byte
	// Amount and Currency are set when the provider reports what was paid.
	// Nil means the provider does not say.
	Amount   *float64
	Currency string
}

var (
	ErrInvalidSignature = apperror.Authentication("invalid_signature", "webhook signature verification failed")
	ErrMalformedPayload = apperror.Validation("malformed_payload", "webhook payload could not be parsed")
	// ErrUnsupportedEvent marks authentic notifications without a terminal
	// outcome. Verify still returns the partially filled Notification so the
	// caller can audit it.
	ErrUnsupportedEvent = apperror.Validation("unsupported_event", "event carries no terminal payment outcome")
	ErrNotConfigured    = apperror.New(apperror.KindInternal, "verifier_not_configured", "provider verifier is not configured")
	ErrUnknownProvider  = apperror.NotFound("unknown_provider", "no verifier registered for provider")
)

// Verifier checks authenticity and extracts the canonical notification. It
// has no side effects apart from the outbound status query some providers need.
type Verifier interface {
	Provider() string
	Verify(ctx context.Context, raw []byte, headers http.Header) (*Notification, error)
}

// Registry maps provider names to verifiers.
type Registry struct {
	verifiers map[string]Verifier
}

func NewRegistry(verifiers ...Verifier) *Registry {
	r := &Registry{verifiers: make(map[string]Verifier, len(verifiers))}
	for _, v := range verifiers {
		if v == nil {
			continue
		}
		r.verifiers[v.Provider()] = v
	}
	return r
}

func (r *Registry) Get(provider string) (Verifier, error) {
	v, ok := r.verifiers[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, ErrUnknownProvider.Withf("no verifier registered for %q", provider)
	}
	return v, nil
}

// Providers lists the registered provider names in stable order.
func (r *Registry) Providers() []string {
	out := make([]string, 0, len(r.verifiers))
	for p := range r.verifiers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func unsupported(n *Notification) (*Notification, error) {
	return n, ErrUnsupportedEvent.Withf("event %q carries no terminal payment outcome", n.Event)
}

func malformed(err error) error {
	return ErrMalformedPayload.Wrap(err)
}

// parseAmount reads a decimal amount reported by a provider. An empty value
// yields nil.
func parseAmount(value string) (*float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	amount, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, ErrMalformedPayload.Withf("amount %q is not a number", value)
	}
	return &amount, nil
}

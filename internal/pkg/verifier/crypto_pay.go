package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/internal/pkg/env"
)

const (
	cryptoPayTimestampHeader = "CryptoPay-Timestamp"
	cryptoPayNonceHeader     = "CryptoPay-Nonce"
	cryptoPaySignatureHeader = "CryptoPay-Signature"

	cryptoPayStatusSuccess = "PAY_SUCCESS"
	cryptoPayStatusClosed  = "PAY_CLOSED"
	cryptoPayStatusRefund  = "PAY_REFUND"

	defaultCryptoPaySkew = 5 * time.Minute
)

// CryptoPayVerifier checks HMAC-SHA512 signatures computed over
// "timestamp\nnonce\nbody\n".
type CryptoPayVerifier struct {
	secret  string
	maxSkew time.Duration
	now     func() time.Time
}

func NewCryptoPayVerifier(secret string) *CryptoPayVerifier {
	return &CryptoPayVerifier{
		secret:  strings.TrimSpace(secret),
		maxSkew: defaultCryptoPaySkew,
		now:     time.Now,
	}
}

func NewCryptoPayVerifierFromEnv() *CryptoPayVerifier {
	return NewCryptoPayVerifier(env.GetEnv("CRYPTOPAY_SECRET", ""))
}

// WithClock replaces the clock used for the timestamp skew check.
func (v *CryptoPayVerifier) WithClock(now func() time.Time) *CryptoPayVerifier {
	v.now = now
	return v
}

func (v *CryptoPayVerifier) Provider() string { return models.ProviderCrypto }

type cryptoPayEnvelope struct {
	BizType   string          `json:"bizType"`
	BizID     json.Number     `json:"bizId"`
	BizIDStr  string          `json:"bizIdStr"`
	BizStatus string          `json:"bizStatus"`
	Data      json.RawMessage `json:"data"`
}

type cryptoPayOrder struct {
	MerchantTradeNo string `json:"merchantTradeNo"`
	TransactionID   string `json:"transactionId"`
	TotalFee        string `json:"totalFee"`
	Currency        string `json:"currency"`
}

// CryptoPaySignaturePayload builds the byte string the provider signs.
func CryptoPaySignaturePayload(timestamp, nonce string, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(timestamp)
	buf.WriteByte('\n')
	buf.WriteString(nonce)
	buf.WriteByte('\n')
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes()
}

func (v *CryptoPayVerifier) Verify(ctx context.Context, raw []byte, headers http.Header) (*Notification, error) {
	if v.secret == "" {
		return nil, ErrNotConfigured
	}
	ts := strings.TrimSpace(headers.Get(cryptoPayTimestampHeader))
	nonce := strings.TrimSpace(headers.Get(cryptoPayNonceHeader))
	sig := headers.Get(cryptoPaySignatureHeader)
	if ts == "" || nonce == "" {
		return nil, ErrInvalidSignature.Withf("missing timestamp or nonce header")
	}
	if !verifySHA512(v.secret, CryptoPaySignaturePayload(ts, nonce, raw), sig) {
		return nil, ErrInvalidSignature
	}
	if err := v.checkSkew(ts); err != nil {
		return nil, err
	}

	var envelope cryptoPayEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, malformed(err)
	}
	order, err := decodeCryptoPayOrder(envelope.Data)
	if err != nil {
		return nil, malformed(err)
	}

	n := &Notification{
		Provider:      v.Provider(),
		Event:         strings.TrimSpace(envelope.BizType + "." + envelope.BizStatus),
		Reference:     strings.TrimSpace(order.MerchantTradeNo),
		ProviderTxnID: strings.TrimSpace(order.TransactionID),
		RawPayload:    raw,
	}
	if n.ProviderTxnID == "" {
		n.ProviderTxnID = firstNonEmpty(envelope.BizIDStr, envelope.BizID.String())
	}
	// totalFee is in the stablecoin the order was priced in, so only the
	// amount is comparable with the intent
	if n.Amount, err = parseAmount(order.TotalFee); err != nil {
		return nil, err
	}

	switch envelope.BizStatus {
	case cryptoPayStatusSuccess:
		n.Outcome = OutcomeConfirmed
	case cryptoPayStatusClosed:
		n.Outcome = OutcomeCancelled
	default:
		// refunds and unknown statuses are recorded but change nothing
		return unsupported(n)
	}
	if n.Reference == "" {
		return nil, ErrMalformedPayload.Withf("crypto-pay notification has no merchantTradeNo")
	}
	return n, nil
}

func (v *CryptoPayVerifier) checkSkew(ts string) error {
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature.Withf("timestamp header is not numeric")
	}
	sent := time.UnixMilli(ms)
	diff := v.now().Sub(sent)
	if diff < 0 {
		diff = -diff
	}
	if diff > v.maxSkew {
		return ErrInvalidSignature.Withf("timestamp outside the accepted window")
	}
	return nil
}

// decodeCryptoPayOrder accepts data either as an object or as a JSON string
// holding the object, both of which the provider sends.
func decodeCryptoPayOrder(data json.RawMessage) (*cryptoPayOrder, error) {
	var order cryptoPayOrder
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return &order, nil
	}
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil, err
		}
		trimmed = []byte(inner)
	}
	if err := json.Unmarshal(trimmed, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

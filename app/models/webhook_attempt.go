package models

import "time"

const (
	WebhookReasonDuplicate        = "duplicate"
	WebhookReasonInvalidSignature = "invalid_signature"
	WebhookReasonUnsupportedEvent = "unsupported_event"
	WebhookErrorIntentNotFound    = "intent_not_found"
	WebhookErrorAmountMismatch    = "amount_mismatch"
)

// WebhookAttempt is the append-only audit record of one inbound notification.
type WebhookAttempt struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Provider       string     `gorm:"type:varchar(20);not null;index" json:"provider"`
	Event          string     `gorm:"type:varchar(100);not null;default:''" json:"event"`
	Reference      string     `gorm:"type:varchar(64);not null;default:'';index" json:"reference"`
	Outcome        string     `gorm:"type:varchar(16);default:''" json:"outcome,omitempty"`
	ProviderTxnID  string     `gorm:"type:varchar(191);default:''" json:"provider_txn_id,omitempty"`
	Processed      bool       `gorm:"default:false;index" json:"processed"`
	Ignored        bool       `gorm:"default:false" json:"ignored"`
	Reason         string     `gorm:"type:varchar(100);default:''" json:"reason,omitempty"`
	Error          string     `gorm:"column:error_message;type:text" json:"error,omitempty"`
	SignatureValid bool       `gorm:"default:false" json:"signature_valid"`
	PayloadJSON    string     `gorm:"type:longtext" json:"-"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	ProcessedAt    *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
}

// Errored reports whether the attempt needs operator review.
func (w *WebhookAttempt) Errored() bool {
	return w.Error != ""
}

// Replayable reports whether an errored, authenticated attempt can be run
// through reconciliation again. ProcessedAt is set once a replay succeeds.
// Amount mismatches are final: the stored attempt no longer carries the
// reported amount.
func (w *WebhookAttempt) Replayable() bool {
	return w.Errored() && w.SignatureValid && w.Outcome != "" && w.Reference != "" &&
		w.ProcessedAt == nil && w.Error != WebhookErrorAmountMismatch
}

package billing

import (
	"context"

	"github.com/ManuelReschke/SignalFox/app/models"
)

// Message kinds delivered to users after state changes.
const (
	MessageSubscriptionActivated = "subscription_activated"
	MessageSubscriptionQueued    = "subscription_queued"
	MessagePaymentDeclined       = "payment_declined"
	MessageSubscriptionPromoted  = "subscription_promoted"
	MessageSubscriptionReverted  = "subscription_reverted"
	MessageWithdrawalRequested   = "withdrawal_requested"
	MessageWithdrawalApproved    = "withdrawal_approved"
	MessageWithdrawalDenied      = "withdrawal_denied"
)

// Message is a user-facing notification. Delivery is best effort and never
// affects the state change that produced it.
type Message struct {
	UserID uint              `json:"user_id"`
	Kind   string            `json:"kind"`
	Data   map[string]string `json:"data,omitempty"`
}

// Notifier hands messages to the delivery pipeline.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// ArchiveScheduler schedules the raw payload of an errored audit entry for
// long-term storage.
type ArchiveScheduler interface {
	ScheduleArchive(ctx context.Context, attempt *models.WebhookAttempt) error
}

// NopNotifier drops every message.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Message) error { return nil }

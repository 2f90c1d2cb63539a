package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/SignalFox/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*models.User, error)
	GetByReferralCode(ctx context.Context, code string) (*models.User, error)
	ListReferredBy(ctx context.Context, code string) ([]models.User, error)
	Update(ctx context.Context, user *models.User) error
	TouchAPIKeyUsage(ctx context.Context, id uint, at time.Time) error
}

// PaymentIntentRepository is the intent ledger.
type PaymentIntentRepository interface {
	Create(ctx context.Context, intent *models.PaymentIntent) error
	GetByReference(ctx context.Context, reference string) (*models.PaymentIntent, error)
	SetCheckoutURL(ctx context.Context, reference, checkoutURL string) error
	// CompareAndSwapStatus moves the intent from one status to another in a
	// single conditional UPDATE. It reports false when no row matched.
	CompareAndSwapStatus(ctx context.Context, reference, from, to, providerTxnID string, at time.Time) (bool, error)
	ListByUser(ctx context.Context, userID uint, limit int) ([]models.PaymentIntent, error)
}

// ActiveFields are the columns written when a subscription (re)starts.
type ActiveFields struct {
	PlanID    string
	Amount    float64
	StartDate time.Time
	EndDate   *time.Time
	// UpdatedAt is the caller's clock; zero stamps the current time.
	UpdatedAt time.Time
}

// SubscriptionRepository is plain data access; callers own the invariants.
type SubscriptionRepository interface {
	GetByUserID(ctx context.Context, userID uint) (*models.Subscription, error)
	// GetOrCreateForUpdate makes sure a row exists for the user (free tier)
	// and returns it locked for the rest of the transaction.
	GetOrCreateForUpdate(ctx context.Context, userID uint, now time.Time) (*models.Subscription, error)
	// UpsertActive activates the user's subscription and clears the pending slot.
	UpsertActive(ctx context.Context, userID uint, fields ActiveFields) error
	// SetPending replaces the pending slot; nil clears it.
	SetPending(ctx context.Context, userID uint, pending *models.PendingSubscription, now time.Time) error
	ListExpired(ctx context.Context, now time.Time, afterID uint, limit int) ([]models.Subscription, error)
	// TransitionExpired rewrites an expired row only if it is still expired and
	// unchanged since it was read (same version).
	TransitionExpired(ctx context.Context, id, version uint, now time.Time, fields ActiveFields) (bool, error)
	ListByUserIDs(ctx context.Context, userIDs []uint) ([]models.Subscription, error)
}

// WithdrawalRepository stores partner payout requests.
type WithdrawalRepository interface {
	Create(ctx context.Context, w *models.Withdrawal) error
	GetByID(ctx context.Context, id uint) (*models.Withdrawal, error)
	HasPending(ctx context.Context, partnerID uint) (bool, error)
	// SumCommitted totals pending and approved requests for the partner.
	SumCommitted(ctx context.Context, partnerID uint) (float64, error)
	// Resolve moves a pending withdrawal to a terminal status. It reports
	// false when the row is not pending anymore.
	Resolve(ctx context.Context, id uint, status string, processedBy uint, note string, at time.Time) (bool, error)
	ListByPartner(ctx context.Context, partnerID uint) ([]models.Withdrawal, error)
	ListByStatus(ctx context.Context, status string, offset, limit int) ([]models.Withdrawal, error)
}

// WebhookAttemptFilter narrows audit log listings.
type WebhookAttemptFilter struct {
	Provider    string
	Reference   string
	ErroredOnly bool
	Offset      int
	Limit       int
}

// WebhookAttemptRepository is the append-only audit log.
type WebhookAttemptRepository interface {
	Create(ctx context.Context, attempt *models.WebhookAttempt) error
	GetByID(ctx context.Context, id uint) (*models.WebhookAttempt, error)
	MarkProcessed(ctx context.Context, id uint, at time.Time) error
	List(ctx context.Context, filter WebhookAttemptFilter) ([]models.WebhookAttempt, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	db *gorm.DB

	User           UserRepository
	Intent         PaymentIntentRepository
	Subscription   SubscriptionRepository
	Withdrawal     WithdrawalRepository
	WebhookAttempt WebhookAttemptRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:             db,
		User:           NewUserRepository(db),
		Intent:         NewPaymentIntentRepository(db),
		Subscription:   NewSubscriptionRepository(db),
		Withdrawal:     NewWithdrawalRepository(db),
		WebhookAttempt: NewWebhookAttemptRepository(db),
	}
}

// Transaction runs fn with repositories bound to one database transaction.
// Returning an error from fn rolls everything back.
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}

package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/SignalFox/app/models"
	"gorm.io/gorm"
)

type paymentIntentRepository struct {
	db *gorm.DB
}

func NewPaymentIntentRepository(db *gorm.DB) PaymentIntentRepository {
	return &paymentIntentRepository{db: db}
}

func (r *paymentIntentRepository) Create(ctx context.Context, intent *models.PaymentIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *paymentIntentRepository) GetByReference(ctx context.Context, reference string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *paymentIntentRepository) SetCheckoutURL(ctx context.Context, reference, checkoutURL string) error {
	return r.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("reference = ?", reference).
		Update("checkout_url", checkoutURL).Error
}

func (r *paymentIntentRepository) CompareAndSwapStatus(ctx context.Context, reference, from, to, providerTxnID string, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":      to,
		"resolved_at": at,
		"updated_at":  at,
	}
	if providerTxnID != "" {
		updates["provider_txn_id"] = providerTxnID
	}
	tx := r.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("reference = ? AND status = ?", reference, from).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *paymentIntentRepository) ListByUser(ctx context.Context, userID uint, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&intents).Error
	return intents, err
}

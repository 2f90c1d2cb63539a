package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/SignalFox/app/models"
	"gorm.io/gorm"
)

type webhookAttemptRepository struct {
	db *gorm.DB
}

func NewWebhookAttemptRepository(db *gorm.DB) WebhookAttemptRepository {
	return &webhookAttemptRepository{db: db}
}

func (r *webhookAttemptRepository) Create(ctx context.Context, attempt *models.WebhookAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *webhookAttemptRepository) GetByID(ctx context.Context, id uint) (*models.WebhookAttempt, error) {
	var attempt models.WebhookAttempt
	err := r.db.WithContext(ctx).First(&attempt, id).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// MarkProcessed is the only mutation allowed on an audit entry.
func (r *webhookAttemptRepository) MarkProcessed(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.WebhookAttempt{}).
		Where("id = ? AND processed_at IS NULL", id).
		UpdateColumn("processed_at", at).Error
}

func (r *webhookAttemptRepository) List(ctx context.Context, filter WebhookAttemptFilter) ([]models.WebhookAttempt, error) {
	var attempts []models.WebhookAttempt
	q := r.db.WithContext(ctx).Order("id DESC").Offset(filter.Offset)
	if filter.Provider != "" {
		q = q.Where("provider = ?", filter.Provider)
	}
	if filter.Reference != "" {
		q = q.Where("reference = ?", filter.Reference)
	}
	if filter.ErroredOnly {
		q = q.Where("error_message <> ''")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	err := q.Limit(limit).Find(&attempts).Error
	return attempts, err
}

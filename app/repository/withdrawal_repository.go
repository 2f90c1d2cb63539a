package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/SignalFox/app/models"
	"gorm.io/gorm"
)

type withdrawalRepository struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) WithdrawalRepository {
	return &withdrawalRepository{db: db}
}

// Create stores a new pending request. A second pending request for the same
// partner fails on the pending_partner_id unique index.
func (r *withdrawalRepository) Create(ctx context.Context, w *models.Withdrawal) error {
	if w.Status == "" {
		w.Status = models.WithdrawalStatusPending
	}
	if w.Status == models.WithdrawalStatusPending {
		partnerID := w.PartnerID
		w.PendingPartnerID = &partnerID
	}
	return r.db.WithContext(ctx).Create(w).Error
}

func (r *withdrawalRepository) GetByID(ctx context.Context, id uint) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := r.db.WithContext(ctx).First(&w, id).Error
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *withdrawalRepository) HasPending(ctx context.Context, partnerID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Withdrawal{}).
		Where("partner_id = ? AND status = ?", partnerID, models.WithdrawalStatusPending).
		Count(&count).Error
	return count > 0, err
}

func (r *withdrawalRepository) SumCommitted(ctx context.Context, partnerID uint) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).Model(&models.Withdrawal{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("partner_id = ? AND status IN ?", partnerID,
			[]string{models.WithdrawalStatusPending, models.WithdrawalStatusApproved}).
		Scan(&total).Error
	return total, err
}

func (r *withdrawalRepository) Resolve(ctx context.Context, id uint, status string, processedBy uint, note string, at time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", id, models.WithdrawalStatusPending).
		Updates(map[string]interface{}{
			"status":             status,
			"pending_partner_id": nil,
			"processed_at":       at,
			"processed_by":       processedBy,
			"note":               note,
			"updated_at":         at,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *withdrawalRepository) ListByPartner(ctx context.Context, partnerID uint) ([]models.Withdrawal, error) {
	var list []models.Withdrawal
	err := r.db.WithContext(ctx).Where("partner_id = ?", partnerID).Order("id DESC").Find(&list).Error
	return list, err
}

func (r *withdrawalRepository) ListByStatus(ctx context.Context, status string, offset, limit int) ([]models.Withdrawal, error) {
	var list []models.Withdrawal
	q := r.db.WithContext(ctx).Order("id ASC").Offset(offset)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&list).Error
	return list, err
}

package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/SignalFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type subscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) GetByUserID(ctx context.Context, userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetOrCreateForUpdate(ctx context.Context, userID uint, now time.Time) (*models.Subscription, error) {
	free := &models.Subscription{
		UserID:    userID,
		Status:    models.SubscriptionStatusActive,
		PlanID:    models.FreePlanID,
		StartDate: now,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(free).Error; err != nil {
		return nil, err
	}

	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) UpsertActive(ctx context.Context, userID uint, fields ActiveFields) error {
	sub := &models.Subscription{
		UserID:    userID,
		Status:    models.SubscriptionStatusActive,
		PlanID:    fields.PlanID,
		Amount:    fields.Amount,
		StartDate: fields.StartDate,
		EndDate:   fields.EndDate,
		Version:   1,
		CreatedAt: stamp(fields.UpdatedAt),
		UpdatedAt: stamp(fields.UpdatedAt),
	}
	assignments := activeColumns(fields)
	assignments["version"] = gorm.Expr("version + 1")

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(sub).Error
}

func (r *subscriptionRepository) SetPending(ctx context.Context, userID uint, pending *models.PendingSubscription, now time.Time) error {
	updates := models.PendingColumns(pending)
	updates["version"] = gorm.Expr("version + 1")
	updates["updated_at"] = stamp(now)
	tx := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("user_id = ?", userID).
		Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *subscriptionRepository) ListExpired(ctx context.Context, now time.Time, afterID uint, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_date IS NOT NULL AND end_date <= ? AND id > ?", models.SubscriptionStatusActive, now, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *subscriptionRepository) TransitionExpired(ctx context.Context, id, version uint, now time.Time, fields ActiveFields) (bool, error) {
	fields.UpdatedAt = now
	updates := activeColumns(fields)
	updates["version"] = gorm.Expr("version + 1")
	tx := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND version = ? AND status = ? AND end_date IS NOT NULL AND end_date <= ?",
			id, version, models.SubscriptionStatusActive, now).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *subscriptionRepository) ListByUserIDs(ctx context.Context, userIDs []uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	if len(userIDs) == 0 {
		return subs, nil
	}
	err := r.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&subs).Error
	return subs, err
}

// activeColumns is the column set for a running subscription with an empty
// pending slot.
func activeColumns(fields ActiveFields) map[string]interface{} {
	cols := models.PendingColumns(nil)
	cols["status"] = models.SubscriptionStatusActive
	cols["plan_id"] = fields.PlanID
	cols["amount"] = fields.Amount
	cols["start_date"] = fields.StartDate
	cols["end_date"] = fields.EndDate
	cols["updated_at"] = stamp(fields.UpdatedAt)
	return cols
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

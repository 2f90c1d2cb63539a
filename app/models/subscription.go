package models

import "time"

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusInactive = "inactive"
)

// FreePlanID is the permanent tier users fall back to.
const FreePlanID = "free"

// Subscription is the single authoritative subscription row per user. The
// queued follow-up subscription lives in the nullable pending_* columns.
type Subscription struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	UserID                uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	Status                string     `gorm:"type:varchar(16);not null;default:'active';index:idx_subscriptions_status_end,priority:1" json:"status"`
	PlanID                string     `gorm:"type:varchar(32);not null;default:'free'" json:"plan_id"`
	Amount                float64    `gorm:"type:decimal(12,2);not null;default:0" json:"amount"`
	StartDate             time.Time  `gorm:"type:timestamp;not null" json:"start_date"`
	EndDate               *time.Time `gorm:"type:timestamp;default:null;index:idx_subscriptions_status_end,priority:2" json:"end_date"`
	PendingPlanID         *string    `gorm:"type:varchar(32);default:null" json:"-"`
	PendingAmount         *float64   `gorm:"type:decimal(12,2);default:null" json:"-"`
	PendingDurationDays   *int       `gorm:"default:null" json:"-"`
	PendingScheduledStart *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	Version               uint       `gorm:"not null;default:1" json:"-"`
	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PendingSubscription is the single-slot queue entry.
type PendingSubscription struct {
	PlanID             string    `json:"plan_id"`
	Amount             float64   `json:"amount"`
	DurationDays       int       `json:"duration_days"`
	ScheduledStartDate time.Time `json:"scheduled_start_date"`
}

// Pending returns the queued subscription or nil.
func (s *Subscription) Pending() *PendingSubscription {
	if s.PendingPlanID == nil || s.PendingDurationDays == nil {
		return nil
	}
	p := &PendingSubscription{PlanID: *s.PendingPlanID, DurationDays: *s.PendingDurationDays}
	if s.PendingAmount != nil {
		p.Amount = *s.PendingAmount
	}
	if s.PendingScheduledStart != nil {
		p.ScheduledStartDate = *s.PendingScheduledStart
	}
	return p
}

// PendingColumns returns the column map that stores p (nil clears the slot).
func PendingColumns(p *PendingSubscription) map[string]any {
	if p == nil {
		return map[string]any{
			"pending_plan_id":         nil,
			"pending_amount":          nil,
			"pending_duration_days":   nil,
			"pending_scheduled_start": nil,
		}
	}
	return map[string]any{
		"pending_plan_id":         p.PlanID,
		"pending_amount":          p.Amount,
		"pending_duration_days":   p.DurationDays,
		"pending_scheduled_start": p.ScheduledStartDate.UTC(),
	}
}

// ActiveAt reports whether a paid period is still running at now. The free
// tier has no end date and never counts.
func (s *Subscription) ActiveAt(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && s.EndDate != nil && s.EndDate.After(now)
}

// ExpiredAt reports whether the sweeper should act on this row.
func (s *Subscription) ExpiredAt(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && s.EndDate != nil && !s.EndDate.After(now)
}

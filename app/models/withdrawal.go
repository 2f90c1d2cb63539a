package models

import "time"

const (
	WithdrawalStatusPending  = "pending"
	WithdrawalStatusApproved = "approved"
	WithdrawalStatusDenied   = "denied"
)

// Withdrawal is a partner payout request. PendingPartnerID mirrors PartnerID
// while the request is pending and is cleared on approve/deny; its unique
// index allows at most one pending request per partner.
type Withdrawal struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	PartnerID        uint       `gorm:"not null;index" json:"partner_id"`
	Amount           float64    `gorm:"type:decimal(12,2);not null" json:"amount"`
	Fee              float64    `gorm:"type:decimal(12,2);not null" json:"fee"`
	NetAmount        float64    `gorm:"type:decimal(12,2);not null" json:"net_amount"`
	Status           string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	PendingPartnerID *uint      `gorm:"uniqueIndex;default:null" json:"-"`
	ProcessedAt      *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessedBy      *uint      `gorm:"default:null" json:"processed_by,omitempty"`
	Note             string     `gorm:"type:text" json:"note,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (w *Withdrawal) IsPending() bool {
	return w.Status == WithdrawalStatusPending
}

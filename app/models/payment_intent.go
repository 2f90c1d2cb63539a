package models

import "time"

const (
	IntentStatusPending   = "pending"
	IntentStatusCompleted = "completed"
	IntentStatusDeclined  = "declined"
)

const (
	ProviderCard        = "card"
	ProviderCrypto      = "crypto"
	ProviderWallet      = "wallet"
	ProviderMobileMoney = "momo"
	ProviderMarketplace = "marketplace"
)

// PaymentIntent is one checkout attempt. Status leaves pending exactly once.
type PaymentIntent struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Reference     string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"reference"`
	UserID        uint       `gorm:"not null;index" json:"user_id"`
	PlanID        string     `gorm:"type:varchar(32);not null" json:"plan_id"`
	Provider      string     `gorm:"type:varchar(20);not null;index" json:"provider"`
	Amount        float64    `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency      string     `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	Status        string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	ProviderTxnID string     `gorm:"type:varchar(191);default:''" json:"provider_txn_id,omitempty"`
	CheckoutURL   string     `gorm:"type:text" json:"checkout_url,omitempty"`
	ResolvedAt    *time.Time `gorm:"type:timestamp;default:null" json:"resolved_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *PaymentIntent) IsPending() bool {
	return p.Status == IntentStatusPending
}

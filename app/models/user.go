package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	ROLE_USER       = "user"
	ROLE_AFFILIATE  = "affiliate"
	ROLE_PARTNER    = "partner"
	ROLE_ADMIN      = "admin"
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

// User is the account row. Role-specific columns (referral code, revenue
// share, approval) are only meaningful for the role that owns them; use
// Profile() to read them.
type User struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	Name             string         `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email            string         `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Role             string         `gorm:"type:varchar(50);default:'user'" json:"role" validate:"oneof=user affiliate partner admin"`
	Status           string         `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`
	ReferralCode     *string        `gorm:"type:varchar(32);uniqueIndex" json:"referral_code,omitempty" validate:"omitempty,alphanum,min=4,max=32"`
	RevenueShare     float64        `gorm:"type:decimal(5,4);default:0" json:"revenue_share" validate:"gte=0,lte=1"`
	PartnerApproved  bool           `gorm:"default:false" json:"partner_approved"`
	ReferredByCode   string         `gorm:"type:varchar(32);index;default:''" json:"referred_by_code,omitempty"`
	APIKeyHash       string         `gorm:"type:char(64);index;default:''" json:"-"`
	APIKeyPrefix     string         `gorm:"type:varchar(20);default:''" json:"api_key_prefix"`
	APIKeyCreatedAt  *time.Time     `json:"api_key_created_at"`
	APIKeyLastUsedAt *time.Time     `json:"api_key_last_used_at"`
	APIKeyRevokedAt  *time.Time     `json:"api_key_revoked_at"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// CreateUser builds a regular user. referredBy is the referral code the user
// signed up with, if any; it never changes afterwards.
func CreateUser(name, email, referredBy string) (*User, error) {
	u := &User{
		Name:           name,
		Email:          email,
		Role:           ROLE_USER,
		Status:         STATUS_ACTIVE,
		ReferredByCode: strings.TrimSpace(referredBy),
	}

	if err := u.Validate(); err != nil {
		return nil, err
	}

	return u, nil
}

// IsActive reports whether the user status is active
func (u *User) IsActive() bool {
	return u.Status == STATUS_ACTIVE
}

func (u *User) IsAdmin() bool {
	return u.Role == ROLE_ADMIN
}

package billing

import (
	"context"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/app/repository"
	"github.com/ManuelReschke/SignalFox/internal/pkg/apperror"
)

var (
	ErrPartnerNotFound = apperror.NotFound("partner_not_found", "partner not found")
	ErrNotReferrer     = apperror.State("not_a_referrer", "account has no referral profile")
)

type ReferralCommission struct {
	UserID              uint    `json:"user_id"`
	PlanID              string  `json:"plan_id"`
	SubscriptionAmount  float64 `json:"subscription_amount"`
	IsPaid              bool    `json:"is_paid"`
	CommissionGenerated float64 `json:"commission_generated"`
}

type CommissionReport struct {
	PartnerID    uint                 `json:"partner_id"`
	ReferralCode string               `json:"referral_code"`
	RevenueShare float64              `json:"revenue_share"`
	Referrals    []ReferralCommission `json:"referrals"`
	Total        float64              `json:"total"`
}

// CommissionService projects earned commission from the referred users'
// current subscriptions. Nothing is persisted; every call recomputes with
// the referrer's current revenue share.
type CommissionService struct {
	users repository.UserRepository
	subs  repository.SubscriptionRepository
}

func NewCommissionService(users repository.UserRepository, subs repository.SubscriptionRepository) *CommissionService {
	return &CommissionService{users: users, subs: subs}
}

func (s *CommissionService) Compute(ctx context.Context, partnerID uint) (*CommissionReport, error) {
	partner, err := s.users.GetByID(ctx, partnerID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrPartnerNotFound
		}
		return nil, apperror.Internal("partner_lookup_failed", err)
	}
	referrer, ok := partner.Profile().(models.Referrer)
	if !ok || referrer.Code() == "" {
		return nil, ErrNotReferrer
	}
	return s.ComputeFor(ctx, partnerID, referrer)
}

// ComputeFor builds the report for an already loaded referrer profile.
func (s *CommissionService) ComputeFor(ctx context.Context, partnerID uint, referrer models.Referrer) (*CommissionReport, error) {
	referred, err := s.users.ListReferredBy(ctx, referrer.Code())
	if err != nil {
		return nil, apperror.Internal("referral_lookup_failed", err)
	}

	ids := make([]uint, 0, len(referred))
	for _, u := range referred {
		ids = append(ids, u.ID)
	}
	subs, err := s.subs.ListByUserIDs(ctx, ids)
	if err != nil {
		return nil, apperror.Internal("subscription_lookup_failed", err)
	}
	byUser := make(map[uint]models.Subscription, len(subs))
	for _, sub := range subs {
		byUser[sub.UserID] = sub
	}

	report := &CommissionReport{
		PartnerID:    partnerID,
		ReferralCode: referrer.Code(),
		RevenueShare: referrer.Share(),
		Referrals:    make([]ReferralCommission, 0, len(referred)),
	}
	for _, u := range referred {
		rc := ReferralCommission{UserID: u.ID, PlanID: models.FreePlanID}
		if sub, ok := byUser[u.ID]; ok && sub.Status == models.SubscriptionStatusActive {
			rc.PlanID = sub.PlanID
			rc.SubscriptionAmount = sub.Amount
		}
		rc.IsPaid = rc.SubscriptionAmount > 0
		if rc.IsPaid {
			rc.CommissionGenerated = roundMoney(rc.SubscriptionAmount * referrer.Share())
		}
		report.Total += rc.CommissionGenerated
		report.Referrals = append(report.Referrals, rc)
	}
	report.Total = roundMoney(report.Total)
	return report, nil
}

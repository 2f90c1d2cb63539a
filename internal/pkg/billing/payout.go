package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/app/repository"
	"github.com/ManuelReschke/SignalFox/internal/pkg/apperror"
	"github.com/ManuelReschke/SignalFox/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
)

var (
	ErrBelowMinimum       = apperror.Validation("below_minimum_withdrawal", "amount is below the minimum withdrawal")
	ErrInsufficientFunds  = apperror.Validation("insufficient_balance", "amount exceeds the available commission balance")
	ErrPartnerNotEligible = apperror.State("partner_not_eligible", "only approved partners can request withdrawals")
	ErrWithdrawalPending  = apperror.Conflict("withdrawal_pending", "a withdrawal request is already pending")
	ErrWithdrawalNotFound = apperror.NotFound("withdrawal_not_found", "withdrawal not found")
	ErrWithdrawalResolved = apperror.State("withdrawal_resolved", "withdrawal has already been processed")
)

// PayoutPolicy holds the withdrawal constants.
type PayoutPolicy struct {
	MinimumWithdrawal float64
	FeeRate           float64
}

func DefaultPayoutPolicy() PayoutPolicy {
	return PayoutPolicy{MinimumWithdrawal: 50.00, FeeRate: 0.06}
}

func PayoutPolicyFromEnv() PayoutPolicy {
	def := DefaultPayoutPolicy()
	return PayoutPolicy{
		MinimumWithdrawal: env.GetEnvFloat("WITHDRAWAL_MIN_AMOUNT", def.MinimumWithdrawal),
		FeeRate:           env.GetEnvFloat("WITHDRAWAL_FEE_RATE", def.FeeRate),
	}
}

// Split returns fee and net amount for a gross withdrawal amount.
func (p PayoutPolicy) Split(amount float64) (fee, net float64) {
	fee = roundMoney(amount * p.FeeRate)
	net = roundMoney(amount - fee)
	return fee, net
}

type Balance struct {
	Earned    float64 `json:"earned"`
	Committed float64 `json:"committed"`
	Available float64 `json:"available"`
}

// PayoutService implements the withdrawal state machine
// pending -> approved | denied.
type PayoutService struct {
	repos      *repository.Repositories
	commission *CommissionService
	policy     PayoutPolicy
	notifier   Notifier
	now        func() time.Time
}

func NewPayoutService(repos *repository.Repositories, commission *CommissionService, policy PayoutPolicy, notifier Notifier) *PayoutService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &PayoutService{repos: repos, commission: commission, policy: policy, notifier: notifier, now: time.Now}
}

func (s *PayoutService) WithClock(now func() time.Time) *PayoutService {
	s.now = now
	return s
}

func (s *PayoutService) Policy() PayoutPolicy {
	return s.policy
}

// Balance is earned commission minus pending and approved withdrawals.
func (s *PayoutService) Balance(ctx context.Context, partnerID uint) (*Balance, error) {
	report, err := s.commission.Compute(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	committed, err := s.repos.Withdrawal.SumCommitted(ctx, partnerID)
	if err != nil {
		return nil, apperror.Internal("withdrawal_sum_failed", err)
	}
	return &Balance{
		Earned:    report.Total,
		Committed: roundMoney(committed),
		Available: roundMoney(report.Total - committed),
	}, nil
}

func (s *PayoutService) Request(ctx context.Context, partnerID uint, amount float64) (*models.Withdrawal, error) {
	amount = roundMoney(amount)
	if amount < s.policy.MinimumWithdrawal {
		return nil, ErrBelowMinimum.Withf("minimum withdrawal is %.2f", s.policy.MinimumWithdrawal)
	}

	partner, err := s.repos.User.GetByID(ctx, partnerID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrPartnerNotFound
		}
		return nil, apperror.Internal("partner_lookup_failed", err)
	}
	profile, ok := partner.Profile().(models.PartnerProfile)
	if !ok || !profile.Approved {
		return nil, ErrPartnerNotEligible
	}

	pending, err := s.repos.Withdrawal.HasPending(ctx, partnerID)
	if err != nil {
		return nil, apperror.Internal("withdrawal_lookup_failed", err)
	}
	if pending {
		return nil, ErrWithdrawalPending
	}

	balance, err := s.Balance(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if amount > balance.Available {
		return nil, ErrInsufficientFunds.Withf("available balance is %.2f", balance.Available)
	}

	fee, net := s.policy.Split(amount)
	w := &models.Withdrawal{
		PartnerID: partnerID,
		Amount:    amount,
		Fee:       fee,
		NetAmount: net,
		Status:    models.WithdrawalStatusPending,
	}
	if err := s.repos.Withdrawal.Create(ctx, w); err != nil {
		// lost the race against a concurrent request
		if repository.IsDuplicateKey(err) {
			return nil, ErrWithdrawalPending
		}
		return nil, apperror.Internal("withdrawal_create_failed", err)
	}

	log.Infof("[Payout] partner=%d requested withdrawal %d amount=%.2f net=%.2f", partnerID, w.ID, w.Amount, w.NetAmount)
	s.notify(ctx, w, MessageWithdrawalRequested)
	return w, nil
}

func (s *PayoutService) Approve(ctx context.Context, id, adminID uint) (*models.Withdrawal, error) {
	return s.resolve(ctx, id, adminID, models.WithdrawalStatusApproved, "")
}

func (s *PayoutService) Deny(ctx context.Context, id, adminID uint, note string) (*models.Withdrawal, error) {
	return s.resolve(ctx, id, adminID, models.WithdrawalStatusDenied, note)
}

func (s *PayoutService) resolve(ctx context.Context, id, adminID uint, status, note string) (*models.Withdrawal, error) {
	now := s.now().UTC()
	swapped, err := s.repos.Withdrawal.Resolve(ctx, id, status, adminID, note, now)
	if err != nil {
		return nil, apperror.Internal("withdrawal_resolve_failed", err)
	}

	w, err := s.repos.Withdrawal.GetByID(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, apperror.Internal("withdrawal_lookup_failed", err)
	}
	if !swapped {
		return nil, ErrWithdrawalResolved.Withf("withdrawal %d is already %s", id, w.Status)
	}

	log.Infof("[Payout] admin=%d set withdrawal %d to %s", adminID, id, status)
	kind := MessageWithdrawalApproved
	if status == models.WithdrawalStatusDenied {
		kind = MessageWithdrawalDenied
	}
	s.notify(ctx, w, kind)
	return w, nil
}

func (s *PayoutService) ListForPartner(ctx context.Context, partnerID uint) ([]models.Withdrawal, error) {
	list, err := s.repos.Withdrawal.ListByPartner(ctx, partnerID)
	if err != nil {
		return nil, apperror.Internal("withdrawal_list_failed", err)
	}
	return list, nil
}

func (s *PayoutService) ListByStatus(ctx context.Context, status string, offset, limit int) ([]models.Withdrawal, error) {
	switch status {
	case "", models.WithdrawalStatusPending, models.WithdrawalStatusApproved, models.WithdrawalStatusDenied:
	default:
		return nil, apperror.Validation("invalid_status", fmt.Sprintf("unknown withdrawal status %q", status))
	}
	list, err := s.repos.Withdrawal.ListByStatus(ctx, status, offset, limit)
	if err != nil {
		return nil, apperror.Internal("withdrawal_list_failed", err)
	}
	return list, nil
}

func (s *PayoutService) notify(ctx context.Context, w *models.Withdrawal, kind string) {
	msg := Message{
		UserID: w.PartnerID,
		Kind:   kind,
		Data: map[string]string{
			"withdrawal_id": fmt.Sprintf("%d", w.ID),
			"amount":        fmt.Sprintf("%.2f", w.Amount),
			"net_amount":    fmt.Sprintf("%.2f", w.NetAmount),
		},
	}
	if w.Note != "" {
		msg.Data["note"] = w.Note
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		log.Warnf("[Payout] Failed to enqueue %s notification for withdrawal %d: %v", kind, w.ID, err)
	}
}

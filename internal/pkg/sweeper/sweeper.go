package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/app/repository"
	"github.com/ManuelReschke/SignalFox/internal/pkg/apperror"
	"github.com/ManuelReschke/SignalFox/internal/pkg/billing"
	"github.com/ManuelReschke/SignalFox/internal/pkg/cache"
)

const (
	LockKey          = "lock:subscription_sweep"
	DefaultBatchSize = 200
	DefaultLockTTL   = 10 * time.Minute
)

var ErrSweepInProgress = apperror.Conflict("sweep_in_progress", "another subscription sweep is running")

// Locker serializes sweeps across processes.
type Locker interface {
	Acquire(ctx context.Context) (func(), error)
}

// Report summarizes one sweep pass.
type Report struct {
	SweptAt  time.Time `json:"swept_at"`
	Scanned  int       `json:"scanned"`
	Promoted int       `json:"promoted"`
	Reverted int       `json:"reverted"`
	Skipped  int       `json:"skipped"`
}

// Sweeper resolves expired subscriptions: a queued follow-up is promoted,
// otherwise the user drops to the free tier.
type Sweeper struct {
	subs      repository.SubscriptionRepository
	lock      Locker
	notifier  billing.Notifier
	now       func() time.Time
	batchSize int
}

func New(subs repository.SubscriptionRepository, lock Locker, notifier billing.Notifier) *Sweeper {
	if notifier == nil {
		notifier = billing.NopNotifier{}
	}
	return &Sweeper{
		subs:      subs,
		lock:      lock,
		notifier:  notifier,
		now:       time.Now,
		batchSize: DefaultBatchSize,
	}
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

func (s *Sweeper) WithBatchSize(n int) *Sweeper {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

// Run performs one sweep under the scheduling lock.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	if s.lock != nil {
		release, err := s.lock.Acquire(ctx)
		if err != nil {
			if errors.Is(err, cache.ErrLockHeld) {
				log.Warn("[Sweeper] Skipping run, another sweep holds the lock")
				return nil, ErrSweepInProgress
			}
			return nil, apperror.Internal("sweep_lock_failed", err)
		}
		defer release()
	}
	return s.sweep(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) (*Report, error) {
	now := s.now().UTC()
	report := &Report{SweptAt: now}

	var cursor uint
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		batch, err := s.subs.ListExpired(ctx, now, cursor, s.batchSize)
		if err != nil {
			return report, apperror.Internal("sweep_list_failed", err)
		}
		if len(batch) == 0 {
			break
		}
		for i := range batch {
			sub := &batch[i]
			cursor = sub.ID
			report.Scanned++
			if err := s.transition(ctx, sub, now, report); err != nil {
				// one bad row must not block the rest of the pass
				log.Errorf("[Sweeper] subscription=%d user=%d: %v", sub.ID, sub.UserID, err)
				report.Skipped++
			}
		}
		if len(batch) < s.batchSize {
			break
		}
	}

	if report.Scanned > 0 {
		log.Infof("[Sweeper] Swept %d subscriptions: promoted=%d reverted=%d skipped=%d",
			report.Scanned, report.Promoted, report.Reverted, report.Skipped)
	}
	return report, nil
}

func (s *Sweeper) transition(ctx context.Context, sub *models.Subscription, now time.Time, report *Report) error {
	pending := sub.Pending()

	fields := repository.ActiveFields{PlanID: models.FreePlanID, StartDate: now}
	kind := billing.MessageSubscriptionReverted
	if pending != nil {
		end := now.AddDate(0, 0, pending.DurationDays)
		fields = repository.ActiveFields{
			PlanID:    pending.PlanID,
			Amount:    pending.Amount,
			StartDate: now,
			EndDate:   &end,
		}
		kind = billing.MessageSubscriptionPromoted
	}

	ok, err := s.subs.TransitionExpired(ctx, sub.ID, sub.Version, now, fields)
	if err != nil {
		return fmt.Errorf("transition failed: %w", err)
	}
	if !ok {
		// changed under us (payment landed or another sweep won)
		log.Debugf("[Sweeper] subscription=%d changed since read, skipping", sub.ID)
		report.Skipped++
		return nil
	}

	data := map[string]string{"plan_id": fields.PlanID}
	if pending != nil {
		report.Promoted++
		data["end_date"] = fields.EndDate.Format(time.RFC3339)
	} else {
		report.Reverted++
	}
	if err := s.notifier.Notify(ctx, billing.Message{UserID: sub.UserID, Kind: kind, Data: data}); err != nil {
		log.Warnf("[Sweeper] notify user=%d failed: %v", sub.UserID, err)
	}
	return nil
}

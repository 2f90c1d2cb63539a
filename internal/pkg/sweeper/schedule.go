package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SignalFox/internal/pkg/env"
)

// Config controls the in-process schedule. The HTTP cron trigger works
// regardless of Enabled.
type Config struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
	LockTTL   time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Enabled:   env.GetEnvBool("SWEEP_SCHEDULE_ENABLED", true),
		Interval:  time.Duration(env.GetEnvInt("SWEEP_INTERVAL_MINUTES", 1440)) * time.Minute,
		BatchSize: env.GetEnvInt("SWEEP_BATCH_SIZE", DefaultBatchSize),
		LockTTL:   time.Duration(env.GetEnvInt("SWEEP_LOCK_TTL_SECONDS", int(DefaultLockTTL/time.Second))) * time.Second,
	}
}

// Schedule registers the sweep as a gocron job and starts the scheduler.
// The caller owns Shutdown.
func Schedule(s *Sweeper, interval time.Duration) (gocron.Scheduler, error) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			if _, err := s.Run(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
				log.Errorf("[Sweeper] Scheduled sweep failed: %v", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("subscription_sweep"),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}

	sched.Start()
	log.Infof("[Sweeper] Scheduled every %s", interval)
	return sched, nil
}

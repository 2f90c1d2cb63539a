package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SignalFox/app/controllers"
	"github.com/ManuelReschke/SignalFox/app/repository"
	"github.com/ManuelReschke/SignalFox/internal/pkg/archive"
	"github.com/ManuelReschke/SignalFox/internal/pkg/billing"
	"github.com/ManuelReschke/SignalFox/internal/pkg/cache"
	"github.com/ManuelReschke/SignalFox/internal/pkg/database"
	"github.com/ManuelReschke/SignalFox/internal/pkg/env"
	"github.com/ManuelReschke/SignalFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/SignalFox/internal/pkg/mail"
	"github.com/ManuelReschke/SignalFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/SignalFox/internal/pkg/router"
	"github.com/ManuelReschke/SignalFox/internal/pkg/sweeper"
	"github.com/ManuelReschke/SignalFox/internal/pkg/verifier"
)

// Application bundles the HTTP app with the background workers that must be
// stopped on shutdown.
type Application struct {
	App       *fiber.App
	jobs      *jobqueue.Manager
	scheduler gocron.Scheduler
	cache     *redis.Client
	db        *gorm.DB
}

func main() {
	a, err := NewApplication(context.Background())
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := a.App.Listen(addr); err != nil {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	a.Shutdown(10 * time.Second)
}

func NewApplication(ctx context.Context) (*Application, error) {
	env.SetupEnvFile()

	db, err := database.Open(database.ConfigFromEnv())
	if err != nil {
		return nil, err
	}
	client := cache.NewClient(ctx, cache.ConfigFromEnv())
	repos := repository.NewFactory(db).GetRepositories()

	// background jobs
	queue := jobqueue.NewQueue(client, env.GetEnvInt("JOB_QUEUE_WORKERS", 3))
	jobs := jobqueue.NewManager(queue)

	archiveCfg, err := archive.LoadConfig()
	if err != nil {
		return nil, err
	}
	if archiveCfg.IsEnabled() {
		store, err := archive.NewClient(ctx, archiveCfg)
		if err != nil {
			return nil, err
		}
		processor := jobqueue.NewArchiveProcessor(repos.WebhookAttempt, archive.NewArchiver(store, archiveCfg))
		queue.Register(jobqueue.JobTypeArchivePayload, processor.Handle)
	}

	var sender mail.Sender = mail.LogSender{}
	if mailCfg := mail.ConfigFromEnv(); mailCfg.Configured() {
		sender = mail.NewSMTPMailer(mailCfg)
	}
	queue.Register(jobqueue.JobTypeNotifyUser, jobqueue.NewNotifyProcessor(repos.User, sender).Handle)
	dispatcher := jobqueue.NewDispatcher(queue, archiveCfg.IsEnabled())

	// billing
	plans := billing.DefaultCatalog()
	audit := billing.NewAuditLog(repos.WebhookAttempt, dispatcher)
	engine := billing.NewEngine(repos, plans, audit, dispatcher)
	checkout := billing.NewCheckoutService(repos.Intent, plans, billing.SessionCreatorsFromEnv())
	commission := billing.NewCommissionService(repos.User, repos.Subscription)
	payouts := billing.NewPayoutService(repos, commission, billing.PayoutPolicyFromEnv(), dispatcher)

	verifiers := verifier.NewRegistry(
		verifier.NewCardVerifierFromEnv(),
		verifier.NewCryptoPayVerifierFromEnv(),
		verifier.NewWalletVerifierFromEnv(),
		verifier.NewMobileMoneyVerifier(verifier.NewMomoClientFromEnv()),
		verifier.NewMarketplaceVerifierFromEnv(),
	)

	// expiry sweep
	sweepCfg := sweeper.ConfigFromEnv()
	sw := sweeper.New(repos.Subscription, cache.NewLock(client, sweeper.LockKey, sweepCfg.LockTTL), dispatcher).
		WithBatchSize(sweepCfg.BatchSize)
	var scheduler gocron.Scheduler
	if sweepCfg.Enabled {
		scheduler, err = sweeper.Schedule(sw, sweepCfg.Interval)
		if err != nil {
			return nil, err
		}
	}

	app := fiber.New(fiber.Config{
		AppName:   "SignalFox",
		BodyLimit: 1 << 20,
	})
	app.Use(recover.New(), logger.New())

	if user, pass := env.GetEnv("METRICS_USER", ""), env.GetEnv("METRICS_PASSWORD", ""); user != "" && pass != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{user: pass},
		}), monitor.New())
	}

	router.InstallDocs(app, env.GetEnv("OPENAPI_FILE", router.DefaultOpenAPIFile))

	router.InstallRouter(app, router.Dependencies{
		Users:          repos.User,
		Webhooks:       controllers.NewWebhookController(verifiers, engine, audit, counter.NewWebhookCounter(client)),
		Checkout:       controllers.NewCheckoutController(checkout, plans, repos),
		Partner:        controllers.NewPartnerController(commission, payouts),
		Admin:          controllers.NewAdminBillingController(payouts, audit, engine),
		Cron:           controllers.NewCronController(sw),
		CronSecret:     env.GetEnv("CRON_SECRET", ""),
		LimiterStorage: router.NewLimiterStorage(client),
		RateLimit:      env.GetEnvInt("API_RATE_LIMIT", 60),
	})

	jobs.Start()
	log.Infof("Providers: %v", verifiers.Providers())

	return &Application{App: app, jobs: jobs, scheduler: scheduler, cache: client, db: db}, nil
}

// Shutdown drains HTTP first so no new jobs are enqueued, then stops the
// workers and closes connections.
func (a *Application) Shutdown(timeout time.Duration) {
	if err := a.App.ShutdownWithTimeout(timeout); err != nil {
		log.Errorf("HTTP shutdown: %v", err)
	}
	if a.scheduler != nil {
		if err := a.scheduler.Shutdown(); err != nil {
			log.Errorf("[Cron] Scheduler shutdown: %v", err)
		}
	}
	a.jobs.Stop()
	if err := a.cache.Close(); err != nil {
		log.Warnf("Cache close: %v", err)
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

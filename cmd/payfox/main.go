package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/ManuelReschke/PayFox/internal/pkg/constants"
	"github.com/ManuelReschke/PayFox/internal/pkg/database"
	"github.com/ManuelReschke/PayFox/internal/pkg/env"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"github.com/ManuelReschke/PayFox/internal/pkg/identity"
	"github.com/ManuelReschke/PayFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayFox/internal/pkg/locker"
	"github.com/ManuelReschke/PayFox/internal/pkg/mail"
	"github.com/ManuelReschke/PayFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PayFox/internal/pkg/middleware"
	"github.com/ManuelReschke/PayFox/internal/pkg/order"
	"github.com/ManuelReschke/PayFox/internal/pkg/payment"
	"github.com/ManuelReschke/PayFox/internal/pkg/router"
	"github.com/ManuelReschke/PayFox/internal/pkg/s3backup"
	"github.com/ManuelReschke/PayFox/internal/pkg/settlement"
	"github.com/ManuelReschke/PayFox/internal/pkg/signature"
	"github.com/ManuelReschke/PayFox/internal/pkg/statistics"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
)

const shutdownTimeout = 15 * time.Second

type application struct {
	cfg      *config.Config
	app      *fiber.App
	jobs     *jobqueue.Manager
	payments *payment.Service
}

func main() {
	a, err := newApplication()
	if err != nil {
		log.Fatalf("[Main] Startup failed: %v", err)
	}

	go func() {
		addr := fmt.Sprintf("%s:%s", a.cfg.App.Host, a.cfg.App.Port)
		if err := a.app.Listen(addr); err != nil {
			log.Fatalf("[Main] Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("[Main] Shutting down")
	if err := a.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Errorf("[Main] HTTP shutdown: %v", err)
	}
	if a.jobs != nil {
		a.jobs.Stop()
	}
	a.payments.Wait()
}

func newApplication() (*application, error) {
	env.SetupEnvFile()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	db, err := database.SetupDatabase(cfg.DB, env.IsDev())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	repos := repository.NewRepositories(db)

	client := cache.SetupCache(cfg.Cache)
	cacheUp := client.Ping(context.Background()).Err() == nil

	var locks locker.Locker = locker.NewKeyedMutex()
	if cfg.Cache.DistributedLocks {
		if !cacheUp {
			return nil, fmt.Errorf("distributed locks enabled but cache is unreachable")
		}
		locks = locker.NewRedisLocker(client, cfg.Cache.LockTTL)
	}

	var paymentCache cache.PaymentCache = cache.NopPaymentCache{}
	var hookCounter counter.Counter = counter.NewMemory()
	var statsClient *redis.Client
	if cacheUp {
		statsClient = client
		paymentCache = cache.NewRedisPaymentCache(client, cfg.Cache.PaymentTTL)
		hookCounter = counter.NewRedisCounter(client)
	}

	var notifier payment.Notifier = mail.LogNotifier{}
	if cfg.SMTP.Host != "" {
		notifier = mail.NewNotifier(cfg.SMTP)
	}

	payments := payment.NewService(payment.Options{
		Repos:           repos,
		Gateway:         gateway.NewRazorpay(cfg.Gateway.KeyID, cfg.Gateway.KeySecret, cfg.Gateway.Timeout),
		Verifier:        signature.NewVerifier(cfg.Gateway.KeySecret, ""),
		Orders:          order.NewClient(cfg.Order),
		Identity:        identity.NewClient(cfg.Identity),
		Notifier:        notifier,
		Cache:           paymentCache,
		Locker:          locks,
		GatewayAttempts: cfg.Gateway.MaxAttempts,
		GatewayBackoff:  cfg.Gateway.Backoff,
	})

	ingestor := webhook.NewIngestor(repos, payments, signature.NewVerifier(cfg.Gateway.WebhookSecret, ""), locks, hookCounter)

	batcher := settlement.NewBatcher(repos, locks, cfg.Settlement.CommissionPercentage, cfg.App.Currency)
	if archiver, err := newStatementArchiver(cfg); err != nil {
		log.Warnf("[Main] Statement archive disabled: %v", err)
	} else if archiver != nil {
		batcher.WithArchiver(archiver)
	}

	deps := router.Dependencies{
		Config:      cfg,
		Payments:    payments,
		Ingestor:    ingestor,
		Settlements: batcher,
		Statistics:  statistics.NewService(repos.Payment, statsClient, statistics.CacheExpiration),
	}

	var jobs *jobqueue.Manager
	if cacheUp {
		var queue *jobqueue.Queue
		jobs, queue = startJobs(cfg, client, batcher, ingestor, payments)
		deps.Jobs = jobs
		deps.Queue = queue
		deps.LimiterStorage = router.NewLimiterStorage(cfg.Cache)
	} else {
		log.Warn("[Main] Cache unreachable, background jobs disabled and rate limits kept in memory")
	}

	app := fiber.New(fiber.Config{
		AppName:   "PayFox",
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", middleware.AdminKeyMiddleware(cfg.App.AdminKey), monitor.New())

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: constants.DocsRoute,
		FilePath: "public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	// ROUTER
	router.InstallRouter(app, deps)

	return &application{cfg: cfg, app: app, jobs: jobs, payments: payments}, nil
}

// newStatementArchiver returns nil when S3 archival is switched off.
func newStatementArchiver(cfg *config.Config) (settlement.Archiver, error) {
	s3cfg := s3backup.NewConfig(cfg.S3, cfg.App.Env)
	if !s3cfg.IsEnabled() {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := s3backup.NewClient(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return settlement.NewS3Archiver(client), nil
}

func startJobs(cfg *config.Config, client *redis.Client, batcher *settlement.Batcher, ingestor *webhook.Ingestor, payments *payment.Service) (*jobqueue.Manager, *jobqueue.Queue) {
	queue := jobqueue.NewQueue(client, &jobqueue.Processors{
		Settlements: batcher,
		Webhooks:    ingestor,
		Refunds:     payments,
	}, cfg.Jobs.Workers)

	manager := jobqueue.NewManager(queue, cfg.Jobs, cfg.Settlement.Interval)
	manager.Start()
	return manager, queue
}

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
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/Entitled/app/controllers"
	"github.com/ManuelReschke/Entitled/app/repository"
	"github.com/ManuelReschke/Entitled/internal/pkg/archive"
	"github.com/ManuelReschke/Entitled/internal/pkg/billing"
	"github.com/ManuelReschke/Entitled/internal/pkg/cache"
	"github.com/ManuelReschke/Entitled/internal/pkg/contentgate"
	"github.com/ManuelReschke/Entitled/internal/pkg/database"
	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
	"github.com/ManuelReschke/Entitled/internal/pkg/env"
	"github.com/ManuelReschke/Entitled/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Entitled/internal/pkg/mail"
	"github.com/ManuelReschke/Entitled/internal/pkg/membership"
	"github.com/ManuelReschke/Entitled/internal/pkg/ratelimit"
	"github.com/ManuelReschke/Entitled/internal/pkg/router"
	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
)

func main() {
	app, jobs := NewApplication()

	go func() {
		if err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))); err != nil {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("[Main] Shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Errorf("[Main] HTTP shutdown: %v", err)
	}
	jobs.Stop()
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	ctx := context.Background()

	repos := repository.NewRepositories(database.GetDB())

	catalog := entitlements.DefaultCatalog()
	manager := subscription.NewManager(catalog)

	plans, err := billing.NewPlanMapFromEnv(catalog)
	if err != nil {
		log.Fatalf("[Main] Invalid plan mapping: %v", err)
	}
	if n, err := repository.LoadPlanMappings(ctx, repos.PlanMapping, plans); err != nil {
		log.Warnf("[Main] Could not load plan mappings from database: %v", err)
	} else {
		log.Infof("[Main] Loaded %d plan mappings from database", n)
	}

	ledger := newLedger(repos)
	archiver := newArchiver(ctx)
	if archiver != nil && !billing.ArchivesPruned(ledger) {
		log.Warn("[Main] Ledger archive is inactive: the Redis ledger expires entries without returning them to the prune job")
	}

	queue := jobqueue.NewQueue(env.GetEnvInt("JOB_WORKERS", 3), jobqueue.Processors{
		Mailer:   mail.NewSender(mail.LoadSMTPConfig()),
		Store:    repos.Subscription,
		Manager:  manager,
		Ledger:   ledger,
		Archiver: archiver,
	})
	jobs := jobqueue.NewManager(queue, jobqueue.LoadSchedule())
	jobs.Start()

	ingestor := billing.NewIngestor(manager, repos.Subscription, ledger, repos.User, plans,
		billing.WithNotifier(jobqueue.NewQueueNotifier(queue)))
	gate := contentgate.NewGate(manager, repos.Subscription, repos.Content)
	svc := membership.NewService(manager, repos.Subscription, gate)

	app := fiber.New(fiber.Config{
		AppName:   "Entitled",
		BodyLimit: 1024 * 1024, // provider payloads are small
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	if specPath := findOpenAPISpec(); specPath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: specPath,
			Path:     "v1",
		}))
	} else {
		log.Warn("[Main] OpenAPI document not found, /docs/api is disabled")
	}

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Users:         repos.User,
		Subscriptions: controllers.NewSubscriptionController(svc),
		Webhooks: controllers.NewWebhookController(ingestor,
			env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
			env.GetEnv("GUMROAD_WEBHOOK_TOKEN", "")),
		HealthChecks: []controllers.HealthCheck{
			{Name: "database", Check: database.Ping},
			{Name: "cache", Check: cache.Ping},
		},
		LimiterStorage:  ratelimit.NewStorage(),
		MetricsUser:     env.GetEnv("METRICS_USER", ""),
		MetricsPassword: env.GetEnv("METRICS_PASSWORD", ""),
	})

	return app, jobs
}

// newLedger picks the idempotency ledger backend from LEDGER_BACKEND (db or redis).
func newLedger(repos *repository.Repositories) billing.Ledger {
	switch backend := env.GetEnv("LEDGER_BACKEND", "db"); backend {
	case "redis":
		retention := env.GetEnvDuration("LEDGER_RETENTION", billing.DefaultLedgerRetention)
		log.Infof("[Main] Using Redis idempotency ledger (retention %s)", retention)
		return billing.NewRedisLedger(cache.GetClient(), retention)
	case "db":
		return repos.Ledger
	default:
		log.Warnf("[Main] Unknown LEDGER_BACKEND %q, using db", backend)
		return repos.Ledger
	}
}

func newArchiver(ctx context.Context) jobqueue.LedgerArchiver {
	cfg, err := archive.LoadConfig()
	if err != nil {
		log.Fatalf("[Main] Invalid archive configuration: %v", err)
	}
	if !cfg.Enabled {
		return nil
	}
	client, err := archive.NewClient(ctx, cfg)
	if err != nil {
		log.Errorf("[Main] Ledger archive unavailable, pruned entries will not be archived: %v", err)
		return nil
	}
	return client
}

func findOpenAPISpec() string {
	// Current directory, then from cmd/entitled to the project root
	for _, base := range []string{"./", "../../", "../../../"} {
		path := base + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

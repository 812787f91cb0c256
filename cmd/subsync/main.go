package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/subsync/app/controllers"
	"github.com/ManuelReschke/subsync/app/repository"
	"github.com/ManuelReschke/subsync/internal/pkg/billing"
	"github.com/ManuelReschke/subsync/internal/pkg/cache"
	"github.com/ManuelReschke/subsync/internal/pkg/database"
	"github.com/ManuelReschke/subsync/internal/pkg/env"
	"github.com/ManuelReschke/subsync/internal/pkg/middleware"
	"github.com/ManuelReschke/subsync/internal/pkg/rabbitmq"
	"github.com/ManuelReschke/subsync/internal/pkg/ratelimit"
	"github.com/ManuelReschke/subsync/internal/pkg/router"
)

// webhookBodyLimit bounds request bodies; provider events are far smaller.
const webhookBodyLimit = 1 << 20

var requiredEnv = []string{
	"STRIPE_SECRET_KEY",
	"STRIPE_WEBHOOK_SECRET",
	"DB_USER",
	"DB_PASSWORD",
	"DB_NAME",
	"AUTH_JWT_SECRET",
}

func main() {
	app, cleanup, err := NewApplication(context.Background())
	if err != nil {
		log.Fatalf("[Startup] %v", err)
	}
	defer cleanup()

	err = app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

// NewApplication builds every collaborator from the environment and returns
// the fiber app together with a cleanup for broker and cache connections.
func NewApplication(ctx context.Context) (*fiber.App, func(), error) {
	if path, err := env.SetupEnvFile(); err != nil {
		log.Infof("[Startup] %v, using process environment", err)
	} else {
		log.Infof("[Startup] Loaded %s", path)
	}

	cfg, err := env.Require(requiredEnv...)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.Open(ctx, database.ConfigFromEnv())
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}

	provider, err := billing.NewStripeProvider(cfg["STRIPE_SECRET_KEY"])
	if err != nil {
		return nil, nil, err
	}
	verifier, err := middleware.NewTokenVerifier(cfg["AUTH_JWT_SECRET"])
	if err != nil {
		return nil, nil, err
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// Redis is optional: without it reads go to MySQL and the limiter
	// counts in memory.
	cacheCfg := cache.ConfigFromEnv()
	var (
		snapshotCache  billing.SnapshotCache
		limiterStorage fiber.Storage
	)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	client, err := cache.NewClient(pingCtx, cacheCfg)
	cancel()
	if err == nil {
		snapshotCache = cache.NewSubscriptionCache(client, cache.DefaultSubscriptionTTL)
		limiterStorage = ratelimit.NewRedisStorage(cacheCfg)
		closers = append(closers, func() { _ = client.Close() })
	} else {
		_ = client.Close()
	}

	var publisher rabbitmq.Publisher = rabbitmq.NoopPublisher{}
	if amqpURL := env.GetEnv("AMQP_URL", ""); amqpURL != "" {
		producer, err := rabbitmq.NewEventProducer(amqpURL)
		if err != nil {
			log.Warnf("[MQ] Could not connect to broker, sync notifications disabled: %v", err)
		} else {
			publisher = producer
			closers = append(closers, producer.Close)
		}
	}

	repos := repository.NewFactory(db).GetRepositories()
	svc := billing.NewService(billing.Deps{
		Repo:     billing.NewRepository(db),
		Users:    repos.User,
		Provider: provider,
		Cache:    snapshotCache,
		Notifier: rabbitmq.NewSyncNotifier(publisher, env.GetEnv("AMQP_EXCHANGE", rabbitmq.DefaultExchange)),
	})
	gateway := billing.NewGateway(cfg["STRIPE_WEBHOOK_SECRET"], svc)

	appCfg := fiber.Config{
		BodyLimit: webhookBodyLimit,
	}
	router.TrustProxies(&appCfg, env.GetEnv("PROXY_HEADER", ""), router.SplitProxyList(env.GetEnv("TRUSTED_PROXIES", "")))
	app := fiber.New(appCfg)

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	if docs := findDocs(); docs != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: docs,
			Path:     "v1",
		}))
	}

	checkoutLimit, err := strconv.Atoi(env.GetEnv("CHECKOUT_RATE_LIMIT", "10"))
	if err != nil {
		checkoutLimit = 10
	}

	// ROUTER
	router.InstallRouter(app, router.Deps{
		Billing:        controllers.NewBillingController(svc, gateway),
		Verifier:       verifier,
		LimiterStorage: limiterStorage,
		CheckoutLimit:  checkoutLimit,
	})

	return app, cleanup, nil
}

func findDocs() string {
	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/subsync to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		candidate := path + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

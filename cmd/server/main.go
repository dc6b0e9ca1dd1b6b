package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	billingmodule "github.com/lumispace/billing/modules/billing"
	"github.com/lumispace/billing/pkg/billing"
	"github.com/lumispace/billing/pkg/billing/mongostore"
	"github.com/lumispace/billing/pkg/config"
	"github.com/lumispace/billing/pkg/httpserver"
	"github.com/lumispace/billing/pkg/logger"
	"github.com/lumispace/billing/pkg/mongo"
	redisconn "github.com/lumispace/billing/pkg/redis"
)

type appConfig struct {
	Environment string        `env:"APP_ENV" envDefault:"development"`
	SweepPeriod time.Duration `env:"ENTITLEMENT_SWEEP_PERIOD" envDefault:"1h"`
	EventTTL    time.Duration `env:"EVENT_GUARD_TTL" envDefault:"72h"`
}

func main() {
	var appCfg appConfig
	config.MustLoad(&appCfg)

	log := logger.New(
		logger.WithService("billing"),
		logger.WithEnvironment(appCfg.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mongoCfg mongo.Config
	config.MustLoad(&mongoCfg)
	client, err := mongo.Connect(ctx, mongoCfg)
	if err != nil {
		log.Error("mongodb connection failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	store := mongostore.New(client.Database(mongoCfg.Database))
	if err := store.EnsureIndexes(ctx); err != nil {
		log.Error("index creation failed", "error", err)
		os.Exit(1)
	}

	var redisCfg redisconn.Config
	config.MustLoad(&redisCfg)
	redisClient, err := redisconn.Connect(ctx, redisCfg)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()

	var stripeCfg billing.StripeConfig
	config.MustLoad(&stripeCfg)
	provider, err := billing.NewStripeProvider(stripeCfg)
	if err != nil {
		log.Error("stripe provider setup failed", "error", err)
		os.Exit(1)
	}

	svc := billing.NewService(provider, store,
		billing.WithIdempotencyGuard(billing.NewRedisGuard(redisClient, appCfg.EventTTL)),
		billing.WithLogger(log),
	)

	sweeper := billing.NewSweeper(store, appCfg.SweepPeriod, log)
	go sweeper.Run(ctx)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Mount("/billing", billingmodule.NewModule(svc, log).Router())

	var srvCfg httpserver.Config
	config.MustLoad(&srvCfg)
	srv := httpserver.New(srvCfg, log)
	if err := srv.Run(ctx, r); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

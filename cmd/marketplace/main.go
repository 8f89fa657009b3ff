package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/nftmarket/internal/api"
	"github.com/Checker-Finance/nftmarket/internal/config"
	"github.com/Checker-Finance/nftmarket/internal/history"
	"github.com/Checker-Finance/nftmarket/internal/httpclient"
	"github.com/Checker-Finance/nftmarket/internal/jobs"
	"github.com/Checker-Finance/nftmarket/internal/market"
	"github.com/Checker-Finance/nftmarket/internal/payout"
	"github.com/Checker-Finance/nftmarket/internal/publisher"
	"github.com/Checker-Finance/nftmarket/internal/rabbitmq"
	"github.com/Checker-Finance/nftmarket/internal/rate"
	"github.com/Checker-Finance/nftmarket/internal/registry"
	internalsecrets "github.com/Checker-Finance/nftmarket/internal/secrets"
	"github.com/Checker-Finance/nftmarket/internal/service"
	"github.com/Checker-Finance/nftmarket/internal/store"
	"github.com/Checker-Finance/nftmarket/pkg/eventbus"
	"github.com/Checker-Finance/nftmarket/pkg/logger"
	"github.com/Checker-Finance/nftmarket/pkg/model"
	"github.com/Checker-Finance/nftmarket/pkg/secrets"
	"github.com/Checker-Finance/nftmarket/pkg/utils"
)

const inMemory = "memory"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [nftmarket]...")
	logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))

	self, err := model.ParseAddress(cfg.MarketplaceAddress)
	if err != nil {
		logg.Fatalw("MARKETPLACE_ADDRESS must be set to a valid address", "error", err)
	}

	// --- Store (Redis + Postgres hybrid) ---
	st, err := store.NewHybrid(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass, cfg.DatabaseURL, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	}, logger.Named("store"))
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		logg.Fatalw("failed to ensure schema", "error", err)
	}

	opts := service.Options{
		Store:  st,
		Bus:    eventbus.New[model.MarketEvent](),
		Logger: logger.Named("service"),
	}
	if st.PG != nil {
		opts.History = history.NewSaleWriter(st.PG, logger.Named("history"), cfg.ServiceName)
	}

	// --- Collaborator credentials (AWS Secrets Manager, cached) ---
	credCache := secrets.NewCache[secrets.Credentials](cfg.CacheTTL)
	stopCleaner := make(chan struct{})
	go credCache.StartCleaner(cfg.CleanupFreq, stopCleaner)

	var resolver *internalsecrets.Resolver[secrets.Credentials]
	if cfg.RegistrySecretName != "" || cfg.PayoutSecretName != "" {
		awsProvider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		resolver = internalsecrets.NewResolver(logger.Named("secrets"), cfg.Env, awsProvider, credCache, internalsecrets.ParseCredentials)
	}
	credsFor := func(name string) func(context.Context) (secrets.Credentials, error) {
		if resolver == nil || name == "" {
			return nil
		}
		return func(ctx context.Context) (secrets.Credentials, error) { return resolver.Resolve(ctx, name) }
	}

	// --- Asset registry and payout rail ---
	rateMgr := rate.NewManager(rate.Config{RequestsPerSecond: 10, Burst: 20, Cooldown: time.Second})
	rateMgr.Configure("registry", rate.Config{RequestsPerSecond: cfg.RegistryRPS, Burst: 2 * cfg.RegistryRPS})
	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}

	var assets market.AssetRegistry
	if cfg.RegistryURL == "" || cfg.RegistryURL == inMemory {
		mem := registry.NewMemory(self)
		n, err := mem.Seed(cfg.RegistrySeed)
		if err != nil {
			logg.Fatalw("invalid REGISTRY_SEED", "error", err)
		}
		logg.Warnw("REGISTRY_URL not configured; using in-memory asset registry", "seeded_assets", n)
		assets = mem
	} else {
		exec := httpclient.New(logger.Named("registry"), rateMgr, httpClient, cfg.HTTPRetryMax, "registry", registry.ErrorHandler)
		assets = registry.NewHTTP(logger.Named("registry"), exec, cfg.RegistryURL, credsFor(cfg.RegistrySecretName))
	}

	var payouts market.PayoutSender
	if cfg.PayoutURL == "" || cfg.PayoutURL == inMemory {
		logg.Warn("PAYOUT_URL not configured; using in-memory payout ledger")
		payouts = payout.NewLedger(logger.Named("payout"))
	} else {
		exec := httpclient.New(logger.Named("payout"), rateMgr, httpClient, cfg.HTTPRetryMax, "payout", nil)
		payouts = payout.NewHTTPSender(logger.Named("payout"), exec, cfg.PayoutURL, credsFor(cfg.PayoutSecretName))
	}

	// --- Marketplace ---
	svc := service.New(market.Config{Self: self, ReentrancyGuard: cfg.ReentrancyGuard}, assets, payouts, opts)
	if err := svc.Restore(ctx); err != nil {
		logg.Fatalw("failed to restore ledger", "error", err)
	}

	// --- Event transport ---
	var (
		nc         *nats.Conn
		pub        *publisher.Publisher
		rabbit     *rabbitmq.Publisher
		snapshotTo jobs.RawPublisher
	)
	switch cfg.EventSink {
	case "nats":
		nc, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		pub, err = publisher.New(nc, cfg.EventStream, cfg.EventSubject, cfg.ServiceName, logger.Named("publisher"))
		if err != nil {
			logg.Fatalw("failed to init publisher", "error", err)
		}
		svc.Bus().Subscribe("nats", func(ctx context.Context, evt model.MarketEvent) {
			_ = pub.PublishEvent(ctx, evt)
		})
		snapshotTo = pub
	case "rabbitmq":
		rabbit, err = rabbitmq.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange, logger.Named("rabbitmq"))
		if err != nil {
			logg.Fatalw("failed to init RabbitMQ publisher", "error", err)
		}
		rabbit.Attach(svc.Bus())
	case "none":
		logg.Warn("EVENT_SINK=none; market events are not published")
	default:
		logg.Fatalw("unknown EVENT_SINK", "value", cfg.EventSink)
	}

	// --- Periodic snapshot ---
	snapshot := jobs.NewSnapshotJob(logger.Named("snapshot"), svc, st, snapshotTo, cfg.EventSubject+".snapshot", cfg.SnapshotInterval)
	go snapshot.Start(ctx)

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})
	handler := api.NewMarketHandler(logger.Named("api"), svc, cfg.PriceDecimals)
	api.RegisterRoutes(app, nc, st, handler)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[nftmarket] running",
		"marketplace", self.String(),
		"env", cfg.Env,
		"event_sink", cfg.EventSink,
		"reentrancy_guard", cfg.ReentrancyGuard,
		"listings", len(svc.Listings()))

	<-ctx.Done()
	logg.Info("shutting down [nftmarket]...")

	close(stopCleaner)
	snapshot.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := snapshot.RunOnce(shutdownCtx); err != nil {
		logg.Warnw("snapshot.final_failed", "error", err)
	}
	if pub != nil {
		pub.Close()
	}
	if rabbit != nil {
		if err := rabbit.Close(); err != nil {
			logg.Warnw("rabbitmq.close_failed", "error", err)
		}
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
	logg.Desugar().Info("nftmarket.stopped", zap.String("env", cfg.Env))
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/bazaar-backend/api/routes"
	"github.com/angelmondragon/bazaar-backend/internal/disputes"
	"github.com/angelmondragon/bazaar-backend/internal/gateway"
	"github.com/angelmondragon/bazaar-backend/internal/ledger"
	"github.com/angelmondragon/bazaar-backend/internal/notifications"
	"github.com/angelmondragon/bazaar-backend/internal/orders"
	"github.com/angelmondragon/bazaar-backend/internal/payouts"
	"github.com/angelmondragon/bazaar-backend/internal/products"
	"github.com/angelmondragon/bazaar-backend/internal/refunds"
	"github.com/angelmondragon/bazaar-backend/internal/settlement"
	"github.com/angelmondragon/bazaar-backend/internal/vendors"
	"github.com/angelmondragon/bazaar-backend/internal/webhooks"
	"github.com/angelmondragon/bazaar-backend/pkg/config"
	"github.com/angelmondragon/bazaar-backend/pkg/db"
	"github.com/angelmondragon/bazaar-backend/pkg/instance"
	"github.com/angelmondragon/bazaar-backend/pkg/lock"
	"github.com/angelmondragon/bazaar-backend/pkg/logger"
	"github.com/angelmondragon/bazaar-backend/pkg/metrics"
	"github.com/angelmondragon/bazaar-backend/pkg/migrate"
	"github.com/angelmondragon/bazaar-backend/pkg/outbox"
	"github.com/angelmondragon/bazaar-backend/pkg/redis"
)

const shutdownTimeout = 20 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	params, err := buildRouterParams(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:         addr,
		Handler:      routes.NewRouter(params),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}
}

func buildRouterParams(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (routes.Params, error) {
	gormDB := dbClient.DB()

	gateways, err := gateway.FromConfig(cfg)
	if err != nil {
		return routes.Params{}, err
	}
	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)

	outboxSvc := outbox.NewService(outbox.NewRepository(gormDB), logg)
	notifier, err := notifications.New(cfg.Notifications.Driver, outboxSvc, dbClient)
	if err != nil {
		return routes.Params{}, err
	}

	orderLocker, err := lock.NewRedisLocker(redisClient, "order", cfg.Eventing.OrderLockTTL)
	if err != nil {
		return routes.Params{}, err
	}

	productRepo := products.NewRepository(gormDB)
	orderRepo := orders.NewRepository(gormDB)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(gormDB))
	if err != nil {
		return routes.Params{}, err
	}
	vendorSvc, err := vendors.NewService(vendors.ServiceParams{
		Repo:           vendors.NewRepository(gormDB),
		Ledger:         ledgerSvc,
		TxRunner:       dbClient,
		CommissionRate: cfg.Commission.Rate,
	})
	if err != nil {
		return routes.Params{}, err
	}

	settlementSvc, err := settlement.NewService(settlement.ServiceParams{
		Orders:   orderRepo,
		Products: productRepo,
		Vendors:  vendorSvc,
		Outbox:   outboxSvc,
		Notifier: notifier,
		Metrics:  settlementMetrics,
		TxRunner: dbClient,
		Logger:   logg,
	})
	if err != nil {
		return routes.Params{}, err
	}

	verify := gateway.VerifyPolicy{
		Timeout:  cfg.Gateway.VerifyTimeout,
		Attempts: cfg.Gateway.VerifyAttempts,
	}
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:      orderRepo,
		Products:  productRepo,
		Gateways:  gateways,
		Finalizer: settlementSvc,
		TxRunner:  dbClient,
		Checkout:  cfg.Checkout,
		Verify:    verify,
		Logger:    logg,
	})
	if err != nil {
		return routes.Params{}, err
	}

	refundSvc, err := refunds.NewService(refunds.ServiceParams{
		Repo:          refunds.NewRepository(gormDB),
		Orders:        orderRepo,
		Products:      productRepo,
		Vendors:       vendorSvc,
		Ledger:        ledgerSvc,
		Gateways:      gateways,
		Outbox:        outboxSvc,
		Notifier:      notifier,
		Locker:        orderLocker,
		Metrics:       settlementMetrics,
		TxRunner:      dbClient,
		Logger:        logg,
		RefundTimeout: cfg.Gateway.RefundTimeout,
	})
	if err != nil {
		return routes.Params{}, err
	}

	disputeSvc, err := disputes.NewService(disputes.ServiceParams{
		Repo:     disputes.NewRepository(gormDB),
		Orders:   orderRepo,
		Refunds:  refundSvc,
		Outbox:   outboxSvc,
		Notifier: notifier,
		TxRunner: dbClient,
		Logger:   logg,
	})
	if err != nil {
		return routes.Params{}, err
	}

	payoutSvc, err := payouts.NewService(payouts.ServiceParams{
		Repo:     payouts.NewRepository(gormDB),
		Vendors:  vendorSvc,
		Outbox:   outboxSvc,
		Metrics:  settlementMetrics,
		TxRunner: dbClient,
		Logger:   logg,
	})
	if err != nil {
		return routes.Params{}, err
	}

	webhookSvc, err := webhooks.NewService(webhooks.ServiceParams{
		Orders:    orderRepo,
		Finalizer: settlementSvc,
		Metrics:   settlementMetrics,
		Logger:    logg,
	})
	if err != nil {
		return routes.Params{}, err
	}
	paystackGuard, err := webhooks.NewReplayGuard(redisClient, cfg.Eventing.WebhookReplayTTL, "paystack")
	if err != nil {
		return routes.Params{}, err
	}
	flutterwaveGuard, err := webhooks.NewReplayGuard(redisClient, cfg.Eventing.WebhookReplayTTL, "flutterwave")
	if err != nil {
		return routes.Params{}, err
	}

	return routes.Params{
		Config:            cfg,
		Logger:            logg,
		DB:                dbClient,
		Redis:             redisClient,
		Orders:            orderSvc,
		Refunds:           refundSvc,
		Disputes:          disputeSvc,
		Payouts:           payoutSvc,
		Vendors:           vendorSvc,
		Ledger:            ledgerSvc,
		Webhooks:          webhookSvc,
		PaystackGuard:     paystackGuard,
		FlutterwaveGuard:  flutterwaveGuard,
		PaystackSecret:    cfg.Paystack.SecretKey,
		FlutterwaveSecret: cfg.Flutterwave.WebhookHash,
	}, nil
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shop-checkout/internal/cache"
	"shop-checkout/internal/config"
	"shop-checkout/internal/database"
	"shop-checkout/internal/events"
	"shop-checkout/internal/handlers"
	"shop-checkout/internal/infrastructure/payment"
	"shop-checkout/internal/metrics"
	"shop-checkout/internal/repo"
	"shop-checkout/internal/server"
	"shop-checkout/internal/service"
	"shop-checkout/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.Log)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logger.WithField("error", err.Error()).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		logger.WithField("error", err.Error()).Fatal("Failed to run migrations")
	}
	logger.WithFields(logrus.Fields{
		"host": cfg.Database.Host,
		"name": cfg.Database.Name,
	}).Info("Database connected")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	health := map[string]handlers.HealthCheck{
		"database": func(ctx context.Context) map[string]string { return database.Health(ctx, db) },
	}

	var orderCache cache.OrderCache
	if cfg.Redis.Addr != "" {
		rdb := cache.NewRedisClient(cfg.Redis)
		defer rdb.Close()
		orderCache = cache.NewRedisOrderCache(rdb, cfg.Redis.TTL, logger)
		health["redis"] = func(ctx context.Context) map[string]string { return cache.Health(ctx, rdb) }
	} else {
		logger.Info("REDIS_ADDR not set, order cache disabled")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka, logger)
		defer kp.Close()
		publisher = kp
	} else {
		logger.Info("KAFKA_BROKERS not set, order events disabled")
	}

	gateway := newGateway(cfg, logger)

	orderRepo := repo.NewOrderRepo(db)
	checkout := service.NewCheckoutService(service.CheckoutDeps{
		Orders:   orderRepo,
		Products: repo.NewProductRepo(db),
		Carts:    repo.NewCartRepo(db),
		Tx:       database.NewTransactor(db),
		Gateway:  gateway,
		Cache:    orderCache,
		Events:   publisher,
		Metrics:  m,
		Log:      logger,
	}, cfg.Checkout)
	orders := service.NewOrderService(orderRepo, orderCache, logger)

	workerDone := make(chan struct{})
	if cfg.Reconciliation.Enabled {
		rw := worker.NewReconciliationWorker(orderRepo, checkout, gateway, cfg.Reconciliation, m, logger)
		go func() {
			defer close(workerDone)
			rw.Run(ctx)
		}()
	} else {
		close(workerDone)
	}

	h := handlers.NewHandlers(checkout, orders, health, logger)
	if sandbox, ok := gateway.(*payment.SandboxGateway); ok {
		h.WithSandbox(sandbox, cfg.Checkout.ReturnURL)
	}
	srv := server.New(cfg, h, m, registry, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithField("error", err.Error()).Fatal("Server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err.Error()).Error("Server forced to shutdown")
	}
	<-workerDone

	logger.Info("Server exited")
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func newGateway(cfg *config.Config, logger logrus.FieldLogger) payment.Gateway {
	if cfg.PayPal.Gateway == "sandbox" {
		logger.WithField("approval_url", cfg.PayPal.SandboxURL).Warn("Using in-process sandbox payment gateway")
		return payment.NewSandboxGateway(logger, payment.WithApprovalBaseURL(cfg.PayPal.SandboxURL))
	}
	if cfg.PayPal.ClientID == "" || cfg.PayPal.Secret == "" {
		logger.Fatal("PAYPAL_CLIENT_ID and PAYPAL_CLIENT_SECRET are required")
	}
	return payment.NewPayPalGateway(cfg.PayPal, &http.Client{Timeout: cfg.Checkout.GatewayTimeout}, logger)
}

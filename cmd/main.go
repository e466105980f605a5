package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/auth"
	"github.com/ukydev/fleet-maintenance/internal/config"
	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/events"
	"github.com/ukydev/fleet-maintenance/internal/handlers"
	"github.com/ukydev/fleet-maintenance/internal/middleware"
	"github.com/ukydev/fleet-maintenance/internal/payments"
	"github.com/ukydev/fleet-maintenance/internal/services"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Service stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	client, err := db.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		return fmt.Errorf("connect to MongoDB: %w", err)
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			logger.WithError(err).Warn("MongoDB disconnect failed")
		}
	}()
	logger.Info("Connected to MongoDB successfully")

	database := client.Database(cfg.MongoDatabase)
	if err := db.EnsureIndexes(ctx, database); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}
	store := db.NewStore(client, database)

	gateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
		APIKey:        cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("payment gateway: %w", err)
	}

	var notifier events.Notifier = events.NopNotifier{}
	if cfg.MQTTBrokerURL != "" {
		mqttClient, err := events.ConnectMQTT(cfg.MQTTBrokerURL, cfg.MQTTClientID, 10*time.Second)
		if err != nil {
			return err
		}
		defer mqttClient.Disconnect(250)
		notifier = events.NewMQTTNotifier(mqttClient, cfg.MQTTTopicPrefix, logger)
		logger.WithField("broker", cfg.MQTTBrokerURL).Info("Publishing task events over MQTT")
	}

	authService, err := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return err
	}

	deps := services.Deps{
		Vehicles: store.Vehicles,
		Tasks:    store.Tasks,
		Orders:   store.Orders,
		Payments: store.Payments,
		Catalog:  store.Catalog,
		Users:    store.Users,
		Tx:       store.Tx,
		Gateway:  gateway,
		Notifier: notifier,
		Logger:   logger,
		Currency: cfg.PaymentCurrency,
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newAPI(deps, authService, middleware.NewRateLimitMiddleware(cfg.TrustedProxies...), cfg.RateLimitPerMinute, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(ctx, srv, logger)
}

// newAPI wires the services behind the HTTP router.
func newAPI(deps services.Deps, authService *auth.Service, limiter *middleware.RateLimitMiddleware, loginPerMinute int, logger logrus.FieldLogger) http.Handler {
	return handlers.NewRouter(handlers.RouterConfig{
		Auth:           handlers.NewAuthHandler(authService, deps.Users, logger),
		Tasks:          handlers.NewTaskHandler(services.NewTaskService(deps), logger),
		Payments:       handlers.NewPaymentHandler(services.NewPaymentCoordinator(deps), logger),
		Orders:         handlers.NewOrderHandler(services.NewOrderService(deps), logger),
		AuthMiddleware: middleware.NewAuthMiddleware(authService),
		RateLimiter:    limiter,
		LoginPerMinute: loginPerMinute,
		Logger:         logger,
	})
}

// serve runs srv until ctx is canceled, then drains in-flight requests.
func serve(ctx context.Context, srv *http.Server, logger logrus.FieldLogger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", srv.Addr).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

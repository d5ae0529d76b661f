package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sitekeeper/sitekeeper/internal/api/handlers"
	"github.com/sitekeeper/sitekeeper/internal/api/router"
	"github.com/sitekeeper/sitekeeper/internal/billing"
	"github.com/sitekeeper/sitekeeper/internal/config"
	"github.com/sitekeeper/sitekeeper/internal/pkg/logger"
	"github.com/sitekeeper/sitekeeper/internal/pkg/ratelimit"
	"github.com/sitekeeper/sitekeeper/internal/pkg/validator"
	"github.com/sitekeeper/sitekeeper/internal/repository/postgres"
	"github.com/sitekeeper/sitekeeper/internal/services"
	"github.com/sitekeeper/sitekeeper/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	db, err := postgres.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := postgres.Migrate(db, migrations.GetFS()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	accountRepo := postgres.NewAccountRepository(db)
	tokenRepo := postgres.NewResetTokenRepository(db)

	provider := billing.NewStripeProvider(cfg.Billing.StripeSecretKey, cfg.Billing.StripeWebhookSecret, log)
	catalog := billing.NewCatalog(cfg.Billing.Prices)

	var slack services.SlackService
	if cfg.Slack.WebhookURL != "" {
		slack = &services.WebhookSlack{WebhookURL: cfg.Slack.WebhookURL}
	}
	email := services.NewLoopsEmail(cfg.Email)
	resetLimiter := ratelimit.NewWindow(5, time.Hour)

	subscriptionService := services.NewSubscriptionService(accountRepo, provider, catalog, slack, cfg.Slack.Channel, log)
	webhookService := services.NewWebhookService(accountRepo, catalog, slack, cfg.Slack.Channel, log)
	resetService := services.NewResetService(
		tokenRepo,
		accountRepo,
		services.NewIdentityCredentials(cfg.Auth.IdentityBaseURL, cfg.Auth.IdentityAPIKey),
		email,
		resetLimiter,
		cfg.Server.FrontendURL+cfg.Email.ResetURLPath,
		log,
	)

	val := validator.New()
	h := &router.Handlers{
		Health:  handlers.NewHealthHandler(db, log),
		Billing: handlers.NewBillingHandler(subscriptionService, cfg, log, val),
		Webhook: handlers.NewWebhookHandler(provider, webhookService, log),
		Reset:   handlers.NewResetHandler(resetService, log, val),
		Account: handlers.NewAccountHandler(accountRepo, log),
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.New(cfg, log, h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Infof("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Graceful shutdown failed: %v", err)
	}
}

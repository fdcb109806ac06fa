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

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/leadpilothq/outreach-engine/internal/outreach/adapters/msgprovider"
	"github.com/leadpilothq/outreach-engine/internal/outreach/app"
	"github.com/leadpilothq/outreach-engine/internal/outreach/identity"
	pgrepo "github.com/leadpilothq/outreach-engine/internal/outreach/repository/postgres"
	httptransport "github.com/leadpilothq/outreach-engine/internal/outreach/transport/http"
	"github.com/leadpilothq/outreach-engine/internal/platform/config"
	"github.com/leadpilothq/outreach-engine/internal/platform/database"
	"github.com/leadpilothq/outreach-engine/internal/platform/logger"
	"github.com/leadpilothq/outreach-engine/internal/platform/messagebroker"
)

const serviceName = "outreach_api_service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(serviceName, cfg.LogLevel)
	appLogger.Info("outreach API service starting", "port", cfg.HTTPPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.RunMigrations(cfg.MigrationsDir, cfg.PostgresDSN); err != nil {
		appLogger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("connected to PostgreSQL")

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		// Notifications are best effort; the API keeps working without them.
		appLogger.Warn("NATS unavailable, notification events disabled", "error", err)
		natsClient = nil
	} else {
		defer natsClient.Close()
	}

	clientRepo := pgrepo.NewPgClientRepository(dbPool, appLogger)
	leadRepo := pgrepo.NewPgLeadRepository(dbPool, appLogger)
	invitationRepo := pgrepo.NewPgInvitationRepository(dbPool, appLogger)
	threadRepo := pgrepo.NewPgThreadRepository(dbPool, appLogger)
	messageRepo := pgrepo.NewPgMessageRepository(dbPool, appLogger)
	rawEventRepo := pgrepo.NewPgRawEventRepository(dbPool, appLogger)

	provider := msgprovider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderHTTPTimeout, appLogger)
	resolver := identity.NewResolver(leadRepo, appLogger)
	attendees := app.NewAttendeeResolver(messageRepo, provider, cfg.AttendeeCacheWindow, cfg.AttendeeCacheMaxRows, appLogger)
	threadMgr := app.NewThreadManager(threadRepo, appLogger)
	persister := app.NewMessagePersister(messageRepo, threadRepo, appLogger)
	tracker := app.NewInvitationTracker(invitationRepo, leadRepo, resolver, appLogger)
	sender := app.NewMessageSender(clientRepo, leadRepo, threadMgr, persister, provider, appLogger)

	var notifier app.Notifier
	if natsClient != nil {
		notifier = natsClient
	}
	processor := app.NewWebhookProcessor(rawEventRepo, clientRepo, threadRepo, resolver, attendees, threadMgr, persister, tracker, notifier, appLogger)

	validate := validator.New()
	webhookHandler := httptransport.NewWebhookHandler(processor, cfg.WebhookSharedSecret, appLogger)
	messageHandler := httptransport.NewMessageHandler(sender, validate, appLogger)
	router := httptransport.NewRouter(webhookHandler, messageHandler, dbPool, appLogger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		appLogger.Info("shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("service exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("outreach API service stopped")
}

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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/leadpilothq/outreach-engine/internal/outreach/adapters/msgprovider"
	"github.com/leadpilothq/outreach-engine/internal/outreach/app"
	pgrepo "github.com/leadpilothq/outreach-engine/internal/outreach/repository/postgres"
	"github.com/leadpilothq/outreach-engine/internal/platform/config"
	"github.com/leadpilothq/outreach-engine/internal/platform/database"
	"github.com/leadpilothq/outreach-engine/internal/platform/logger"
)

const serviceName = "invite_scheduler_service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(serviceName, cfg.LogLevel)
	appLogger.Info("invite scheduler starting", "tick_interval", cfg.SchedulerTickInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("connected to PostgreSQL")

	clientRepo := pgrepo.NewPgClientRepository(dbPool, appLogger)
	leadRepo := pgrepo.NewPgLeadRepository(dbPool, appLogger)
	invitationRepo := pgrepo.NewPgInvitationRepository(dbPool, appLogger)
	lock := pgrepo.NewAdvisoryLock(dbPool, appLogger)
	provider := msgprovider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderHTTPTimeout, appLogger)

	orchestrator := app.NewInviteOrchestrator(clientRepo, leadRepo, invitationRepo, provider, lock,
		app.OrchestratorConfig{
			LockKey:         cfg.SchedulerLockKey,
			WindowStartHour: cfg.InviteWindowStartHour,
			WindowEndHour:   cfg.InviteWindowEndHour,
			DefaultQuota:    cfg.DefaultDailyQuota,
			InvitationNote:  cfg.InvitationNote,
			TickInterval:    cfg.SchedulerTickInterval,
		}, appLogger)

	// Metrics-only HTTP listener; the scheduler serves no API.
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := orchestrator.Run(gCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("scheduler exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("invite scheduler stopped")
}

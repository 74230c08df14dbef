package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/manthysbr/inspectd/internal/adapters/providers"
	"github.com/manthysbr/inspectd/internal/config"
	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/manthysbr/inspectd/internal/core/services"
	"github.com/manthysbr/inspectd/pkg/kernel"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the inspection pipeline",
		RunE:  runServe,
	}
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	repo, err := openRepository(ctx, rt)
	if err != nil {
		return err
	}
	defer repo.Close()

	files, err := openFileStore(ctx, rt)
	if err != nil {
		return fmt.Errorf("failed to open file store: %w", err)
	}

	secret, err := config.NewSecretKey(rt.Secret.Key, rt.Secret.KeyPath)
	if err != nil {
		return err
	}
	settings, err := config.NewSettingsStore(ctx, logger, repo, secret)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	provider, err := providers.Build(settings.GetConfig(), logger, files)
	if err != nil {
		return fmt.Errorf("failed to build analysis provider: %w", err)
	}

	bus := services.NewEventBus(logger)
	queue := services.NewJobQueue(logger, services.QueueConfig{
		Capacity:          rt.Queue.Capacity,
		VisibilityTimeout: rt.Queue.VisibilityTimeout,
		MaxAttempts:       rt.Queue.MaxAttempts,
	})

	engine := services.NewValuationEngine(logger, repo)
	if err := engine.ReloadRules(ctx); err != nil {
		logger.Warn("pricing rules unavailable, using defaults", "error", err)
	}

	orch := services.NewOrchestrator(logger, repo, provider, engine, bus, services.PipelineConfig{
		CallTimeout: rt.Pipeline.CallTimeout,
		TaskTimeout: rt.Pipeline.TaskTimeout,
	})
	settings.OnChange(func(cfg *domain.AppConfig) {
		p, err := providers.Build(cfg, logger, files)
		if err != nil {
			logger.Error("failed to rebuild analysis provider, keeping the previous one", "error", err)
			return
		}
		orch.UpdateProvider(p)
	})

	scheduler := services.NewJobScheduler(logger, queue, services.SchedulerConfig{MaxConcurrentJobs: rt.Pipeline.Workers})
	recovery := services.NewRecovery(logger, repo, queue, bus, rt.Queue.RecoveryInterval, orch.Ceiling())

	doc, err := kernel.LoadDocument(ctx)
	if err != nil {
		return err
	}
	api := kernel.NewServer(logger, doc,
		services.NewInspectionService(logger, repo, files, queue, bus, services.UploadConfig{
			MaxFileSize:       rt.Upload.MaxFileSize,
			AllowedExtensions: rt.Upload.AllowedExtensions,
		}),
		services.NewCatalogService(logger, repo, engine),
		bus,
		settings,
	)

	httpServer := &http.Server{
		Addr:              rt.HTTP.Addr,
		Handler:           kernel.WithCORS(rt.HTTP.CORSOrigins, api.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Lease reaper and pipeline workers
	queue.Start(gCtx)
	g.Go(func() error {
		return scheduler.Run(gCtx, orch.HandleDelivery)
	})

	// 2. Recovery sweep of pending and stuck tasks
	g.Go(func() error {
		return recovery.Run(gCtx)
	})

	// 3. API server
	g.Go(func() error {
		logger.Info("starting api server", "addr", rt.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	// 4. Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")
		queue.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

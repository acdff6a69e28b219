package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/scanpipe/internal/ai"
	"github.com/CosmoTheDev/scanpipe/internal/analyzer"
	"github.com/CosmoTheDev/scanpipe/internal/config"
	"github.com/CosmoTheDev/scanpipe/internal/database"
	"github.com/CosmoTheDev/scanpipe/internal/enhance"
	"github.com/CosmoTheDev/scanpipe/internal/events"
	"github.com/CosmoTheDev/scanpipe/internal/gateway"
	"github.com/CosmoTheDev/scanpipe/internal/ingest"
	"github.com/CosmoTheDev/scanpipe/internal/pipeline"
	"github.com/CosmoTheDev/scanpipe/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scan pipeline daemon with REST API and SSE",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		return runServe(cfg)
	},
}

func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	index := database.NewIndex(db)

	artifacts, err := store.NewArtifacts(cfg.Storage.BaseDir)
	if err != nil {
		return err
	}
	jobs := store.NewJobStore()
	pub := events.NewPublisher()

	profile, err := analyzer.LoadProfile(cfg.Analyzers.ProfilePath)
	if err != nil {
		return fmt.Errorf("loading analyzer profile: %w", err)
	}
	dispatcher := analyzer.NewDispatcher(cfg.Analyzers, profile)
	fetcher := ingest.NewFetcher(cfg.Ingest)

	provider, err := ai.New(cfg.AI)
	if err != nil {
		return fmt.Errorf("configuring AI provider: %w", err)
	}
	enhancer := enhance.NewCoordinator(cfg.Enhance, provider, artifacts, pub)

	pipe := pipeline.New(cfg.Pipeline, fetcher, dispatcher, jobs, artifacts, index, pub, profile.Exclude)
	if cfg.Enhance.Auto {
		pipe.OnComplete = func(jobID string) {
			if _, err := enhancer.Trigger(jobID); err != nil {
				slog.Warn("auto-enhance trigger failed", "job", jobID, "error", err)
			}
		}
	}
	pipe.Start(ctx)

	janitor := pipeline.NewJanitor(cfg.Pipeline, index, artifacts, jobs)
	janitor.OnExpire = enhancer.Forget
	if err := janitor.Start(); err != nil {
		return fmt.Errorf("starting retention janitor: %w", err)
	}
	defer janitor.Stop()

	gw := gateway.New(cfg.Server, pipe, jobs, artifacts, index, pub, enhancer, dispatcher)
	err = gw.Start(ctx)

	// Let in-flight jobs and enhancement passes wind down.
	pipe.Wait()
	enhancer.Wait()
	return err
}

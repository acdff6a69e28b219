// Package gateway is the HTTP control plane: REST endpoints for
// submitting and inspecting scan jobs plus an SSE stream of per-job
// progress events.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/CosmoTheDev/scanpipe/internal/analyzer"
	"github.com/CosmoTheDev/scanpipe/internal/config"
	"github.com/CosmoTheDev/scanpipe/internal/database"
	"github.com/CosmoTheDev/scanpipe/internal/enhance"
	"github.com/CosmoTheDev/scanpipe/internal/events"
	"github.com/CosmoTheDev/scanpipe/internal/pipeline"
	"github.com/CosmoTheDev/scanpipe/internal/store"
)

// Gateway serves the REST and SSE surface over the pipeline.
type Gateway struct {
	cfg        config.ServerConfig
	pipe       *pipeline.Pipeline
	jobs       *store.JobStore
	artifacts  *store.Artifacts
	index      *database.Index
	pub        *events.Publisher
	enhancer   *enhance.Coordinator
	dispatcher *analyzer.Dispatcher
	startedAt  time.Time
}

// New wires a Gateway. Call Start to begin serving.
func New(cfg config.ServerConfig, pipe *pipeline.Pipeline, jobs *store.JobStore, artifacts *store.Artifacts, index *database.Index, pub *events.Publisher, enhancer *enhance.Coordinator, dispatcher *analyzer.Dispatcher) *Gateway {
	return &Gateway{
		cfg:        cfg,
		pipe:       pipe,
		jobs:       jobs,
		artifacts:  artifacts,
		index:      index,
		pub:        pub,
		enhancer:   enhancer,
		dispatcher: dispatcher,
		startedAt:  time.Now(),
	}
}

// buildHandler wires all REST and SSE routes onto a new ServeMux.
// Uses Go 1.22+ method-prefixed patterns ("GET /path", "POST /path").
func buildHandler(gw *Gateway) http.Handler {
	mux := http.NewServeMux()

	// Submission and job lifecycle
	mux.HandleFunc("POST /analyze", gw.handleAnalyze)
	mux.HandleFunc("GET /jobs", gw.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", gw.handleGetJob)
	mux.HandleFunc("DELETE /jobs/{id}", gw.handleCancelJob)

	// Reports
	mux.HandleFunc("GET /reports", gw.handleListReports)
	mux.HandleFunc("GET /reports/{id}", gw.handleGetReport)
	mux.HandleFunc("GET /reports/{id}/summary", gw.handleReportSummary)
	mux.HandleFunc("GET /reports/{id}/enhanced", gw.handleGetEnhanced)
	mux.HandleFunc("POST /reports/{id}/enhance", gw.handleTriggerEnhance)

	// Server-Sent Events stream, per job
	mux.HandleFunc("GET /events/{id}", gw.handleEvents)

	// Introspection
	mux.HandleFunc("GET /tools", gw.handleTools)
	mux.HandleFunc("GET /health", gw.handleHealth)

	return mux
}

// Start binds the HTTP server and blocks until ctx is canceled.
func (gw *Gateway) Start(ctx context.Context) error {
	host := gw.cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := gw.cfg.Port
	if port == 0 {
		port = 6280
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	srv := &http.Server{
		Addr:    addr,
		Handler: buildHandler(gw),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("gateway: listening", "addr", "http://"+addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

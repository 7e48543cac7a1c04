package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"scrobble-orchestrator/internal/delivery"
	"scrobble-orchestrator/internal/orchestrator"
	"scrobble-orchestrator/internal/platform/config"
	"scrobble-orchestrator/internal/platform/logger"
	"scrobble-orchestrator/internal/platform/metrics"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scrobble HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	st, err := loadSettings()
	if err != nil {
		return err
	}
	log := logger.New(st.LogLevel, st.LogFormat)

	file, err := config.LoadFile(st.SourcesFile)
	if err != nil {
		return err
	}
	clients, err := buildClients(file, log)
	if err != nil {
		return err
	}

	ledger, err := delivery.OpenSQLiteLedger(st.LedgerPath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	met := metrics.New()
	dispatcher := delivery.NewDispatcher(ledger, clients, delivery.DispatcherOptions{}, log, met)

	registry := orchestrator.NewRegistry()
	engine := orchestrator.NewEngine(st.Engine, registry, dispatcher, log, met)
	for _, sc := range sourceConfigs(file, log) {
		if _, err := engine.RegisterSource(sc); err != nil {
			dispatcher.Close()
			return err
		}
	}

	pipeline := orchestrator.NewPipeline(engine, st.Pipeline, log, met)
	h := orchestrator.NewHandler(engine, pipeline, st.IngestRate, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActivePlayers(registry.Count()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go engine.Run(sweepCtx, st.SweepInterval)

	addr := ":" + st.Port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", st.Port,
		"sources", len(engine.Sources()),
		"clients", len(dispatcher.Clients()),
		"ledger", st.LedgerPath,
		"ingest_policy", string(st.Pipeline.Policy),
		"log_level", st.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Error("shutdown error", "error", shutdownErr)
	}

	stopSweep()
	pipeline.Close()
	drained := engine.DrainAll()
	dispatcher.Close()

	log.Info("server stopped", "drained_listens", len(drained))
	return shutdownErr
}

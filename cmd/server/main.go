package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/advatar/carechain/internal/api"
	"github.com/advatar/carechain/internal/chain"
	"github.com/advatar/carechain/internal/config"
	"github.com/advatar/carechain/internal/export"
	"github.com/advatar/carechain/internal/logger"
	"github.com/advatar/carechain/internal/metrics"
	"github.com/advatar/carechain/internal/middleware"
	"github.com/advatar/carechain/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	boot := logger.New(logger.Config{})
	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := postgres.Migrate(cfg.Database); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	st, err := postgres.New(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to database")
	}
	defer st.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	svc := chain.New(st, log,
		chain.WithGranularity(chain.ParseGranularity(cfg.Chain.Granularity)),
		chain.WithMaxRepairHops(cfg.Chain.MaxRepairHops),
		chain.WithMetrics(m),
	)

	exportSvc := export.NewService(svc, log,
		export.WithExportDirectory(cfg.Export.Directory),
	)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	wrap := func(h http.Handler) http.Handler {
		return corsHandler.Handler(
			middleware.Logging(log)(
				middleware.PatientScope(
					middleware.VersionLoader(st)(h),
				),
			),
		)
	}

	recordHandler := api.NewHandler(svc, st, log)

	mux := http.NewServeMux()
	mux.Handle("/records", wrap(recordHandler))
	mux.Handle("/records/", wrap(recordHandler))
	mux.Handle("/exports", wrap(export.NewHTTPHandler(exportSvc)))
	mux.Handle("/exports/", wrap(export.NewHTTPHandler(exportSvc)))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	// Let in-flight chain repairs and export workers finish before exit.
	if err := svc.Drain(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("repair drain interrupted")
	}
	if err := exportSvc.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("export drain interrupted")
	}
	log.Info().Msg("server exited")
}

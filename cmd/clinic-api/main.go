// Package main provides the clinic API service entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/api/handlers"
	"github.com/drfirst/go-clinic/internal/api/middleware"
	"github.com/drfirst/go-clinic/internal/config"
	"github.com/drfirst/go-clinic/internal/domain/clinic"
	"github.com/drfirst/go-clinic/internal/infrastructure/postgres"
	"github.com/drfirst/go-clinic/internal/observability/logging"
	"github.com/drfirst/go-clinic/internal/observability/metrics"
	"github.com/drfirst/go-clinic/internal/observability/tracing"
	"github.com/drfirst/go-clinic/pkg/circuitbreaker"
)

const serviceName = "clinic-api"

func main() {
	cfg := config.Load()

	logger, err := logging.New(serviceName, cfg.IsDevelopment(), cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("invalid clinic timezone", zap.String("timezone", cfg.ClinicTimezone), zap.Error(err))
	}

	tcfg := tracing.DefaultConfig(serviceName)
	tcfg.Environment = cfg.Env
	tcfg.OTLPEndpoint = cfg.OTLPEndpoint
	tcfg.SampleRate = cfg.TraceSampleRate
	tp, err := tracing.Init(context.Background(), tcfg)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	breakers := circuitbreaker.NewManager(logger, m.BreakerStateChanged)

	sinks := clinic.FanOut{m}
	var (
		pool    *pgxpool.Pool
		journal *postgres.Journal
		history []*clinic.Event
	)
	if cfg.JournalEnabled {
		pool, err = postgres.Connect(context.Background(), cfg.DatabaseURL, postgres.DefaultPoolConfig())
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer pool.Close()
		logger.Info("connected to database")

		store := postgres.NewEventStore(pool, logger)
		history, err = store.LoadAll(context.Background())
		if err != nil {
			logger.Fatal("load event history failed", zap.Error(err))
		}

		breaker, err := breakers.GetOrCreate("event-store", circuitbreaker.DefaultConfig("event-store"))
		if err != nil {
			logger.Fatal("breaker creation failed", zap.Error(err))
		}
		jcfg := postgres.DefaultJournalConfig()
		jcfg.BufferSize = cfg.JournalBuffer
		journal = postgres.NewJournal(store, breaker, jcfg, logger, postgres.WithJournalObserver(m.Journal()))
		sinks = append(sinks, journal)
	} else {
		logger.Warn("journal disabled, clinic state lives in memory only")
	}

	c := clinic.New(clinic.WithLogger(logger), clinic.WithEventSink(sinks))
	if stats := c.Replay(history); stats.Skipped > 0 {
		logger.Warn("journal replay skipped events",
			zap.Int("applied", stats.Applied),
			zap.Int("skipped", stats.Skipped))
	}
	if journal != nil {
		journal.Start()
	}

	clinicHandler := handlers.NewClinicHandler(c, loc, logger, handlers.WithObserver(m))

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Metrics(m))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))

	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				http.Error(w, "database unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		if journal != nil {
			if err := journal.Err(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		if !breakers.Healthy() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(breakers.Health())
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler(reg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKeys))
		r.Mount("/", clinicHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting clinic API",
		zap.String("port", cfg.Port),
		zap.String("timezone", loc.String()))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}

	if journal != nil {
		if err := journal.Close(); err != nil {
			logger.Error("journal close", zap.Error(err))
		}
		logger.Info("journal drained",
			zap.Int64("written", journal.Written()),
			zap.Int64("dropped", journal.Dropped()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		logger.Error("tracer shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"clinic-api"}`))
}

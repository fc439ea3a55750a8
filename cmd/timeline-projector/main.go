// Package main provides the timeline projector entry point. It consumes
// appointment and prescription events and maintains the patient_timeline
// read model.
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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/api/middleware"
	"github.com/drfirst/go-clinic/internal/config"
	"github.com/drfirst/go-clinic/internal/domain/clinic"
	"github.com/drfirst/go-clinic/internal/infrastructure/postgres"
	"github.com/drfirst/go-clinic/internal/infrastructure/redpanda"
	"github.com/drfirst/go-clinic/internal/observability/logging"
	"github.com/drfirst/go-clinic/internal/observability/metrics"
	"github.com/drfirst/go-clinic/internal/observability/tracing"
	"github.com/drfirst/go-clinic/internal/projection"
	"github.com/drfirst/go-clinic/pkg/idempotency"
	"github.com/drfirst/go-clinic/pkg/workerpool"
)

const serviceName = "timeline-projector"

func main() {
	cfg := config.Load()

	logger, err := logging.New(serviceName, cfg.IsDevelopment(), cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

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

	pool, err := postgres.Connect(context.Background(), cfg.DatabaseURL, postgres.DefaultPoolConfig())
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)
	inbox.StartCleanup()
	defer inbox.Stop()

	store := projection.NewStore(pool)

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.ProjectorWorkers
	projector, err := projection.NewProjector(store, inbox, poolCfg, logger, projection.WithObserver(m.Timeline()))
	if err != nil {
		logger.Fatal("projector creation failed", zap.Error(err))
	}
	projector.Start()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumer, err := redpanda.NewConsumer(consumerCfg, projector.HandleBatch, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.Start()
	logger.Info("timeline projector started",
		zap.String("group", consumerCfg.GroupID),
		zap.Strings("topics", consumerCfg.Topics),
		zap.Int("workers", poolCfg.Workers))

	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	defer admin.Close()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Metrics(m))
	r.Use(middleware.Tracing(serviceName))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"timeline-projector"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		if err := consumer.Ping(r.Context()); err != nil {
			http.Error(w, "broker unreachable", http.StatusServiceUnavailable)
			return
		}
		if !projector.Healthy() {
			http.Error(w, "worker pool unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ready"))
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		lag, err := admin.ConsumerGroupLag(r.Context(), consumerCfg.GroupID)
		if err != nil {
			logger.Warn("consumer lag", zap.Error(err))
		}
		inboxStats, err := inbox.GetStats(r.Context())
		if err != nil {
			logger.Warn("inbox stats", zap.Error(err))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"consumer": consumer.Stats(),
			"lag":      lag,
			"inbox":    inboxStats,
		})
	})
	r.Get("/timeline/{patientID}", func(w http.ResponseWriter, r *http.Request) {
		id, err := clinic.NormalizeNationalID(chi.URLParam(r, "patientID"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		entries, err := store.ForPatient(r.Context(), id)
		if err != nil {
			logger.Error("timeline query", zap.String("patient_id", id), zap.Error(err))
			http.Error(w, "timeline unavailable", http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []*projection.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	})
	r.Handle("/metrics", metrics.Handler(reg))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	// Stop polling before the workers go away so no batch is half handled
	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop", zap.Error(err))
	}
	if err := projector.Stop(); err != nil {
		logger.Error("projector stop", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if err := tp.Shutdown(ctx); err != nil {
		logger.Error("tracer shutdown", zap.Error(err))
	}
	logger.Info("timeline projector stopped")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

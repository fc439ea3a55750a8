// Package main provides the outbox relay service entry point. It publishes
// journaled clinic events from the outbox table to Redpanda.
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

	"github.com/drfirst/go-clinic/internal/config"
	"github.com/drfirst/go-clinic/internal/infrastructure/postgres"
	"github.com/drfirst/go-clinic/internal/infrastructure/redpanda"
	"github.com/drfirst/go-clinic/internal/observability/logging"
	"github.com/drfirst/go-clinic/internal/observability/metrics"
	"github.com/drfirst/go-clinic/internal/observability/tracing"
	"github.com/drfirst/go-clinic/pkg/circuitbreaker"
)

const serviceName = "outbox-relay"

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
	breakers := circuitbreaker.NewManager(logger, m.BreakerStateChanged)

	pool, err := postgres.Connect(context.Background(), cfg.DatabaseURL, postgres.DefaultPoolConfig())
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to database")

	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Fatal("ensure topics failed", zap.Error(err))
	}
	cancel()
	admin.Close()

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.KafkaBrokers))

	breaker, err := breakers.GetOrCreate("redpanda-publish", circuitbreaker.DefaultConfig("redpanda-publish"))
	if err != nil {
		logger.Fatal("breaker creation failed", zap.Error(err))
	}

	outboxCfg := postgres.DefaultOutboxConfig()
	outboxCfg.BatchSize = cfg.OutboxBatchSize
	outboxCfg.PollInterval = cfg.OutboxPollInterval
	outboxCfg.MaxRetries = cfg.OutboxMaxRetries
	outbox := postgres.NewOutbox(pool, producer, outboxCfg, logger,
		postgres.WithPublishBreaker(breaker),
		postgres.WithOutboxObserver(m.Outbox()),
	)
	outbox.Start()
	logger.Info("outbox relay started")

	statsCtx, stopStats := context.WithCancel(context.Background())
	go reportPending(statsCtx, outbox, m.Outbox(), logger)

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"outbox-relay"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		if err := producer.Ping(r.Context()); err != nil {
			http.Error(w, "broker unreachable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ready"))
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := outbox.GetStats(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"outbox":   stats,
			"producer": producer.Stats(),
			"breakers": breakers.Health(),
		})
	})
	r.Handle("/metrics", metrics.Handler(reg))

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
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
	stopStats()
	outbox.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := producer.Flush(shutdownCtx); err != nil {
		logger.Warn("producer flush", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown", zap.Error(err))
	}
	logger.Info("outbox relay stopped")
}

// reportPending refreshes the pending gauge until ctx is done
func reportPending(ctx context.Context, outbox *postgres.Outbox, obs metrics.OutboxMetrics, logger *zap.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := outbox.GetStats(ctx)
			if err != nil {
				logger.Warn("outbox stats", zap.Error(err))
				continue
			}
			obs.SetPending(stats.Pending)
		}
	}
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/infrastructure/redpanda"
	"github.com/drfirst/go-clinic/pkg/circuitbreaker"
)

// OutboxEntry represents an event to be published via the outbox
type OutboxEntry struct {
	ID            int64
	EventID       string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       json.RawMessage
	KafkaTopic    string
	KafkaKey      string
	CreatedAt     time.Time
	RetryCount    int
	LastError     *string
}

// Headers returns the record headers published with the entry
func (e *OutboxEntry) Headers() map[string]string {
	return map[string]string{
		redpanda.HeaderEventID:   e.EventID,
		redpanda.HeaderEventType: e.EventType,
		"outbox-id":              strconv.FormatInt(e.ID, 10),
	}
}

// OutboxConfig holds configuration for the outbox relay
type OutboxConfig struct {
	// BatchSize is the number of entries to process per batch
	BatchSize int
	// PollInterval is how often to poll for new entries
	PollInterval time.Duration
	// MaxRetries is the number of failed publishes before an entry is dead-lettered
	MaxRetries int
	// LockID is the transaction advisory lock that elects one active relay
	LockID int64
	// DeadLetterTopic receives entries that exhausted their retries
	DeadLetterTopic string
	// MaintenanceInterval is how often dead-lettering and cleanup run
	MaintenanceInterval time.Duration
	// Retention is how long processed entries are kept
	Retention time.Duration
}

// DefaultOutboxConfig returns sensible defaults
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		BatchSize:           100,
		PollInterval:        100 * time.Millisecond,
		MaxRetries:          5,
		LockID:              723_410_001,
		DeadLetterTopic:     redpanda.TopicDeadLetter,
		MaintenanceInterval: 30 * time.Second,
		Retention:           7 * 24 * time.Hour,
	}
}

// OutboxPublisher publishes one record and waits for the ack
type OutboxPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}

// OutboxObserver receives relay progress. Implemented by the metrics package.
type OutboxObserver interface {
	OutboxPublished(topic string)
	OutboxFailed(topic string)
	OutboxDeadLettered(n int)
}

type nopOutboxObserver struct{}

func (nopOutboxObserver) OutboxPublished(string) {}
func (nopOutboxObserver) OutboxFailed(string)    {}
func (nopOutboxObserver) OutboxDeadLettered(int) {}

// Outbox relays unprocessed outbox rows to the broker
type Outbox struct {
	db        DB
	config    OutboxConfig
	publisher OutboxPublisher
	breaker   *circuitbreaker.CircuitBreaker
	observer  OutboxObserver
	logger    *zap.Logger
	tracer    trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// OutboxOption configures an Outbox
type OutboxOption func(*Outbox)

// WithPublishBreaker guards every publish with cb
func WithPublishBreaker(cb *circuitbreaker.CircuitBreaker) OutboxOption {
	return func(o *Outbox) { o.breaker = cb }
}

// WithOutboxObserver reports relay progress to obs
func WithOutboxObserver(obs OutboxObserver) OutboxOption {
	return func(o *Outbox) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// NewOutbox creates a new outbox relay
func NewOutbox(db DB, publisher OutboxPublisher, cfg OutboxConfig, logger *zap.Logger, opts ...OutboxOption) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOutboxConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.LockID == 0 {
		cfg.LockID = def.LockID
	}
	if cfg.DeadLetterTopic == "" {
		cfg.DeadLetterTopic = def.DeadLetterTopic
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = def.MaintenanceInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}

	ctx, cancel := context.WithCancel(context.Background())

	o := &Outbox{
		db:        db,
		config:    cfg,
		publisher: publisher,
		observer:  nopOutboxObserver{},
		logger:    logger,
		tracer:    otel.Tracer("outbox"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WriteEntry writes an outbox entry within a transaction.
// It must run in the same transaction as the event insert.
func WriteEntry(ctx context.Context, tx pgx.Tx, entry *OutboxEntry) error {
	query := `
		INSERT INTO outbox (event_id, aggregate_id, aggregate_type, event_type, payload, kafka_topic, kafka_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := tx.QueryRow(ctx, query,
		entry.EventID,
		entry.AggregateID,
		entry.AggregateType,
		entry.EventType,
		[]byte(entry.Payload),
		entry.KafkaTopic,
		entry.KafkaKey,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to write outbox entry: %w", err)
	}
	return nil
}

// Start begins polling and processing outbox entries
func (o *Outbox) Start() {
	go o.processLoop()
	o.logger.Info("outbox relay started",
		zap.Int("batch_size", o.config.BatchSize),
		zap.Duration("poll_interval", o.config.PollInterval),
		zap.String("dead_letter_topic", o.config.DeadLetterTopic))
}

// Stop gracefully stops the relay, finishing the batch in flight
func (o *Outbox) Stop() {
	o.cancel()
	<-o.done
	o.logger.Info("outbox relay stopped")
}

func (o *Outbox) processLoop() {
	defer close(o.done)

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()
	maintenance := time.NewTicker(o.config.MaintenanceInterval)
	defer maintenance.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			// keep draining while full batches come back
			for {
				n, err := o.ProcessBatch(context.WithoutCancel(o.ctx))
				if err != nil {
					o.logger.Error("outbox batch failed", zap.Error(err))
				}
				if err != nil || n < o.config.BatchSize || o.ctx.Err() != nil {
					break
				}
			}
		case <-maintenance.C:
			o.runMaintenance(context.WithoutCancel(o.ctx))
		}
	}
}

func (o *Outbox) runMaintenance(ctx context.Context) {
	moved, err := o.MoveToDeadLetter(ctx)
	if err != nil {
		o.logger.Error("dead letter pass failed", zap.Error(err))
	} else if moved > 0 {
		o.logger.Warn("outbox entries dead-lettered", zap.Int64("count", moved))
	}

	deleted, err := o.CleanupProcessed(ctx, o.config.Retention)
	if err != nil {
		o.logger.Error("outbox cleanup failed", zap.Error(err))
	} else if deleted > 0 {
		o.logger.Debug("outbox cleaned", zap.Int64("deleted", deleted))
	}
}

// ProcessBatch publishes up to BatchSize unprocessed entries in id order and
// returns how many were published. It stops at the first failed publish. The transaction advisory lock keeps a second
// relay from publishing concurrently; when it is held elsewhere ProcessBatch
// returns 0 without error.
func (o *Outbox) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := o.tracer.Start(ctx, "outbox.process_batch")
	defer span.End()

	tx, err := o.db.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var acquired bool
	if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", o.config.LockID).Scan(&acquired); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("acquire relay lock: %w", err)
	}
	if !acquired {
		return 0, nil
	}

	entries, err := o.fetchUnprocessed(ctx, tx)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	span.SetAttributes(attribute.Int("batch_size", len(entries)))

	published := 0
	for _, entry := range entries {
		if err := o.processEntry(ctx, tx, entry); err != nil {
			o.logger.Error("failed to process outbox entry",
				zap.Int64("id", entry.ID),
				zap.String("event_type", entry.EventType),
				zap.Error(err))
			// later entries may belong to the same aggregate; keep order
			break
		}
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("commit: %w", err)
	}
	return published, nil
}

func (o *Outbox) fetchUnprocessed(ctx context.Context, tx pgx.Tx) ([]*OutboxEntry, error) {
	query := `
		SELECT id, event_id, aggregate_id, aggregate_type, event_type, payload,
		       kafka_topic, kafka_key, created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL
		  AND retry_count < $1
		ORDER BY id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, o.config.MaxRetries, o.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]*OutboxEntry, error) {
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		entry := &OutboxEntry{}
		var payload []byte
		err := rows.Scan(
			&entry.ID, &entry.EventID, &entry.AggregateID, &entry.AggregateType,
			&entry.EventType, &payload, &entry.KafkaTopic, &entry.KafkaKey,
			&entry.CreatedAt, &entry.RetryCount, &entry.LastError,
		)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		entry.Payload = json.RawMessage(payload)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// processEntry publishes one entry and records the outcome in tx
func (o *Outbox) processEntry(ctx context.Context, tx pgx.Tx, entry *OutboxEntry) error {
	ctx, span := o.tracer.Start(ctx, "outbox.process_entry",
		trace.WithAttributes(
			attribute.Int64("entry_id", entry.ID),
			attribute.String("event_type", entry.EventType),
			attribute.String("aggregate_id", entry.AggregateID),
		))
	defer span.End()

	if err := o.publish(ctx, entry.KafkaTopic, entry.KafkaKey, entry.Payload, entry.Headers()); err != nil {
		o.observer.OutboxFailed(entry.KafkaTopic)
		updateQuery := `
			UPDATE outbox
			SET retry_count = retry_count + 1, last_error = $1, updated_at = NOW()
			WHERE id = $2
		`
		if _, updateErr := tx.Exec(ctx, updateQuery, err.Error(), entry.ID); updateErr != nil {
			o.logger.Error("failed to update retry count", zap.Error(updateErr))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("publish failed: %w", err)
	}

	markQuery := `
		UPDATE outbox
		SET processed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, markQuery, entry.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark processed: %w", err)
	}

	o.observer.OutboxPublished(entry.KafkaTopic)
	o.logger.Debug("outbox entry published",
		zap.Int64("id", entry.ID),
		zap.String("topic", entry.KafkaTopic))
	return nil
}

func (o *Outbox) publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	if o.breaker == nil {
		return o.publisher.Publish(ctx, topic, key, value, headers)
	}
	return o.breaker.Run(ctx, func(ctx context.Context) error {
		return o.publisher.Publish(ctx, topic, key, value, headers)
	})
}

// CleanupProcessed removes processed entries older than olderThan
func (o *Outbox) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM outbox
		WHERE processed_at IS NOT NULL
		  AND processed_at < NOW() - $1::interval
	`

	result, err := o.db.Exec(ctx, query, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeadLetter is the payload published for an entry that exhausted its retries
type DeadLetter struct {
	OriginalTopic string          `json:"original_topic"`
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	RetryCount    int             `json:"retry_count"`
	LastError     *string         `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MoveToDeadLetter publishes entries that exhausted their retries to the
// dead letter topic and marks them processed.
func (o *Outbox) MoveToDeadLetter(ctx context.Context) (int64, error) {
	ctx, span := o.tracer.Start(ctx, "outbox.dead_letter")
	defer span.End()

	tx, err := o.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT id, event_id, aggregate_id, aggregate_type, event_type, payload,
		       kafka_topic, kafka_key, created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL
		  AND retry_count >= $1
		ORDER BY id ASC
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.Query(ctx, query, o.config.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, entry := range entries {
		dlPayload, err := json.Marshal(DeadLetter{
			OriginalTopic: entry.KafkaTopic,
			EventID:       entry.EventID,
			EventType:     entry.EventType,
			AggregateID:   entry.AggregateID,
			Payload:       entry.Payload,
			RetryCount:    entry.RetryCount,
			LastError:     entry.LastError,
			CreatedAt:     entry.CreatedAt,
		})
		if err != nil {
			o.logger.Error("failed to encode dead letter", zap.Int64("id", entry.ID), zap.Error(err))
			continue
		}

		if err := o.publish(ctx, o.config.DeadLetterTopic, entry.KafkaKey, dlPayload, entry.Headers()); err != nil {
			o.logger.Error("failed to publish to dead letter", zap.Int64("id", entry.ID), zap.Error(err))
			continue
		}

		if _, err := tx.Exec(ctx, "UPDATE outbox SET processed_at = NOW(), updated_at = NOW() WHERE id = $1", entry.ID); err != nil {
			o.logger.Error("failed to mark dead-lettered entry", zap.Int64("id", entry.ID), zap.Error(err))
			continue
		}
		count++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	if count > 0 {
		o.observer.OutboxDeadLettered(int(count))
	}
	return count, nil
}

// OutboxStats holds outbox statistics
type OutboxStats struct {
	Pending       int64      `json:"pending"`
	Processed     int64      `json:"processed_24h"`
	Failed        int64      `json:"failed"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}

// GetStats returns current outbox statistics
func (o *Outbox) GetStats(ctx context.Context) (*OutboxStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE processed_at IS NULL AND retry_count < $1),
			COUNT(*) FILTER (WHERE processed_at IS NOT NULL AND processed_at > NOW() - INTERVAL '24 hours'),
			COUNT(*) FILTER (WHERE processed_at IS NULL AND retry_count >= $1),
			MIN(created_at) FILTER (WHERE processed_at IS NULL)
		FROM outbox
	`
	stats := &OutboxStats{}
	err := o.db.QueryRow(ctx, query, o.config.MaxRetries).
		Scan(&stats.Pending, &stats.Processed, &stats.Failed, &stats.OldestPending)
	if err != nil {
		return nil, fmt.Errorf("outbox stats: %w", err)
	}
	return stats, nil
}

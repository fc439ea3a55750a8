package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ConsumerConfig holds configuration for the Redpanda consumer
type ConsumerConfig struct {
	// Brokers is a list of broker addresses
	Brokers []string
	// GroupID is the consumer group ID
	GroupID string
	// Topics is the list of topics to consume
	Topics []string
	// SessionTimeoutMS is the session timeout
	SessionTimeoutMS int64
	// HeartbeatIntervalMS is the heartbeat interval
	HeartbeatIntervalMS int64
	// MaxPollRecords caps how many records one batch hands to the handler
	MaxPollRecords int
	// FetchMaxBytes is the maximum fetch size
	FetchMaxBytes int32
	// StartOffset is the initial offset (earliest or latest)
	StartOffset string
	// RetryBackoff is how long to wait before redelivering a failed batch
	RetryBackoff time.Duration
}

// DefaultConsumerConfig returns defaults for the timeline projector
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:             []string{"localhost:9092"},
		GroupID:             "clinic-timeline-projector",
		Topics:              []string{TopicAppointmentEvents, TopicPrescriptionEvents},
		SessionTimeoutMS:    30000,
		HeartbeatIntervalMS: 3000,
		MaxPollRecords:      500,
		FetchMaxBytes:       52428800, // 50MB
		StartOffset:         "earliest",
		RetryBackoff:        time.Second,
	}
}

// BatchHandler is called once per polled batch. Offsets are committed only
// when it returns nil; otherwise the batch is redelivered.
type BatchHandler func(ctx context.Context, msgs []*ConsumedMessage) error

// ConsumedMessage represents a consumed Kafka message
type ConsumedMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time

	ctx context.Context
}

// Context returns the context carrying the producer's trace
func (m *ConsumedMessage) Context() context.Context {
	if m.ctx == nil {
		return context.Background()
	}
	return m.ctx
}

// NewConsumedMessage converts a fetched record, extracting its trace context
// on top of parent.
func NewConsumedMessage(parent context.Context, record *kgo.Record) *ConsumedMessage {
	msg := &ConsumedMessage{
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Key:       record.Key,
		Value:     record.Value,
		Headers:   make(map[string]string, len(record.Headers)),
		Timestamp: record.Timestamp,
		ctx:       ExtractTraceContext(parent, record),
	}
	for _, h := range record.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	return msg
}

// Consumer polls Redpanda and hands each batch to a BatchHandler
type Consumer struct {
	client  *kgo.Client
	config  ConsumerConfig
	logger  *zap.Logger
	tracer  trace.Tracer
	handler BatchHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.RWMutex
	messagesRead   int64
	bytesRead      int64
	errorCount     int64
	batchesFailed  int64
	lastCommitTime time.Time
}

// NewConsumer creates a new Redpanda consumer
func NewConsumer(cfg ConsumerConfig, handler BatchHandler, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if handler == nil {
		return nil, errors.New("batch handler is required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("consumer group id is required")
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConsumerConfig().RetryBackoff
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
	}
	if cfg.SessionTimeoutMS > 0 {
		opts = append(opts, kgo.SessionTimeout(time.Duration(cfg.SessionTimeoutMS)*time.Millisecond))
	}
	if cfg.HeartbeatIntervalMS > 0 {
		opts = append(opts, kgo.HeartbeatInterval(time.Duration(cfg.HeartbeatIntervalMS)*time.Millisecond))
	}
	if cfg.FetchMaxBytes > 0 {
		opts = append(opts, kgo.FetchMaxBytes(cfg.FetchMaxBytes))
	}

	switch cfg.StartOffset {
	case "earliest":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	case "latest":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	}

	opts = append(opts,
		kgo.OnPartitionsAssigned(func(ctx context.Context, client *kgo.Client, assigned map[string][]int32) {
			logger.Info("partitions assigned", zap.Any("partitions", assigned))
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, client *kgo.Client, revoked map[string][]int32) {
			logger.Info("partitions revoked", zap.Any("partitions", revoked))
		}),
	)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		client:  client,
		config:  cfg,
		logger:  logger,
		tracer:  otel.Tracer("redpanda-consumer"),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins consuming messages
func (c *Consumer) Start() {
	c.wg.Add(1)
	go c.consumeLoop()
}

// Stop stops polling and closes the client. Only batches the handler
// accepted have been committed.
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	c.client.Close()
	return nil
}

// Ping checks that at least one broker answers
func (c *Consumer) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

func (c *Consumer) consumeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		fetches := c.client.PollRecords(c.ctx, c.config.MaxPollRecords)
		if fetches.IsClientClosed() || c.ctx.Err() != nil {
			return
		}

		records := c.collect(fetches)
		if len(records) == 0 {
			continue
		}

		if err := c.processBatch(records); err != nil {
			c.rewind(records)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.config.RetryBackoff):
			}
		}
	}
}

// collect logs partition errors and returns the records that did arrive.
// Records from healthy partitions in the same poll are kept so their offsets
// are committed along with the rest.
func (c *Consumer) collect(fetches kgo.Fetches) []*kgo.Record {
	for _, err := range fetches.Errors() {
		c.logger.Error("fetch error",
			zap.String("topic", err.Topic),
			zap.Int32("partition", err.Partition),
			zap.Error(err.Err))
		c.incrementErrorCount()
	}
	return fetches.Records()
}

func (c *Consumer) processBatch(records []*kgo.Record) error {
	ctx, span := c.tracer.Start(c.ctx, "redpanda.process_batch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.Int("messaging.batch.message_count", len(records))))
	defer span.End()

	msgs := make([]*ConsumedMessage, len(records))
	bytes := 0
	for i, record := range records {
		msgs[i] = NewConsumedMessage(ctx, record)
		bytes += len(record.Value)
	}

	if err := c.handler(ctx, msgs); err != nil {
		c.logger.Error("batch handler failed, batch will be redelivered",
			zap.Int("records", len(records)),
			zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.incrementBatchFailures()
		return err
	}

	c.incrementMetrics(len(records), bytes)

	c.client.MarkCommitRecords(records...)
	if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
		// handlers are idempotent, so a lost commit only causes redelivery
		c.logger.Error("failed to commit offsets", zap.Error(err))
		span.RecordError(err)
		c.incrementErrorCount()
		return nil
	}

	c.mu.Lock()
	c.lastCommitTime = time.Now()
	c.mu.Unlock()
	return nil
}

// rewind moves the fetch position back to the start of a failed batch
func (c *Consumer) rewind(records []*kgo.Record) {
	c.client.SetOffsets(rewindOffsets(records))
}

// rewindOffsets returns, per topic partition, the lowest offset in records
func rewindOffsets(records []*kgo.Record) map[string]map[int32]kgo.EpochOffset {
	out := make(map[string]map[int32]kgo.EpochOffset)
	for _, r := range records {
		parts, ok := out[r.Topic]
		if !ok {
			parts = make(map[int32]kgo.EpochOffset)
			out[r.Topic] = parts
		}
		if cur, ok := parts[r.Partition]; !ok || r.Offset < cur.Offset {
			parts[r.Partition] = kgo.EpochOffset{Epoch: -1, Offset: r.Offset}
		}
	}
	return out
}

// ConsumerStats holds consumer statistics
type ConsumerStats struct {
	MessagesRead   int64
	BytesRead      int64
	ErrorCount     int64
	BatchesFailed  int64
	LastCommitTime time.Time
}

// Stats returns current consumer statistics
func (c *Consumer) Stats() ConsumerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ConsumerStats{
		MessagesRead:   c.messagesRead,
		BytesRead:      c.bytesRead,
		ErrorCount:     c.errorCount,
		BatchesFailed:  c.batchesFailed,
		LastCommitTime: c.lastCommitTime,
	}
}

func (c *Consumer) incrementMetrics(records, bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messagesRead += int64(records)
	c.bytesRead += int64(bytes)
}

func (c *Consumer) incrementErrorCount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCount++
}

func (c *Consumer) incrementBatchFailures() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchesFailed++
}

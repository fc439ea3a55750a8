package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/domain/clinic"
	"github.com/drfirst/go-clinic/internal/infrastructure/redpanda"
	"github.com/drfirst/go-clinic/pkg/idempotency"
	"github.com/drfirst/go-clinic/pkg/workerpool"
)

// HandlerName identifies the projector's inbox entries
const HandlerName = "patient-timeline"

// Skip reasons reported to the Observer
const (
	SkipMalformed  = "malformed"
	SkipDuplicate  = "duplicate"
	SkipFailed     = "failed"
	SkipIrrelevant = "irrelevant"
)

// Observer receives projection outcomes
type Observer interface {
	Projected(entryType string)
	Skipped(reason string)
}

type nopObserver struct{}

func (nopObserver) Projected(string) {}
func (nopObserver) Skipped(string)   {}

// Option configures a Projector
type Option func(*Projector)

// WithObserver reports projection outcomes to o
func WithObserver(o Observer) Option {
	return func(p *Projector) {
		if o != nil {
			p.observer = o
		}
	}
}

// Projector turns consumed appointment and prescription events into
// patient_timeline rows, each event applied at most once through the inbox.
type Projector struct {
	store    *Store
	inbox    *idempotency.Inbox
	pool     *workerpool.Pool
	observer Observer
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewProjector creates a projector; call Start before handing HandleBatch to a consumer
func NewProjector(store *Store, inbox *idempotency.Inbox, cfg workerpool.Config, logger *zap.Logger, opts ...Option) (*Projector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Projector{
		store:    store,
		inbox:    inbox,
		observer: nopObserver{},
		logger:   logger,
		tracer:   otel.Tracer("timeline-projector"),
	}
	for _, opt := range opts {
		opt(p)
	}

	pool, err := workerpool.New(cfg, p.work, logger.Named("pool"))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	p.pool = pool
	return p, nil
}

// Start launches the worker pool
func (p *Projector) Start() {
	p.pool.Start()
}

// Stop waits for in-flight messages to finish
func (p *Projector) Stop() error {
	return p.pool.Stop()
}

// Healthy reports whether the worker pool is running
func (p *Projector) Healthy() bool {
	return p.pool.IsHealthy()
}

// HandleBatch projects every message of a polled batch. It fails when any
// message could not be applied, so the consumer redelivers the batch;
// already applied messages are skipped on redelivery.
func (p *Projector) HandleBatch(ctx context.Context, msgs []*redpanda.ConsumedMessage) error {
	tasks := make([]*workerpool.Task, len(msgs))
	for i, msg := range msgs {
		tasks[i] = &workerpool.Task{
			ID:      fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
			Payload: msg,
			Context: ctx,
		}
	}

	results, err := p.pool.SubmitAll(ctx, tasks)
	if err != nil {
		return fmt.Errorf("submit batch: %w", err)
	}

	var errs []error
	for _, r := range results {
		if !r.Success {
			errs = append(errs, fmt.Errorf("%s: %w", r.TaskID, r.Error))
		}
	}
	return errors.Join(errs...)
}

func (p *Projector) work(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	msg := task.Payload.(*redpanda.ConsumedMessage)
	if err := p.project(ctx, msg); err != nil {
		return &workerpool.Result{Error: err}
	}
	return &workerpool.Result{Success: true}
}

func (p *Projector) project(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	if sc := trace.SpanContextFromContext(msg.Context()); sc.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, sc)
	}
	ctx, span := p.tracer.Start(ctx, "project_timeline",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		))
	defer span.End()

	var event clinic.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil || event.ID == "" {
		p.logger.Warn("skipping malformed event",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		p.observer.Skipped(SkipMalformed)
		return nil
	}
	span.SetAttributes(
		attribute.String("event.id", event.ID),
		attribute.String("event.type", string(event.EventType)),
	)

	entry, ok, err := EntryFromEvent(&event)
	if err != nil {
		p.logger.Warn("skipping undecodable event", zap.String("event_id", event.ID), zap.Error(err))
		p.observer.Skipped(SkipMalformed)
		return nil
	}
	if !ok {
		p.observer.Skipped(SkipIrrelevant)
		return nil
	}

	res, err := p.inbox.Process(ctx, event.ID, HandlerName, msg.Value, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		if err := p.store.Upsert(ctx, entry); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{
			"patient_id": entry.PatientID,
			"entry_type": entry.EntryType,
		})
	})
	switch {
	case errors.Is(err, idempotency.ErrDuplicateMessage):
		p.observer.Skipped(SkipDuplicate)
		return nil
	case errors.Is(err, idempotency.ErrPreviouslyFailed):
		p.observer.Skipped(SkipFailed)
		return nil
	case err != nil:
		span.RecordError(err)
		return fmt.Errorf("project event %s: %w", event.ID, err)
	}

	if !res.IsNew && !res.WasRecovered {
		p.observer.Skipped(SkipDuplicate)
		return nil
	}

	p.observer.Projected(entry.EntryType)
	p.logger.Debug("timeline entry projected",
		zap.String("event_id", event.ID),
		zap.String("patient_id", entry.PatientID),
		zap.String("entry_type", entry.EntryType))
	return nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/domain/clinic"
	"github.com/drfirst/go-clinic/internal/infrastructure/redpanda"
)

// EventStore persists clinic events in sequence order. Every appended event
// also gets an outbox row in the same transaction.
type EventStore struct {
	db     DB
	logger *zap.Logger
	tracer trace.Tracer
}

// NewEventStore creates a new event store
func NewEventStore(db DB, logger *zap.Logger) *EventStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStore{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("event-store"),
	}
}

// Append writes events and their outbox entries in one transaction. Events
// already stored are skipped so a retried batch does not publish twice.
func (s *EventStore) Append(ctx context.Context, events ...*clinic.Event) error {
	if len(events) == 0 {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "event_store.append",
		trace.WithAttributes(
			attribute.Int("events", len(events)),
			attribute.Int64("first_sequence", events[0].Sequence),
		))
	defer span.End()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, event := range events {
		inserted, err := insertEvent(ctx, tx, event)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("insert event %d: %w", event.Sequence, err)
		}
		if !inserted {
			s.logger.Debug("event already stored", zap.Int64("sequence", event.Sequence))
			continue
		}

		entry, err := outboxEntryFor(event)
		if err != nil {
			return err
		}
		if err := WriteEntry(ctx, tx, entry); err != nil {
			span.RecordError(err)
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, event *clinic.Event) (bool, error) {
	query := `
		INSERT INTO clinic_events
		(id, sequence, aggregate_id, aggregate_type, event_type, event_data, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := tx.Exec(ctx, query,
		event.ID,
		event.Sequence,
		event.AggregateID,
		event.AggregateType,
		string(event.EventType),
		[]byte(event.EventData),
		event.Timestamp,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// outboxEntryFor builds the outbox row for event. The payload is the whole
// event so consumers see its ID and sequence.
func outboxEntryFor(event *clinic.Event) (*OutboxEntry, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event %d: %w", event.Sequence, err)
	}
	return &OutboxEntry{
		EventID:       event.ID,
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		EventType:     string(event.EventType),
		Payload:       payload,
		KafkaTopic:    redpanda.TopicForEvent(event.EventType),
		KafkaKey:      event.AggregateID,
	}, nil
}

const selectEvents = `
	SELECT id, sequence, aggregate_id, aggregate_type, event_type, event_data, timestamp
	FROM clinic_events
`

// LoadAll returns every stored event ordered by sequence
func (s *EventStore) LoadAll(ctx context.Context) ([]*clinic.Event, error) {
	ctx, span := s.tracer.Start(ctx, "event_store.load_all")
	defer span.End()

	rows, err := s.db.Query(ctx, selectEvents+" ORDER BY sequence ASC")
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query events: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events", len(events)))
	return events, nil
}

// LoadAggregate returns the events of one patient or doctor ordered by sequence
func (s *EventStore) LoadAggregate(ctx context.Context, aggregateID string) ([]*clinic.Event, error) {
	rows, err := s.db.Query(ctx, selectEvents+" WHERE aggregate_id = $1 ORDER BY sequence ASC", aggregateID)
	if err != nil {
		return nil, fmt.Errorf("query events for %s: %w", aggregateID, err)
	}
	return scanEvents(rows)
}

// LastSequence returns the highest stored sequence, or 0 when empty
func (s *EventStore) LastSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRow(ctx, "SELECT COALESCE(MAX(sequence), 0) FROM clinic_events").Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last sequence: %w", err)
	}
	return seq, nil
}

func scanEvents(rows pgx.Rows) ([]*clinic.Event, error) {
	defer rows.Close()

	var events []*clinic.Event
	for rows.Next() {
		var (
			e         clinic.Event
			eventType string
			data      []byte
			ts        time.Time
		)
		if err := rows.Scan(&e.ID, &e.Sequence, &e.AggregateID, &e.AggregateType, &eventType, &data, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.EventType = clinic.EventType(eventType)
		e.EventData = json.RawMessage(data)
		e.Timestamp = ts.UTC()
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

package redpanda

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"

	"github.com/drfirst/go-clinic/internal/domain/clinic"
)

func TestTopicForEvent(t *testing.T) {
	tests := []struct {
		eventType clinic.EventType
		want      string
	}{
		{clinic.EventPatientRegistered, TopicRegistryEvents},
		{clinic.EventDoctorRegistered, TopicRegistryEvents},
		{clinic.EventDoctorSpecialtyAdded, TopicRegistryEvents},
		{clinic.EventHistoryOpened, TopicRegistryEvents},
		{clinic.EventAppointmentScheduled, TopicAppointmentEvents},
		{clinic.EventPrescriptionIssued, TopicPrescriptionEvents},
	}
	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			assert.Equal(t, tt.want, TopicForEvent(tt.eventType))
		})
	}
}

func TestDefaultTopicConfigs(t *testing.T) {
	configs := DefaultTopicConfigs()
	names := make([]string, 0, len(configs))
	for _, c := range configs {
		names = append(names, c.Name)
		assert.Positive(t, c.Partitions, c.Name)
		require.NotNil(t, c.Configs["retention.ms"], c.Name)
	}
	assert.ElementsMatch(t, []string{
		TopicRegistryEvents, TopicAppointmentEvents, TopicPrescriptionEvents, TopicDeadLetter,
	}, names)
}

func withTraceContextPropagator(t *testing.T) {
	t.Helper()
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })
}

func TestTraceContextRoundTrip(t *testing.T) {
	withTraceContextPropagator(t)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	record := NewRecord(ctx, TopicAppointmentEvents, "30111222", []byte(`{}`), map[string]string{
		HeaderEventType: string(clinic.EventAppointmentScheduled),
	})
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", HeaderValue(record, "traceparent"))
	assert.Equal(t, "AppointmentScheduled", HeaderValue(record, HeaderEventType))

	extracted := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), record))
	assert.Equal(t, traceID, extracted.TraceID())
	assert.Equal(t, spanID, extracted.SpanID())
	assert.True(t, extracted.IsRemote())
}

func TestNewRecord_WithoutTrace(t *testing.T) {
	withTraceContextPropagator(t)

	record := NewRecord(context.Background(), TopicRegistryEvents, "MN1234", nil, nil)
	assert.Empty(t, record.Headers)
	assert.Equal(t, []byte("MN1234"), record.Key)
}

func TestRecordCarrier_SetReplaces(t *testing.T) {
	record := &kgo.Record{}
	carrier := recordCarrier{record: record}
	carrier.Set("a", "1")
	carrier.Set("a", "2")
	carrier.Set("b", "3")
	assert.Equal(t, "2", carrier.Get("a"))
	assert.Equal(t, []string{"a", "b"}, carrier.Keys())
	assert.Empty(t, carrier.Get("missing"))
}

func TestNewConsumedMessage(t *testing.T) {
	ts := time.Date(2025, 6, 16, 10, 0, 0, 0, time.UTC)
	record := &kgo.Record{
		Topic:     TopicPrescriptionEvents,
		Partition: 2,
		Offset:    41,
		Key:       []byte("30111222"),
		Value:     []byte(`{"id":"evt-1"}`),
		Timestamp: ts,
		Headers: []kgo.RecordHeader{
			{Key: HeaderEventID, Value: []byte("evt-1")},
		},
	}

	msg := NewConsumedMessage(context.Background(), record)
	assert.Equal(t, TopicPrescriptionEvents, msg.Topic)
	assert.Equal(t, int32(2), msg.Partition)
	assert.Equal(t, int64(41), msg.Offset)
	assert.Equal(t, "evt-1", msg.Headers[HeaderEventID])
	assert.Equal(t, ts, msg.Timestamp)
	assert.NotNil(t, msg.Context())

	assert.NotNil(t, (&ConsumedMessage{}).Context())
}

func TestRewindOffsets(t *testing.T) {
	records := []*kgo.Record{
		{Topic: TopicAppointmentEvents, Partition: 0, Offset: 12},
		{Topic: TopicAppointmentEvents, Partition: 0, Offset: 10},
		{Topic: TopicAppointmentEvents, Partition: 1, Offset: 7},
		{Topic: TopicRegistryEvents, Partition: 0, Offset: 3},
	}

	got := rewindOffsets(records)
	assert.Equal(t, map[string]map[int32]kgo.EpochOffset{
		TopicAppointmentEvents: {
			0: {Epoch: -1, Offset: 10},
			1: {Epoch: -1, Offset: 7},
		},
		TopicRegistryEvents: {
			0: {Epoch: -1, Offset: 3},
		},
	}, got)
}

func TestNewConsumer_Validation(t *testing.T) {
	_, err := NewConsumer(DefaultConsumerConfig(), nil, nil)
	assert.Error(t, err)

	cfg := DefaultConsumerConfig()
	cfg.GroupID = ""
	_, err = NewConsumer(cfg, func(context.Context, []*ConsumedMessage) error { return nil }, nil)
	assert.Error(t, err)
}

func TestConsumerCollect_KeepsHealthyPartitions(t *testing.T) {
	c := &Consumer{logger: zaptest.NewLogger(t)}
	fetches := kgo.Fetches{{
		Topics: []kgo.FetchTopic{{
			Topic: TopicAppointmentEvents,
			Partitions: []kgo.FetchPartition{
				{Partition: 0, Records: []*kgo.Record{
					{Topic: TopicAppointmentEvents, Partition: 0, Offset: 10},
					{Topic: TopicAppointmentEvents, Partition: 0, Offset: 11},
				}},
				{Partition: 1, Err: errors.New("not leader for partition")},
			},
		}},
	}}

	records := c.collect(fetches)
	require.Len(t, records, 2)
	assert.Equal(t, int64(10), records[0].Offset)
	assert.Equal(t, int64(11), records[1].Offset)
	assert.Equal(t, int64(1), c.Stats().ErrorCount)
}

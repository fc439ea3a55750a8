package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/drfirst/go-clinic/internal/infrastructure/postgres/mocks"
	"github.com/drfirst/go-clinic/internal/infrastructure/redpanda"
	"github.com/drfirst/go-clinic/pkg/circuitbreaker"
)

var outboxColumns = []string{
	"id", "event_id", "aggregate_id", "aggregate_type", "event_type", "payload",
	"kafka_topic", "kafka_key", "created_at", "retry_count", "last_error",
}

type countingObserver struct {
	published    map[string]int
	failed       map[string]int
	deadLettered int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{published: map[string]int{}, failed: map[string]int{}}
}

func (c *countingObserver) OutboxPublished(topic string) { c.published[topic]++ }
func (c *countingObserver) OutboxFailed(topic string)    { c.failed[topic]++ }
func (c *countingObserver) OutboxDeadLettered(n int)     { c.deadLettered += n }

func newTestOutbox(t *testing.T, opts ...OutboxOption) (*Outbox, pgxmock.PgxPoolIface, *mocks.MockOutboxPublisher) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	ctrl := gomock.NewController(t)
	pub := mocks.NewMockOutboxPublisher(ctrl)
	return NewOutbox(mock, pub, DefaultOutboxConfig(), nil, opts...), mock, pub
}

func expectLock(mock pgxmock.PgxPoolIface, acquired bool) {
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT pg_try_advisory_xact_lock").
		WithArgs(DefaultOutboxConfig().LockID).
		WillReturnRows(mock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(acquired))
}

func pendingRows(mock pgxmock.PgxPoolIface, created time.Time) *pgxmock.Rows {
	prior := "broker unavailable"
	return mock.NewRows(outboxColumns).
		AddRow(int64(1), "evt-1", "30111222", "Patient", "PatientRegistered", []byte(`{"sequence":1}`),
			redpanda.TopicRegistryEvents, "30111222", created, 0, &prior).
		AddRow(int64(2), "evt-2", "30111222", "ClinicalHistory", "AppointmentScheduled", []byte(`{"sequence":2}`),
			redpanda.TopicAppointmentEvents, "30111222", created, 0, &prior)
}

func TestOutbox_ProcessBatchPublishesInOrder(t *testing.T) {
	obs := newCountingObserver()
	outbox, mock, pub := newTestOutbox(t, WithOutboxObserver(obs))
	created := time.Date(2025, 6, 16, 10, 0, 0, 0, time.UTC)

	expectLock(mock, true)
	mock.ExpectQuery("SELECT id, event_id").WithArgs(5, 100).WillReturnRows(pendingRows(mock, created))

	gomock.InOrder(
		pub.EXPECT().
			Publish(gomock.Any(), redpanda.TopicRegistryEvents, "30111222", []byte(`{"sequence":1}`), gomock.Any()).
			DoAndReturn(func(_ context.Context, _, _ string, _ []byte, headers map[string]string) error {
				assert.Equal(t, "evt-1", headers[redpanda.HeaderEventID])
				assert.Equal(t, "PatientRegistered", headers[redpanda.HeaderEventType])
				assert.Equal(t, "1", headers["outbox-id"])
				return nil
			}),
		pub.EXPECT().
			Publish(gomock.Any(), redpanda.TopicAppointmentEvents, "30111222", []byte(`{"sequence":2}`), gomock.Any()).
			Return(nil),
	)
	mock.ExpectExec("UPDATE outbox").WithArgs(int64(1)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE outbox").WithArgs(int64(2)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	n, err := outbox.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, obs.published[redpanda.TopicRegistryEvents])
	assert.Equal(t, 1, obs.published[redpanda.TopicAppointmentEvents])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutbox_PublishFailureStopsBatch(t *testing.T) {
	obs := newCountingObserver()
	outbox, mock, pub := newTestOutbox(t, WithOutboxObserver(obs))

	expectLock(mock, true)
	mock.ExpectQuery("SELECT id, event_id").WithArgs(5, 100).WillReturnRows(pendingRows(mock, time.Now()))
	pub.EXPECT().
		Publish(gomock.Any(), redpanda.TopicRegistryEvents, "30111222", gomock.Any(), gomock.Any()).
		Return(errors.New("broker down"))
	mock.ExpectExec("UPDATE outbox").WithArgs("broker down", int64(1)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	n, err := outbox.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, obs.failed[redpanda.TopicRegistryEvents])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutbox_LockHeldElsewhere(t *testing.T) {
	outbox, mock, _ := newTestOutbox(t)

	expectLock(mock, false)
	mock.ExpectRollback()

	n, err := outbox.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutbox_OpenBreakerSkipsPublisher(t *testing.T) {
	cfg := circuitbreaker.DefaultConfig("publish")
	cfg.FailureThreshold = 1
	cfg.MinRequests = 0
	cfg.Timeout = time.Minute
	cb, err := circuitbreaker.New(cfg, nil)
	require.NoError(t, err)
	_ = cb.Run(context.Background(), func(context.Context) error { return errors.New("trip") })
	require.True(t, cb.IsOpen())

	outbox, mock, _ := newTestOutbox(t, WithPublishBreaker(cb))

	expectLock(mock, true)
	mock.ExpectQuery("SELECT id, event_id").WithArgs(5, 100).WillReturnRows(pendingRows(mock, time.Now()))
	mock.ExpectExec("UPDATE outbox").
		WithArgs(circuitbreaker.ErrOpen.Error(), int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	n, err := outbox.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutbox_MoveToDeadLetter(t *testing.T) {
	obs := newCountingObserver()
	outbox, mock, pub := newTestOutbox(t, WithOutboxObserver(obs))
	created := time.Date(2025, 6, 16, 10, 0, 0, 0, time.UTC)
	lastErr := "broker down"

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, event_id").WithArgs(5).WillReturnRows(
		mock.NewRows(outboxColumns).AddRow(int64(7), "evt-7", "MN1234", "Doctor", "DoctorRegistered",
			[]byte(`{"sequence":7}`), redpanda.TopicRegistryEvents, "MN1234", created, 5, &lastErr))
	pub.EXPECT().
		Publish(gomock.Any(), redpanda.TopicDeadLetter, "MN1234", gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, value []byte, _ map[string]string) error {
			var dl DeadLetter
			require.NoError(t, json.Unmarshal(value, &dl))
			assert.Equal(t, redpanda.TopicRegistryEvents, dl.OriginalTopic)
			assert.Equal(t, "evt-7", dl.EventID)
			assert.Equal(t, 5, dl.RetryCount)
			require.NotNil(t, dl.LastError)
			assert.Equal(t, "broker down", *dl.LastError)
			assert.JSONEq(t, `{"sequence":7}`, string(dl.Payload))
			return nil
		})
	mock.ExpectExec("UPDATE outbox SET processed_at").WithArgs(int64(7)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	moved, err := outbox.MoveToDeadLetter(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)
	assert.Equal(t, 1, obs.deadLettered)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutbox_CleanupAndStats(t *testing.T) {
	outbox, mock, _ := newTestOutbox(t)
	oldest := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM outbox").WithArgs("168h0m0s").WillReturnResult(pgxmock.NewResult("DELETE", 12))
	mock.ExpectQuery("FROM outbox").WithArgs(5).WillReturnRows(
		mock.NewRows([]string{"pending", "processed", "failed", "oldest"}).
			AddRow(int64(3), int64(40), int64(1), &oldest))

	deleted, err := outbox.CleanupProcessed(context.Background(), 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(12), deleted)

	stats, err := outbox.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Pending)
	assert.Equal(t, int64(40), stats.Processed)
	assert.Equal(t, int64(1), stats.Failed)
	require.NotNil(t, stats.OldestPending)
	assert.True(t, oldest.Equal(*stats.OldestPending))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewOutbox_Defaults(t *testing.T) {
	o := NewOutbox(nil, nil, OutboxConfig{}, nil)
	assert.Equal(t, DefaultOutboxConfig(), o.config)
}

// Package metrics provides Prometheus metrics for the clinic services.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drfirst/go-clinic/internal/domain/clinic"
	"github.com/drfirst/go-clinic/pkg/circuitbreaker"
)

// Metrics holds all application metrics. It is also a clinic.EventSink;
// Journal, Outbox and Timeline return observers for the event pipeline.
type Metrics struct {
	EventsRecorded        *prometheus.CounterVec
	Registrations         *prometheus.CounterVec
	AppointmentsScheduled prometheus.Counter
	PrescriptionsIssued   prometheus.Counter
	RequestsRejected      *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	JournalBacklog        prometheus.Gauge
	JournalWrittenTotal   prometheus.Counter
	JournalDroppedTotal   prometheus.Counter
	OutboxPublishedTotal  *prometheus.CounterVec
	OutboxFailedTotal     *prometheus.CounterVec
	OutboxDeadLetters     prometheus.Counter
	OutboxPending         prometheus.Gauge
	TimelineProjected     *prometheus.CounterVec
	TimelineSkipped       *prometheus.CounterVec
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates all metrics and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_events_recorded_total",
			Help: "Committed clinic events by type",
		}, []string{"event_type"}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_registrations_total",
			Help: "Registration attempts by entity and outcome",
		}, []string{"entity", "outcome"}),
		AppointmentsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_appointments_scheduled_total",
			Help: "Total appointments scheduled",
		}),
		PrescriptionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_prescriptions_issued_total",
			Help: "Total prescriptions issued",
		}),
		RequestsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_requests_rejected_total",
			Help: "Rejected clinic operations by operation and reason",
		}, []string{"operation", "reason"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clinic_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"method", "route", "status"}),
		JournalBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clinic_journal_backlog",
			Help: "Events waiting to be written to the event store",
		}),
		JournalWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_journal_written_total",
			Help: "Events written to the event store",
		}),
		JournalDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_journal_dropped_total",
			Help: "Events the journal gave up on",
		}),
		OutboxPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Outbox entries published by topic",
		}, []string{"topic"}),
		OutboxFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Failed outbox publishes by topic",
		}, []string{"topic"}),
		OutboxDeadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_dead_lettered_total",
			Help: "Outbox entries moved to the dead letter topic",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		TimelineProjected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeline_entries_projected_total",
			Help: "Patient timeline rows written by entry type",
		}, []string{"entry_type"}),
		TimelineSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeline_messages_skipped_total",
			Help: "Consumed messages that produced no timeline row, by reason",
		}, []string{"reason"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.EventsRecorded,
		m.Registrations,
		m.AppointmentsScheduled,
		m.PrescriptionsIssued,
		m.RequestsRejected,
		m.HTTPRequestDuration,
		m.JournalBacklog,
		m.JournalWrittenTotal,
		m.JournalDroppedTotal,
		m.OutboxPublishedTotal,
		m.OutboxFailedTotal,
		m.OutboxDeadLetters,
		m.OutboxPending,
		m.TimelineProjected,
		m.TimelineSkipped,
		m.CircuitBreakerState,
	)

	return m
}

// Record counts a committed clinic event
func (m *Metrics) Record(event *clinic.Event) {
	m.EventsRecorded.WithLabelValues(string(event.EventType)).Inc()
	switch event.EventType {
	case clinic.EventAppointmentScheduled:
		m.AppointmentsScheduled.Inc()
	case clinic.EventPrescriptionIssued:
		m.PrescriptionsIssued.Inc()
	}
}

// ObserveRegistration counts a registration outcome for entity
func (m *Metrics) ObserveRegistration(entity string, outcome clinic.Registration) {
	m.Registrations.WithLabelValues(entity, outcome.String()).Inc()
}

// ObserveRejection counts a rejected operation. Errors that are not clinic
// errors are counted under "internal".
func (m *Metrics) ObserveRejection(operation string, err error) {
	reason := "internal"
	if ce, ok := clinic.AsError(err); ok {
		reason = string(ce.Code)
	}
	m.RequestsRejected.WithLabelValues(operation, reason).Inc()
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Journal returns the observer passed to postgres.WithJournalObserver
func (m *Metrics) Journal() JournalMetrics { return JournalMetrics{m: m} }

// Outbox returns the observer passed to postgres.WithOutboxObserver
func (m *Metrics) Outbox() OutboxMetrics { return OutboxMetrics{m: m} }

// Timeline returns the observer passed to the timeline projector
func (m *Metrics) Timeline() TimelineMetrics { return TimelineMetrics{m: m} }

// JournalMetrics reports journal progress
type JournalMetrics struct{ m *Metrics }

func (j JournalMetrics) JournalBacklog(n int) { j.m.JournalBacklog.Set(float64(n)) }
func (j JournalMetrics) JournalWritten(n int) { j.m.JournalWrittenTotal.Add(float64(n)) }
func (j JournalMetrics) JournalDropped(n int) { j.m.JournalDroppedTotal.Add(float64(n)) }

// OutboxMetrics reports relay progress
type OutboxMetrics struct{ m *Metrics }

func (o OutboxMetrics) OutboxPublished(topic string) { o.m.OutboxPublishedTotal.WithLabelValues(topic).Inc() }
func (o OutboxMetrics) OutboxFailed(topic string)    { o.m.OutboxFailedTotal.WithLabelValues(topic).Inc() }
func (o OutboxMetrics) OutboxDeadLettered(n int)     { o.m.OutboxDeadLetters.Add(float64(n)) }

// SetPending records the pending count from the latest outbox stats
func (o OutboxMetrics) SetPending(n int64) { o.m.OutboxPending.Set(float64(n)) }

// TimelineMetrics reports projector progress
type TimelineMetrics struct{ m *Metrics }

func (t TimelineMetrics) Projected(entryType string) { t.m.TimelineProjected.WithLabelValues(entryType).Inc() }
func (t TimelineMetrics) Skipped(reason string)      { t.m.TimelineSkipped.WithLabelValues(reason).Inc() }

// BreakerStateChanged tracks breaker transitions; pass it to circuitbreaker.NewManager
func (m *Metrics) BreakerStateChanged(name string, _, to circuitbreaker.State) {
	m.CircuitBreakerState.WithLabelValues(name).Set(to.Ordinal())
}

// Handler returns the Prometheus HTTP handler for g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

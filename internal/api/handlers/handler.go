// Package handlers provides HTTP handlers for the clinic API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/api/middleware"
	"github.com/drfirst/go-clinic/internal/domain/clinic"
	"github.com/drfirst/go-clinic/internal/fhir/mapper"
	fhir "github.com/drfirst/go-clinic/internal/fhir/r5"
)

// localLayout is accepted for appointment times without a zone; it is read
// in the clinic's location
const localLayout = "2006-01-02T15:04"

// codeInvalidRequest marks request bodies rejected before reaching the clinic
const codeInvalidRequest = "invalid_request"

// Observer receives registration outcomes and rejected operations
type Observer interface {
	ObserveRegistration(entity string, outcome clinic.Registration)
	ObserveRejection(operation string, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveRegistration(string, clinic.Registration) {}
func (nopObserver) ObserveRejection(string, error)                  {}

// Option configures a ClinicHandler
type Option func(*ClinicHandler)

// WithObserver reports outcomes to o
func WithObserver(o Observer) Option {
	return func(h *ClinicHandler) {
		if o != nil {
			h.observer = o
		}
	}
}

// WithMapper replaces the FHIR history mapper
func WithMapper(m *mapper.HistoryMapper) Option {
	return func(h *ClinicHandler) {
		if m != nil {
			h.mapper = m
		}
	}
}

// ClinicHandler serves the clinic's patients, doctors, appointments and prescriptions
type ClinicHandler struct {
	clinic   *clinic.Clinic
	location *time.Location
	mapper   *mapper.HistoryMapper
	observer Observer
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewClinicHandler creates a handler. loc is the zone naive appointment
// times are read in; nil means UTC.
func NewClinicHandler(c *clinic.Clinic, loc *time.Location, logger *zap.Logger, opts ...Option) *ClinicHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	h := &ClinicHandler{
		clinic:   c,
		location: loc,
		mapper:   mapper.NewHistoryMapper(),
		observer: nopObserver{},
		logger:   logger,
		tracer:   otel.Tracer("clinic-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the handler routes
func (h *ClinicHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/patients", func(r chi.Router) {
		r.Post("/", h.RegisterPatient)
		r.Get("/", h.ListPatients)
		r.Get("/{id}", h.GetPatient)
		r.Get("/{id}/history", h.GetHistory)
		r.Post("/{id}/history", h.OpenHistory)
		r.Get("/{id}/history/fhir", h.GetHistoryFHIR)
	})

	r.Route("/doctors", func(r chi.Router) {
		r.Post("/", h.RegisterDoctor)
		r.Get("/", h.ListDoctors)
		r.Get("/{license}", h.GetDoctor)
		r.Post("/{license}/specialties", h.AddSpecialty)
		r.Get("/{license}/availability", h.Availability)
	})

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.ScheduleAppointment)
		r.Get("/", h.ListAppointments)
		r.Get("/slots", h.SlotStatus)
	})

	r.Post("/prescriptions", h.IssuePrescription)
	return r
}

// parseAt reads RFC 3339 or the local layout and returns the instant in the
// clinic's location, so weekday rules apply to the clinic's calendar.
func (h *ClinicHandler) parseAt(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(h.location), nil
	}
	t, err := time.ParseInLocation(localLayout, raw, h.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("at %q: expected RFC 3339 or %s", raw, localLayout)
	}
	return t, nil
}

// fail reports err for operation and writes the matching outcome
func (h *ClinicHandler) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	h.observer.ObserveRejection(operation, err)

	status, issue, detail := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("operation failed",
			zap.String("operation", operation),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
	} else {
		h.logger.Info("operation rejected",
			zap.String("operation", operation),
			zap.String("reason", detail),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
	}
	writeOutcome(w, status, issue, detail, err.Error())
}

// badRequest rejects a request before it reaches the clinic
func (h *ClinicHandler) badRequest(w http.ResponseWriter, status int, message string) {
	writeOutcome(w, status, fhir.IssueInvalid, codeInvalidRequest, message)
}

// statusFor maps an error to its HTTP status, FHIR issue code and clinic code
func statusFor(err error) (int, string, string) {
	ce, ok := clinic.AsError(err)
	if !ok {
		return http.StatusInternalServerError, fhir.IssueException, "internal"
	}
	code := string(ce.Code)
	switch {
	case errors.Is(err, clinic.ErrSlotAlreadyBooked):
		return http.StatusConflict, fhir.IssueConflict, code
	case ce.Kind == clinic.KindLookup:
		return http.StatusNotFound, fhir.IssueNotFound, code
	case ce.Kind == clinic.KindRule:
		return http.StatusUnprocessableEntity, fhir.IssueBusiness, code
	default:
		return http.StatusUnprocessableEntity, fhir.IssueInvalid, code
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFHIR(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOutcome(w http.ResponseWriter, status int, issue, detail, diagnostics string) {
	writeFHIR(w, status, fhir.NewErrorOutcome(issue, detail, diagnostics))
}

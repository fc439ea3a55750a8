package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/api/middleware"
	"github.com/drfirst/go-clinic/internal/domain/clinic"
)

// AvailabilityResponse answers GET /doctors/{license}/availability
type AvailabilityResponse struct {
	License   string `json:"license"`
	Day       string `json:"day"`
	Available bool   `json:"available"`
	Specialty string `json:"specialty,omitempty"`
}

// RegisterDoctor handles POST /doctors. At least one specialty is required
// and every day label must name a weekday.
func (h *ClinicHandler) RegisterDoctor(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "register_doctor")
	defer span.End()

	var req RegisterDoctorRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Specialties) == 0 {
		h.badRequest(w, http.StatusUnprocessableEntity, "at least one specialty is required")
		return
	}

	specialties := make([]clinic.Specialty, 0, len(req.Specialties))
	for _, dto := range req.Specialties {
		s, err := specialtyFromDTO(dto)
		if err != nil {
			h.badRequest(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		specialties = append(specialties, s)
	}

	doctor, err := clinic.NewDoctor(req.Name, req.License, specialties...)
	if err != nil {
		h.fail(w, r, "register_doctor", err)
		return
	}
	span.SetAttributes(attribute.String("license", doctor.License()))

	outcome, err := h.clinic.RegisterDoctor(doctor)
	if err != nil {
		h.fail(w, r, "register_doctor", err)
		return
	}
	h.observer.ObserveRegistration("doctor", outcome)

	stored, _ := h.clinic.FindDoctor(doctor.License())
	resp := doctorResponse(stored)
	resp.Outcome = outcome.String()

	status := http.StatusCreated
	if outcome == clinic.AlreadyRegistered {
		status = http.StatusOK
	}
	h.logger.Info("doctor registration",
		zap.String("license", stored.License()),
		zap.String("outcome", resp.Outcome),
		zap.String("request_id", middleware.GetRequestID(ctx)))
	writeJSON(w, status, resp)
}

// ListDoctors handles GET /doctors
func (h *ClinicHandler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	doctors := h.clinic.ListDoctors()
	out := make([]DoctorResponse, len(doctors))
	for i, d := range doctors {
		out[i] = doctorResponse(d)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetDoctor handles GET /doctors/{license}
func (h *ClinicHandler) GetDoctor(w http.ResponseWriter, r *http.Request) {
	license := chi.URLParam(r, "license")
	doctor, ok := h.clinic.FindDoctor(license)
	if !ok {
		h.fail(w, r, "get_doctor", &clinic.Error{Kind: clinic.KindLookup, Code: clinic.CodeDoctorNotFound, License: license})
		return
	}
	writeJSON(w, http.StatusOK, doctorResponse(doctor))
}

// AddSpecialty handles POST /doctors/{license}/specialties. It answers 201
// when the specialty was added and 200 when the doctor already had it.
func (h *ClinicHandler) AddSpecialty(w http.ResponseWriter, r *http.Request) {
	license := chi.URLParam(r, "license")

	var dto SpecialtyDTO
	if err := decode(r, &dto); err != nil {
		h.badRequest(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s, err := specialtyFromDTO(dto)
	if err != nil {
		h.badRequest(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	added, err := h.clinic.AddDoctorSpecialty(license, s)
	if err != nil {
		h.fail(w, r, "add_specialty", err)
		return
	}
	doctor, _ := h.clinic.FindDoctor(license)

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, doctorResponse(doctor))
}

// Availability handles GET /doctors/{license}/availability?day=
func (h *ClinicHandler) Availability(w http.ResponseWriter, r *http.Request) {
	license := chi.URLParam(r, "license")
	day, err := weekdayLabel(r.URL.Query().Get("day"))
	if err != nil {
		h.badRequest(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	kind, ok, err := h.clinic.SpecialtyAvailableOn(license, day)
	if err != nil {
		h.fail(w, r, "availability", err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{
		License:   strings.ToUpper(strings.TrimSpace(license)),
		Day:       day,
		Available: ok,
		Specialty: kind,
	})
}

func specialtyFromDTO(dto SpecialtyDTO) (clinic.Specialty, error) {
	if dto.Kind == "" {
		return clinic.Specialty{}, fmt.Errorf("specialty kind is required")
	}
	days := make([]string, 0, len(dto.Days))
	for _, d := range dto.Days {
		label, err := weekdayLabel(d)
		if err != nil {
			return clinic.Specialty{}, fmt.Errorf("specialty %s: %w", dto.Kind, err)
		}
		days = append(days, label)
	}
	return clinic.NewSpecialty(dto.Kind, days...), nil
}

// weekdayLabel resolves "Miércoles", "LUNES" and the like to the clinic's label
func weekdayLabel(raw string) (string, error) {
	wd, ok := clinic.ParseWeekday(raw)
	if !ok {
		return "", fmt.Errorf("unknown weekday %q", raw)
	}
	// Weekdays starts on Monday
	return clinic.Weekdays()[(int(wd)+6)%7], nil
}

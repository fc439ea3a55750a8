package handlers

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/api/middleware"
)

// SlotResponse answers GET /appointments/slots
type SlotResponse struct {
	License string `json:"license"`
	At      string `json:"at"`
	Taken   bool   `json:"taken"`
}

// ScheduleAppointment handles POST /appointments
func (h *ClinicHandler) ScheduleAppointment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "schedule_appointment")
	defer span.End()

	var req ScheduleRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, http.StatusBadRequest, "invalid request body")
		return
	}
	at, err := h.parseAt(req.At)
	if err != nil {
		h.badRequest(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	span.SetAttributes(
		attribute.String("patient_id", req.PatientID),
		attribute.String("license", req.License),
		attribute.String("specialty", req.Specialty),
	)

	appt, err := h.clinic.ScheduleAppointment(req.PatientID, req.License, req.Specialty, at)
	if err != nil {
		span.RecordError(err)
		h.fail(w, r, "schedule_appointment", err)
		return
	}

	h.logger.Debug("appointment booked over http",
		zap.String("appointment_id", appt.ID()),
		zap.String("request_id", middleware.GetRequestID(ctx)))
	writeJSON(w, http.StatusCreated, appointmentResponse(appt))
}

// ListAppointments handles GET /appointments
func (h *ClinicHandler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	appts := h.clinic.ListAppointments()
	out := make([]AppointmentResponse, len(appts))
	for i, a := range appts {
		out[i] = appointmentResponse(a)
	}
	writeJSON(w, http.StatusOK, out)
}

// SlotStatus handles GET /appointments/slots?license=&at=
func (h *ClinicHandler) SlotStatus(w http.ResponseWriter, r *http.Request) {
	license := r.URL.Query().Get("license")
	if license == "" {
		h.badRequest(w, http.StatusUnprocessableEntity, "license is required")
		return
	}
	at, err := h.parseAt(r.URL.Query().Get("at"))
	if err != nil {
		h.badRequest(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SlotResponse{
		License: license,
		At:      at.Format(localLayout),
		Taken:   h.clinic.SlotTaken(license, at),
	})
}

// IssuePrescription handles POST /prescriptions
func (h *ClinicHandler) IssuePrescription(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "issue_prescription")
	defer span.End()

	var req PrescriptionRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, http.StatusBadRequest, "invalid request body")
		return
	}
	span.SetAttributes(
		attribute.String("patient_id", req.PatientID),
		attribute.String("license", req.License),
	)

	rx, err := h.clinic.IssuePrescription(req.PatientID, req.License, req.Medications)
	if err != nil {
		span.RecordError(err)
		h.fail(w, r, "issue_prescription", err)
		return
	}

	resp := prescriptionResponse(rx)
	resp.Confirmation = rx.Confirmation()
	h.logger.Debug("prescription issued over http",
		zap.String("prescription_id", rx.ID()),
		zap.String("request_id", middleware.GetRequestID(ctx)))
	writeJSON(w, http.StatusCreated, resp)
}

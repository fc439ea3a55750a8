package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/api/middleware"
	"github.com/drfirst/go-clinic/internal/domain/clinic"
)

// RegisterPatient handles POST /patients. A repeated national ID answers 200
// with the stored patient; the first registration wins.
func (h *ClinicHandler) RegisterPatient(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "register_patient")
	defer span.End()

	var req RegisterPatientRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patient, err := clinic.NewPatient(req.Name, req.NationalID, req.BirthDate)
	if err != nil {
		h.fail(w, r, "register_patient", err)
		return
	}
	span.SetAttributes(attribute.String("patient_id", patient.NationalID()))

	outcome, err := h.clinic.RegisterPatient(patient)
	if err != nil {
		h.fail(w, r, "register_patient", err)
		return
	}
	h.observer.ObserveRegistration("patient", outcome)

	stored, _ := h.clinic.FindPatient(patient.NationalID())
	resp := patientResponse(stored)
	resp.Outcome = outcome.String()

	status := http.StatusCreated
	if outcome == clinic.AlreadyRegistered {
		status = http.StatusOK
	}
	h.logger.Info("patient registration",
		zap.String("patient_id", stored.NationalID()),
		zap.String("outcome", resp.Outcome),
		zap.String("request_id", middleware.GetRequestID(ctx)))
	writeJSON(w, status, resp)
}

// ListPatients handles GET /patients
func (h *ClinicHandler) ListPatients(w http.ResponseWriter, r *http.Request) {
	patients := h.clinic.ListPatients()
	out := make([]PatientResponse, len(patients))
	for i, p := range patients {
		out[i] = patientResponse(p)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPatient handles GET /patients/{id}
func (h *ClinicHandler) GetPatient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	patient, ok := h.clinic.FindPatient(id)
	if !ok {
		h.fail(w, r, "get_patient", &clinic.Error{Kind: clinic.KindLookup, Code: clinic.CodePatientNotFound, PatientID: id})
		return
	}
	writeJSON(w, http.StatusOK, patientResponse(patient))
}

// GetHistory handles GET /patients/{id}/history
func (h *ClinicHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.clinic.History(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get_history", err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse(history))
}

// OpenHistory handles POST /patients/{id}/history. Opening an existing
// history leaves it untouched.
func (h *ClinicHandler) OpenHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.clinic.OpenHistory(id); err != nil {
		h.fail(w, r, "open_history", err)
		return
	}
	history, err := h.clinic.History(id)
	if err != nil {
		h.fail(w, r, "open_history", err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse(history))
}

// GetHistoryFHIR handles GET /patients/{id}/history/fhir
func (h *ClinicHandler) GetHistoryFHIR(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "export_history_fhir")
	defer span.End()

	history, err := h.clinic.History(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "export_history", err)
		return
	}

	bundle, err := h.mapper.HistoryToBundle(history)
	if err != nil {
		span.RecordError(err)
		h.fail(w, r, "export_history", err)
		return
	}
	span.SetAttributes(attribute.Int("bundle.entries", len(bundle.Entry)))
	writeFHIR(w, http.StatusOK, bundle)
}

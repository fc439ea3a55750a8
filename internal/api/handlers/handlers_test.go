package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"

	"github.com/drfirst/go-clinic/internal/domain/clinic"
	"github.com/drfirst/go-clinic/internal/fhir/mapper"
	fhir "github.com/drfirst/go-clinic/internal/fhir/r5"
)

var buenosAires = time.FixedZone("ART", -3*60*60)

type recordingObserver struct {
	registrations map[string][]string
	rejections    map[string][]string
}

func (o *recordingObserver) ObserveRegistration(entity string, outcome clinic.Registration) {
	o.registrations[entity] = append(o.registrations[entity], outcome.String())
}

func (o *recordingObserver) ObserveRejection(operation string, err error) {
	reason := "internal"
	if ce, ok := clinic.AsError(err); ok {
		reason = string(ce.Code)
	}
	o.rejections[operation] = append(o.rejections[operation], reason)
}

var exportedAt = time.Date(2025, 6, 20, 8, 0, 0, 0, time.UTC)

type HandlerSuite struct {
	suite.Suite
	clinic   *clinic.Clinic
	observer *recordingObserver
	server   *httptest.Server
}

func (s *HandlerSuite) SetupTest() {
	issued := time.Date(2025, 6, 16, 11, 0, 0, 0, time.UTC)
	s.clinic = clinic.New(
		clinic.WithLogger(zaptest.NewLogger(s.T())),
		clinic.WithClock(func() time.Time { return issued }),
	)
	s.observer = &recordingObserver{registrations: map[string][]string{}, rejections: map[string][]string{}}

	exporter := &mapper.HistoryMapper{Now: func() time.Time { return exportedAt }}
	h := NewClinicHandler(s.clinic, buenosAires, zaptest.NewLogger(s.T()),
		WithObserver(s.observer), WithMapper(exporter))
	s.server = httptest.NewServer(h.Routes())
	s.T().Cleanup(s.server.Close)
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) do(method, path string, body any) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	s.T().Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *HandlerSuite) decode(resp *http.Response, v any) {
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(v))
}

func (s *HandlerSuite) outcome(resp *http.Response) fhir.OperationOutcomeIssue {
	s.Equal("application/fhir+json", resp.Header.Get("Content-Type"))
	var out fhir.OperationOutcome
	s.decode(resp, &out)
	s.Require().Len(out.Issue, 1)
	return out.Issue[0]
}

func (s *HandlerSuite) seed() {
	resp := s.do(http.MethodPost, "/patients", RegisterPatientRequest{Name: "Carlos Rodriguez", NationalID: "12.345.678", BirthDate: "1990-04-02"})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	resp = s.do(http.MethodPost, "/doctors", RegisterDoctorRequest{
		Name:    "Juan Perez",
		License: "mn1234",
		Specialties: []SpecialtyDTO{
			{Kind: "cardiologia", Days: []string{"Lunes", "Miércoles"}},
		},
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
}

func (s *HandlerSuite) TestRegisterPatient_FirstWins() {
	s.seed()

	resp := s.do(http.MethodPost, "/patients", RegisterPatientRequest{Name: "Someone Else", NationalID: "12345678"})
	s.Equal(http.StatusOK, resp.StatusCode)
	var body PatientResponse
	s.decode(resp, &body)
	s.Equal("Carlos Rodriguez", body.Name)
	s.Equal("already_registered", body.Outcome)
	s.Equal([]string{"registered", "already_registered"}, s.observer.registrations["patient"])
}

func (s *HandlerSuite) TestRegisterPatient_InvalidNationalID() {
	resp := s.do(http.MethodPost, "/patients", RegisterPatientRequest{Name: "Ana", NationalID: "12-AB"})
	s.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
	issue := s.outcome(resp)
	s.Equal(fhir.IssueInvalid, issue.Code)
	s.Equal("invalid_dni", issue.Details.Coding[0].Code)
	s.Equal([]string{"invalid_dni"}, s.observer.rejections["register_patient"])
}

func (s *HandlerSuite) TestRegisterPatient_MalformedBody() {
	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/patients", strings.NewReader("{"))
	s.Require().NoError(err)
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *HandlerSuite) TestRegisterDoctor_Validation() {
	resp := s.do(http.MethodPost, "/doctors", RegisterDoctorRequest{Name: "Juan Perez", License: "MN1234"})
	s.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
	s.Equal(codeInvalidRequest, s.outcome(resp).Details.Coding[0].Code)

	resp = s.do(http.MethodPost, "/doctors", RegisterDoctorRequest{
		Name: "Juan Perez", License: "MN1234",
		Specialties: []SpecialtyDTO{{Kind: "cardiologia", Days: []string{"funday"}}},
	})
	s.Equal(http.StatusUnprocessableEntity, resp.StatusCode)

	resp = s.do(http.MethodPost, "/doctors", RegisterDoctorRequest{
		Name: "Juan Perez", License: "XX1",
		Specialties: []SpecialtyDTO{{Kind: "cardiologia", Days: []string{"lunes"}}},
	})
	s.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
	s.Equal("invalid_license", s.outcome(resp).Details.Coding[0].Code)
	s.False(s.clinic.DoctorExists("MN1234"))
}

func (s *HandlerSuite) TestGetDoctorAndAvailability() {
	s.seed()

	resp := s.do(http.MethodGet, "/doctors/MN1234", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	var doctor DoctorResponse
	s.decode(resp, &doctor)
	s.Equal([]SpecialtyDTO{{Kind: "cardiologia", Days: []string{"lunes", "miercoles"}}}, doctor.Specialties)

	resp = s.do(http.MethodGet, "/doctors/mn1234/availability?day=MIERCOLES", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	var avail AvailabilityResponse
	s.decode(resp, &avail)
	s.Equal(AvailabilityResponse{License: "MN1234", Day: "miercoles", Available: true, Specialty: "cardiologia"}, avail)

	resp = s.do(http.MethodGet, "/doctors/MN9999", nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Equal(fhir.IssueNotFound, s.outcome(resp).Code)
}

func (s *HandlerSuite) TestAddSpecialty() {
	s.seed()

	resp := s.do(http.MethodPost, "/doctors/MN1234/specialties", SpecialtyDTO{Kind: "clinica", Days: []string{"viernes"}})
	s.Equal(http.StatusCreated, resp.StatusCode)
	resp = s.do(http.MethodPost, "/doctors/MN1234/specialties", SpecialtyDTO{Kind: "clinica", Days: []string{"viernes"}})
	s.Equal(http.StatusOK, resp.StatusCode)
	resp = s.do(http.MethodPost, "/doctors/MN9999/specialties", SpecialtyDTO{Kind: "clinica", Days: []string{"viernes"}})
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *HandlerSuite) TestScheduleAppointment() {
	s.seed()

	resp := s.do(http.MethodPost, "/appointments", ScheduleRequest{
		PatientID: "12345678", License: "MN1234", Specialty: "cardiologia", At: "2025-06-16T10:00",
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	var appt AppointmentResponse
	s.decode(resp, &appt)
	s.Equal("lunes", appt.Weekday)
	s.True(time.Date(2025, 6, 16, 13, 0, 0, 0, time.UTC).Equal(appt.At))

	resp = s.do(http.MethodGet, "/appointments/slots?license=MN1234&at=2025-06-16T13:00:00Z", nil)
	var slot SlotResponse
	s.decode(resp, &slot)
	s.True(slot.Taken)
	s.Equal("2025-06-16T10:00", slot.At)

	resp = s.do(http.MethodPost, "/appointments", ScheduleRequest{
		PatientID: "12345678", License: "MN1234", Specialty: "cardiologia", At: "2025-06-16T13:00:00Z",
	})
	s.Equal(http.StatusConflict, resp.StatusCode)
	s.Equal("slot_already_booked", s.outcome(resp).Details.Coding[0].Code)

	resp = s.do(http.MethodGet, "/appointments", nil)
	var list []AppointmentResponse
	s.decode(resp, &list)
	s.Len(list, 1)
}

func (s *HandlerSuite) TestScheduleAppointment_WeekdayInClinicZone() {
	s.seed()

	// Monday 01:00 UTC is Sunday evening at the clinic
	resp := s.do(http.MethodPost, "/appointments", ScheduleRequest{
		PatientID: "12345678", License: "MN1234", Specialty: "cardiologia", At: "2025-06-16T01:00:00Z",
	})
	s.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
	issue := s.outcome(resp)
	s.Equal(fhir.IssueBusiness, issue.Code)
	s.Equal("specialty_not_offered_on_day", issue.Details.Coding[0].Code)
}

func (s *HandlerSuite) TestScheduleAppointment_Errors() {
	s.seed()

	tests := []struct {
		name   string
		req    ScheduleRequest
		status int
		code   string
	}{
		{"unknown patient", ScheduleRequest{PatientID: "99999999", License: "MN1234", Specialty: "cardiologia", At: "2025-06-16T10:00"}, http.StatusNotFound, "patient_not_found"},
		{"unknown doctor", ScheduleRequest{PatientID: "12345678", License: "MN9999", Specialty: "cardiologia", At: "2025-06-16T10:00"}, http.StatusNotFound, "doctor_not_found"},
		{"specialty", ScheduleRequest{PatientID: "12345678", License: "MN1234", Specialty: "pediatria", At: "2025-06-16T10:00"}, http.StatusUnprocessableEntity, "specialty_not_offered"},
		{"bad time", ScheduleRequest{PatientID: "12345678", License: "MN1234", Specialty: "cardiologia", At: "16/06/2025"}, http.StatusUnprocessableEntity, codeInvalidRequest},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			resp := s.do(http.MethodPost, "/appointments", tt.req)
			s.Equal(tt.status, resp.StatusCode)
			s.Equal(tt.code, s.outcome(resp).Details.Coding[0].Code)
		})
	}
	s.Empty(s.clinic.ListAppointments())
}

func (s *HandlerSuite) TestIssuePrescriptionAndHistory() {
	s.seed()

	resp := s.do(http.MethodGet, "/patients/12345678/history", nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Equal("history_not_found", s.outcome(resp).Details.Coding[0].Code)

	resp = s.do(http.MethodPost, "/prescriptions", PrescriptionRequest{
		PatientID: "12345678", License: "MN1234", Medications: []string{"enalapril 10mg", "aspirina"},
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	var rx PrescriptionResponse
	s.decode(resp, &rx)
	s.Equal([]string{"enalapril 10mg", "aspirina"}, rx.Medications)
	s.Equal("Prescription issued for Carlos Rodriguez", rx.Confirmation)

	resp = s.do(http.MethodPost, "/prescriptions", PrescriptionRequest{PatientID: "12345678", License: "MN1234"})
	s.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
	s.Equal("empty_prescription", s.outcome(resp).Details.Coding[0].Code)

	resp = s.do(http.MethodGet, "/patients/12345678/history", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	var history HistoryResponse
	s.decode(resp, &history)
	s.Len(history.Prescriptions, 1)
	s.Empty(history.Appointments)
}

func (s *HandlerSuite) TestOpenHistory() {
	s.seed()

	resp := s.do(http.MethodPost, "/patients/12345678/history", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	var history HistoryResponse
	s.decode(resp, &history)
	s.Equal("12345678", history.Patient.NationalID)

	resp = s.do(http.MethodPost, "/patients/99999999/history", nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *HandlerSuite) TestHistoryFHIR() {
	s.seed()
	resp := s.do(http.MethodPost, "/appointments", ScheduleRequest{
		PatientID: "12345678", License: "MN1234", Specialty: "cardiologia", At: "2025-06-18T09:30",
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	resp = s.do(http.MethodGet, "/patients/12345678/history/fhir", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("application/fhir+json", resp.Header.Get("Content-Type"))
	var bundle fhir.Bundle
	s.decode(resp, &bundle)
	s.Equal(fhir.BundleCollection, bundle.Type)
	s.Require().NotNil(bundle.Timestamp)
	s.True(exportedAt.Equal(*bundle.Timestamp))
	s.Equal(1, bundle.Count("Patient"))
	s.Equal(1, bundle.Count("Practitioner"))
	s.Equal(1, bundle.Count("Appointment"))
}

func (s *HandlerSuite) TestListPatients() {
	s.seed()
	s.do(http.MethodPost, "/patients", RegisterPatientRequest{Name: "Ana Gomez", NationalID: "3011122"})

	resp := s.do(http.MethodGet, "/patients", nil)
	var list []PatientResponse
	s.decode(resp, &list)
	s.Require().Len(list, 2)
	s.Equal("12345678", list[0].NationalID)
	s.Equal("3011122", list[1].NationalID)

	resp = s.do(http.MethodGet, "/patients/30.111.22", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
}

func TestStatusFor_InternalError(t *testing.T) {
	status, issue, detail := statusFor(errFake{})
	if status != http.StatusInternalServerError || issue != fhir.IssueException || detail != "internal" {
		t.Fatalf("got %d %s %s", status, issue, detail)
	}
}

type errFake struct{}

func (errFake) Error() string { return "boom" }

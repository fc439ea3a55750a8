package handlers

import (
	"time"

	"github.com/drfirst/go-clinic/internal/domain/clinic"
)

// RegisterPatientRequest is the body of POST /patients
type RegisterPatientRequest struct {
	Name       string `json:"name"`
	NationalID string `json:"national_id"`
	BirthDate  string `json:"birth_date"`
}

// SpecialtyDTO is a specialty and the weekday labels it is offered on
type SpecialtyDTO struct {
	Kind string   `json:"kind"`
	Days []string `json:"days"`
}

// RegisterDoctorRequest is the body of POST /doctors
type RegisterDoctorRequest struct {
	Name        string         `json:"name"`
	License     string         `json:"license"`
	Specialties []SpecialtyDTO `json:"specialties"`
}

// ScheduleRequest is the body of POST /appointments
type ScheduleRequest struct {
	PatientID string `json:"patient_id"`
	License   string `json:"license"`
	Specialty string `json:"specialty"`
	At        string `json:"at"`
}

// PrescriptionRequest is the body of POST /prescriptions
type PrescriptionRequest struct {
	PatientID   string   `json:"patient_id"`
	License     string   `json:"license"`
	Medications []string `json:"medications"`
}

// PatientResponse describes a registered patient
type PatientResponse struct {
	NationalID string `json:"national_id"`
	Name       string `json:"name"`
	BirthDate  string `json:"birth_date,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
}

// DoctorResponse describes a registered doctor
type DoctorResponse struct {
	License     string         `json:"license"`
	Name        string         `json:"name"`
	Specialties []SpecialtyDTO `json:"specialties"`
	Outcome     string         `json:"outcome,omitempty"`
}

// AppointmentResponse describes a booked appointment
type AppointmentResponse struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patient_id"`
	PatientName string    `json:"patient_name"`
	License     string    `json:"license"`
	DoctorName  string    `json:"doctor_name"`
	Specialty   string    `json:"specialty"`
	Weekday     string    `json:"weekday"`
	At          time.Time `json:"at"`
}

// PrescriptionResponse describes an issued prescription
type PrescriptionResponse struct {
	ID           string    `json:"id"`
	PatientID    string    `json:"patient_id"`
	License      string    `json:"license"`
	DoctorName   string    `json:"doctor_name"`
	Medications  []string  `json:"medications"`
	IssuedAt     time.Time `json:"issued_at"`
	Confirmation string    `json:"confirmation,omitempty"`
}

// HistoryResponse is a patient's clinical history
type HistoryResponse struct {
	Patient       PatientResponse        `json:"patient"`
	Appointments  []AppointmentResponse  `json:"appointments"`
	Prescriptions []PrescriptionResponse `json:"prescriptions"`
}

func patientResponse(p *clinic.Patient) PatientResponse {
	return PatientResponse{NationalID: p.NationalID(), Name: p.Name(), BirthDate: p.BirthDate()}
}

func doctorResponse(d *clinic.Doctor) DoctorResponse {
	specs := d.Specialties()
	out := DoctorResponse{License: d.License(), Name: d.Name(), Specialties: make([]SpecialtyDTO, len(specs))}
	for i, s := range specs {
		out.Specialties[i] = SpecialtyDTO{Kind: s.Kind(), Days: s.Days()}
	}
	return out
}

func appointmentResponse(a *clinic.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID(),
		PatientID:   a.Patient().NationalID(),
		PatientName: a.Patient().Name(),
		License:     a.Doctor().License(),
		DoctorName:  a.Doctor().Name(),
		Specialty:   a.Specialty(),
		Weekday:     clinic.WeekdayName(a.At()),
		At:          a.At(),
	}
}

func prescriptionResponse(p *clinic.Prescription) PrescriptionResponse {
	return PrescriptionResponse{
		ID:          p.ID(),
		PatientID:   p.Patient().NationalID(),
		License:     p.Doctor().License(),
		DoctorName:  p.Doctor().Name(),
		Medications: p.Medications(),
		IssuedAt:    p.IssuedAt(),
	}
}

func historyResponse(h *clinic.ClinicalHistory) HistoryResponse {
	appts := h.Appointments()
	rxs := h.Prescriptions()
	out := HistoryResponse{
		Patient:       patientResponse(h.Patient()),
		Appointments:  make([]AppointmentResponse, len(appts)),
		Prescriptions: make([]PrescriptionResponse, len(rxs)),
	}
	for i, a := range appts {
		out.Appointments[i] = appointmentResponse(a)
	}
	for i, p := range rxs {
		out.Prescriptions[i] = prescriptionResponse(p)
	}
	return out
}

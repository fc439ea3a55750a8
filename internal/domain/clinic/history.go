package clinic

import (
	"fmt"
	"strings"
)

// ClinicalHistory accumulates a patient's appointments and prescriptions.
// Both sequences are append-only; accessors return copies.
type ClinicalHistory struct {
	patient       *Patient
	appointments  []*Appointment
	prescriptions []*Prescription
}

// NewClinicalHistory returns an empty history for patient
func NewClinicalHistory(patient *Patient) *ClinicalHistory {
	return &ClinicalHistory{patient: patient}
}

// Patient returns the owner of the history
func (h *ClinicalHistory) Patient() *Patient { return h.patient }

// AddAppointment appends a to the history
func (h *ClinicalHistory) AddAppointment(a *Appointment) {
	h.appointments = append(h.appointments, a)
}

// AddPrescription appends p to the history
func (h *ClinicalHistory) AddPrescription(p *Prescription) {
	h.prescriptions = append(h.prescriptions, p)
}

// Appointments returns a copy of the appointments in append order
func (h *ClinicalHistory) Appointments() []*Appointment {
	out := make([]*Appointment, len(h.appointments))
	copy(out, h.appointments)
	return out
}

// Prescriptions returns a copy of the prescriptions in append order
func (h *ClinicalHistory) Prescriptions() []*Prescription {
	out := make([]*Prescription, len(h.prescriptions))
	copy(out, h.prescriptions)
	return out
}

func (h *ClinicalHistory) snapshot() *ClinicalHistory {
	return &ClinicalHistory{
		patient:       h.patient,
		appointments:  h.Appointments(),
		prescriptions: h.Prescriptions(),
	}
}

func (h *ClinicalHistory) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Clinical history for %s\n", h.patient)
	b.WriteString("  Appointments:\n")
	if len(h.appointments) == 0 {
		b.WriteString("    none\n")
	}
	for _, a := range h.appointments {
		fmt.Fprintf(&b, "    %s\n", a)
	}
	b.WriteString("  Prescriptions:\n")
	if len(h.prescriptions) == 0 {
		b.WriteString("    none\n")
	}
	for _, p := range h.prescriptions {
		fmt.Fprintf(&b, "    %s\n", p)
	}
	return b.String()
}

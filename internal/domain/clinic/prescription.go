package clinic

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prescription is a dated medication list issued by a doctor to a patient
type Prescription struct {
	id          string
	patient     *Patient
	doctor      *Doctor
	medications []string
	issuedAt    time.Time
}

// NewPrescription builds a prescription. Entries are stored as given; only
// an empty list is rejected.
func NewPrescription(patient *Patient, doctor *Doctor, medications []string, issuedAt time.Time) (*Prescription, error) {
	if len(medications) == 0 {
		e := newError(CodeEmptyPrescription)
		if patient != nil {
			e.PatientID = patient.NationalID()
		}
		if doctor != nil {
			e.License = doctor.License()
		}
		return nil, e
	}

	return &Prescription{
		id:          uuid.New().String(),
		patient:     patient,
		doctor:      doctor,
		medications: append([]string(nil), medications...),
		issuedAt:    issuedAt,
	}, nil
}

// ID returns the prescription identifier
func (p *Prescription) ID() string { return p.id }

// Patient returns the patient the prescription was issued to
func (p *Prescription) Patient() *Patient { return p.patient }

// Doctor returns a copy of the issuing doctor
func (p *Prescription) Doctor() *Doctor { return p.doctor.clone() }

// Medications returns a copy of the medication list
func (p *Prescription) Medications() []string {
	out := make([]string, len(p.medications))
	copy(out, p.medications)
	return out
}

// IssuedAt returns the issuance timestamp
func (p *Prescription) IssuedAt() time.Time { return p.issuedAt }

// Confirmation is the message shown to the caller after issuing
func (p *Prescription) Confirmation() string {
	return "Prescription issued for " + p.patient.Name()
}

func (p *Prescription) String() string {
	return fmt.Sprintf("Prescription: patient %s, doctor %s, medications [%s], issued %s",
		p.patient.Name(), p.doctor.Name(), strings.Join(p.medications, ", "), p.issuedAt.Format("02/01/2006"))
}

// Package mapper transforms clinical histories into FHIR R5 resources.
package mapper

import (
	"errors"
	"fmt"
	"time"

	"github.com/drfirst/go-clinic/internal/domain/clinic"
	fhir "github.com/drfirst/go-clinic/internal/fhir/r5"
)

// MapError represents a mapping error with context
type MapError struct {
	Field   string
	Message string
	Cause   error
}

func (e *MapError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *MapError) Unwrap() error {
	return e.Cause
}

// birth dates are stored as supplied; these are the layouts we can convert
var birthDateLayouts = []string{"2006-01-02", "02/01/2006", "02-01-2006", "2/1/2006"}

// HistoryMapper builds FHIR bundles from clinical histories
type HistoryMapper struct {
	// Now stamps the bundle; defaults to time.Now
	Now func() time.Time
}

// NewHistoryMapper creates a mapper stamping bundles with the wall clock
func NewHistoryMapper() *HistoryMapper {
	return &HistoryMapper{Now: time.Now}
}

// HistoryToBundle maps a history with the default mapper
func HistoryToBundle(history *clinic.ClinicalHistory) (*fhir.Bundle, error) {
	return NewHistoryMapper().HistoryToBundle(history)
}

// HistoryToBundle returns a collection bundle holding the patient, one
// practitioner per distinct doctor, one appointment per appointment and one
// medication request per prescribed medication.
func (m *HistoryMapper) HistoryToBundle(history *clinic.ClinicalHistory) (*fhir.Bundle, error) {
	if history == nil || history.Patient() == nil {
		return nil, &MapError{Field: "ClinicalHistory", Message: "history has no patient"}
	}

	patient := m.mapPatient(history.Patient())
	patientRef := fhir.NewReference("Patient", patient.ID, patient.GetFullName())

	bundle := fhir.NewBundle("history-"+patient.ID, fhir.BundleCollection, m.Now().UTC())
	bundle.Add("Patient", patient.ID, patient)

	practitioners := make(map[string]*fhir.Practitioner)
	var order []string
	practitionerRef := func(d *clinic.Doctor) fhir.Reference {
		if _, ok := practitioners[d.License()]; !ok {
			practitioners[d.License()] = m.mapPractitioner(d)
			order = append(order, d.License())
		}
		p := practitioners[d.License()]
		return fhir.NewReference("Practitioner", p.ID, p.GetFullName())
	}

	var resources []fhir.BundleEntry
	for _, a := range history.Appointments() {
		ref := practitionerRef(a.Doctor())
		appt := fhir.NewAppointment(a.ID(), a.Specialty(), a.At(), patientRef, ref)
		resources = append(resources, fhir.BundleEntry{FullURL: "Appointment/" + appt.ID, Resource: appt})
	}

	var errs []error
	for _, p := range history.Prescriptions() {
		ref := practitionerRef(p.Doctor())
		for i, med := range p.Medications() {
			id := fmt.Sprintf("%s-%d", p.ID(), i+1)
			req := fhir.NewMedicationRequest(id, p.ID(), med, patientRef, ref, p.IssuedAt())
			if err := req.Validate(); err != nil {
				errs = append(errs, &MapError{Field: "MedicationRequest/" + id, Message: "invalid resource", Cause: err})
				continue
			}
			resources = append(resources, fhir.BundleEntry{FullURL: "MedicationRequest/" + id, Resource: req})
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	for _, license := range order {
		bundle.Add("Practitioner", license, practitioners[license])
	}
	bundle.Entry = append(bundle.Entry, resources...)

	total := len(bundle.Entry)
	bundle.Total = &total
	return bundle, nil
}

func (m *HistoryMapper) mapPatient(p *clinic.Patient) *fhir.Patient {
	return fhir.NewPatient(p.NationalID(), p.Name(), formatBirthDate(p.BirthDate()))
}

func (m *HistoryMapper) mapPractitioner(d *clinic.Doctor) *fhir.Practitioner {
	specialties := d.Specialties()
	kinds := make([]string, len(specialties))
	for i, s := range specialties {
		kinds[i] = s.Kind()
	}
	return fhir.NewPractitioner(d.License(), d.Name(), kinds...)
}

// formatBirthDate converts a stored birth date to the FHIR date form, or
// returns "" when it is not in a recognised layout.
func formatBirthDate(raw string) string {
	for _, layout := range birthDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

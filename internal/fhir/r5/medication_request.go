package r5

import (
	"errors"
	"time"
)

// MedicationRequest represents a FHIR R5 MedicationRequest resource.
// The clinic emits one per medication of a prescription.
type MedicationRequest struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id,omitempty"`
	Meta         *Meta  `json:"meta,omitempty"`

	// Identifiers; the prescription ID groups the requests of one prescription
	Identifier []Identifier `json:"identifier,omitempty"`

	// GroupIdentifier is shared by every request of the same prescription
	GroupIdentifier *Identifier `json:"groupIdentifier,omitempty"`

	Status string `json:"status"` // active | on-hold | cancelled | completed | entered-in-error | stopped | draft | unknown
	Intent string `json:"intent"` // proposal | plan | order | original-order | reflex-order | filler-order | instance-order | option

	// Medication being requested (R5 uses CodeableReference)
	Medication CodeableReference `json:"medication"`

	// Subject (patient) for whom the medication is prescribed
	Subject Reference `json:"subject"`

	// When request was initially authored
	AuthoredOn time.Time `json:"authoredOn"`

	// Who requested the medication
	Requester *Reference `json:"requester,omitempty"`
}

// NewMedicationRequest creates an active order for one medication
func NewMedicationRequest(id, prescriptionID, medication string, subject, requester Reference, authoredOn time.Time) *MedicationRequest {
	group := &Identifier{System: SystemPrescription, Value: prescriptionID}
	return &MedicationRequest{
		ResourceType:    "MedicationRequest",
		ID:              id,
		Identifier:      []Identifier{*group},
		GroupIdentifier: group,
		Status:          StatusActive,
		Intent:          IntentOrder,
		Medication: CodeableReference{
			Concept: &CodeableConcept{Text: medication},
		},
		Subject:    subject,
		AuthoredOn: authoredOn,
		Requester:  &requester,
	}
}

// Validate checks the elements FHIR requires on a MedicationRequest
func (m *MedicationRequest) Validate() error {
	var errs []error
	if m.Status == "" {
		errs = append(errs, errors.New("status is required"))
	}
	if m.Intent == "" {
		errs = append(errs, errors.New("intent is required"))
	}
	if m.Medication.Concept == nil && m.Medication.Reference == nil {
		errs = append(errs, errors.New("medication is required"))
	}
	if m.Subject.Reference == "" {
		errs = append(errs, errors.New("subject is required"))
	}
	return errors.Join(errs...)
}

// GetPatientID extracts the patient ID from the subject reference.
func (m *MedicationRequest) GetPatientID() string {
	return extractIDFromReference(m.Subject.Reference)
}

// GetPrescriberLicense extracts the license from the requester reference.
func (m *MedicationRequest) GetPrescriberLicense() string {
	if m.Requester == nil {
		return ""
	}
	return extractIDFromReference(m.Requester.Reference)
}

// GetMedicationDisplay returns the medication text.
func (m *MedicationRequest) GetMedicationDisplay() string {
	if m.Medication.Concept != nil {
		if m.Medication.Concept.Text != "" {
			return m.Medication.Concept.Text
		}
		if len(m.Medication.Concept.Coding) > 0 {
			return m.Medication.Concept.Coding[0].Display
		}
	}
	if m.Medication.Reference != nil {
		return m.Medication.Reference.Display
	}
	return ""
}


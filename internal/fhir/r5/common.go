// Package r5 provides the FHIR R5 data structures used to export clinical histories.
package r5

import "time"

// Meta contains metadata about a resource.
type Meta struct {
	VersionID   string     `json:"versionId,omitempty"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
	Source      string     `json:"source,omitempty"`
	Profile     []string   `json:"profile,omitempty"`
}

// Identifier represents a FHIR Identifier.
type Identifier struct {
	Use    string `json:"use,omitempty"` // usual | official | temp | secondary | old
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

// CodeableConcept represents a concept with text and codings.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Coding represents a code from a terminology system.
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// Reference represents a reference to another resource.
type Reference struct {
	Reference  string      `json:"reference,omitempty"`
	Type       string      `json:"type,omitempty"`
	Identifier *Identifier `json:"identifier,omitempty"`
	Display    string      `json:"display,omitempty"`
}

// CodeableReference is new in FHIR R5 - can be either a CodeableConcept or a Reference.
type CodeableReference struct {
	Concept   *CodeableConcept `json:"concept,omitempty"`
	Reference *Reference       `json:"reference,omitempty"`
}

// HumanName represents a human name.
type HumanName struct {
	Use    string   `json:"use,omitempty"` // usual | official | temp | nickname | anonymous | old | maiden
	Text   string   `json:"text,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
	Prefix []string `json:"prefix,omitempty"`
}

// OperationOutcome represents errors and warnings from FHIR operations.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

// OperationOutcomeIssue represents a single issue in an OperationOutcome.
type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"` // fatal | error | warning | information
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
}

// NewOperationOutcome creates a new OperationOutcome with the given issues.
func NewOperationOutcome(issues ...OperationOutcomeIssue) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue:        issues,
	}
}

// NewErrorOutcome creates an OperationOutcome with a single error issue.
// detail, when set, becomes the issue's coded detail.
func NewErrorOutcome(code, detail, diagnostics string) *OperationOutcome {
	issue := OperationOutcomeIssue{
		Severity:    "error",
		Code:        code,
		Diagnostics: diagnostics,
	}
	if detail != "" {
		issue.Details = &CodeableConcept{
			Coding: []Coding{{System: SystemClinicErrors, Code: detail}},
		}
	}
	return NewOperationOutcome(issue)
}

// Issue type codes
const (
	IssueInvalid   = "invalid"
	IssueNotFound  = "not-found"
	IssueConflict  = "conflict"
	IssueBusiness  = "business-rule"
	IssueException = "exception"
	IssueSecurity  = "security"
)

// Code systems used by the clinic
const (
	SystemNationalID    = "http://clinic.example.org/dni"
	SystemLicense       = "http://clinic.example.org/license"
	SystemSpecialty     = "http://clinic.example.org/specialty"
	SystemPrescription  = "http://clinic.example.org/prescription"
	SystemAppointment   = "http://clinic.example.org/appointment"
	SystemClinicErrors  = "http://clinic.example.org/error-code"
	SystemServiceType   = "http://terminology.hl7.org/CodeSystem/service-type"
	SystemParticipation = "http://terminology.hl7.org/CodeSystem/v3-ParticipationType"
)

// MedicationRequest statuses
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// MedicationRequest intents
const (
	IntentProposal = "proposal"
	IntentPlan     = "plan"
	IntentOrder    = "order"
)

// Appointment statuses
const (
	AppointmentProposed  = "proposed"
	AppointmentBooked    = "booked"
	AppointmentFulfilled = "fulfilled"
	AppointmentCancelled = "cancelled"
)

// NewReference builds a relative literal reference such as "Patient/30111222"
func NewReference(resourceType, id, display string) Reference {
	return Reference{Reference: resourceType + "/" + id, Display: display}
}

// extractIDFromReference extracts the ID from a FHIR reference string.
func extractIDFromReference(ref string) string {
	// Handle references like "Patient/123" or "urn:uuid:123"
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == '/' || ref[i] == ':' {
			return ref[i+1:]
		}
	}
	return ref
}

package r5

import (
	"strings"
	"time"
)

// Appointment represents a FHIR R5 Appointment resource.
type Appointment struct {
	ResourceType string                   `json:"resourceType"`
	ID           string                   `json:"id,omitempty"`
	Meta         *Meta                    `json:"meta,omitempty"`
	Identifier   []Identifier             `json:"identifier,omitempty"`
	Status       string                   `json:"status"` // proposed | pending | booked | arrived | fulfilled | cancelled | noshow | entered-in-error | checked-in | waitlist
	ServiceType  []CodeableReference      `json:"serviceType,omitempty"`
	Description  string                   `json:"description,omitempty"`
	Start        *time.Time               `json:"start,omitempty"`
	End          *time.Time               `json:"end,omitempty"`
	Subject      *Reference               `json:"subject,omitempty"`
	Participant  []AppointmentParticipant `json:"participant"`
}

// AppointmentParticipant is one participant of an appointment.
type AppointmentParticipant struct {
	Type     []CodeableConcept `json:"type,omitempty"`
	Actor    *Reference        `json:"actor,omitempty"`
	Required bool              `json:"required,omitempty"`
	Status   string            `json:"status"` // accepted | declined | tentative | needs-action
}

// NewAppointment creates a booked appointment between patient and practitioner
func NewAppointment(id, specialty string, start time.Time, patient, practitioner Reference) *Appointment {
	return &Appointment{
		ResourceType: "Appointment",
		ID:           id,
		Identifier:   []Identifier{{System: SystemAppointment, Value: id}},
		Status:       AppointmentBooked,
		ServiceType: []CodeableReference{{
			Concept: &CodeableConcept{
				Coding: []Coding{{System: SystemSpecialty, Code: specialty, Display: specialty}},
				Text:   specialty,
			},
		}},
		Start:   &start,
		Subject: &patient,
		Participant: []AppointmentParticipant{
			{Actor: &patient, Required: true, Status: "accepted"},
			{
				Type: []CodeableConcept{{
					Coding: []Coding{{System: SystemParticipation, Code: "PPRF", Display: "primary performer"}},
				}},
				Actor:    &practitioner,
				Required: true,
				Status:   "accepted",
			},
		},
	}
}

// GetSpecialty returns the first service type text.
func (a *Appointment) GetSpecialty() string {
	for _, st := range a.ServiceType {
		if st.Concept != nil && st.Concept.Text != "" {
			return st.Concept.Text
		}
	}
	return ""
}

// GetPractitionerID returns the ID of the first practitioner participant.
func (a *Appointment) GetPractitionerID() string {
	for _, p := range a.Participant {
		if p.Actor != nil && strings.HasPrefix(p.Actor.Reference, "Practitioner/") {
			return extractIDFromReference(p.Actor.Reference)
		}
	}
	return ""
}

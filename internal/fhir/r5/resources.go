package r5

import "strings"

// Patient represents a FHIR R5 Patient resource.
type Patient struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id,omitempty"`
	Meta         *Meta        `json:"meta,omitempty"`
	Identifier   []Identifier `json:"identifier,omitempty"`
	Active       bool         `json:"active,omitempty"`
	Name         []HumanName  `json:"name,omitempty"`
	BirthDate    string       `json:"birthDate,omitempty"`
}

// NewPatient creates a Patient identified by its national ID
func NewPatient(nationalID, name, birthDate string) *Patient {
	return &Patient{
		ResourceType: "Patient",
		ID:           nationalID,
		Identifier: []Identifier{{
			Use:    "official",
			System: SystemNationalID,
			Value:  nationalID,
		}},
		Active:    true,
		Name:      []HumanName{{Use: "official", Text: name}},
		BirthDate: birthDate,
	}
}

// GetNationalID returns the patient's DNI.
func (p *Patient) GetNationalID() string {
	return identifierValue(p.Identifier, SystemNationalID)
}

// GetFullName returns the patient's full name as a string.
func (p *Patient) GetFullName() string {
	return fullName(p.Name)
}

// Practitioner represents a FHIR R5 Practitioner resource.
type Practitioner struct {
	ResourceType  string                      `json:"resourceType"`
	ID            string                      `json:"id,omitempty"`
	Meta          *Meta                       `json:"meta,omitempty"`
	Identifier    []Identifier                `json:"identifier,omitempty"`
	Active        bool                        `json:"active,omitempty"`
	Name          []HumanName                 `json:"name,omitempty"`
	Qualification []PractitionerQualification `json:"qualification,omitempty"`
}

// PractitionerQualification represents a practitioner's qualifications.
type PractitionerQualification struct {
	Identifier []Identifier    `json:"identifier,omitempty"`
	Code       CodeableConcept `json:"code"`
}

// NewPractitioner creates a Practitioner identified by its license, with one
// qualification per specialty.
func NewPractitioner(license, name string, specialties ...string) *Practitioner {
	p := &Practitioner{
		ResourceType: "Practitioner",
		ID:           license,
		Identifier: []Identifier{{
			Use:    "official",
			System: SystemLicense,
			Value:  license,
		}},
		Active: true,
		Name:   []HumanName{{Use: "official", Text: name, Prefix: []string{"Dr."}}},
	}
	for _, s := range specialties {
		p.Qualification = append(p.Qualification, PractitionerQualification{
			Code: CodeableConcept{
				Coding: []Coding{{System: SystemSpecialty, Code: s, Display: s}},
				Text:   s,
			},
		})
	}
	return p
}

// GetLicense returns the practitioner's license number.
func (p *Practitioner) GetLicense() string {
	return identifierValue(p.Identifier, SystemLicense)
}

// GetFullName returns the practitioner's full name as a string.
func (p *Practitioner) GetFullName() string {
	return fullName(p.Name)
}

// Specialties returns the qualification codes in order.
func (p *Practitioner) Specialties() []string {
	out := make([]string, 0, len(p.Qualification))
	for _, q := range p.Qualification {
		if q.Code.Text != "" {
			out = append(out, q.Code.Text)
		}
	}
	return out
}

func identifierValue(ids []Identifier, system string) string {
	for _, id := range ids {
		if id.System == system {
			return id.Value
		}
	}
	return ""
}

// fullName picks the official name, or the first one, and renders it
func fullName(names []HumanName) string {
	if len(names) == 0 {
		return ""
	}
	name := names[0]
	for _, n := range names {
		if n.Use == "official" {
			name = n
			break
		}
	}
	if name.Text != "" {
		return name.Text
	}
	parts := append([]string{}, name.Given...)
	if name.Family != "" {
		parts = append(parts, name.Family)
	}
	return strings.Join(parts, " ")
}

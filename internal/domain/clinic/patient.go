package clinic

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var dniPattern = regexp.MustCompile(`^\d{7,8}$`)

// Patient is an immutable identity record keyed by national ID
type Patient struct {
	name       string
	nationalID string
	birthDate  string
}

// NewPatient validates and normalizes a patient. Dots and whitespace are
// stripped from the national ID before matching 7 or 8 digits.
func NewPatient(name, nationalID, birthDate string) (*Patient, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newError(CodeInvalidPatient)
	}

	id, err := NormalizeNationalID(nationalID)
	if err != nil {
		return nil, err
	}

	return &Patient{
		name:       name,
		nationalID: id,
		birthDate:  strings.TrimSpace(birthDate),
	}, nil
}

// NormalizeNationalID strips separators and validates the result
func NormalizeNationalID(raw string) (string, error) {
	id := strings.Map(func(r rune) rune {
		if r == '.' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
	if !dniPattern.MatchString(id) {
		e := newError(CodeInvalidDni)
		e.Input = raw
		return "", e
	}
	return id, nil
}

// Name returns the display name
func (p *Patient) Name() string { return p.name }

// NationalID returns the normalized national ID
func (p *Patient) NationalID() string { return p.nationalID }

// BirthDate returns the birth date as supplied
func (p *Patient) BirthDate() string { return p.birthDate }

func (p *Patient) String() string {
	return fmt.Sprintf("Patient: %s, DNI: %s, Birth date: %s", p.name, p.nationalID, p.birthDate)
}

package clinic

import (
	"fmt"
	"regexp"
	"strings"
)

var licensePattern = regexp.MustCompile(`^M[NP]\d{4,6}$`)

// Doctor is a practitioner keyed by license number. Specialties keep
// insertion order; that order decides SpecialtyOfferedOn ties.
type Doctor struct {
	name        string
	license     string
	specialties []Specialty
}

// NewDoctor validates the identity fields and adds specialties in order,
// skipping duplicates. Callers are expected to supply at least one specialty.
func NewDoctor(name, license string, specialties ...Specialty) (*Doctor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newError(CodeInvalidDoctor)
	}

	normalized, err := NormalizeLicense(license)
	if err != nil {
		return nil, err
	}

	d := &Doctor{name: name, license: normalized}
	for _, s := range specialties {
		d.AddSpecialty(s)
	}
	return d, nil
}

// NormalizeLicense trims and upper-cases a license and validates its format
func NormalizeLicense(raw string) (string, error) {
	license := strings.ToUpper(strings.TrimSpace(raw))
	if !licensePattern.MatchString(license) {
		e := newError(CodeInvalidLicense)
		e.Input = raw
		return "", e
	}
	return license, nil
}

// Name returns the display name
func (d *Doctor) Name() string { return d.name }

// License returns the normalized license number
func (d *Doctor) License() string { return d.license }

// Specialties returns a copy of the doctor's specialties in insertion order
func (d *Doctor) Specialties() []Specialty {
	out := make([]Specialty, len(d.specialties))
	copy(out, d.specialties)
	return out
}

// AddSpecialty appends s unless an equal specialty is already present
func (d *Doctor) AddSpecialty(s Specialty) bool {
	for _, existing := range d.specialties {
		if existing.Equal(s) {
			return false
		}
	}
	d.specialties = append(d.specialties, s)
	return true
}

// Practices reports whether the doctor has a specialty with exactly this name
func (d *Doctor) Practices(kind string) bool {
	for _, s := range d.specialties {
		if s.Kind() == kind {
			return true
		}
	}
	return false
}

// SpecialtyOfferedOn returns the first specialty, by insertion order, offered on day
func (d *Doctor) SpecialtyOfferedOn(day string) (string, bool) {
	for _, s := range d.specialties {
		if s.OfferedOn(day) {
			return s.Kind(), true
		}
	}
	return "", false
}

func (d *Doctor) clone() *Doctor {
	return &Doctor{
		name:        d.name,
		license:     d.license,
		specialties: d.Specialties(),
	}
}

func (d *Doctor) String() string {
	kinds := make([]string, 0, len(d.specialties))
	for _, s := range d.specialties {
		kinds = append(kinds, s.String())
	}
	return fmt.Sprintf("Doctor: %s, License: %s, Specialties: [%s]", d.name, d.license, strings.Join(kinds, "; "))
}

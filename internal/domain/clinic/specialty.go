package clinic

import (
	"fmt"
	"strings"
)

// Specialty is a practice area and the weekdays it is offered
type Specialty struct {
	kind string
	days []string
}

// NewSpecialty builds a specialty; day labels are stored lower-cased
func NewSpecialty(kind string, days ...string) Specialty {
	s := Specialty{kind: kind, days: make([]string, 0, len(days))}
	for _, d := range days {
		s.days = append(s.days, strings.ToLower(strings.TrimSpace(d)))
	}
	return s
}

// Kind returns the specialty label, e.g. "cardiologia"
func (s Specialty) Kind() string { return s.kind }

// Days returns a copy of the offered day labels
func (s Specialty) Days() []string {
	out := make([]string, len(s.days))
	copy(out, s.days)
	return out
}

// OfferedOn reports whether the specialty is offered on day (case and accent insensitive)
func (s Specialty) OfferedOn(day string) bool {
	key := foldDay(day)
	for _, d := range s.days {
		if foldDay(d) == key {
			return true
		}
	}
	return false
}

// Equal compares kind exactly and offered days as a set
func (s Specialty) Equal(other Specialty) bool {
	if s.kind != other.kind {
		return false
	}
	return sameDays(s.days, other.days)
}

func sameDays(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, d := range a {
		set[foldDay(d)] = struct{}{}
	}
	other := make(map[string]struct{}, len(b))
	for _, d := range b {
		k := foldDay(d)
		if _, ok := set[k]; !ok {
			return false
		}
		other[k] = struct{}{}
	}
	return len(set) == len(other)
}

func (s Specialty) String() string {
	return fmt.Sprintf("%s (%s)", s.kind, strings.Join(s.days, ", "))
}

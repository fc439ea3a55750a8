package clinic

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Weekday labels used by the clinic, indexed by time.Weekday
var weekdayLabels = [7]string{
	time.Sunday:    "domingo",
	time.Monday:    "lunes",
	time.Tuesday:   "martes",
	time.Wednesday: "miercoles",
	time.Thursday:  "jueves",
	time.Friday:    "viernes",
	time.Saturday:  "sabado",
}

// WeekdayName returns the clinic label for the weekday of t, evaluated in t's location
func WeekdayName(t time.Time) string {
	return weekdayLabels[t.Weekday()]
}

// Weekdays returns the seven labels starting on Monday
func Weekdays() []string {
	out := make([]string, 0, 7)
	for i := 1; i <= 7; i++ {
		out = append(out, weekdayLabels[time.Weekday(i%7)])
	}
	return out
}

// ParseWeekday resolves a label such as "Miércoles" or "LUNES" to a time.Weekday
func ParseWeekday(label string) (time.Weekday, bool) {
	key := foldDay(label)
	for i, l := range weekdayLabels {
		if l == key {
			return time.Weekday(i), true
		}
	}
	return 0, false
}

// foldDay lower-cases and strips diacritics so "Miércoles" matches "miercoles"
func foldDay(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}

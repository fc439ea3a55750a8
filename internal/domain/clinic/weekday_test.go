package clinic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWeekdayName(t *testing.T) {
	cases := map[string]string{
		"2025-06-16": "lunes",
		"2025-06-17": "martes",
		"2025-06-18": "miercoles",
		"2025-06-19": "jueves",
		"2025-06-20": "viernes",
		"2025-06-21": "sabado",
		"2025-06-22": "domingo",
	}
	for date, want := range cases {
		at, err := time.Parse("2006-01-02", date)
		assert.NoError(t, err)
		assert.Equal(t, want, WeekdayName(at), date)
	}
}

func TestWeekdayName_UsesLocation(t *testing.T) {
	// 02:00 UTC Tuesday is still Monday evening in Buenos Aires
	utc := time.Date(2025, 6, 17, 2, 0, 0, 0, time.UTC)
	art := time.FixedZone("ART", -3*60*60)
	assert.Equal(t, "martes", WeekdayName(utc))
	assert.Equal(t, "lunes", WeekdayName(utc.In(art)))
}

func TestWeekdays(t *testing.T) {
	assert.Equal(t,
		[]string{"lunes", "martes", "miercoles", "jueves", "viernes", "sabado", "domingo"},
		Weekdays())
}

func TestParseWeekday(t *testing.T) {
	day, ok := ParseWeekday("Miércoles")
	assert.True(t, ok)
	assert.Equal(t, time.Wednesday, day)

	day, ok = ParseWeekday(" SÁBADO ")
	assert.True(t, ok)
	assert.Equal(t, time.Saturday, day)

	_, ok = ParseWeekday("monday")
	assert.False(t, ok)
}

package clinic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPatient_NormalizesNationalID(t *testing.T) {
	for _, raw := range []string{"12.345.678", "12 345 678", "12345678", " 12345678\t"} {
		t.Run(raw, func(t *testing.T) {
			p, err := NewPatient("Carlos Rodriguez", raw, "1990-04-02")
			require.NoError(t, err)
			assert.Equal(t, "12345678", p.NationalID())
		})
	}
}

func TestNewPatient_AcceptsSevenDigits(t *testing.T) {
	p, err := NewPatient("Ana", "1.234.567", "")
	require.NoError(t, err)
	assert.Equal(t, "1234567", p.NationalID())
}

func TestNewPatient_RejectsBadNationalID(t *testing.T) {
	for _, raw := range []string{"", "123456", "123456789", "12-345-678", "1234567a"} {
		t.Run(raw, func(t *testing.T) {
			_, err := NewPatient("Ana", raw, "")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidDni))
			assert.True(t, IsKind(err, KindValidation))

			ce, ok := AsError(err)
			require.True(t, ok)
			assert.Equal(t, raw, ce.Input)
		})
	}
}

func TestNewPatient_RejectsBlankName(t *testing.T) {
	_, err := NewPatient("   ", "12345678", "")
	assert.ErrorIs(t, err, ErrInvalidPatient)
}

func TestPatient_String(t *testing.T) {
	p, err := NewPatient(" Carlos Rodriguez ", "12345678", "02/04/1990")
	require.NoError(t, err)
	assert.Equal(t, "Patient: Carlos Rodriguez, DNI: 12345678, Birth date: 02/04/1990", p.String())
}

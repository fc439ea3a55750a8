package clinic

import (
	"errors"
	"fmt"
	"time"
)

// Kind groups failures by where they are detected
type Kind string

const (
	// KindValidation covers malformed identity fields caught at construction
	KindValidation Kind = "validation"
	// KindLookup covers unknown patient, doctor or history identifiers
	KindLookup Kind = "lookup"
	// KindRule covers scheduling and prescription rule violations
	KindRule Kind = "rule"
)

// Code identifies a single failure variant
type Code string

const (
	CodeInvalidPatient           Code = "invalid_patient"
	CodeInvalidDni               Code = "invalid_dni"
	CodeInvalidDoctor            Code = "invalid_doctor"
	CodeInvalidLicense           Code = "invalid_license"
	CodePatientNotFound          Code = "patient_not_found"
	CodeDoctorNotFound           Code = "doctor_not_found"
	CodeHistoryNotFound          Code = "history_not_found"
	CodeSpecialtyNotOffered      Code = "specialty_not_offered"
	CodeSpecialtyNotOfferedOnDay Code = "specialty_not_offered_on_day"
	CodeSlotAlreadyBooked        Code = "slot_already_booked"
	CodeEmptyPrescription        Code = "empty_prescription"
)

// Sentinels for errors.Is matching. Every *Error unwraps to exactly one of these.
var (
	ErrInvalidPatient           = errors.New("invalid patient")
	ErrInvalidDni               = errors.New("invalid national id")
	ErrInvalidDoctor            = errors.New("invalid doctor")
	ErrInvalidLicense           = errors.New("invalid license number")
	ErrPatientNotFound          = errors.New("patient not found")
	ErrDoctorNotFound           = errors.New("doctor not found")
	ErrHistoryNotFound          = errors.New("clinical history not found")
	ErrSpecialtyNotOffered      = errors.New("specialty not offered")
	ErrSpecialtyNotOfferedOnDay = errors.New("specialty not offered on day")
	ErrSlotAlreadyBooked        = errors.New("slot already booked")
	ErrEmptyPrescription        = errors.New("prescription has no medications")
)

var sentinels = map[Code]error{
	CodeInvalidPatient:           ErrInvalidPatient,
	CodeInvalidDni:               ErrInvalidDni,
	CodeInvalidDoctor:            ErrInvalidDoctor,
	CodeInvalidLicense:           ErrInvalidLicense,
	CodePatientNotFound:          ErrPatientNotFound,
	CodeDoctorNotFound:           ErrDoctorNotFound,
	CodeHistoryNotFound:          ErrHistoryNotFound,
	CodeSpecialtyNotOffered:      ErrSpecialtyNotOffered,
	CodeSpecialtyNotOfferedOnDay: ErrSpecialtyNotOfferedOnDay,
	CodeSlotAlreadyBooked:        ErrSlotAlreadyBooked,
	CodeEmptyPrescription:        ErrEmptyPrescription,
}

var kinds = map[Code]Kind{
	CodeInvalidPatient:           KindValidation,
	CodeInvalidDni:               KindValidation,
	CodeInvalidDoctor:            KindValidation,
	CodeInvalidLicense:           KindValidation,
	CodePatientNotFound:          KindLookup,
	CodeDoctorNotFound:           KindLookup,
	CodeHistoryNotFound:          KindLookup,
	CodeSpecialtyNotOffered:      KindRule,
	CodeSpecialtyNotOfferedOnDay: KindRule,
	CodeSlotAlreadyBooked:        KindRule,
	CodeEmptyPrescription:        KindRule,
}

// Error is the single concrete error type returned by the clinic package.
// Only the context fields relevant to Code are populated.
type Error struct {
	Kind      Kind
	Code      Code
	PatientID string
	License   string
	Specialty string
	Day       string
	At        time.Time
	Input     string
}

func newError(code Code) *Error {
	return &Error{Kind: kinds[code], Code: code}
}

// Error renders a message precise enough to show to an operator
func (e *Error) Error() string {
	switch e.Code {
	case CodeInvalidPatient:
		return "invalid patient: name must not be empty"
	case CodeInvalidDni:
		return fmt.Sprintf("invalid national id %q: expected 7 or 8 digits", e.Input)
	case CodeInvalidDoctor:
		return "invalid doctor: name must not be empty"
	case CodeInvalidLicense:
		return fmt.Sprintf("invalid license number %q: expected MN or MP followed by 4 to 6 digits", e.Input)
	case CodePatientNotFound:
		return fmt.Sprintf("patient with national id %s is not registered", e.PatientID)
	case CodeDoctorNotFound:
		return fmt.Sprintf("doctor with license %s is not registered", e.License)
	case CodeHistoryNotFound:
		return fmt.Sprintf("no clinical history for national id %s", e.PatientID)
	case CodeSpecialtyNotOffered:
		return fmt.Sprintf("doctor %s does not practice %s", e.License, e.Specialty)
	case CodeSpecialtyNotOfferedOnDay:
		return fmt.Sprintf("doctor %s does not see %s patients on %s", e.License, e.Specialty, e.Day)
	case CodeSlotAlreadyBooked:
		return fmt.Sprintf("doctor %s already has an appointment at %s", e.License, e.At.Format("2006-01-02 15:04"))
	case CodeEmptyPrescription:
		return "prescription must contain at least one medication"
	}
	return string(e.Code)
}

// Unwrap exposes the sentinel for errors.Is
func (e *Error) Unwrap() error {
	return sentinels[e.Code]
}

// AsError extracts a *Error from err
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsKind reports whether err is a clinic error of the given kind
func IsKind(err error, kind Kind) bool {
	ce, ok := AsError(err)
	return ok && ce.Kind == kind
}

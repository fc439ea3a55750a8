package clinic

import (
	"fmt"
	"time"
)

// Appointment is a booked slot. Only the Clinic creates them, after the
// scheduling pipeline has passed.
type Appointment struct {
	id        string
	patient   *Patient
	doctor    *Doctor
	specialty string
	at        time.Time
}

// ID returns the appointment identifier
func (a *Appointment) ID() string { return a.id }

// Patient returns the booked patient
func (a *Appointment) Patient() *Patient { return a.patient }

// Doctor returns a copy of the doctor as booked
func (a *Appointment) Doctor() *Doctor { return a.doctor.clone() }

// Specialty returns the booked specialty
func (a *Appointment) Specialty() string { return a.specialty }

// At returns the appointment time
func (a *Appointment) At() time.Time { return a.at }

func (a *Appointment) String() string {
	return fmt.Sprintf("Appointment: patient %s (%s), doctor %s (%s), specialty %s, at %s",
		a.patient.Name(), a.patient.NationalID(),
		a.doctor.Name(), a.doctor.License(),
		a.specialty, a.at.Format("2006-01-02 15:04"))
}

// slotKey identifies a (doctor, instant) pair independent of time zone
type slotKey struct {
	license string
	sec     int64
	nsec    int
}

func newSlotKey(license string, at time.Time) slotKey {
	return slotKey{license: license, sec: at.Unix(), nsec: at.Nanosecond()}
}

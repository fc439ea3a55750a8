package clinic

import (
	"go.uber.org/zap"
)

// ReplayStats reports how many journaled events were applied or skipped
type ReplayStats struct {
	Applied int
	Skipped int
}

// Replay rebuilds state from previously journaled events. Events are applied
// in the given order with their original IDs and timestamps, without running
// the scheduling gates and without emitting. An event that cannot be decoded
// or references a patient or doctor missing from the journal is logged and
// skipped. The sequence counter resumes after the highest replayed sequence,
// skipped events included.
func (c *Clinic) Replay(events []*Event) ReplayStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stats ReplayStats
	for _, e := range events {
		if e.Sequence > c.seq {
			c.seq = e.Sequence
		}
		if err := c.apply(e); err != nil {
			stats.Skipped++
			c.logger.Warn("skipping unreplayable event",
				zap.String("event_id", e.ID),
				zap.Int64("sequence", e.Sequence),
				zap.String("event_type", string(e.EventType)),
				zap.Error(err))
			continue
		}
		stats.Applied++
	}

	c.logger.Info("clinic state replayed",
		zap.Int("applied", stats.Applied),
		zap.Int("skipped", stats.Skipped),
		zap.Int("patients", len(c.patients)),
		zap.Int("doctors", len(c.doctors)),
		zap.Int("appointments", len(c.appointments)),
		zap.Int64("sequence", c.seq))
	return stats
}

func (c *Clinic) apply(e *Event) error {
	switch e.EventType {
	case EventPatientRegistered:
		var data PatientRegisteredData
		if err := e.Decode(&data); err != nil {
			return err
		}
		p, err := NewPatient(data.Name, data.NationalID, data.BirthDate)
		if err != nil {
			return err
		}
		if _, ok := c.patients[p.NationalID()]; !ok {
			c.patients[p.NationalID()] = p
		}

	case EventDoctorRegistered:
		var data DoctorRegisteredData
		if err := e.Decode(&data); err != nil {
			return err
		}
		specs := make([]Specialty, 0, len(data.Specialties))
		for _, s := range data.Specialties {
			specs = append(specs, NewSpecialty(s.Kind, s.Days...))
		}
		d, err := NewDoctor(data.Name, data.License, specs...)
		if err != nil {
			return err
		}
		if _, ok := c.doctors[d.License()]; !ok {
			c.doctors[d.License()] = d
		}

	case EventDoctorSpecialtyAdded:
		var data DoctorSpecialtyAddedData
		if err := e.Decode(&data); err != nil {
			return err
		}
		d, ok := c.doctors[data.License]
		if !ok {
			return doctorNotFound(data.License)
		}
		d.AddSpecialty(NewSpecialty(data.Specialty.Kind, data.Specialty.Days...))

	case EventHistoryOpened:
		var data HistoryOpenedData
		if err := e.Decode(&data); err != nil {
			return err
		}
		p, ok := c.patients[data.NationalID]
		if !ok {
			return patientNotFound(data.NationalID)
		}
		c.historyFor(p)

	case EventAppointmentScheduled:
		var data AppointmentScheduledData
		if err := e.Decode(&data); err != nil {
			return err
		}
		p, d, err := c.resolve(data.PatientID, data.License)
		if err != nil {
			return err
		}
		appt := &Appointment{
			id:        data.AppointmentID,
			patient:   p,
			doctor:    d.clone(),
			specialty: data.Specialty,
			at:        data.At,
		}
		c.appointments = append(c.appointments, appt)
		c.slots[newSlotKey(d.License(), data.At)] = struct{}{}
		c.historyFor(p).AddAppointment(appt)

	case EventPrescriptionIssued:
		var data PrescriptionIssuedData
		if err := e.Decode(&data); err != nil {
			return err
		}
		p, d, err := c.resolve(data.PatientID, data.License)
		if err != nil {
			return err
		}
		rx, err := NewPrescription(p, d.clone(), data.Medications, data.IssuedAt)
		if err != nil {
			return err
		}
		rx.id = data.PrescriptionID
		c.historyFor(p).AddPrescription(rx)

	default:
		c.logger.Warn("skipping unknown event type", zap.String("event_type", string(e.EventType)))
	}
	return nil
}

func (c *Clinic) resolve(patientID, license string) (*Patient, *Doctor, error) {
	p, ok := c.patients[patientID]
	if !ok {
		return nil, nil, patientNotFound(patientID)
	}
	d, ok := c.doctors[license]
	if !ok {
		return nil, nil, doctorNotFound(license)
	}
	return p, d, nil
}

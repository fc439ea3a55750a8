// Package projection maintains read models built from consumed clinic events.
package projection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/drfirst/go-clinic/internal/domain/clinic"
)

// Timeline entry types
const (
	EntryAppointment  = "appointment"
	EntryPrescription = "prescription"
)

// Entry is one row of a patient's timeline
type Entry struct {
	EventID     string    `json:"event_id"`
	Sequence    int64     `json:"sequence"`
	PatientID   string    `json:"patient_id"`
	EntryType   string    `json:"entry_type"`
	ReferenceID string    `json:"reference_id"`
	License     string    `json:"license"`
	DoctorName  string    `json:"doctor_name"`
	Specialty   string    `json:"specialty,omitempty"`
	Medications []string  `json:"medications,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
	Summary     string    `json:"summary"`
}

// EntryFromEvent maps an event to its timeline entry. It reports false for
// event types that do not appear on a timeline.
func EntryFromEvent(e *clinic.Event) (*Entry, bool, error) {
	switch e.EventType {
	case clinic.EventAppointmentScheduled:
		var data clinic.AppointmentScheduledData
		if err := e.Decode(&data); err != nil {
			return nil, false, fmt.Errorf("decode %s: %w", e.EventType, err)
		}
		return &Entry{
			EventID:     e.ID,
			Sequence:    e.Sequence,
			PatientID:   data.PatientID,
			EntryType:   EntryAppointment,
			ReferenceID: data.AppointmentID,
			License:     data.License,
			DoctorName:  data.DoctorName,
			Specialty:   data.Specialty,
			OccurredAt:  data.At,
			Summary: fmt.Sprintf("Appointment: %s with %s (%s) on %s %s",
				data.Specialty, data.DoctorName, data.License, data.Weekday, data.At.Format("2006-01-02 15:04")),
		}, true, nil

	case clinic.EventPrescriptionIssued:
		var data clinic.PrescriptionIssuedData
		if err := e.Decode(&data); err != nil {
			return nil, false, fmt.Errorf("decode %s: %w", e.EventType, err)
		}
		return &Entry{
			EventID:     e.ID,
			Sequence:    e.Sequence,
			PatientID:   data.PatientID,
			EntryType:   EntryPrescription,
			ReferenceID: data.PrescriptionID,
			License:     data.License,
			DoctorName:  data.DoctorName,
			Medications: data.Medications,
			OccurredAt:  data.IssuedAt,
			Summary: fmt.Sprintf("Prescription by %s (%s): %s",
				data.DoctorName, data.License, strings.Join(data.Medications, ", ")),
		}, true, nil
	}
	return nil, false, nil
}

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store reads and writes the patient_timeline table
type Store struct {
	db db
}

// NewStore creates a timeline store
func NewStore(pool db) *Store {
	return &Store{db: pool}
}

// Upsert writes entry keyed by its event ID
func (s *Store) Upsert(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO patient_timeline
		(event_id, sequence, patient_id, entry_type, reference_id, license, doctor_name,
		 specialty, medications, occurred_at, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_id) DO UPDATE
		SET summary = EXCLUDED.summary, projected_at = NOW()
	`
	var specialty *string
	if entry.Specialty != "" {
		specialty = &entry.Specialty
	}

	_, err := s.db.Exec(ctx, query,
		entry.EventID,
		entry.Sequence,
		entry.PatientID,
		entry.EntryType,
		entry.ReferenceID,
		entry.License,
		entry.DoctorName,
		specialty,
		entry.Medications,
		entry.OccurredAt,
		entry.Summary,
	)
	if err != nil {
		return fmt.Errorf("upsert timeline entry %s: %w", entry.EventID, err)
	}
	return nil
}

// ForPatient returns a patient's timeline in occurrence order
func (s *Store) ForPatient(ctx context.Context, patientID string) ([]*Entry, error) {
	query := `
		SELECT event_id, sequence, patient_id, entry_type, reference_id, license, doctor_name,
		       specialty, medications, occurred_at, summary
		FROM patient_timeline
		WHERE patient_id = $1
		ORDER BY occurred_at ASC, sequence ASC
	`
	rows, err := s.db.Query(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e         Entry
			specialty *string
		)
		err := rows.Scan(&e.EventID, &e.Sequence, &e.PatientID, &e.EntryType, &e.ReferenceID,
			&e.License, &e.DoctorName, &specialty, &e.Medications, &e.OccurredAt, &e.Summary)
		if err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		if specialty != nil {
			e.Specialty = *specialty
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

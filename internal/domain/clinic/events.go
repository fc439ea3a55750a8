package clinic

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventPatientRegistered    EventType = "PatientRegistered"
	EventDoctorRegistered     EventType = "DoctorRegistered"
	EventDoctorSpecialtyAdded EventType = "DoctorSpecialtyAdded"
	EventHistoryOpened        EventType = "HistoryOpened"
	EventAppointmentScheduled EventType = "AppointmentScheduled"
	EventPrescriptionIssued   EventType = "PrescriptionIssued"
)

// Aggregate types carried on events
const (
	AggregatePatient = "Patient"
	AggregateDoctor  = "Doctor"
	AggregateHistory = "ClinicalHistory"
)

// Event represents a committed clinic mutation
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Sequence      int64           `json:"sequence"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewEvent creates a new event with a JSON encoded payload
func NewEvent(aggregateID, aggregateType string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// Decode unmarshals the event payload into v
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.EventData, v)
}

// SpecialtyData is the wire form of a Specialty
type SpecialtyData struct {
	Kind string   `json:"kind"`
	Days []string `json:"days"`
}

// PatientRegisteredData contains registration details
type PatientRegisteredData struct {
	NationalID string `json:"national_id"`
	Name       string `json:"name"`
	BirthDate  string `json:"birth_date,omitempty"`
}

// DoctorRegisteredData contains registration details
type DoctorRegisteredData struct {
	License     string          `json:"license"`
	Name        string          `json:"name"`
	Specialties []SpecialtyData `json:"specialties"`
}

// DoctorSpecialtyAddedData contains the added specialty
type DoctorSpecialtyAddedData struct {
	License   string        `json:"license"`
	Specialty SpecialtyData `json:"specialty"`
}

// HistoryOpenedData marks an empty history being created up front
type HistoryOpenedData struct {
	NationalID string `json:"national_id"`
}

// AppointmentScheduledData contains booking details
type AppointmentScheduledData struct {
	AppointmentID string    `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	PatientName   string    `json:"patient_name"`
	License       string    `json:"license"`
	DoctorName    string    `json:"doctor_name"`
	Specialty     string    `json:"specialty"`
	Weekday       string    `json:"weekday"`
	At            time.Time `json:"at"`
}

// PrescriptionIssuedData contains prescription details
type PrescriptionIssuedData struct {
	PrescriptionID string    `json:"prescription_id"`
	PatientID      string    `json:"patient_id"`
	PatientName    string    `json:"patient_name"`
	License        string    `json:"license"`
	DoctorName     string    `json:"doctor_name"`
	Medications    []string  `json:"medications"`
	IssuedAt       time.Time `json:"issued_at"`
}

func specialtyData(s Specialty) SpecialtyData {
	return SpecialtyData{Kind: s.Kind(), Days: s.Days()}
}

// EventSink receives events in commit order. Record is called with the
// clinic lock held; it must not block or call back into the Clinic.
type EventSink interface {
	Record(event *Event)
}

type nopSink struct{}

func (nopSink) Record(*Event) {}

// MemorySink keeps every recorded event in memory
type MemorySink struct {
	mu     sync.Mutex
	events []*Event
}

// Record appends event
func (m *MemorySink) Record(event *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events returns a copy of the recorded events
func (m *MemorySink) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Event, len(m.events))
	copy(out, m.events)
	return out
}

// FanOut forwards every event to each sink in order
type FanOut []EventSink

// Record forwards event
func (f FanOut) Record(event *Event) {
	for _, s := range f {
		s.Record(event)
	}
}

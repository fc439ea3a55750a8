// Package clinic implements the clinic registries and the scheduling and
// prescription rules that keep appointments and clinical histories consistent.
package clinic

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registration is the outcome of registering a patient or doctor.
// RegistrationFailed accompanies every non-nil error.
type Registration int

const (
	RegistrationFailed Registration = iota
	Registered
	AlreadyRegistered
)

func (r Registration) String() string {
	switch r {
	case Registered:
		return "registered"
	case AlreadyRegistered:
		return "already_registered"
	default:
		return "failed"
	}
}

// Option configures a Clinic
type Option func(*Clinic)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Clinic) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEventSink sets where committed events are sent
func WithEventSink(sink EventSink) Option {
	return func(c *Clinic) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// WithClock overrides the clock used to stamp prescriptions and events
func WithClock(now func() time.Time) Option {
	return func(c *Clinic) {
		if now != nil {
			c.now = now
		}
	}
}

// Clinic owns every patient, doctor, appointment and clinical history.
// A single RWMutex guards the collections; all operations are synchronous.
type Clinic struct {
	mu           sync.RWMutex
	doctors      map[string]*Doctor
	patients     map[string]*Patient
	appointments []*Appointment
	slots        map[slotKey]struct{}
	histories    map[string]*ClinicalHistory
	seq          int64

	sink   EventSink
	logger *zap.Logger
	now    func() time.Time
}

// New creates an empty clinic
func New(opts ...Option) *Clinic {
	c := &Clinic{
		doctors:   make(map[string]*Doctor),
		patients:  make(map[string]*Patient),
		slots:     make(map[slotKey]struct{}),
		histories: make(map[string]*ClinicalHistory),
		sink:      nopSink{},
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterPatient adds p unless its national ID is already registered.
// The existing entry is never replaced.
func (c *Clinic) RegisterPatient(p *Patient) (Registration, error) {
	if p == nil {
		return RegistrationFailed, newError(CodeInvalidPatient)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.patients[p.NationalID()]; ok {
		c.logger.Info("patient already registered", zap.String("patient_id", p.NationalID()))
		return AlreadyRegistered, nil
	}
	c.patients[p.NationalID()] = p

	c.emit(p.NationalID(), AggregatePatient, EventPatientRegistered, PatientRegisteredData{
		NationalID: p.NationalID(),
		Name:       p.Name(),
		BirthDate:  p.BirthDate(),
	})
	c.logger.Info("patient registered", zap.String("patient_id", p.NationalID()))
	return Registered, nil
}

// RegisterDoctor adds a private copy of d unless its license is already registered
func (c *Clinic) RegisterDoctor(d *Doctor) (Registration, error) {
	if d == nil {
		return RegistrationFailed, newError(CodeInvalidDoctor)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.doctors[d.License()]; ok {
		c.logger.Info("doctor already registered", zap.String("license", d.License()))
		return AlreadyRegistered, nil
	}
	stored := d.clone()
	c.doctors[stored.License()] = stored

	data := DoctorRegisteredData{License: stored.License(), Name: stored.Name()}
	for _, s := range stored.specialties {
		data.Specialties = append(data.Specialties, specialtyData(s))
	}
	c.emit(stored.License(), AggregateDoctor, EventDoctorRegistered, data)
	c.logger.Info("doctor registered",
		zap.String("license", stored.License()),
		zap.Int("specialties", len(stored.specialties)))
	return Registered, nil
}

// AddDoctorSpecialty adds s to a registered doctor. It reports false when an
// equal specialty was already present.
func (c *Clinic) AddDoctorSpecialty(license string, s Specialty) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := licenseKey(license)
	d, ok := c.doctors[key]
	if !ok {
		return false, doctorNotFound(key)
	}
	if !d.AddSpecialty(s) {
		return false, nil
	}

	c.emit(key, AggregateDoctor, EventDoctorSpecialtyAdded, DoctorSpecialtyAddedData{
		License:   key,
		Specialty: specialtyData(s),
	})
	c.logger.Info("doctor specialty added", zap.String("license", key), zap.String("specialty", s.Kind()))
	return true, nil
}

// OpenHistory creates an empty clinical history for a registered patient.
// It is a no-op when the history already exists.
func (c *Clinic) OpenHistory(patientID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := patientKey(patientID)
	p, ok := c.patients[key]
	if !ok {
		return patientNotFound(key)
	}
	if _, ok := c.histories[key]; ok {
		return nil
	}
	c.histories[key] = NewClinicalHistory(p)
	c.emit(key, AggregateHistory, EventHistoryOpened, HistoryOpenedData{NationalID: key})
	return nil
}

// ScheduleAppointment books a slot. Gates run in order and the first failure
// is returned: patient, doctor, specialty, specialty on weekday, free slot.
// Nothing is mutated unless every gate passes.
func (c *Clinic) ScheduleAppointment(patientID, license, specialty string, at time.Time) (*Appointment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pKey := patientKey(patientID)
	patient, ok := c.patients[pKey]
	if !ok {
		return nil, c.reject(patientNotFound(pKey))
	}

	dKey := licenseKey(license)
	doctor, ok := c.doctors[dKey]
	if !ok {
		return nil, c.reject(doctorNotFound(dKey))
	}

	if !doctor.Practices(specialty) {
		e := newError(CodeSpecialtyNotOffered)
		e.License, e.Specialty = dKey, specialty
		return nil, c.reject(e)
	}

	day := WeekdayName(at)
	if offered, ok := doctor.SpecialtyOfferedOn(day); !ok || offered != specialty {
		e := newError(CodeSpecialtyNotOfferedOnDay)
		e.License, e.Specialty, e.Day, e.At = dKey, specialty, day, at
		return nil, c.reject(e)
	}

	slot := newSlotKey(dKey, at)
	if _, taken := c.slots[slot]; taken {
		e := newError(CodeSlotAlreadyBooked)
		e.PatientID, e.License, e.At = pKey, dKey, at
		return nil, c.reject(e)
	}

	appt := &Appointment{
		id:        uuid.New().String(),
		patient:   patient,
		doctor:    doctor.clone(),
		specialty: specialty,
		at:        at,
	}
	c.appointments = append(c.appointments, appt)
	c.slots[slot] = struct{}{}
	c.historyFor(patient).AddAppointment(appt)

	c.emit(pKey, AggregateHistory, EventAppointmentScheduled, AppointmentScheduledData{
		AppointmentID: appt.id,
		PatientID:     pKey,
		PatientName:   patient.Name(),
		License:       dKey,
		DoctorName:    doctor.Name(),
		Specialty:     specialty,
		Weekday:       day,
		At:            at,
	})
	c.logger.Info("appointment scheduled",
		zap.String("appointment_id", appt.id),
		zap.String("patient_id", pKey),
		zap.String("license", dKey),
		zap.String("specialty", specialty),
		zap.Time("at", at))
	return appt, nil
}

// IssuePrescription records a prescription in the patient's history.
// No specialty or weekday rules apply.
func (c *Clinic) IssuePrescription(patientID, license string, medications []string) (*Prescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pKey := patientKey(patientID)
	patient, ok := c.patients[pKey]
	if !ok {
		return nil, c.reject(patientNotFound(pKey))
	}

	dKey := licenseKey(license)
	doctor, ok := c.doctors[dKey]
	if !ok {
		return nil, c.reject(doctorNotFound(dKey))
	}

	rx, err := NewPrescription(patient, doctor.clone(), medications, c.now())
	if err != nil {
		return nil, c.reject(err)
	}
	c.historyFor(patient).AddPrescription(rx)

	c.emit(pKey, AggregateHistory, EventPrescriptionIssued, PrescriptionIssuedData{
		PrescriptionID: rx.id,
		PatientID:      pKey,
		PatientName:    patient.Name(),
		License:        dKey,
		DoctorName:     doctor.Name(),
		Medications:    rx.Medications(),
		IssuedAt:       rx.issuedAt,
	})
	c.logger.Info("prescription issued",
		zap.String("prescription_id", rx.id),
		zap.String("patient_id", pKey),
		zap.String("license", dKey),
		zap.Int("medications", len(rx.medications)))
	return rx, nil
}

// FindPatient looks up a patient by national ID
func (c *Clinic) FindPatient(id string) (*Patient, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.patients[patientKey(id)]
	return p, ok
}

// FindDoctor looks up a doctor by license. The result is a copy.
func (c *Clinic) FindDoctor(license string) (*Doctor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.doctors[licenseKey(license)]
	if !ok {
		return nil, false
	}
	return d.clone(), true
}

// FindHistory returns a snapshot of a patient's clinical history
func (c *Clinic) FindHistory(patientID string) (*ClinicalHistory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.histories[patientKey(patientID)]
	if !ok {
		return nil, false
	}
	return h.snapshot(), true
}

// History is FindHistory returning ErrHistoryNotFound instead of false
func (c *Clinic) History(patientID string) (*ClinicalHistory, error) {
	h, ok := c.FindHistory(patientID)
	if !ok {
		e := newError(CodeHistoryNotFound)
		e.PatientID = patientKey(patientID)
		return nil, e
	}
	return h, nil
}

// PatientExists reports whether a national ID is registered
func (c *Clinic) PatientExists(id string) bool {
	_, ok := c.FindPatient(id)
	return ok
}

// DoctorExists reports whether a license is registered
func (c *Clinic) DoctorExists(license string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.doctors[licenseKey(license)]
	return ok
}

// SlotTaken reports whether the doctor already has an appointment at exactly at
func (c *Clinic) SlotTaken(license string, at time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, taken := c.slots[newSlotKey(licenseKey(license), at)]
	return taken
}

// SpecialtyAvailableOn returns the specialty a registered doctor offers on day
func (c *Clinic) SpecialtyAvailableOn(license, day string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key := licenseKey(license)
	d, ok := c.doctors[key]
	if !ok {
		return "", false, doctorNotFound(key)
	}
	kind, ok := d.SpecialtyOfferedOn(day)
	return kind, ok, nil
}

// ListPatients returns the registered patients ordered by national ID
func (c *Clinic) ListPatients() []*Patient {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Patient, 0, len(c.patients))
	for _, p := range c.patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NationalID() < out[j].NationalID() })
	return out
}

// ListDoctors returns copies of the registered doctors ordered by license
func (c *Clinic) ListDoctors() []*Doctor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Doctor, 0, len(c.doctors))
	for _, d := range c.doctors {
		out = append(out, d.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].License() < out[j].License() })
	return out
}

// ListAppointments returns the ledger in booking order
func (c *Clinic) ListAppointments() []*Appointment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Appointment, len(c.appointments))
	copy(out, c.appointments)
	return out
}

// historyFor returns the patient's history, creating it on first use. Caller holds mu.
func (c *Clinic) historyFor(p *Patient) *ClinicalHistory {
	h, ok := c.histories[p.NationalID()]
	if !ok {
		h = NewClinicalHistory(p)
		c.histories[p.NationalID()] = h
	}
	return h
}

// emit stamps and forwards an event. Caller holds mu.
func (c *Clinic) emit(aggregateID, aggregateType string, eventType EventType, data interface{}) {
	event, err := NewEvent(aggregateID, aggregateType, eventType, data)
	if err != nil {
		c.logger.Error("encode event", zap.String("event_type", string(eventType)), zap.Error(err))
		return
	}
	c.seq++
	event.Sequence = c.seq
	event.Timestamp = c.now().UTC()
	c.sink.Record(event)
}

func (c *Clinic) reject(err error) error {
	if ce, ok := AsError(err); ok {
		c.logger.Debug("request rejected",
			zap.String("reason", string(ce.Code)),
			zap.String("patient_id", ce.PatientID),
			zap.String("license", ce.License),
			zap.String("specialty", ce.Specialty),
			zap.String("day", ce.Day))
	}
	return err
}

func patientNotFound(id string) *Error {
	e := newError(CodePatientNotFound)
	e.PatientID = id
	return e
}

func doctorNotFound(license string) *Error {
	e := newError(CodeDoctorNotFound)
	e.License = license
	return e
}

// patientKey normalizes a lookup ID; malformed input is used as typed so
// the lookup simply misses.
func patientKey(raw string) string {
	if id, err := NormalizeNationalID(raw); err == nil {
		return id
	}
	return strings.TrimSpace(raw)
}

func licenseKey(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

package clinic

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
)

var (
	monday    = time.Date(2025, 6, 16, 10, 0, 0, 0, time.UTC)
	tuesday   = time.Date(2025, 6, 17, 10, 0, 0, 0, time.UTC)
	wednesday = time.Date(2025, 6, 18, 10, 0, 0, 0, time.UTC)
	friday    = time.Date(2025, 6, 20, 10, 0, 0, 0, time.UTC)
)

type ClinicSuite struct {
	suite.Suite
	clinic  *Clinic
	sink    *MemorySink
	patient *Patient
	doctor  *Doctor
	issued  time.Time
}

func (s *ClinicSuite) SetupTest() {
	s.sink = &MemorySink{}
	s.issued = time.Date(2025, 6, 16, 11, 0, 0, 0, time.UTC)
	s.clinic = New(
		WithLogger(zaptest.NewLogger(s.T())),
		WithEventSink(s.sink),
		WithClock(func() time.Time { return s.issued }),
	)

	var err error
	s.patient, err = NewPatient("Carlos Rodriguez", "12345678", "1990-04-02")
	s.Require().NoError(err)
	s.doctor, err = NewDoctor("Dr. Juan Perez", "MN1234", NewSpecialty("cardiologia", "lunes", "miercoles"))
	s.Require().NoError(err)

	_, err = s.clinic.RegisterPatient(s.patient)
	s.Require().NoError(err)
	_, err = s.clinic.RegisterDoctor(s.doctor)
	s.Require().NoError(err)
}

func TestClinicSuite(t *testing.T) {
	suite.Run(t, new(ClinicSuite))
}

func (s *ClinicSuite) TestEndToEndScenario() {
	appt, err := s.clinic.ScheduleAppointment("12345678", "MN1234", "cardiologia", monday)
	s.Require().NoError(err)
	s.NotEmpty(appt.ID())
	s.Equal("cardiologia", appt.Specialty())
	s.Equal(monday, appt.At())
	s.Len(s.clinic.ListAppointments(), 1)

	h, ok := s.clinic.FindHistory("12345678")
	s.Require().True(ok)
	s.Len(h.Appointments(), 1)

	_, err = s.clinic.ScheduleAppointment("12345678", "MN1234", "cardiologia", monday)
	s.ErrorIs(err, ErrSlotAlreadyBooked)

	_, err = s.clinic.ScheduleAppointment("12345678", "MN1234", "cardiologia", friday)
	s.ErrorIs(err, ErrSpecialtyNotOfferedOnDay)

	s.Len(s.clinic.ListAppointments(), 1)
	h, _ = s.clinic.FindHistory("12345678")
	s.Len(h.Appointments(), 1)
}

func (s *ClinicSuite) TestRegisterPatient_FirstWins() {
	dup, err := NewPatient("Someone Else", "12.345.678", "2000-01-01")
	s.Require().NoError(err)

	outcome, err := s.clinic.RegisterPatient(dup)
	s.Require().NoError(err)
	s.Equal(AlreadyRegistered, outcome)

	got, ok := s.clinic.FindPatient("12345678")
	s.Require().True(ok)
	s.Same(s.patient, got)
	s.Len(s.clinic.ListPatients(), 1)
}

func (s *ClinicSuite) TestRegisterDoctor_FirstWins() {
	dup, err := NewDoctor("Dr. Other", "mn1234", NewSpecialty("pediatria", "viernes"))
	s.Require().NoError(err)

	outcome, err := s.clinic.RegisterDoctor(dup)
	s.Require().NoError(err)
	s.Equal(AlreadyRegistered, outcome)

	got, ok := s.clinic.FindDoctor("MN1234")
	s.Require().True(ok)
	s.Equal("Dr. Juan Perez", got.Name())
	s.True(got.Practices("cardiologia"))
	s.False(got.Practices("pediatria"))
}

func (s *ClinicSuite) TestRegisterNil() {
	outcome, err := s.clinic.RegisterPatient(nil)
	s.ErrorIs(err, ErrInvalidPatient)
	s.Equal(RegistrationFailed, outcome)
	s.Equal("failed", outcome.String())

	outcome, err = s.clinic.RegisterDoctor(nil)
	s.ErrorIs(err, ErrInvalidDoctor)
	s.Equal(RegistrationFailed, outcome)

	var zero Registration
	s.Equal(RegistrationFailed, zero)
	s.Len(s.sink.Events(), 2)
}

func (s *ClinicSuite) TestBookedDoctorIsIsolatedFromReaders() {
	appt, err := s.clinic.ScheduleAppointment("12345678", "MN1234", "cardiologia", monday)
	s.Require().NoError(err)
	rx, err := s.clinic.IssuePrescription("12345678", "MN1234", []string{"enalapril"})
	s.Require().NoError(err)

	appt.Doctor().AddSpecialty(NewSpecialty("pediatria", "viernes"))
	rx.Doctor().AddSpecialty(NewSpecialty("pediatria", "viernes"))

	listed := s.clinic.ListAppointments()
	s.Require().Len(listed, 1)
	s.False(listed[0].Doctor().Practices("pediatria"))

	h, err := s.clinic.History("12345678")
	s.Require().NoError(err)
	s.False(h.Appointments()[0].Doctor().Practices("pediatria"))
	s.False(h.Prescriptions()[0].Doctor().Practices("pediatria"))

	registered, ok := s.clinic.FindDoctor("MN1234")
	s.Require().True(ok)
	s.False(registered.Practices("pediatria"))
}

func (s *ClinicSuite) TestRegisteredDoctorIsIsolatedFromCaller() {
	s.doctor.AddSpecialty(NewSpecialty("pediatria", "viernes"))

	_, err := s.clinic.ScheduleAppointment("12345678", "MN1234", "pediatria", friday)
	s.ErrorIs(err, ErrSpecialtyNotOffered)
}

func (s *ClinicSuite) TestScheduleAppointment_GateOrder() {
	_, err := s.clinic.ScheduleAppointment("99999999", "MX0000", "x", friday)
	s.ErrorIs(err, ErrPatientNotFound)
	ce, ok := AsError(err)
	s.Require().True(ok)
	s.Equal("99999999", ce.PatientID)
	s.Equal(KindLookup, ce.Kind)

	_, err = s.clinic.ScheduleAppointment("12345678", "MP9999", "x", friday)
	s.ErrorIs(err, ErrDoctorNotFound)
	ce, _ = AsError(err)
	s.Equal("MP9999", ce.License)

	_, err = s.clinic.ScheduleAppointment("12345678", "MN1234", "pediatria", friday)
	s.ErrorIs(err, ErrSpecialtyNotOffered)
	ce, _ = AsError(err)
	s.Equal("pediatria", ce.Specialty)
	s.Equal(KindRule, ce.Kind)

	_, err = s.clinic.ScheduleAppointment("12345678", "MN1234", "cardiologia", tuesday)
	s.ErrorIs(err, ErrSpecialtyNotOfferedOnDay)
	ce, _ = AsError(err)
	s.Equal("martes", ce.Day)
	s.Equal(tuesday, ce.At)
	s.Equal("doctor MN1234 does not see cardiologia patients on martes", err.Error())

	s.Empty(s.clinic.ListAppointments())
	_, ok = s.clinic.FindHistory("12345678")
	s.False(ok)
}

func (s *ClinicSuite) TestScheduleAppointment_NormalizesIdentifiers() {
	appt, err := s.clinic.ScheduleAppointment("12.345.678", " mn1234 ", "cardiologia", wednesday)
	s.Require().NoError(err)
	s.Equal("12345678", appt.Patient().NationalID())
	s.Equal("MN1234", appt.Doctor().License())
}

func (s *ClinicSuite) TestDoubleBooking_AnyPatientAnySpecialty() {
	other, err := NewPatient("Maria Lopez", "7654321", "")
	s.Require().NoError(err)
	_, err = s.clinic.RegisterPatient(other)
	s.Require().NoError(err)

	_, err = s.clinic.ScheduleAppointment("12345678", "MN1234", "cardiologia", monday)
	s.Require().NoError(err)

	_, err = s.clinic.ScheduleAppointment("7654321", "MN1234", "cardiologia", monday)
	s.ErrorIs(err, ErrSlotAlreadyBooked)
	ce, _ := AsError(err)
	s.Equal("doctor MN1234 already has an appointment at 2025-06-16 10:00", err.Error())
	s.Equal(monday, ce.At)

	// same instant in another zone is the same slot
	art := time.FixedZone("ART", -3*60*60)
	_, err = s.clinic.ScheduleAppointment("7654321", "MN1234", "cardiologia", monday.In(art))
	s.ErrorIs(err, ErrSlotAlreadyBooked)

	_, err = s.clinic.ScheduleAppointment("7654321", "MN1234", "cardiologia", monday.Add(time.Minute))
	s.NoError(err)
	s.True(s.clinic.SlotTaken("MN1234", monday))
	s.False(s.clinic.SlotTaken("MN1234", wednesday))
}

func (s *ClinicSuite) TestFirstMatchTieBreakRejectsShadowedSpecialty() {
	d, err := NewDoctor("Dr. Ana Gomez", "MP5678",
		NewSpecialty("pediatria", "lunes"),
		NewSpecialty("cardiologia", "lunes", "martes"),
	)
	s.Require().NoError(err)
	_, err = s.clinic.RegisterDoctor(d)
	s.Require().NoError(err)

	_, err = s.clinic.ScheduleAppointment("12345678", "MP5678", "cardiologia", monday)
	s.ErrorIs(err, ErrSpecialtyNotOfferedOnDay)

	_, err = s.clinic.ScheduleAppointment("12345678", "MP5678", "pediatria", monday)
	s.NoError(err)
	_, err = s.clinic.ScheduleAppointment("12345678", "MP5678", "cardiologia", tuesday)
	s.NoError(err)
}

func (s *ClinicSuite) TestIssuePrescription() {
	rx, err := s.clinic.IssuePrescription("12345678", "MN1234", []string{"enalapril", " "})
	s.Require().NoError(err)
	s.Equal("Prescription issued for Carlos Rodriguez", rx.Confirmation())
	s.Equal([]string{"enalapril", " "}, rx.Medications())
	s.Equal(s.issued, rx.IssuedAt())

	h, err := s.clinic.History("12345678")
	s.Require().NoError(err)
	s.Len(h.Prescriptions(), 1)
	s.Empty(h.Appointments())
}

func (s *ClinicSuite) TestIssuePrescription_Gates() {
	_, err := s.clinic.IssuePrescription("11111111", "MP0000", nil)
	s.ErrorIs(err, ErrPatientNotFound)

	_, err = s.clinic.IssuePrescription("12345678", "MP0000", nil)
	s.ErrorIs(err, ErrDoctorNotFound)

	_, err = s.clinic.IssuePrescription("12345678", "MN1234", []string{})
	s.ErrorIs(err, ErrEmptyPrescription)

	_, err = s.clinic.History("12345678")
	s.ErrorIs(err, ErrHistoryNotFound)
}

func (s *ClinicSuite) TestHistoryConsistency() {
	_, err := s.clinic.ScheduleAppointment("12345678", "MN1234", "cardiologia", monday)
	s.Require().NoError(err)
	_, err = s.clinic.IssuePrescription("12345678", "MN1234", []string{"aspirina"})
	s.Require().NoError(err)
	second, err := s.clinic.ScheduleAppointment("12345678", "MN1234", "cardiologia", wednesday)
	s.Require().NoError(err)
	_, err = s.clinic.IssuePrescription("12345678", "MN1234", []string{"ibuprofeno", "omeprazol"})
	s.Require().NoError(err)

	h, err := s.clinic.History("12345678")
	s.Require().NoError(err)
	appts := h.Appointments()
	s.Require().Len(appts, 2)
	s.Equal(second.ID(), appts[1].ID())
	rxs := h.Prescriptions()
	s.Require().Len(rxs, 2)
	s.Equal([]string{"ibuprofeno", "omeprazol"}, rxs[1].Medications())
}

func (s *ClinicSuite) TestFindHistoryReturnsSnapshot() {
	_, err := s.clinic.ScheduleAppointment("12345678", "MN1234", "cardiologia", monday)
	s.Require().NoError(err)

	snap, ok := s.clinic.FindHistory("12345678")
	s.Require().True(ok)
	snap.AddAppointment(&Appointment{id: "forged"})

	h, _ := s.clinic.FindHistory("12345678")
	s.Len(h.Appointments(), 1)
}

func (s *ClinicSuite) TestOpenHistory() {
	s.ErrorIs(s.clinic.OpenHistory("99999999"), ErrPatientNotFound)

	s.Require().NoError(s.clinic.OpenHistory("12345678"))
	h, err := s.clinic.History("12345678")
	s.Require().NoError(err)
	s.Empty(h.Appointments())

	s.Require().NoError(s.clinic.OpenHistory("12345678"))
	opened := 0
	for _, e := range s.sink.Events() {
		if e.EventType == EventHistoryOpened {
			opened++
		}
	}
	s.Equal(1, opened)
}

func (s *ClinicSuite) TestAddDoctorSpecialty() {
	added, err := s.clinic.AddDoctorSpecialty("MN1234", NewSpecialty("pediatria", "viernes"))
	s.Require().NoError(err)
	s.True(added)

	added, err = s.clinic.AddDoctorSpecialty("MN1234", NewSpecialty("pediatria", "Viernes"))
	s.Require().NoError(err)
	s.False(added)

	_, err = s.clinic.AddDoctorSpecialty("MP0001", NewSpecialty("pediatria", "viernes"))
	s.ErrorIs(err, ErrDoctorNotFound)

	_, err = s.clinic.ScheduleAppointment("12345678", "MN1234", "pediatria", friday)
	s.NoError(err)

	kind, ok, err := s.clinic.SpecialtyAvailableOn("MN1234", "viernes")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("pediatria", kind)
}

func (s *ClinicSuite) TestSpecialtyAvailableOn() {
	kind, ok, err := s.clinic.SpecialtyAvailableOn("MN1234", "Miércoles")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("cardiologia", kind)

	_, ok, err = s.clinic.SpecialtyAvailableOn("MN1234", "domingo")
	s.Require().NoError(err)
	s.False(ok)

	_, _, err = s.clinic.SpecialtyAvailableOn("MP0001", "lunes")
	s.ErrorIs(err, ErrDoctorNotFound)
}

func (s *ClinicSuite) TestExists() {
	s.True(s.clinic.PatientExists("12.345.678"))
	s.False(s.clinic.PatientExists("1"))
	s.True(s.clinic.DoctorExists("mn1234"))
	s.False(s.clinic.DoctorExists("MN9999"))
}

func (s *ClinicSuite) TestListsAreSortedSnapshots() {
	for _, id := range []string{"30000000", "2000000"} {
		p, err := NewPatient("P "+id, id, "")
		s.Require().NoError(err)
		_, err = s.clinic.RegisterPatient(p)
		s.Require().NoError(err)
	}
	d, err := NewDoctor("Dr. Ana Gomez", "MN1000", NewSpecialty("pediatria", "lunes"))
	s.Require().NoError(err)
	_, err = s.clinic.RegisterDoctor(d)
	s.Require().NoError(err)

	var ids []string
	for _, p := range s.clinic.ListPatients() {
		ids = append(ids, p.NationalID())
	}
	s.Equal([]string{"12345678", "2000000", "30000000"}, ids)

	doctors := s.clinic.ListDoctors()
	s.Require().Len(doctors, 2)
	s.Equal("MN1000", doctors[0].License())

	_, err = s.clinic.ScheduleAppointment("12345678", "MN1234", "cardiologia", monday)
	s.Require().NoError(err)
	list := s.clinic.ListAppointments()
	list[0] = nil
	s.NotNil(s.clinic.ListAppointments()[0])
}

func (s *ClinicSuite) TestEventsInCommitOrder() {
	_, err := s.clinic.ScheduleAppointment("12345678", "MN1234", "cardiologia", monday)
	s.Require().NoError(err)
	_, err = s.clinic.ScheduleAppointment("12345678", "MN1234", "cardiologia", monday)
	s.Require().Error(err)
	_, err = s.clinic.IssuePrescription("12345678", "MN1234", []string{"aspirina"})
	s.Require().NoError(err)

	events := s.sink.Events()
	s.Require().Len(events, 4)
	want := []EventType{EventPatientRegistered, EventDoctorRegistered, EventAppointmentScheduled, EventPrescriptionIssued}
	for i, e := range events {
		s.Equal(want[i], e.EventType)
		s.Equal(int64(i+1), e.Sequence)
		s.Equal(s.issued, e.Timestamp)
	}

	var data AppointmentScheduledData
	s.Require().NoError(events[2].Decode(&data))
	s.Equal("lunes", data.Weekday)
	s.Equal("12345678", data.PatientID)
	s.Equal(AggregateHistory, events[2].AggregateType)
	s.Equal("12345678", events[2].AggregateID)

	var doc DoctorRegisteredData
	s.Require().NoError(events[1].Decode(&doc))
	s.Require().Len(doc.Specialties, 1)
	s.Equal([]string{"lunes", "miercoles"}, doc.Specialties[0].Days)
}

func TestClinic_ConcurrentBookingSameSlot(t *testing.T) {
	c := New()
	d, err := NewDoctor("Dr. Juan Perez", "MN1234", NewSpecialty("cardiologia", "lunes"))
	require.NoError(t, err)
	_, err = c.RegisterDoctor(d)
	require.NoError(t, err)

	ids := []string{"10000001", "10000002", "10000003", "10000004", "10000005", "10000006", "10000007", "10000008"}
	for _, id := range ids {
		p, err := NewPatient("P", id, "")
		require.NoError(t, err)
		_, err = c.RegisterPatient(p)
		require.NoError(t, err)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		booked int
		failed int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := c.ScheduleAppointment(id, "MN1234", "cardiologia", monday)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				booked++
			} else if errors.Is(err, ErrSlotAlreadyBooked) {
				failed++
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, booked)
	assert.Equal(t, len(ids)-1, failed)
	assert.Len(t, c.ListAppointments(), 1)
}

func TestRegistration_String(t *testing.T) {
	assert.Equal(t, "registered", Registered.String())
	assert.Equal(t, "already_registered", AlreadyRegistered.String())
}

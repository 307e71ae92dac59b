package booking

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/audit"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/clock"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/errs"
)

var (
	phonePattern = regexp.MustCompile(`^[0-9 ()+\-]{7,20}$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Service owns slot generation and the booking lifecycle. Bookings commit
// through a conditional update so exactly one of two simultaneous bookers
// of the same slot wins.
type Service struct {
	locations    LocationRepository
	appointments AppointmentRepository
	audit        audit.Recorder
	runTx        db.Runner
	clk          clock.Clock
}

func NewService(
	locations LocationRepository,
	appointments AppointmentRepository,
	recorder audit.Recorder,
	runTx db.Runner,
	clk clock.Clock,
) *Service {
	return &Service{
		locations:    locations,
		appointments: appointments,
		audit:        recorder,
		runTx:        runTx,
		clk:          clk,
	}
}

// GenerateSlots deletes the location's existing slots and recreates them
// from its configured window: slots start at start_time and step by the
// slot duration until the next slot would run past end_time or capacity
// is reached. Idempotent for a fixed configuration.
func (s *Service) GenerateSlots(ctx context.Context, caller auth.Identity, routeLocationID uuid.UUID) (int, error) {
	created := 0
	err := s.runTx(ctx, func(ctx context.Context) error {
		loc, err := s.locations.GetByID(ctx, routeLocationID)
		if err != nil {
			return errs.E(errs.KindNotFound, "route location %s not found", routeLocationID)
		}
		if loc.SlotMinutes <= 0 {
			return errs.E(errs.KindValidation, "slot duration must be greater than 0")
		}
		if loc.MaxAppointments <= 0 {
			return errs.E(errs.KindValidation, "capacity must be greater than 0")
		}
		if !loc.EndTime.After(loc.StartTime) {
			return errs.E(errs.KindValidation, "end_time must be after start_time")
		}

		if err := s.appointments.DeleteByLocation(ctx, loc.ID); err != nil {
			return err
		}

		now := s.clk.Now()
		dur := time.Duration(loc.SlotMinutes) * time.Minute
		for slot := loc.StartTime; !slot.Add(dur).After(loc.EndTime) && created < loc.MaxAppointments; slot = slot.Add(dur) {
			a := &Appointment{
				ID:              uuid.New(),
				RouteLocationID: loc.ID,
				AppointmentTime: slot,
				DurationMinutes: loc.SlotMinutes,
				Status:          StatusAvailable,
				UpdatedAt:       now,
			}
			if err := s.appointments.Create(ctx, a); err != nil {
				return err
			}
			created++
		}

		return s.audit.Record(ctx, &audit.Entry{
			UserID:    &caller.UserID,
			TableName: "route_locations",
			RecordID:  loc.ID,
			Action:    audit.ActionUpdate,
			NewValues: map[string]interface{}{"slots_generated": created},
		})
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// BookAppointment claims an Available slot for a patient. The patient must
// not already hold a Booked appointment on the same calendar date. The
// Available precondition is re-checked by the conditional update, so a
// booker who loses the race gets SlotUnavailable rather than a double
// booking.
func (s *Service) BookAppointment(ctx context.Context, caller auth.Identity, req BookingRequest) (*Appointment, error) {
	if req.AppointmentID == uuid.Nil {
		return nil, errs.E(errs.KindValidation, "appointment_id is required")
	}
	if req.PatientID == uuid.Nil {
		return nil, errs.E(errs.KindValidation, "patient_id is required")
	}
	if err := validateContact(req.ContactName, req.ContactPhone, req.ContactEmail); err != nil {
		return nil, err
	}

	var booked *Appointment
	err := s.runTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetByID(ctx, req.AppointmentID)
		if err != nil {
			return errs.E(errs.KindNotFound, "appointment %s not found", req.AppointmentID)
		}
		if a.Status != StatusAvailable {
			return errs.E(errs.KindSlotUnavailable, "appointment %s is %s", a.ID, a.Status)
		}

		count, err := s.appointments.CountBookedOnDate(ctx, req.PatientID, a.AppointmentTime)
		if err != nil {
			return err
		}
		if count > 0 {
			return errs.E(errs.KindDuplicateBooking,
				"patient already holds a booking on %s", a.AppointmentTime.Format("2006-01-02"))
		}

		now := s.clk.Now()
		patientID := req.PatientID
		a.PatientID = &patientID
		a.ContactName = req.ContactName
		a.ContactPhone = req.ContactPhone
		a.ContactEmail = req.ContactEmail
		a.SpecialRequirements = req.SpecialRequirements
		a.BookedAt = &now

		// Reference collisions are vanishingly rare; one retry with a
		// fresh suffix covers them.
		for attempt := 0; ; attempt++ {
			ref := newBookingReference(a.AppointmentTime)
			a.BookingReference = &ref

			affected, err := s.appointments.Book(ctx, a)
			if errors.Is(err, ErrDuplicateReference) && attempt == 0 {
				continue
			}
			if errors.Is(err, ErrPatientDateConflict) {
				// A concurrent booking for the same patient and date
				// committed after the count check.
				return errs.E(errs.KindDuplicateBooking,
					"patient already holds a booking on %s", a.AppointmentTime.Format("2006-01-02"))
			}
			if err != nil {
				return err
			}
			if affected == 0 {
				return errs.E(errs.KindSlotUnavailable,
					"appointment %s was booked concurrently", a.ID)
			}
			break
		}
		a.Status = StatusBooked
		a.UpdatedAt = now

		booked = a
		return s.audit.Record(ctx, &audit.Entry{
			UserID:    &caller.UserID,
			TableName: "appointments",
			RecordID:  a.ID,
			Action:    audit.ActionUpdate,
			OldValues: map[string]interface{}{"status": StatusAvailable},
			NewValues: map[string]interface{}{
				"status":            StatusBooked,
				"booking_reference": *a.BookingReference,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return booked, nil
}

// Cancel moves a Booked appointment to Cancelled.
func (s *Service) Cancel(ctx context.Context, caller auth.Identity, id uuid.UUID) error {
	return s.transition(ctx, caller, id, StatusCancelled)
}

// Complete moves a Booked appointment to Completed.
func (s *Service) Complete(ctx context.Context, caller auth.Identity, id uuid.UUID) error {
	return s.transition(ctx, caller, id, StatusCompleted)
}

// MarkNoShow moves a Booked appointment to No-Show.
func (s *Service) MarkNoShow(ctx context.Context, caller auth.Identity, id uuid.UUID) error {
	return s.transition(ctx, caller, id, StatusNoShow)
}

func (s *Service) transition(ctx context.Context, caller auth.Identity, id uuid.UUID, to string) error {
	return s.runTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetByID(ctx, id)
		if err != nil {
			return errs.E(errs.KindNotFound, "appointment %s not found", id)
		}
		if a.Status != StatusBooked {
			return errs.E(errs.KindValidation,
				"appointment %s is %s, only Booked appointments can move to %s", id, a.Status, to)
		}

		affected, err := s.appointments.UpdateStatus(ctx, id, StatusBooked, to, s.clk.Now())
		if err != nil {
			return err
		}
		if affected == 0 {
			return errs.E(errs.KindConcurrencyConflict,
				"appointment %s changed status concurrently", id)
		}

		return s.audit.Record(ctx, &audit.Entry{
			UserID:    &caller.UserID,
			TableName: "appointments",
			RecordID:  id,
			Action:    audit.ActionUpdate,
			OldValues: map[string]interface{}{"status": StatusBooked},
			NewValues: map[string]interface{}{"status": to},
		})
	})
}

// GetByReference looks an appointment up by its booking reference. Used by
// the public status endpoint.
func (s *Service) GetByReference(ctx context.Context, ref string) (*Appointment, error) {
	ref = strings.ToUpper(strings.TrimSpace(ref))
	if ref == "" {
		return nil, errs.E(errs.KindValidation, "booking reference is required")
	}
	a, err := s.appointments.GetByReference(ctx, ref)
	if err != nil {
		return nil, errs.E(errs.KindNotFound, "no booking with reference %s", ref)
	}
	return a, nil
}

func (s *Service) ListAvailable(ctx context.Context, routeLocationID uuid.UUID) ([]*Appointment, error) {
	return s.appointments.ListAvailableByLocation(ctx, routeLocationID)
}

func (s *Service) ListLocations(ctx context.Context, from time.Time) ([]*RouteLocation, error) {
	if from.IsZero() {
		from = s.clk.Now().Truncate(24 * time.Hour)
	}
	return s.locations.List(ctx, from)
}

func validateContact(name, phone, email string) error {
	if strings.TrimSpace(name) == "" {
		return errs.E(errs.KindValidation, "contact_name is required")
	}
	if phone == "" {
		return errs.E(errs.KindValidation, "contact_phone is required")
	}
	if !phonePattern.MatchString(phone) {
		return errs.E(errs.KindValidation,
			"contact_phone must be 7 to 20 characters of digits, spaces or +-()")
	}
	if email != "" && !emailPattern.MatchString(email) {
		return errs.E(errs.KindValidation, "contact_email is not a valid address")
	}
	return nil
}

// newBookingReference builds a reference like PAL20250601A3F29B from the
// appointment date and a random suffix. Uniqueness is enforced by the
// database; collisions are retried by the caller.
func newBookingReference(appointmentTime time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("PAL%s%s", appointmentTime.Format("20060102"), suffix)
}

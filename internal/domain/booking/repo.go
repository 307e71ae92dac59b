package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateReference is returned by Book when the generated booking
// reference collides with an existing one. The service retries with a
// fresh reference.
var ErrDuplicateReference = errors.New("booking reference already taken")

// ErrPatientDateConflict is returned by Book when the one-Booked-per-
// patient-per-date index rejects the row. It fires when two bookings for
// the same patient and date race past the service's count check.
var ErrPatientDateConflict = errors.New("patient already booked on this date")

type LocationRepository interface {
	Create(ctx context.Context, l *RouteLocation) error
	GetByID(ctx context.Context, id uuid.UUID) (*RouteLocation, error)
	// List returns locations whose visit date falls on or after from,
	// earliest first.
	List(ctx context.Context, from time.Time) ([]*RouteLocation, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetByReference(ctx context.Context, ref string) (*Appointment, error)
	ListAvailableByLocation(ctx context.Context, routeLocationID uuid.UUID) ([]*Appointment, error)
	// CountBookedOnDate counts the patient's Booked appointments whose
	// slot falls on the given calendar date, across all locations.
	CountBookedOnDate(ctx context.Context, patientID uuid.UUID, date time.Time) (int, error)
	// DeleteByLocation removes every slot belonging to the location so
	// generation can start from a clean slate.
	DeleteByLocation(ctx context.Context, routeLocationID uuid.UUID) error
	// Book persists the booking fields guarded by an Available-status
	// check and reports how many rows matched. Zero means another booker
	// took the slot first.
	Book(ctx context.Context, a *Appointment) (int64, error)
	// UpdateStatus moves the appointment from one status to another,
	// guarded by the expected current status.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, at time.Time) (int64, error)
}

package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

type LocationRepoPG struct {
	pool *pgxpool.Pool
}

func NewLocationRepoPG(pool *pgxpool.Pool) *LocationRepoPG {
	return &LocationRepoPG{pool: pool}
}

const locationCols = `id, location_name, province, visit_date, start_time, end_time, slot_minutes, max_appointments, created_at`

func scanLocation(row pgx.Row) (*RouteLocation, error) {
	var l RouteLocation
	err := row.Scan(
		&l.ID, &l.LocationName, &l.Province, &l.VisitDate,
		&l.StartTime, &l.EndTime, &l.SlotMinutes, &l.MaxAppointments, &l.CreatedAt,
	)
	return &l, err
}

func (r *LocationRepoPG) Create(ctx context.Context, l *RouteLocation) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO route_locations (id, location_name, province, visit_date, start_time, end_time, slot_minutes, max_appointments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.ID, l.LocationName, l.Province, l.VisitDate, l.StartTime, l.EndTime,
		l.SlotMinutes, l.MaxAppointments, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert route location: %w", err)
	}
	return nil
}

func (r *LocationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*RouteLocation, error) {
	q := fmt.Sprintf("SELECT %s FROM route_locations WHERE id = $1", locationCols)
	return scanLocation(conn(ctx, r.pool).QueryRow(ctx, q, id))
}

func (r *LocationRepoPG) List(ctx context.Context, from time.Time) ([]*RouteLocation, error) {
	q := fmt.Sprintf(`SELECT %s FROM route_locations
		WHERE visit_date >= $1 ORDER BY visit_date ASC, start_time ASC`, locationCols)
	rows, err := conn(ctx, r.pool).Query(ctx, q, from)
	if err != nil {
		return nil, fmt.Errorf("query route locations: %w", err)
	}
	defer rows.Close()

	var out []*RouteLocation
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan route location: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate route locations: %w", err)
	}
	return out, nil
}

type AppointmentRepoPG struct {
	pool *pgxpool.Pool
}

func NewAppointmentRepoPG(pool *pgxpool.Pool) *AppointmentRepoPG {
	return &AppointmentRepoPG{pool: pool}
}

const appointmentCols = `id, route_location_id, appointment_time, duration_minutes, status,
	booking_reference, patient_id, contact_name, contact_phone, contact_email,
	special_requirements, booked_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID, &a.RouteLocationID, &a.AppointmentTime, &a.DurationMinutes, &a.Status,
		&a.BookingReference, &a.PatientID, &a.ContactName, &a.ContactPhone, &a.ContactEmail,
		&a.SpecialRequirements, &a.BookedAt, &a.UpdatedAt,
	)
	return &a, err
}

func (r *AppointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO appointments (id, route_location_id, appointment_time, duration_minutes, status,
			contact_name, contact_phone, contact_email, special_requirements, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.RouteLocationID, a.AppointmentTime, a.DurationMinutes, a.Status,
		a.ContactName, a.ContactPhone, a.ContactEmail, a.SpecialRequirements, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *AppointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	q := fmt.Sprintf("SELECT %s FROM appointments WHERE id = $1", appointmentCols)
	return scanAppointment(conn(ctx, r.pool).QueryRow(ctx, q, id))
}

func (r *AppointmentRepoPG) GetByReference(ctx context.Context, ref string) (*Appointment, error) {
	q := fmt.Sprintf("SELECT %s FROM appointments WHERE booking_reference = $1", appointmentCols)
	return scanAppointment(conn(ctx, r.pool).QueryRow(ctx, q, ref))
}

func (r *AppointmentRepoPG) ListAvailableByLocation(ctx context.Context, routeLocationID uuid.UUID) ([]*Appointment, error) {
	q := fmt.Sprintf(`SELECT %s FROM appointments
		WHERE route_location_id = $1 AND status = $2
		ORDER BY appointment_time ASC`, appointmentCols)
	rows, err := conn(ctx, r.pool).Query(ctx, q, routeLocationID, StatusAvailable)
	if err != nil {
		return nil, fmt.Errorf("query available appointments: %w", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appointments: %w", err)
	}
	return out, nil
}

func (r *AppointmentRepoPG) CountBookedOnDate(ctx context.Context, patientID uuid.UUID, date time.Time) (int, error) {
	var count int
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE patient_id = $1 AND status = $2 AND appointment_time::date = $3::date`,
		patientID, StatusBooked, date,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count booked appointments: %w", err)
	}
	return count, nil
}

func (r *AppointmentRepoPG) DeleteByLocation(ctx context.Context, routeLocationID uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		"DELETE FROM appointments WHERE route_location_id = $1", routeLocationID)
	if err != nil {
		return fmt.Errorf("delete appointments for location: %w", err)
	}
	return nil
}

// Book runs the guarded update under a savepoint when a transaction is
// open, so a unique violation aborts only the savepoint and the caller
// can retry with a fresh reference inside the same transaction.
func (r *AppointmentRepoPG) Book(ctx context.Context, a *Appointment) (int64, error) {
	if tx := db.TxFromContext(ctx); tx != nil {
		nested, err := tx.Begin(ctx)
		if err != nil {
			return 0, fmt.Errorf("open booking savepoint: %w", err)
		}
		tag, err := bookExec(ctx, nested, a)
		if err != nil {
			_ = nested.Rollback(ctx)
			return 0, translateBookError(err)
		}
		if err := nested.Commit(ctx); err != nil {
			return 0, fmt.Errorf("release booking savepoint: %w", err)
		}
		return tag.RowsAffected(), nil
	}

	tag, err := bookExec(ctx, r.pool, a)
	if err != nil {
		return 0, translateBookError(err)
	}
	return tag.RowsAffected(), nil
}

func bookExec(ctx context.Context, q queryable, a *Appointment) (pgconn.CommandTag, error) {
	return q.Exec(ctx, `
		UPDATE appointments
		SET status = $1, booking_reference = $2, patient_id = $3,
			contact_name = $4, contact_phone = $5, contact_email = $6,
			special_requirements = $7, booked_at = $8, updated_at = $8
		WHERE id = $9 AND status = $10`,
		StatusBooked, a.BookingReference, a.PatientID,
		a.ContactName, a.ContactPhone, a.ContactEmail,
		a.SpecialRequirements, a.BookedAt, a.ID, StatusAvailable,
	)
}

// translateBookError maps the two unique constraints that can fire on the
// booking update to their sentinels: the reference key is retryable, the
// patient-date index is a duplicate booking.
func translateBookError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch {
		case strings.Contains(pgErr.ConstraintName, "patient_date"):
			return ErrPatientDateConflict
		case strings.Contains(pgErr.ConstraintName, "booking_reference"):
			return ErrDuplicateReference
		}
	}
	return fmt.Errorf("book appointment: %w", err)
}

func (r *AppointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, at time.Time) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointments SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		to, at, id, from,
	)
	if err != nil {
		return 0, fmt.Errorf("update appointment status: %w", err)
	}
	return tag.RowsAffected(), nil
}

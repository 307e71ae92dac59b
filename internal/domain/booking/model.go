package booking

import (
	"time"

	"github.com/google/uuid"
)

// Appointment statuses. Only Available slots can be booked, and only
// Booked appointments move to a terminal status.
const (
	StatusAvailable = "Available"
	StatusBooked    = "Booked"
	StatusCompleted = "Completed"
	StatusCancelled = "Cancelled"
	StatusNoShow    = "No-Show"
)

// RouteLocation is one clinic stop on the mobile route. Its time window,
// slot duration and capacity drive slot generation.
type RouteLocation struct {
	ID              uuid.UUID `db:"id" json:"id"`
	LocationName    string    `db:"location_name" json:"location_name"`
	Province        string    `db:"province" json:"province,omitempty"`
	VisitDate       time.Time `db:"visit_date" json:"visit_date"`
	StartTime       time.Time `db:"start_time" json:"start_time"`
	EndTime         time.Time `db:"end_time" json:"end_time"`
	SlotMinutes     int       `db:"slot_minutes" json:"slot_minutes"`
	MaxAppointments int       `db:"max_appointments" json:"max_appointments"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Appointment is one bookable slot belonging to a RouteLocation.
type Appointment struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	RouteLocationID     uuid.UUID  `db:"route_location_id" json:"route_location_id"`
	AppointmentTime     time.Time  `db:"appointment_time" json:"appointment_time"`
	DurationMinutes     int        `db:"duration_minutes" json:"duration_minutes"`
	Status              string     `db:"status" json:"status"`
	BookingReference    *string    `db:"booking_reference" json:"booking_reference,omitempty"`
	PatientID           *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	ContactName         string     `db:"contact_name" json:"contact_name,omitempty"`
	ContactPhone        string     `db:"contact_phone" json:"contact_phone,omitempty"`
	ContactEmail        string     `db:"contact_email" json:"contact_email,omitempty"`
	SpecialRequirements string     `db:"special_requirements" json:"special_requirements,omitempty"`
	BookedAt            *time.Time `db:"booked_at" json:"booked_at,omitempty"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// BookingRequest carries the parameters of one booking attempt.
type BookingRequest struct {
	AppointmentID       uuid.UUID `json:"appointment_id"`
	PatientID           uuid.UUID `json:"patient_id"`
	ContactName         string    `json:"contact_name"`
	ContactPhone        string    `json:"contact_phone"`
	ContactEmail        string    `json:"contact_email,omitempty"`
	SpecialRequirements string    `json:"special_requirements,omitempty"`
}

package calendar

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListSeries returns the master and every child referencing it, ordered by
	// start time.
	ListSeries(ctx context.Context, masterID uuid.UUID) ([]*Appointment, error)
	Search(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)
	// CountInRange counts appointments for the clinician and client group that
	// start in [from, to).
	CountInRange(ctx context.Context, clinicianID, clientGroupID uuid.UUID, from, to time.Time) (int, error)
	// ExistsEarlier reports whether the client group has an appointment other
	// than excludeID ordered before it: an earlier start, or the same start
	// and a lower id.
	ExistsEarlier(ctx context.Context, clientGroupID uuid.UUID, before time.Time, excludeID uuid.UUID) (bool, error)
}

// TagRepository owns the appointment_tag link rows.
type TagRepository interface {
	AttachDefaults(ctx context.Context, appointmentID uuid.UUID, clientGroupID *uuid.UUID) error
	ListForAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Tag, error)
	DeleteForAppointments(ctx context.Context, appointmentIDs []uuid.UUID) error
}

type ClientGroupRepository interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// InvoiceReader lists the invoices that reference appointments. The engine
// only reads billing rows; it never writes them.
type InvoiceReader interface {
	IDsForAppointments(ctx context.Context, appointmentIDs []uuid.UUID) ([]uuid.UUID, error)
}

// TxRunner runs fn inside one store transaction, rolling back when fn fails.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

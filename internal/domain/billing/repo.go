package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

type InvoiceRepository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Invoice, int, error)
	// IDsForAppointments lists invoices referencing any of the appointments.
	IDsForAppointments(ctx context.Context, appointmentIDs []uuid.UUID) ([]uuid.UUID, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
}

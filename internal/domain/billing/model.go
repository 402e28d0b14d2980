package billing

import (
	"time"

	"github.com/google/uuid"
)

const (
	InvoiceUnpaid  = "UNPAID"
	InvoicePartial = "PARTIAL"
	InvoicePaid    = "PAID"
	InvoiceVoid    = "VOID"
)

var validInvoiceStatuses = map[string]bool{
	InvoiceUnpaid: true, InvoicePartial: true, InvoicePaid: true, InvoiceVoid: true,
}

const (
	PaymentCompleted = "COMPLETED"
	PaymentPending   = "PENDING"
	PaymentFailed    = "FAILED"
	PaymentRefunded  = "REFUNDED"
)

var validPaymentStatuses = map[string]bool{
	PaymentCompleted: true, PaymentPending: true, PaymentFailed: true, PaymentRefunded: true,
}

// Invoice maps to the invoice table. AppointmentID is a plain reference: the
// invoice outlives the appointment it bills.
type Invoice struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	InvoiceNumber string     `db:"invoice_number" json:"invoice_number"`
	AppointmentID *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	ClientGroupID *uuid.UUID `db:"client_group_id" json:"client_group_id,omitempty"`
	ClinicianID   *uuid.UUID `db:"clinician_id" json:"clinician_id,omitempty"`
	Status        string     `db:"status" json:"status"`
	Amount        float64    `db:"amount" json:"amount"`
	IssuedAt      time.Time  `db:"issued_at" json:"issued_at"`
	DueAt         *time.Time `db:"due_at" json:"due_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Payment maps to the payment table.
type Payment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	InvoiceID uuid.UUID `db:"invoice_id" json:"invoice_id"`
	Amount    float64   `db:"amount" json:"amount"`
	Method    *string   `db:"method" json:"method,omitempty"`
	Status    string    `db:"status" json:"status"`
	Reference *string   `db:"reference" json:"reference,omitempty"`
	PaidAt    time.Time `db:"paid_at" json:"paid_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// settledStatus derives an invoice status from the completed payments made
// against it. A void invoice stays void.
func settledStatus(inv *Invoice, payments []*Payment) string {
	if inv.Status == InvoiceVoid {
		return InvoiceVoid
	}
	var paid float64
	for _, p := range payments {
		if p.Status == PaymentCompleted {
			paid += p.Amount
		}
	}
	switch {
	case paid <= 0:
		return InvoiceUnpaid
	case paid < inv.Amount:
		return InvoicePartial
	default:
		return InvoicePaid
	}
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrInvoiceVoid = errors.New("invoice is void")

type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service exposes invoices and payments. Invoices keep their appointment
// reference after the appointment is deleted; nothing here cascades from the
// calendar.
type Service struct {
	invoices InvoiceRepository
	payments PaymentRepository
	tx       TxRunner
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(invoices InvoiceRepository, payments PaymentRepository, tx TxRunner, logger zerolog.Logger) *Service {
	return &Service{invoices: invoices, payments: payments, tx: tx, logger: logger, now: time.Now}
}

func (s *Service) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.InvoiceNumber == "" {
		return fmt.Errorf("invoice_number is required")
	}
	if inv.Amount < 0 {
		return fmt.Errorf("amount must not be negative")
	}
	if inv.Status == "" {
		inv.Status = InvoiceUnpaid
	}
	if !validInvoiceStatuses[inv.Status] {
		return fmt.Errorf("invalid invoice status: %s", inv.Status)
	}
	if inv.IssuedAt.IsZero() {
		inv.IssuedAt = s.now().UTC()
	}
	return s.invoices.Create(ctx, inv)
}

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.invoices.GetByID(ctx, id)
}

func (s *Service) SearchInvoices(ctx context.Context, params map[string]string, limit, offset int) ([]*Invoice, int, error) {
	return s.invoices.Search(ctx, params, limit, offset)
}

func (s *Service) UpdateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.Status != "" && !validInvoiceStatuses[inv.Status] {
		return fmt.Errorf("invalid invoice status: %s", inv.Status)
	}
	if inv.Amount < 0 {
		return fmt.Errorf("amount must not be negative")
	}
	existing, err := s.invoices.GetByID(ctx, inv.ID)
	if err != nil {
		return err
	}
	if inv.Status == "" {
		inv.Status = existing.Status
	}
	if inv.DueAt == nil {
		inv.DueAt = existing.DueAt
	}
	inv.InvoiceNumber = existing.InvoiceNumber
	inv.AppointmentID = existing.AppointmentID
	inv.ClientGroupID = existing.ClientGroupID
	inv.ClinicianID = existing.ClinicianID
	inv.IssuedAt = existing.IssuedAt
	inv.CreatedAt = existing.CreatedAt
	return s.invoices.Update(ctx, inv)
}

// InvoiceIDsForAppointments reports which invoices reference the given
// appointments.
func (s *Service) InvoiceIDsForAppointments(ctx context.Context, appointmentIDs []uuid.UUID) ([]uuid.UUID, error) {
	return s.invoices.IDsForAppointments(ctx, appointmentIDs)
}

// RecordPayment stores a payment and moves the invoice to UNPAID, PARTIAL or
// PAID according to its completed payments, in one transaction.
func (s *Service) RecordPayment(ctx context.Context, p *Payment) (*Invoice, error) {
	if p.InvoiceID == uuid.Nil {
		return nil, fmt.Errorf("invoice_id is required")
	}
	if p.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	if p.Status == "" {
		p.Status = PaymentCompleted
	}
	if !validPaymentStatuses[p.Status] {
		return nil, fmt.Errorf("invalid payment status: %s", p.Status)
	}
	if p.PaidAt.IsZero() {
		p.PaidAt = s.now().UTC()
	}

	var inv *Invoice
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.invoices.GetByID(ctx, p.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status == InvoiceVoid {
			return ErrInvoiceVoid
		}
		if err := s.payments.Create(ctx, p); err != nil {
			return err
		}
		all, err := s.payments.ListByInvoice(ctx, inv.ID)
		if err != nil {
			return err
		}
		if status := settledStatus(inv, all); status != inv.Status {
			inv.Status = status
			return s.invoices.Update(ctx, inv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("invoice_id", inv.ID.String()).Str("status", inv.Status).
		Float64("amount", p.Amount).Msg("payment recorded")
	return inv, nil
}

func (s *Service) ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	if _, err := s.invoices.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.payments.ListByInvoice(ctx, invoiceID)
}

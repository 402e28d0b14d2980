package calendar

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/practicehub/calendar/internal/platform/recurrence"
)

// Writer performs every appointment mutation inside one transaction. Store
// failures roll the whole change back and surface as StoreError.
type Writer struct {
	tx       TxRunner
	appts    AppointmentRepository
	tags     TagRepository
	invoices InvoiceReader
	linker   *SeriesLinker
	resolver *ScopeResolver
	logger   zerolog.Logger
}

func NewWriter(tx TxRunner, appts AppointmentRepository, tags TagRepository, invoices InvoiceReader, logger zerolog.Logger) *Writer {
	return &Writer{
		tx:       tx,
		appts:    appts,
		tags:     tags,
		invoices: invoices,
		linker:   NewSeriesLinker(appts),
		resolver: NewScopeResolver(appts),
		logger:   logger,
	}
}

// DeleteResult reports what a scoped delete removed and which invoices still
// reference the removed appointments.
type DeleteResult struct {
	Scope              DeleteScope
	Role               Role
	SeriesID           uuid.UUID
	DeletedIDs         []uuid.UUID
	RetainedInvoiceIDs []uuid.UUID
}

func (w *Writer) run(ctx context.Context, op string, id uuid.UUID, fn func(ctx context.Context) error) error {
	err := w.tx.InTx(ctx, fn)
	if err == nil || isDomainError(err) {
		return err
	}
	w.logger.Error().Err(err).Str("op", op).Str("appointment_id", id.String()).Msg("appointment write rolled back")
	return &StoreError{Op: op, Err: err}
}

// Create writes a single appointment and its default tags.
func (w *Writer) Create(ctx context.Context, a *Appointment) error {
	a.IsRecurring = false
	a.RecurringAppointmentID = nil
	a.RecurringRule = nil
	return w.run(ctx, "create", a.ID, func(ctx context.Context) error {
		if err := w.appts.Create(ctx, a); err != nil {
			return err
		}
		return w.tags.AttachDefaults(ctx, a.ID, a.ClientGroupID)
	})
}

// CreateSeries writes every occurrence with its default tags, or nothing.
func (w *Writer) CreateSeries(ctx context.Context, base *Appointment, occ []recurrence.Occurrence, rule string) ([]*Appointment, error) {
	var out []*Appointment
	err := w.run(ctx, "create_series", uuid.Nil, func(ctx context.Context) error {
		written, err := w.linker.Link(ctx, base, occ, rule)
		if err != nil {
			return err
		}
		for _, a := range written {
			if err := w.tags.AttachDefaults(ctx, a.ID, a.ClientGroupID); err != nil {
				return fmt.Errorf("attach tags to %s: %w", a.ID, err)
			}
		}
		out = written
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update resolves scope against the current series and applies patch to every
// affected member, the target first.
func (w *Writer) Update(ctx context.Context, id uuid.UUID, scope UpdateScope, patch *Patch) (*UpdatePlan, error) {
	var plan *UpdatePlan
	err := w.run(ctx, "update_"+scope.String(), id, func(ctx context.Context) error {
		p, err := w.resolver.ResolveUpdate(ctx, id, scope)
		if err != nil {
			return err
		}
		ordered := targetFirst(p.Members, id)
		for _, m := range ordered {
			patch.apply(m, p.Target)
			if !m.EndTime.After(m.StartTime) {
				return &ValidationError{Fields: []FieldError{{"end_time", "must be after start_time"}}}
			}
			if err := w.appts.Update(ctx, m); err != nil {
				return fmt.Errorf("update %s: %w", m.ID, err)
			}
		}
		p.Members = ordered
		plan = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func targetFirst(members []*Appointment, id uuid.UUID) []*Appointment {
	out := make([]*Appointment, 0, len(members))
	for _, m := range members {
		if m.ID == id {
			out = append(out, m)
		}
	}
	for _, m := range members {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

// Delete removes the planned appointments and their tag links. Invoices and
// payments are only read, to report which ones keep pointing at the removed
// appointments.
func (w *Writer) Delete(ctx context.Context, id uuid.UUID, scope DeleteScope) (*DeleteResult, error) {
	var res *DeleteResult
	err := w.run(ctx, "delete_"+scope.String(), id, func(ctx context.Context) error {
		plan, err := w.resolver.ResolveDelete(ctx, id, scope)
		if err != nil {
			return err
		}
		ids := plan.IDs()

		retained, err := w.invoices.IDsForAppointments(ctx, ids)
		if err != nil {
			return fmt.Errorf("list invoices: %w", err)
		}

		for _, a := range plan.Relink {
			if err := w.appts.Update(ctx, a); err != nil {
				return fmt.Errorf("relink %s: %w", a.ID, err)
			}
		}
		if err := w.tags.DeleteForAppointments(ctx, ids); err != nil {
			return fmt.Errorf("delete tags: %w", err)
		}
		for _, a := range plan.Delete {
			if err := w.appts.Delete(ctx, a.ID); err != nil {
				return fmt.Errorf("delete %s: %w", a.ID, err)
			}
		}

		res = &DeleteResult{
			Scope:              scope,
			Role:               plan.Role,
			SeriesID:           plan.Target.SeriesID(),
			DeletedIDs:         ids,
			RetainedInvoiceIDs: retained,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

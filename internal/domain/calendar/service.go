package calendar

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/practicehub/calendar/internal/platform/db"
	"github.com/practicehub/calendar/internal/platform/events"
	"github.com/practicehub/calendar/internal/platform/recurrence"
)

var tracer = otel.Tracer("github.com/practicehub/calendar/internal/domain/calendar")

// endSpan records err on span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type Options struct {
	// DailyLimit caps appointments per clinician, client group and day; 0
	// disables the cap.
	DailyLimit int
	Expander   *recurrence.Expander
	Validator  Validator
	Publisher  events.Publisher
	Logger     zerolog.Logger
}

// Service runs create, read, update and delete intents through the limit
// guard, the expander, the scope resolver and the writer.
type Service struct {
	appts     AppointmentRepository
	tags      TagRepository
	groups    ClientGroupRepository
	validator Validator
	guard     *LimitGuard
	expander  *recurrence.Expander
	writer    *Writer
	annotator *Annotator
	publisher events.Publisher
	logger    zerolog.Logger
}

func NewService(appts AppointmentRepository, tags TagRepository, groups ClientGroupRepository,
	invoices InvoiceReader, tx TxRunner, opts Options) *Service {
	if opts.Expander == nil {
		opts.Expander = recurrence.NewExpander(0, 0)
	}
	if opts.Validator == nil {
		opts.Validator = RequestValidator{}
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NopPublisher{}
	}
	return &Service{
		appts:     appts,
		tags:      tags,
		groups:    groups,
		validator: opts.Validator,
		guard:     NewLimitGuard(appts, opts.DailyLimit),
		expander:  opts.Expander,
		writer:    NewWriter(tx, appts, tags, invoices, opts.Logger),
		annotator: NewAnnotator(appts),
		publisher: opts.Publisher,
		logger:    opts.Logger,
	}
}

// CreateResult holds one appointment, or every occurrence of a new series in
// start order with the master first.
type CreateResult struct {
	Appointments []*Appointment
	Recurring    bool
}

func (r *CreateResult) Master() *Appointment { return r.Appointments[0] }

// Create validates the request, checks the client group and the daily limit
// on the anchor date, then writes one appointment or a whole series.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (_ *CreateResult, err error) {
	ctx, span := tracer.Start(ctx, "calendar.Create")
	defer func() { endSpan(span, err) }()

	if fields := s.validator.ValidateCreate(req); len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	in, err := req.intent()
	if err != nil {
		return nil, err
	}
	a := in.appt

	if a.ClientGroupID != nil {
		if err := s.checkClientGroup(ctx, *a.ClientGroupID); err != nil {
			return nil, err
		}
		if err := s.guard.Check(ctx, a.ClinicianID, *a.ClientGroupID, a.StartTime); err != nil {
			return nil, s.storeFailure("check daily limit", a.ID, err)
		}
	}

	if in.rule == nil {
		if err := s.writer.Create(ctx, a); err != nil {
			return nil, err
		}
		s.publish(ctx, events.AppointmentCreated, a.ID, a, a)
		return &CreateResult{Appointments: []*Appointment{a}}, nil
	}

	occ, err := s.expander.Expand(a.StartTime, a.EndTime, *in.rule, in.term)
	if err != nil {
		return nil, &ValidationError{Fields: []FieldError{{"recurrence", err.Error()}}}
	}
	rule := recurrence.Format(*in.rule, in.term, a.StartTime.Location())
	span.SetAttributes(attribute.Int("series.occurrences", len(occ)))
	series, err := s.writer.CreateSeries(ctx, a, occ, rule)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.AppointmentSeriesCreated, series[0].ID, series, series...)
	return &CreateResult{Appointments: series, Recurring: true}, nil
}

func (s *Service) checkClientGroup(ctx context.Context, id uuid.UUID) error {
	ok, err := s.groups.Exists(ctx, id)
	if err != nil {
		return s.storeFailure("check client group", id, err)
	}
	if !ok {
		return &NotFoundError{Resource: ResourceClientGroup, ID: id}
	}
	return nil
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, &NotFoundError{Resource: ResourceAppointment, ID: id}
	}
	if err != nil {
		return nil, s.storeFailure("get appointment", id, err)
	}
	return a, nil
}

// storeFailure wraps a store error raised outside the writer in StoreError
// and logs the cause. Domain errors pass through unchanged.
func (s *Service) storeFailure(op string, id uuid.UUID, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	ev := s.logger.Error().Err(err).Str("op", op)
	if id != uuid.Nil {
		ev = ev.Str("id", id.String())
	}
	ev.Msg("appointment store call failed")
	return &StoreError{Op: op, Err: err}
}

// Get returns one appointment annotated against every other appointment of
// its client group.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*AnnotatedAppointment, error) {
	a, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	annotated, err := s.annotator.One(ctx, a)
	if err != nil {
		return nil, s.storeFailure("annotate appointment", id, err)
	}
	return annotated, nil
}

// List returns a page of appointments annotated within that page.
func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]AnnotatedAppointment, int, error) {
	items, total, err := s.appts.Search(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, s.storeFailure("list appointments", uuid.Nil, err)
	}
	return s.annotator.List(items), total, nil
}

// Series returns every member of the series id belongs to, master included,
// in start order. A standalone appointment is its own one-element series.
func (s *Service) Series(ctx context.Context, id uuid.UUID) ([]*Appointment, error) {
	a, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Role() == RoleStandalone {
		return []*Appointment{a}, nil
	}
	series, err := s.appts.ListSeries(ctx, a.SeriesID())
	if err != nil {
		return nil, s.storeFailure("list series", a.SeriesID(), err)
	}
	return series, nil
}

func (s *Service) Tags(ctx context.Context, id uuid.UUID) ([]Tag, error) {
	if _, err := s.get(ctx, id); err != nil {
		return nil, err
	}
	tags, err := s.tags.ListForAppointment(ctx, id)
	if err != nil {
		return nil, s.storeFailure("list tags", id, err)
	}
	return tags, nil
}

type UpdateResult struct {
	Scope        UpdateScope
	Appointments []*Appointment
	Message      string
}

// Update applies req to the appointments selected by scope.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req *UpdateRequest, scope UpdateScope) (_ *UpdateResult, err error) {
	ctx, span := tracer.Start(ctx, "calendar.Update", trace.WithAttributes(
		attribute.String("appointment.id", id.String()),
		attribute.String("scope", scope.String()),
	))
	defer func() { endSpan(span, err) }()

	if fields := s.validator.ValidateUpdate(req); len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	patch, err := req.patch()
	if err != nil {
		return nil, err
	}

	target, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if start, end := patch.window(target); !end.After(start) {
		return nil, &ValidationError{Fields: []FieldError{{"end_time", "must be after start_time"}}}
	}
	if patch.ClientGroupID != nil {
		if err := s.checkClientGroup(ctx, *patch.ClientGroupID); err != nil {
			return nil, err
		}
	}

	plan, err := s.writer.Update(ctx, id, scope, patch)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.AppointmentUpdated, plan.Target.SeriesID(), plan.Members,
		append([]*Appointment{plan.Target}, plan.Members...)...)
	return &UpdateResult{
		Scope:        scope,
		Appointments: plan.Members,
		Message:      updateMessage(plan),
	}, nil
}

func updateMessage(p *UpdatePlan) string {
	switch {
	case len(p.Members) <= 1:
		return "Appointment updated successfully"
	case p.Scope == UpdateThisAndFuture && p.Role == RoleChild:
		return "This and future appointments in the series updated successfully"
	default:
		return "All appointments in the series updated successfully"
	}
}

type DeleteOutcome struct {
	*DeleteResult
	Message string
}

// Delete removes the appointments selected by scope. Invoices and payments
// referencing them are left in place.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, scope DeleteScope) (_ *DeleteOutcome, err error) {
	ctx, span := tracer.Start(ctx, "calendar.Delete", trace.WithAttributes(
		attribute.String("appointment.id", id.String()),
		attribute.String("scope", scope.String()),
	))
	defer func() { endSpan(span, err) }()

	target, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := s.writer.Delete(ctx, id, scope)
	if err != nil {
		return nil, err
	}
	if len(res.RetainedInvoiceIDs) > 0 {
		s.logger.Info().Str("appointment_id", id.String()).
			Int("invoices", len(res.RetainedInvoiceIDs)).
			Msg("deleted appointments keep their invoices")
	}
	s.publish(ctx, events.AppointmentDeleted, res.SeriesID, res, target)
	return &DeleteOutcome{DeleteResult: res, Message: deleteMessage(res)}, nil
}

func deleteMessage(r *DeleteResult) string {
	switch {
	case r.Role == RoleStandalone || r.Scope == DeleteSingle:
		return "Appointment deleted successfully"
	case r.Scope == DeleteFuture && r.Role == RoleChild:
		return "This and future appointments in the series deleted successfully"
	default:
		return "All appointments in the series deleted successfully"
	}
}

// publish emits an event for a committed write, addressed to the clinicians
// and client groups of the affected appointments. Failures are logged only.
func (s *Service) publish(ctx context.Context, eventType string, aggregateID uuid.UUID, payload interface{}, affected ...*Appointment) {
	e, err := events.New(eventType, aggregateID, payload)
	if err == nil {
		e.Tenant = db.TenantFromContext(ctx)
		e.Subjects = subjectsOf(aggregateID, affected)
		err = s.publisher.Publish(ctx, e)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("event_type", eventType).Str("aggregate_id", aggregateID.String()).
			Msg("failed to publish appointment event")
	}
}

func subjectsOf(seriesID uuid.UUID, appts []*Appointment) []string {
	seen := map[string]bool{}
	out := []string{}
	add := func(subject string) {
		if !seen[subject] {
			seen[subject] = true
			out = append(out, subject)
		}
	}
	add(events.Subject(events.SubjectSeries, seriesID))
	for _, a := range appts {
		add(events.Subject(events.SubjectClinician, a.ClinicianID))
		if a.ClientGroupID != nil {
			add(events.Subject(events.SubjectClientGroup, *a.ClientGroupID))
		}
	}
	return out
}

package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

type UpdateScope int

const (
	UpdateThis UpdateScope = iota
	UpdateThisAndFuture
	UpdateAll
)

func (s UpdateScope) String() string {
	switch s {
	case UpdateThisAndFuture:
		return "this_and_future"
	case UpdateAll:
		return "all"
	default:
		return "this"
	}
}

// ParseUpdateScope maps a query value to a scope. Empty means "this".
func ParseUpdateScope(s string) (UpdateScope, error) {
	switch s {
	case "", "this":
		return UpdateThis, nil
	case "this_and_future":
		return UpdateThisAndFuture, nil
	case "all":
		return UpdateAll, nil
	}
	return 0, &ValidationError{Fields: []FieldError{{"scope", fmt.Sprintf("unknown update scope %q", s)}}}
}

type DeleteScope int

const (
	DeleteSingle DeleteScope = iota
	DeleteFuture
	DeleteAll
)

func (s DeleteScope) String() string {
	switch s {
	case DeleteFuture:
		return "future"
	case DeleteAll:
		return "all"
	default:
		return "single"
	}
}

// ParseDeleteScope maps a query value to a scope. Empty means "single".
func ParseDeleteScope(s string) (DeleteScope, error) {
	switch s {
	case "", "single":
		return DeleteSingle, nil
	case "future":
		return DeleteFuture, nil
	case "all":
		return DeleteAll, nil
	}
	return 0, &ValidationError{Fields: []FieldError{{"scope", fmt.Sprintf("unknown delete scope %q", s)}}}
}

type seriesReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListSeries(ctx context.Context, masterID uuid.UUID) ([]*Appointment, error)
}

// UpdatePlan lists the records an update writes. Members are copies with
// their new structural fields already set; each one receives the patch.
type UpdatePlan struct {
	Scope   UpdateScope
	Role    Role
	Target  *Appointment
	Members []*Appointment
}

// DeletePlan lists the records a delete removes, in an order that never
// leaves a child pointing at a removed master, and the surviving records
// whose series links must be rewritten first.
type DeletePlan struct {
	Scope  DeleteScope
	Role   Role
	Target *Appointment
	Delete []*Appointment
	Relink []*Appointment
}

func (p *DeletePlan) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(p.Delete))
	for i, a := range p.Delete {
		ids[i] = a.ID
	}
	return ids
}

// ScopeResolver turns a scoped intent into a plan. It reads the target and
// its series from the store on every call and keeps no series state.
type ScopeResolver struct {
	appts seriesReader
}

func NewScopeResolver(appts seriesReader) *ScopeResolver {
	return &ScopeResolver{appts: appts}
}

// series holds a resolved target and every member of its series, master
// included, ordered by start time.
type series struct {
	target  *Appointment
	master  *Appointment
	members []*Appointment
}

func (s *series) children() []*Appointment {
	var out []*Appointment
	for _, m := range s.members {
		if m.ID != s.master.ID {
			out = append(out, m)
		}
	}
	return out
}

// fromTarget returns the target and every later child. The master is never
// part of a child's suffix; it is only removed or re-anchored by targeting it.
func (s *series) fromTarget() []*Appointment {
	out := []*Appointment{s.target}
	for _, m := range s.members {
		if m.ID == s.target.ID || m.ID == s.master.ID {
			continue
		}
		if !m.StartTime.Before(s.target.StartTime) {
			out = append(out, m)
		}
	}
	return out
}

func (r *ScopeResolver) load(ctx context.Context, id uuid.UUID) (*series, error) {
	target, err := r.appts.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, &NotFoundError{Resource: ResourceAppointment, ID: id}
	}
	if err != nil {
		return nil, err
	}

	switch target.Role() {
	case RoleStandalone:
		if target.RecurringAppointmentID != nil {
			return nil, &StructuralIntegrityError{AppointmentID: id, Reason: "non-recurring appointment references a series"}
		}
		return &series{target: target, master: target, members: []*Appointment{target}}, nil
	case RoleMaster:
		return r.loadSeries(ctx, target, target)
	}

	masterID := *target.RecurringAppointmentID
	master, err := r.appts.GetByID(ctx, masterID)
	if errors.Is(err, ErrNotFound) {
		return nil, &StructuralIntegrityError{AppointmentID: id, Reason: fmt.Sprintf("series master %s does not exist", masterID)}
	}
	if err != nil {
		return nil, err
	}
	if master.Role() != RoleMaster {
		return nil, &StructuralIntegrityError{AppointmentID: id, Reason: fmt.Sprintf("appointment %s is not a series master", masterID)}
	}
	return r.loadSeries(ctx, target, master)
}

func (r *ScopeResolver) loadSeries(ctx context.Context, target, master *Appointment) (*series, error) {
	members, err := r.appts.ListSeries(ctx, master.ID)
	if err != nil {
		return nil, err
	}
	found := false
	for _, m := range members {
		if m.ID == target.ID {
			found = true
		}
		if m.ID != master.ID && m.Role() != RoleChild {
			return nil, &StructuralIntegrityError{AppointmentID: m.ID, Reason: "series member is not marked recurring"}
		}
	}
	if !found {
		return nil, &StructuralIntegrityError{AppointmentID: target.ID, Reason: "appointment is missing from its own series"}
	}
	sort.SliceStable(members, func(i, j int) bool { return members[i].StartTime.Before(members[j].StartTime) })
	return &series{target: target, master: master, members: members}, nil
}

func cloneAll(in []*Appointment) []*Appointment {
	out := make([]*Appointment, len(in))
	for i, a := range in {
		out[i] = a.Clone()
	}
	return out
}

// ResolveUpdate plans an update of id under scope.
//
//	this             child is detached, then updated alone
//	this_and_future  target and later children; a child target becomes the
//	                 master of that suffix
//	all              every member; roles unchanged
//
// A standalone target is always updated alone, and a master under
// this_and_future covers the whole series.
func (r *ScopeResolver) ResolveUpdate(ctx context.Context, id uuid.UUID, scope UpdateScope) (*UpdatePlan, error) {
	s, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	role := s.target.Role()
	plan := &UpdatePlan{Scope: scope, Role: role, Target: s.target}

	switch {
	case role == RoleStandalone:
		plan.Members = cloneAll([]*Appointment{s.target})

	case scope == UpdateThis:
		t := s.target.Clone()
		if role == RoleChild {
			t.detach()
		}
		plan.Members = []*Appointment{t}

	case scope == UpdateAll, scope == UpdateThisAndFuture && role == RoleMaster:
		plan.Members = cloneAll(s.members)

	case scope == UpdateThisAndFuture:
		suffix := cloneAll(s.fromTarget())
		newMaster := suffix[0]
		newMaster.promote()
		if newMaster.RecurringRule == nil {
			newMaster.RecurringRule = s.master.RecurringRule
		}
		for _, m := range suffix[1:] {
			m.attachTo(newMaster.ID)
		}
		plan.Members = suffix

	default:
		return nil, fmt.Errorf("unsupported update scope %d", scope)
	}
	return plan, nil
}

// ResolveDelete plans a delete of id under scope.
//
//	single  the target only; removing a master with children promotes the
//	        earliest child and re-points the rest at it
//	future  target and later children; for a master this is the series
//	all     the whole series
//
// Children are ordered before their master in Delete.
func (r *ScopeResolver) ResolveDelete(ctx context.Context, id uuid.UUID, scope DeleteScope) (*DeletePlan, error) {
	s, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	role := s.target.Role()
	plan := &DeletePlan{Scope: scope, Role: role, Target: s.target}

	switch {
	case role == RoleStandalone:
		plan.Delete = []*Appointment{s.target}

	case scope == DeleteSingle:
		plan.Delete = []*Appointment{s.target}
		if role == RoleMaster {
			plan.Relink = promoteSuccessor(s)
		}

	case scope == DeleteAll, scope == DeleteFuture && role == RoleMaster:
		plan.Delete = append(s.children(), s.master)

	case scope == DeleteFuture:
		plan.Delete = s.fromTarget()

	default:
		return nil, fmt.Errorf("unsupported delete scope %d", scope)
	}
	plan.Delete = cloneAll(plan.Delete)
	return plan, nil
}

// promoteSuccessor makes the earliest child the master of the rest.
func promoteSuccessor(s *series) []*Appointment {
	children := cloneAll(s.children())
	if len(children) == 0 {
		return nil
	}
	next := children[0]
	next.promote()
	if s.master.RecurringRule != nil {
		next.RecurringRule = s.master.RecurringRule
	}
	for _, c := range children[1:] {
		c.attachTo(next.ID)
	}
	return children
}

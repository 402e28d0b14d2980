package calendar

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/practicehub/calendar/internal/platform/recurrence"
)

type appointmentCreator interface {
	Create(ctx context.Context, a *Appointment) error
}

// SeriesLinker writes an expanded series: the first occurrence becomes the
// master and every later one a child referencing it. It must run inside a
// transaction so a failed write leaves no partial series.
type SeriesLinker struct {
	appts appointmentCreator
}

func NewSeriesLinker(appts appointmentCreator) *SeriesLinker {
	return &SeriesLinker{appts: appts}
}

// Link copies base onto every occurrence window and writes the records in
// order. rule is stored on the master and mirrored onto each child.
func (l *SeriesLinker) Link(ctx context.Context, base *Appointment, occ []recurrence.Occurrence, rule string) ([]*Appointment, error) {
	if len(occ) == 0 {
		return nil, errors.New("series has no occurrences")
	}

	out := make([]*Appointment, 0, len(occ))
	var master *Appointment
	for i, o := range occ {
		a := base.Clone()
		a.ID = uuid.Nil
		a.StartTime = o.Start
		a.EndTime = o.End
		a.IsRecurring = true
		r := rule
		a.RecurringRule = &r
		if master != nil {
			a.attachTo(master.ID)
		} else {
			a.RecurringAppointmentID = nil
		}
		if err := l.appts.Create(ctx, a); err != nil {
			return nil, fmt.Errorf("write occurrence %d of %d: %w", i+1, len(occ), err)
		}
		if master == nil {
			master = a
		}
		out = append(out, a)
	}
	return out, nil
}

package calendar

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
)

type earlierChecker interface {
	ExistsEarlier(ctx context.Context, clientGroupID uuid.UUID, before time.Time, excludeID uuid.UUID) (bool, error)
}

// Annotator computes isFirstAppointmentForGroup on read results.
type Annotator struct {
	appts earlierChecker
}

func NewAnnotator(appts earlierChecker) *Annotator {
	return &Annotator{appts: appts}
}

// List marks, within the given result set, the earliest appointment of each
// client group. Ties on start time go to the lower id. Appointments without
// a client group are never first.
func (an *Annotator) List(appts []*Appointment) []AnnotatedAppointment {
	first := make(map[uuid.UUID]*Appointment)
	for _, a := range appts {
		if a.ClientGroupID == nil {
			continue
		}
		cur, ok := first[*a.ClientGroupID]
		if !ok || earlier(a, cur) {
			first[*a.ClientGroupID] = a
		}
	}

	out := make([]AnnotatedAppointment, len(appts))
	for i, a := range appts {
		out[i] = AnnotatedAppointment{Appointment: *a}
		if a.ClientGroupID != nil && first[*a.ClientGroupID] == a {
			out[i].IsFirstAppointmentForGroup = true
		}
	}
	return out
}

func earlier(a, b *Appointment) bool {
	if !a.StartTime.Equal(b.StartTime) {
		return a.StartTime.Before(b.StartTime)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// One annotates a single fetched appointment by asking the store whether any
// other appointment of its client group starts earlier.
func (an *Annotator) One(ctx context.Context, a *Appointment) (*AnnotatedAppointment, error) {
	out := &AnnotatedAppointment{Appointment: *a}
	if a.ClientGroupID == nil {
		return out, nil
	}
	exists, err := an.appts.ExistsEarlier(ctx, *a.ClientGroupID, a.StartTime, a.ID)
	if err != nil {
		return nil, err
	}
	out.IsFirstAppointmentForGroup = !exists
	return out, nil
}

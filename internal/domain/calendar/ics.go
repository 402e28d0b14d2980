package calendar

import (
	"context"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
)

const icsProductID = "-//practicehub//calendar//EN"

// SeriesCalendar renders appointments as a published iCalendar. Each event's
// UID is the appointment id and children carry RELATED-TO pointing at their
// master. Occurrences are explicit events, so the master's stored rule goes in
// an X- property rather than RRULE.
func SeriesCalendar(appts []*Appointment, stamp time.Time) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(icsProductID)

	for _, a := range appts {
		ev := cal.AddEvent(a.ID.String())
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(a.StartTime)
		ev.SetEndAt(a.EndTime)
		if a.Title != nil && *a.Title != "" {
			ev.SetSummary(*a.Title)
		} else {
			ev.SetSummary(a.Type)
		}
		if a.Notes != nil {
			ev.SetDescription(*a.Notes)
		}
		ev.SetStatus(icsStatus(a.Status))
		switch a.Role() {
		case RoleMaster:
			if a.RecurringRule != nil {
				ev.SetProperty(ics.ComponentProperty("X-PRACTICEHUB-RRULE"), *a.RecurringRule)
			}
		case RoleChild:
			ev.SetProperty(ics.ComponentPropertyRelatedTo, a.RecurringAppointmentID.String())
		}
	}
	return cal.Serialize()
}

func icsStatus(status string) ics.ObjectStatus {
	switch status {
	case StatusCancelled, StatusClinicianCancelled:
		return ics.ObjectStatusCancelled
	default:
		return ics.ObjectStatusConfirmed
	}
}

// ExportSeries renders the series containing id as iCalendar.
func (s *Service) ExportSeries(ctx context.Context, id uuid.UUID) (string, error) {
	series, err := s.Series(ctx, id)
	if err != nil {
		return "", err
	}
	return SeriesCalendar(series, time.Now().UTC()), nil
}

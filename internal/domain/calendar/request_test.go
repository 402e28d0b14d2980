package calendar

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/practicehub/calendar/internal/platform/recurrence"
)

func TestRequestValidator_ValidateCreate(t *testing.T) {
	group := uuid.New()
	neg := -5.0
	tests := []struct {
		name   string
		mutate func(r *CreateRequest)
		fields string
	}{
		{"valid", func(r *CreateRequest) {}, ""},
		{"bare dates", func(r *CreateRequest) { r.StartTime, r.EndTime = "2024-01-15", "2024-01-16" }, ""},
		{"event without group", func(r *CreateRequest) { r.Type = TypeEvent; r.ClientGroupID = nil }, ""},
		{"appointment without group", func(r *CreateRequest) { r.ClientGroupID = nil }, "client_group_id"},
		{"unknown type", func(r *CreateRequest) { r.Type = "MEETING" }, "type"},
		{"unknown status", func(r *CreateRequest) { r.Status = "LATE" }, "status"},
		{"negative fee", func(r *CreateRequest) { r.Fee = &neg }, "fee"},
		{"equal times", func(r *CreateRequest) { r.EndTime = r.StartTime }, "end_time"},
		{"weekdays on daily", func(r *CreateRequest) {
			r.Recurrence = &RecurrenceRequest{Rule: "Daily", Weekdays: []string{"MO"}}
		}, "recurrence.weekdays"},
		{"unknown weekday", func(r *CreateRequest) {
			r.Recurrence = &RecurrenceRequest{Rule: "Weekly", Weekdays: []string{"Funday"}}
		}, "recurrence.weekdays"},
		{"bad end date", func(r *CreateRequest) {
			r.Recurrence = &RecurrenceRequest{Rule: "Weekly", EndDate: "02/05/2024"}
		}, "recurrence.end_date"},
		{"negative count", func(r *CreateRequest) {
			r.Recurrence = &RecurrenceRequest{Rule: "Weekly", Count: -1}
		}, "recurrence.count"},
		{"month day rule", func(r *CreateRequest) {
			r.Recurrence = &RecurrenceRequest{Rule: "FREQ=MONTHLY;BYMONTHDAY=15;COUNT=3"}
		}, "recurrence.rule"},
		{"rrule body", func(r *CreateRequest) {
			r.Recurrence = &RecurrenceRequest{Rule: "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,TH;COUNT=6"}
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := apptReq(group, "2024-01-15T10:00:00Z", "2024-01-15T11:00:00Z")
			tt.mutate(req)
			errs := RequestValidator{}.ValidateCreate(req)
			names := make([]string, len(errs))
			for i, e := range errs {
				names[i] = e.Field
			}
			if got := strings.Join(names, ","); got != tt.fields {
				t.Errorf("expected fields %q, got %q", tt.fields, got)
			}
		})
	}
}

func TestRequestValidator_ValidateUpdate(t *testing.T) {
	bad := "tomorrow"
	nilID := uuid.Nil
	errs := RequestValidator{}.ValidateUpdate(&UpdateRequest{StartTime: &bad, ClinicianID: &nilID, Type: strPtr("X")})
	if len(errs) != 3 {
		t.Errorf("expected 3 field errors, got %v", errs)
	}
	if errs := (RequestValidator{}).ValidateUpdate(&UpdateRequest{}); len(errs) != 0 {
		t.Errorf("expected empty update to validate, got %v", errs)
	}
}

func TestCreateRequest_Intent(t *testing.T) {
	req := apptReq(uuid.New(), "2024-01-15T10:00:00Z", "2024-01-15T11:00:00Z")
	req.Recurrence = &RecurrenceRequest{Rule: "Weekly", Weekdays: []string{"mo", "Thursday"}, EndDate: "2024-02-05"}

	in, err := req.intent()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.appt.Type != TypeAppointment || in.appt.Status != StatusScheduled {
		t.Errorf("expected defaults, got %s/%s", in.appt.Type, in.appt.Status)
	}
	if in.rule == nil || in.rule.Frequency != recurrence.Weekly {
		t.Fatalf("expected weekly rule, got %+v", in.rule)
	}
	if len(in.rule.Weekdays) != 2 || in.rule.Weekdays[0] != time.Monday || in.rule.Weekdays[1] != time.Thursday {
		t.Errorf("unexpected weekdays %v", in.rule.Weekdays)
	}
	if in.term.EndDate == nil || in.term.EndDate.Format(dateLayout) != "2024-02-05" {
		t.Errorf("unexpected end date %v", in.term.EndDate)
	}

	single, err := apptReq(uuid.New(), "2024-01-15T10:00:00Z", "2024-01-15T11:00:00Z").intent()
	if err != nil || single.rule != nil {
		t.Errorf("expected no rule for a single create, got %+v, %v", single.rule, err)
	}
}

func TestCreateRequest_IntentRejectsUnsupportedRule(t *testing.T) {
	req := apptReq(uuid.New(), "2024-01-03T10:00:00Z", "2024-01-03T11:00:00Z")
	req.Recurrence = &RecurrenceRequest{Rule: "FREQ=MONTHLY;BYMONTHDAY=15;COUNT=3"}

	_, err := req.intent()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Fields) != 1 || verr.Fields[0].Field != "recurrence.rule" {
		t.Errorf("expected recurrence.rule, got %v", verr.Fields)
	}
}

func TestPatch_ApplyShiftsAndResizes(t *testing.T) {
	target := &Appointment{
		StartTime: time.Date(2024, 1, 22, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2024, 1, 22, 11, 0, 0, 0, time.UTC),
	}
	other := &Appointment{
		StartTime: time.Date(2024, 1, 29, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2024, 1, 29, 11, 0, 0, 0, time.UTC),
	}
	p, err := (&UpdateRequest{StartTime: strPtr("2024-01-22T09:30:00Z"), Title: strPtr("Moved")}).patch()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p.apply(other, target)
	if want := time.Date(2024, 1, 29, 9, 30, 0, 0, time.UTC); !other.StartTime.Equal(want) {
		t.Errorf("expected start %s, got %s", want, other.StartTime)
	}
	if other.EndTime.Sub(other.StartTime) != 90*time.Minute {
		t.Errorf("expected the target's new 90m duration, got %s", other.EndTime.Sub(other.StartTime))
	}
	if other.Title == nil || *other.Title != "Moved" {
		t.Error("expected title applied")
	}

	untouched := other.Clone()
	noTime, _ := (&UpdateRequest{Notes: strPtr("n")}).patch()
	noTime.apply(other, target)
	if !other.StartTime.Equal(untouched.StartTime) || !other.EndTime.Equal(untouched.EndTime) {
		t.Error("expected times unchanged without a time patch")
	}
}

package calendar

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/practicehub/calendar/internal/platform/recurrence"
)

// RecurrenceRequest asks for a series. Rule is a cadence keyword or an RRULE
// body; EndDate (YYYY-MM-DD, inclusive) and Count bound the series.
type RecurrenceRequest struct {
	Rule     string   `json:"rule"`
	Weekdays []string `json:"weekdays,omitempty"`
	EndDate  string   `json:"end_date,omitempty"`
	Count    int      `json:"count,omitempty"`
}

type CreateRequest struct {
	Type          string             `json:"type"`
	Title         *string            `json:"title,omitempty"`
	StartTime     string             `json:"start_time"`
	EndTime       string             `json:"end_time"`
	AllDay        bool               `json:"is_all_day"`
	ClinicianID   uuid.UUID          `json:"clinician_id"`
	ClientGroupID *uuid.UUID         `json:"client_group_id,omitempty"`
	LocationID    *uuid.UUID         `json:"location_id,omitempty"`
	ServiceID     *uuid.UUID         `json:"service_id,omitempty"`
	Status        string             `json:"status,omitempty"`
	CreatedBy     uuid.UUID          `json:"created_by"`
	Fee           *float64           `json:"fee,omitempty"`
	Notes         *string            `json:"notes,omitempty"`
	Recurrence    *RecurrenceRequest `json:"recurrence,omitempty"`
}

// UpdateRequest is a partial update; nil fields are left unchanged.
type UpdateRequest struct {
	Type          *string    `json:"type,omitempty"`
	Title         *string    `json:"title,omitempty"`
	StartTime     *string    `json:"start_time,omitempty"`
	EndTime       *string    `json:"end_time,omitempty"`
	AllDay        *bool      `json:"is_all_day,omitempty"`
	ClinicianID   *uuid.UUID `json:"clinician_id,omitempty"`
	ClientGroupID *uuid.UUID `json:"client_group_id,omitempty"`
	LocationID    *uuid.UUID `json:"location_id,omitempty"`
	ServiceID     *uuid.UUID `json:"service_id,omitempty"`
	Status        *string    `json:"status,omitempty"`
	Fee           *float64   `json:"fee,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
}

// Validator reports every missing or invalid field of a raw request. An empty
// result means the request may be written.
type Validator interface {
	ValidateCreate(req *CreateRequest) []FieldError
	ValidateUpdate(req *UpdateRequest) []FieldError
}

// RequestValidator is the default Validator.
type RequestValidator struct{}

func (RequestValidator) ValidateCreate(req *CreateRequest) []FieldError {
	var errs []FieldError
	typ := req.Type
	if typ == "" {
		typ = TypeAppointment
	}
	if !validTypes[typ] {
		errs = append(errs, FieldError{"type", "unknown appointment type " + req.Type})
	}

	start, startErr := parseInstant(req.StartTime)
	if startErr != "" {
		errs = append(errs, FieldError{"start_time", startErr})
	}
	end, endErr := parseInstant(req.EndTime)
	if endErr != "" {
		errs = append(errs, FieldError{"end_time", endErr})
	}
	if startErr == "" && endErr == "" && !end.After(start) {
		errs = append(errs, FieldError{"end_time", "must be after start_time"})
	}

	if req.ClinicianID == uuid.Nil {
		errs = append(errs, FieldError{"clinician_id", "is required"})
	}
	if req.CreatedBy == uuid.Nil {
		errs = append(errs, FieldError{"created_by", "is required"})
	}
	if typ == TypeAppointment && (req.ClientGroupID == nil || *req.ClientGroupID == uuid.Nil) {
		errs = append(errs, FieldError{"client_group_id", "is required"})
	}
	if req.Status != "" && !validStatuses[req.Status] {
		errs = append(errs, FieldError{"status", "unknown status " + req.Status})
	}
	if req.Fee != nil && *req.Fee < 0 {
		errs = append(errs, FieldError{"fee", "must not be negative"})
	}
	if req.Recurrence != nil {
		errs = append(errs, validateRecurrence(req.Recurrence, start, startErr == "")...)
	}
	return errs
}

func validateRecurrence(r *RecurrenceRequest, anchor time.Time, anchorOK bool) []FieldError {
	var errs []FieldError
	rule, _, err := recurrence.ParseRule(r.Rule)
	if err != nil {
		errs = append(errs, FieldError{"recurrence.rule", err.Error()})
	}
	if len(r.Weekdays) > 0 {
		if _, bad := parseWeekdays(r.Weekdays); bad != "" {
			errs = append(errs, FieldError{"recurrence.weekdays", "unknown weekday " + bad})
		} else if err == nil && rule.Frequency != recurrence.Weekly {
			errs = append(errs, FieldError{"recurrence.weekdays", "only valid for a weekly rule"})
		}
	}
	if r.EndDate != "" {
		d, derr := time.Parse(dateLayout, r.EndDate)
		switch {
		case derr != nil:
			errs = append(errs, FieldError{"recurrence.end_date", "must be a date (YYYY-MM-DD)"})
		case anchorOK && recurrence.EndOfDay(d, anchor.Location()).Before(anchor):
			errs = append(errs, FieldError{"recurrence.end_date", "must not be before start_time"})
		}
	}
	if r.Count < 0 {
		errs = append(errs, FieldError{"recurrence.count", "must not be negative"})
	}
	return errs
}

func (RequestValidator) ValidateUpdate(req *UpdateRequest) []FieldError {
	var errs []FieldError
	if req.Type != nil && !validTypes[*req.Type] {
		errs = append(errs, FieldError{"type", "unknown appointment type " + *req.Type})
	}
	if req.StartTime != nil {
		if _, msg := parseInstant(*req.StartTime); msg != "" {
			errs = append(errs, FieldError{"start_time", msg})
		}
	}
	if req.EndTime != nil {
		if _, msg := parseInstant(*req.EndTime); msg != "" {
			errs = append(errs, FieldError{"end_time", msg})
		}
	}
	if req.ClinicianID != nil && *req.ClinicianID == uuid.Nil {
		errs = append(errs, FieldError{"clinician_id", "must not be empty"})
	}
	if req.ClientGroupID != nil && *req.ClientGroupID == uuid.Nil {
		errs = append(errs, FieldError{"client_group_id", "must not be empty"})
	}
	if req.Status != nil && !validStatuses[*req.Status] {
		errs = append(errs, FieldError{"status", "unknown status " + *req.Status})
	}
	if req.Fee != nil && *req.Fee < 0 {
		errs = append(errs, FieldError{"fee", "must not be negative"})
	}
	return errs
}

const dateLayout = "2006-01-02"

// parseInstant accepts RFC 3339 timestamps and bare dates (midnight UTC). The
// second result is empty on success and otherwise describes the problem.
func parseInstant(s string) (time.Time, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, "is required"
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, ""
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, ""
	}
	return time.Time{}, "must be an RFC 3339 timestamp or a date"
}

var weekdayNames = map[string]time.Weekday{
	"SU": time.Sunday, "MO": time.Monday, "TU": time.Tuesday, "WE": time.Wednesday,
	"TH": time.Thursday, "FR": time.Friday, "SA": time.Saturday,
	"SUNDAY": time.Sunday, "MONDAY": time.Monday, "TUESDAY": time.Tuesday,
	"WEDNESDAY": time.Wednesday, "THURSDAY": time.Thursday, "FRIDAY": time.Friday,
	"SATURDAY": time.Saturday,
}

// parseWeekdays returns the parsed days, or the first unknown name.
func parseWeekdays(names []string) ([]time.Weekday, string) {
	days := make([]time.Weekday, 0, len(names))
	for _, n := range names {
		wd, ok := weekdayNames[strings.ToUpper(strings.TrimSpace(n))]
		if !ok {
			return nil, n
		}
		days = append(days, wd)
	}
	return days, ""
}

// createIntent is a validated create request in typed form.
type createIntent struct {
	appt *Appointment
	rule *recurrence.Rule
	term recurrence.Termination
}

func (req *CreateRequest) intent() (*createIntent, error) {
	var fields []FieldError
	start, msg := parseInstant(req.StartTime)
	if msg != "" {
		fields = append(fields, FieldError{"start_time", msg})
	}
	end, msg := parseInstant(req.EndTime)
	if msg != "" {
		fields = append(fields, FieldError{"end_time", msg})
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	a := &Appointment{
		Type:          req.Type,
		Title:         req.Title,
		StartTime:     start,
		EndTime:       end,
		AllDay:        req.AllDay,
		ClinicianID:   req.ClinicianID,
		ClientGroupID: req.ClientGroupID,
		LocationID:    req.LocationID,
		ServiceID:     req.ServiceID,
		Status:        req.Status,
		CreatedBy:     req.CreatedBy,
		Fee:           req.Fee,
		Notes:         req.Notes,
	}
	if a.Type == "" {
		a.Type = TypeAppointment
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	in := &createIntent{appt: a}
	if req.Recurrence == nil {
		return in, nil
	}

	rule, term, err := recurrence.ParseRule(req.Recurrence.Rule)
	if err != nil {
		return nil, &ValidationError{Fields: []FieldError{{"recurrence.rule", err.Error()}}}
	}
	if len(req.Recurrence.Weekdays) > 0 {
		days, bad := parseWeekdays(req.Recurrence.Weekdays)
		if bad != "" {
			return nil, &ValidationError{Fields: []FieldError{{"recurrence.weekdays", "unknown weekday " + bad}}}
		}
		rule.Weekdays = days
	}
	if req.Recurrence.EndDate != "" {
		d, err := time.Parse(dateLayout, req.Recurrence.EndDate)
		if err != nil {
			return nil, &ValidationError{Fields: []FieldError{{"recurrence.end_date", "must be a date (YYYY-MM-DD)"}}}
		}
		term.EndDate = &d
	}
	if req.Recurrence.Count > 0 {
		term.Count = req.Recurrence.Count
	}
	in.rule = &rule
	in.term = term
	return in, nil
}

// Patch is a validated UpdateRequest.
type Patch struct {
	Type          *string
	Title         *string
	StartTime     *time.Time
	EndTime       *time.Time
	AllDay        *bool
	ClinicianID   *uuid.UUID
	ClientGroupID *uuid.UUID
	LocationID    *uuid.UUID
	ServiceID     *uuid.UUID
	Status        *string
	Fee           *float64
	Notes         *string
}

func (req *UpdateRequest) patch() (*Patch, error) {
	p := &Patch{
		Type: req.Type, Title: req.Title, AllDay: req.AllDay,
		ClinicianID: req.ClinicianID, ClientGroupID: req.ClientGroupID,
		LocationID: req.LocationID, ServiceID: req.ServiceID,
		Status: req.Status, Fee: req.Fee, Notes: req.Notes,
	}
	var fields []FieldError
	if req.StartTime != nil {
		t, msg := parseInstant(*req.StartTime)
		if msg != "" {
			fields = append(fields, FieldError{"start_time", msg})
		}
		p.StartTime = &t
	}
	if req.EndTime != nil {
		t, msg := parseInstant(*req.EndTime)
		if msg != "" {
			fields = append(fields, FieldError{"end_time", msg})
		}
		p.EndTime = &t
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	return p, nil
}

// window returns the target's new start and end under the patch.
func (p *Patch) window(target *Appointment) (time.Time, time.Time) {
	start, end := target.StartTime, target.EndTime
	if p.StartTime != nil {
		start = *p.StartTime
	}
	if p.EndTime != nil {
		end = *p.EndTime
	}
	return start, end
}

// apply writes the patch onto a, which may be the target itself or another
// member of its series. A time change on the target moves every member by
// the same start offset and gives it the target's new duration.
func (p *Patch) apply(a, target *Appointment) {
	if p.StartTime != nil || p.EndTime != nil {
		newStart, newEnd := p.window(target)
		shift := newStart.Sub(target.StartTime)
		a.StartTime = a.StartTime.Add(shift)
		a.EndTime = a.StartTime.Add(newEnd.Sub(newStart))
	}
	if p.Type != nil {
		a.Type = *p.Type
	}
	if p.Title != nil {
		a.Title = p.Title
	}
	if p.AllDay != nil {
		a.AllDay = *p.AllDay
	}
	if p.ClinicianID != nil {
		a.ClinicianID = *p.ClinicianID
	}
	if p.ClientGroupID != nil {
		a.ClientGroupID = p.ClientGroupID
	}
	if p.LocationID != nil {
		a.LocationID = p.LocationID
	}
	if p.ServiceID != nil {
		a.ServiceID = p.ServiceID
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.Fee != nil {
		a.Fee = p.Fee
	}
	if p.Notes != nil {
		a.Notes = p.Notes
	}
}

package calendar

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeAppointment = "APPOINTMENT"
	TypeEvent       = "EVENT"
	TypeOutOfOffice = "OUT_OF_OFFICE"
	TypeBlockedTime = "BLOCKED_TIME"
)

var validTypes = map[string]bool{
	TypeAppointment: true, TypeEvent: true, TypeOutOfOffice: true, TypeBlockedTime: true,
}

const (
	StatusScheduled          = "SCHEDULED"
	StatusShow               = "SHOW"
	StatusNoShow             = "NO_SHOW"
	StatusCancelled          = "CANCELLED"
	StatusClinicianCancelled = "CLINICIAN_CANCELLED"
)

var validStatuses = map[string]bool{
	StatusScheduled: true, StatusShow: true, StatusNoShow: true,
	StatusCancelled: true, StatusClinicianCancelled: true,
}

// Appointment maps to the appointment table.
type Appointment struct {
	ID                     uuid.UUID  `db:"id" json:"id"`
	Type                   string     `db:"type" json:"type"`
	Title                  *string    `db:"title" json:"title,omitempty"`
	StartTime              time.Time  `db:"start_time" json:"start_time"`
	EndTime                time.Time  `db:"end_time" json:"end_time"`
	AllDay                 bool       `db:"is_all_day" json:"is_all_day"`
	ClinicianID            uuid.UUID  `db:"clinician_id" json:"clinician_id"`
	ClientGroupID          *uuid.UUID `db:"client_group_id" json:"client_group_id,omitempty"`
	LocationID             *uuid.UUID `db:"location_id" json:"location_id,omitempty"`
	ServiceID              *uuid.UUID `db:"service_id" json:"service_id,omitempty"`
	Status                 string     `db:"status" json:"status"`
	IsRecurring            bool       `db:"is_recurring" json:"is_recurring"`
	RecurringAppointmentID *uuid.UUID `db:"recurring_appointment_id" json:"recurring_appointment_id,omitempty"`
	RecurringRule          *string    `db:"recurring_rule" json:"recurring_rule,omitempty"`
	CreatedBy              uuid.UUID  `db:"created_by" json:"created_by"`
	Fee                    *float64   `db:"fee" json:"fee,omitempty"`
	Notes                  *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at" json:"updated_at"`
}

// Role is the position of an appointment relative to a series.
type Role int

const (
	RoleStandalone Role = iota
	RoleMaster
	RoleChild
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "MASTER"
	case RoleChild:
		return "CHILD"
	default:
		return "STANDALONE"
	}
}

func (a *Appointment) Role() Role {
	switch {
	case !a.IsRecurring:
		return RoleStandalone
	case a.RecurringAppointmentID == nil:
		return RoleMaster
	default:
		return RoleChild
	}
}

// SeriesID returns the id of the series master, which is the appointment's
// own id unless it is a child.
func (a *Appointment) SeriesID() uuid.UUID {
	if a.RecurringAppointmentID != nil {
		return *a.RecurringAppointmentID
	}
	return a.ID
}

func (a *Appointment) Clone() *Appointment {
	c := *a
	return &c
}

func (a *Appointment) detach() {
	a.IsRecurring = false
	a.RecurringAppointmentID = nil
	a.RecurringRule = nil
}

func (a *Appointment) promote() {
	a.IsRecurring = true
	a.RecurringAppointmentID = nil
}

func (a *Appointment) attachTo(masterID uuid.UUID) {
	id := masterID
	a.IsRecurring = true
	a.RecurringAppointmentID = &id
}

// AnnotatedAppointment is the read shape of an appointment. The flag is
// computed per request and never stored.
type AnnotatedAppointment struct {
	Appointment
	IsFirstAppointmentForGroup bool `json:"isFirstAppointmentForGroup"`
}

// Tag maps to the tag table.
type Tag struct {
	ID    uuid.UUID `db:"id" json:"id"`
	Name  string    `db:"name" json:"name"`
	Color *string   `db:"color" json:"color,omitempty"`
}

const (
	TagAppointmentUnpaid = "Appointment Unpaid"
	TagNoNote            = "No Note"
)

// DefaultTagNames are attached to every new appointment.
var DefaultTagNames = []string{TagAppointmentUnpaid, TagNoNote}

// ListFilter narrows an appointment listing. Zero values are ignored.
type ListFilter struct {
	ClinicianID   *uuid.UUID
	ClientGroupID *uuid.UUID
	From          *time.Time
	To            *time.Time
	Status        string
}

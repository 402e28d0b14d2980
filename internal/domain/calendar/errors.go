package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("not found")

// FieldError names one missing or invalid input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Reason
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// FieldNames lists the offending fields in report order.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Field
	}
	return names
}

const (
	ResourceAppointment = "appointment"
	ResourceClientGroup = "client group"
)

type NotFoundError struct {
	Resource string
	ID       uuid.UUID
}

func (e *NotFoundError) Error() string {
	if e.Resource == ResourceClientGroup {
		return "invalid client group"
	}
	return e.Resource + " not found"
}

type LimitExceededError struct {
	ClinicianID   uuid.UUID
	ClientGroupID uuid.UUID
	Date          time.Time
	Limit         int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("daily appointment limit of %d reached for %s", e.Limit, e.Date.Format("2006-01-02"))
}

// StructuralIntegrityError refuses a write that would leave the master/child
// graph inconsistent.
type StructuralIntegrityError struct {
	AppointmentID uuid.UUID
	Reason        string
}

func (e *StructuralIntegrityError) Error() string {
	return fmt.Sprintf("series structure of appointment %s is inconsistent: %s", e.AppointmentID, e.Reason)
}

// StoreError hides a store failure behind a generic message. The cause is
// kept for logging through Unwrap.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "operation failed" }

func (e *StoreError) Unwrap() error { return e.Err }

// isDomainError reports whether err is one of the caller-facing errors that
// must pass through a transaction boundary unwrapped.
func isDomainError(err error) bool {
	var (
		ve *ValidationError
		nf *NotFoundError
		le *LimitExceededError
		se *StructuralIntegrityError
		st *StoreError
	)
	return errors.As(err, &ve) || errors.As(err, &nf) || errors.As(err, &le) ||
		errors.As(err, &se) || errors.As(err, &st)
}

package calendar

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type dayCounter interface {
	CountInRange(ctx context.Context, clinicianID, clientGroupID uuid.UUID, from, to time.Time) (int, error)
}

// LimitGuard caps the appointments one clinician may hold with one client
// group on a calendar day. Days are UTC dates. The count is read without a
// lock, so concurrent creates can each pass and overshoot the cap by the
// number of racing requests.
type LimitGuard struct {
	appts dayCounter
	limit int
}

// NewLimitGuard returns a guard; a limit of 0 disables it.
func NewLimitGuard(appts dayCounter, limit int) *LimitGuard {
	return &LimitGuard{appts: appts, limit: limit}
}

func (g *LimitGuard) Limit() int { return g.limit }

// Exceeded reports whether the day holding date has already reached the cap.
func (g *LimitGuard) Exceeded(ctx context.Context, clinicianID, clientGroupID uuid.UUID, date time.Time) (bool, error) {
	if g.limit <= 0 {
		return false, nil
	}
	from, to := dayBounds(date)
	n, err := g.appts.CountInRange(ctx, clinicianID, clientGroupID, from, to)
	if err != nil {
		return false, err
	}
	return n >= g.limit, nil
}

// Check returns a LimitExceededError when the cap is reached.
func (g *LimitGuard) Check(ctx context.Context, clinicianID, clientGroupID uuid.UUID, date time.Time) error {
	exceeded, err := g.Exceeded(ctx, clinicianID, clientGroupID, date)
	if err != nil {
		return err
	}
	if exceeded {
		day, _ := dayBounds(date)
		return &LimitExceededError{
			ClinicianID:   clinicianID,
			ClientGroupID: clientGroupID,
			Date:          day,
			Limit:         g.limit,
		}
	}
	return nil
}

func dayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.UTC().Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 0, 1)
}

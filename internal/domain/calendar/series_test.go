package calendar

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/practicehub/calendar/internal/platform/recurrence"
)

func TestSeriesLinker_Link(t *testing.T) {
	store := newMemStore()
	g := store.addGroup()
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	occ := []recurrence.Occurrence{
		{Start: start, End: start.Add(time.Hour)},
		{Start: start.AddDate(0, 0, 7), End: start.AddDate(0, 0, 7).Add(time.Hour)},
		{Start: start.AddDate(0, 0, 14), End: start.AddDate(0, 0, 14).Add(time.Hour)},
	}
	base := &Appointment{ID: uuid.New(), Type: TypeAppointment, ClinicianID: testClinician,
		ClientGroupID: &g, Status: StatusScheduled, CreatedBy: testCreator}

	out, err := NewSeriesLinker(store).Link(context.Background(), base, occ, "FREQ=WEEKLY;COUNT=3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 records, got %d", len(out))
	}
	if out[0].ID == base.ID {
		t.Error("expected fresh ids, not the base id")
	}
	assertMaster(t, store, out[0].ID)
	for i, a := range out {
		if !a.StartTime.Equal(occ[i].Start) || !a.EndTime.Equal(occ[i].End) {
			t.Errorf("record %d has window %s-%s", i, a.StartTime, a.EndTime)
		}
		if *a.RecurringRule != "FREQ=WEEKLY;COUNT=3" {
			t.Errorf("record %d rule %q", i, *a.RecurringRule)
		}
		if i > 0 {
			assertChildOf(t, store, a.ID, out[0].ID)
		}
	}
}

func TestSeriesLinker_Errors(t *testing.T) {
	store := newMemStore()
	linker := NewSeriesLinker(store)
	if _, err := linker.Link(context.Background(), &Appointment{}, nil, ""); err == nil {
		t.Error("expected error for an empty series")
	}

	store.failCreateAt = 2
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	occ := []recurrence.Occurrence{
		{Start: start, End: start.Add(time.Hour)},
		{Start: start.Add(24 * time.Hour), End: start.Add(25 * time.Hour)},
	}
	_, err := linker.Link(context.Background(), &Appointment{ClinicianID: testClinician}, occ, "FREQ=DAILY")
	if err == nil || !strings.Contains(err.Error(), "occurrence 2 of 2") {
		t.Errorf("expected the failing occurrence named, got %v", err)
	}
}

//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/practicehub/calendar/internal/domain/billing"
	"github.com/practicehub/calendar/internal/domain/calendar"
)

var (
	clinicianID = uuid.MustParse("5b6e1d3c-2a4f-4e8b-9c7d-0f1e2d3c4b5a")
	creatorID   = uuid.MustParse("6c7f2e4d-3b5a-4f9c-8d0e-1a2b3c4d5e6f")
)

func weeklyRequest(group uuid.UUID, count int) *calendar.CreateRequest {
	return &calendar.CreateRequest{
		Type:          calendar.TypeAppointment,
		Title:         ptrStr("Family session"),
		StartTime:     "2024-01-15T10:00:00Z",
		EndTime:       "2024-01-15T11:00:00Z",
		ClinicianID:   clinicianID,
		ClientGroupID: ptrUUID(group),
		CreatedBy:     creatorID,
		Recurrence:    &calendar.RecurrenceRequest{Rule: "Weekly", Count: count},
	}
}

func createSeries(t *testing.T, ctx context.Context, tenantID string, svc *calendar.Service, group uuid.UUID, count int) []*calendar.Appointment {
	t.Helper()
	var appts []*calendar.Appointment
	err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
		res, err := svc.Create(ctx, weeklyRequest(group, count))
		if err != nil {
			return err
		}
		appts = res.Appointments
		return nil
	})
	if err != nil {
		t.Fatalf("create series: %v", err)
	}
	return appts
}

func TestCalendarSeriesLifecycle(t *testing.T) {
	ctx := context.Background()
	tenantID := createTenantSchema(t, ctx, "cal")
	group := createTestClientGroup(t, ctx, tenantID, "Rivera family")
	svc := newCalendarService(10)

	appts := createSeries(t, ctx, tenantID, svc, group, 4)
	master := appts[0]

	t.Run("Create_WritesSeries", func(t *testing.T) {
		if n := countRows(t, ctx, tenantID, `SELECT count(*) FROM appointment WHERE recurring_appointment_id = $1`, master.ID); n != 3 {
			t.Errorf("expected 3 children, got %d", n)
		}
		if n := countRows(t, ctx, tenantID, `SELECT count(*) FROM appointment_tag`); n != 8 {
			t.Errorf("expected 2 default tags per appointment, got %d", n)
		}
		if master.RecurringRule == nil || *master.RecurringRule == "" {
			t.Error("expected the master to carry its rule")
		}
	})

	t.Run("Series_OrderedByStart", func(t *testing.T) {
		var series []*calendar.Appointment
		err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
			var err error
			series, err = svc.Series(ctx, appts[2].ID)
			return err
		})
		if err != nil {
			t.Fatalf("Series: %v", err)
		}
		if len(series) != 4 || series[0].ID != master.ID {
			t.Fatalf("expected 4 appointments led by the master, got %d", len(series))
		}
		for i := 1; i < len(series); i++ {
			if !series[i].StartTime.After(series[i-1].StartTime) {
				t.Errorf("series not ordered at %d", i)
			}
		}
	})

	t.Run("Get_FirstAppointmentFlag", func(t *testing.T) {
		err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
			first, err := svc.Get(ctx, master.ID)
			if err != nil {
				return err
			}
			later, err := svc.Get(ctx, appts[1].ID)
			if err != nil {
				return err
			}
			if !first.IsFirstAppointmentForGroup || later.IsFirstAppointmentForGroup {
				t.Errorf("unexpected first flags: master=%v second=%v", first.IsFirstAppointmentForGroup, later.IsFirstAppointmentForGroup)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
	})

	t.Run("Update_ThisDetaches", func(t *testing.T) {
		err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
			_, err := svc.Update(ctx, appts[1].ID, &calendar.UpdateRequest{Notes: ptrStr("moved")}, calendar.UpdateThis)
			return err
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if n := countRows(t, ctx, tenantID, `SELECT count(*) FROM appointment WHERE id = $1 AND recurring_appointment_id IS NULL AND is_recurring = FALSE`, appts[1].ID); n != 1 {
			t.Error("expected the updated occurrence to become standalone")
		}
	})

	t.Run("Delete_FutureKeepsEarlierOccurrences", func(t *testing.T) {
		err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
			_, err := svc.Delete(ctx, appts[2].ID, calendar.DeleteFuture)
			return err
		})
		if err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if n := countRows(t, ctx, tenantID, `SELECT count(*) FROM appointment WHERE id = ANY($1)`, []uuid.UUID{appts[2].ID, appts[3].ID}); n != 0 {
			t.Errorf("expected the suffix to be gone, %d left", n)
		}
		if n := countRows(t, ctx, tenantID, `SELECT count(*) FROM appointment WHERE id = $1`, master.ID); n != 1 {
			t.Error("expected the master to remain")
		}
		if n := countRows(t, ctx, tenantID, `SELECT count(*) FROM appointment_tag WHERE appointment_id = ANY($1)`, []uuid.UUID{appts[2].ID, appts[3].ID}); n != 0 {
			t.Errorf("expected tag links of deleted appointments to be gone, %d left", n)
		}
	})

	t.Run("Get_NotFoundAfterDelete", func(t *testing.T) {
		err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
			_, err := svc.Get(ctx, appts[3].ID)
			return err
		})
		var nf *calendar.NotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("expected NotFoundError, got %v", err)
		}
	})
}

func TestCalendarUpdateThisAndFuture(t *testing.T) {
	ctx := context.Background()
	tenantID := createTenantSchema(t, ctx, "calfut")
	group := createTestClientGroup(t, ctx, tenantID, "Okafor family")
	svc := newCalendarService(10)

	appts := createSeries(t, ctx, tenantID, svc, group, 4)

	var res *calendar.UpdateResult
	err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
		var err error
		res, err = svc.Update(ctx, appts[2].ID, &calendar.UpdateRequest{Title: ptrStr("Couples session")}, calendar.UpdateThisAndFuture)
		return err
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(res.Appointments) != 2 {
		t.Fatalf("expected 2 updated appointments, got %d", len(res.Appointments))
	}

	// The target heads a new series holding the suffix.
	if n := countRows(t, ctx, tenantID, `SELECT count(*) FROM appointment WHERE id = $1 AND recurring_appointment_id IS NULL AND is_recurring = TRUE`, appts[2].ID); n != 1 {
		t.Error("expected the target to become a master")
	}
	if n := countRows(t, ctx, tenantID, `SELECT count(*) FROM appointment WHERE id = $1 AND recurring_appointment_id = $2`, appts[3].ID, appts[2].ID); n != 1 {
		t.Error("expected the later occurrence to follow the new master")
	}
	if n := countRows(t, ctx, tenantID, `SELECT count(*) FROM appointment WHERE recurring_appointment_id = $1`, appts[0].ID); n != 1 {
		t.Errorf("expected the original master to keep one child, got %d", n)
	}
	if n := countRows(t, ctx, tenantID, `SELECT count(*) FROM appointment WHERE title = 'Couples session'`); n != 2 {
		t.Errorf("expected 2 retitled appointments, got %d", n)
	}
}

func TestCalendarDailyLimit(t *testing.T) {
	ctx := context.Background()
	tenantID := createTenantSchema(t, ctx, "callim")
	group := createTestClientGroup(t, ctx, tenantID, "Nguyen family")
	svc := newCalendarService(1)

	createSeries(t, ctx, tenantID, svc, group, 2)

	err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
		req := weeklyRequest(group, 0)
		req.Recurrence = nil
		req.StartTime = "2024-01-15T14:00:00Z"
		req.EndTime = "2024-01-15T15:00:00Z"
		_, err := svc.Create(ctx, req)
		return err
	})
	var limitErr *calendar.LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected LimitExceededError, got %v", err)
	}
	if n := countRows(t, ctx, tenantID, `SELECT count(*) FROM appointment`); n != 2 {
		t.Errorf("expected nothing written on rejection, got %d rows", n)
	}
}

func TestCalendarDeleteKeepsInvoices(t *testing.T) {
	ctx := context.Background()
	tenantID := createTenantSchema(t, ctx, "calinv")
	group := createTestClientGroup(t, ctx, tenantID, "Haddad family")
	svc := newCalendarService(10)
	bill := newBillingService()

	appts := createSeries(t, ctx, tenantID, svc, group, 3)

	var invoiceID uuid.UUID
	err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
		inv := &billing.Invoice{
			InvoiceNumber: "INV-" + uuid.New().String()[:8],
			AppointmentID: ptrUUID(appts[1].ID),
			ClientGroupID: ptrUUID(group),
			Amount:        150,
		}
		if err := bill.CreateInvoice(ctx, inv); err != nil {
			return err
		}
		invoiceID = inv.ID
		if _, err := bill.RecordPayment(ctx, &billing.Payment{InvoiceID: inv.ID, Amount: 150}); err != nil {
			return err
		}
		_, err := svc.Delete(ctx, appts[0].ID, calendar.DeleteAll)
		return err
	})
	if err != nil {
		t.Fatalf("setup and delete: %v", err)
	}

	if n := countRows(t, ctx, tenantID, `SELECT count(*) FROM appointment`); n != 0 {
		t.Errorf("expected the series to be gone, %d left", n)
	}
	if n := countRows(t, ctx, tenantID, `SELECT count(*) FROM invoice WHERE id = $1 AND status = 'PAID'`, invoiceID); n != 1 {
		t.Error("expected the paid invoice to survive the delete")
	}
	if n := countRows(t, ctx, tenantID, `SELECT count(*) FROM payment WHERE invoice_id = $1`, invoiceID); n != 1 {
		t.Error("expected the payment to survive the delete")
	}
}

func TestCalendarDeleteSingleMasterPromotes(t *testing.T) {
	ctx := context.Background()
	tenantID := createTenantSchema(t, ctx, "calpro")
	group := createTestClientGroup(t, ctx, tenantID, "Kowalski family")
	svc := newCalendarService(10)

	appts := createSeries(t, ctx, tenantID, svc, group, 3)

	err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
		_, err := svc.Delete(ctx, appts[0].ID, calendar.DeleteSingle)
		return err
	})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n := countRows(t, ctx, tenantID, `SELECT count(*) FROM appointment WHERE id = $1 AND recurring_appointment_id IS NULL AND recurring_rule IS NOT NULL`, appts[1].ID); n != 1 {
		t.Error("expected the earliest child to be promoted to master")
	}
	if n := countRows(t, ctx, tenantID, `SELECT count(*) FROM appointment WHERE recurring_appointment_id = $1`, appts[1].ID); n != 1 {
		t.Error("expected the remaining child to follow the promoted master")
	}
}

func TestCalendarTenantIsolation(t *testing.T) {
	ctx := context.Background()
	tenantA := createTenantSchema(t, ctx, "isoa")
	tenantB := createTenantSchema(t, ctx, "isob")
	groupA := createTestClientGroup(t, ctx, tenantA, "Tenant A family")
	svc := newCalendarService(10)

	appts := createSeries(t, ctx, tenantA, svc, groupA, 2)

	err := withTenantConn(ctx, tenantB, func(ctx context.Context) error {
		_, err := svc.Get(ctx, appts[0].ID)
		return err
	})
	var nf *calendar.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected tenant B not to see tenant A's appointment, got %v", err)
	}

	err = withTenantConn(ctx, tenantB, func(ctx context.Context) error {
		_, err := svc.Create(ctx, weeklyRequest(groupA, 2))
		return err
	})
	if !errors.As(err, &nf) {
		t.Errorf("expected unknown client group in tenant B, got %v", err)
	}
}

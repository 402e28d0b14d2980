package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory stand-in for Postgres. It implements every
// repository the engine uses plus TxRunner. A transaction snapshots the maps
// and restores them when the callback fails. Foreign keys between
// appointments, tags and the series back-reference are enforced the way the
// schema enforces them.
type memStore struct {
	mu       sync.Mutex
	appts    map[uuid.UUID]*Appointment
	tags     map[uuid.UUID][]string
	groups   map[uuid.UUID]bool
	invoices map[uuid.UUID]uuid.UUID // invoice id -> appointment id
	payments map[uuid.UUID]uuid.UUID // payment id -> invoice id
	seq      int

	// fault injection
	failCreateAt int // fail the Nth call (1-based); 0 disables
	failUpdateAt int
	failDeleteAt int
	creates      int
	updates      int
	deletes      int
	failTags     error
	commits      int
	rollbacks    int
}

func newMemStore() *memStore {
	return &memStore{
		appts:    make(map[uuid.UUID]*Appointment),
		tags:     make(map[uuid.UUID][]string),
		groups:   make(map[uuid.UUID]bool),
		invoices: make(map[uuid.UUID]uuid.UUID),
		payments: make(map[uuid.UUID]uuid.UUID),
	}
}

var errInjected = errors.New("injected store fault")

type memTxKey struct{}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	snapAppts := make(map[uuid.UUID]*Appointment, len(m.appts))
	for k, v := range m.appts {
		snapAppts[k] = v.Clone()
	}
	snapTags := make(map[uuid.UUID][]string, len(m.tags))
	for k, v := range m.tags {
		snapTags[k] = append([]string(nil), v...)
	}
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.mu.Lock()
		m.appts, m.tags = snapAppts, snapTags
		m.rollbacks++
		m.mu.Unlock()
		return err
	}
	m.mu.Lock()
	m.commits++
	m.mu.Unlock()
	return nil
}

// -- AppointmentRepository --

func (m *memStore) checkRefs(a *Appointment) error {
	if a.RecurringAppointmentID != nil {
		if _, ok := m.appts[*a.RecurringAppointmentID]; !ok {
			return fmt.Errorf("insert or update on appointment violates foreign key: %s", *a.RecurringAppointmentID)
		}
	}
	if !a.EndTime.After(a.StartTime) {
		return errors.New("appointment_time_order check violated")
	}
	if !a.IsRecurring && (a.RecurringAppointmentID != nil || a.RecurringRule != nil) {
		return errors.New("appointment_series_shape check violated")
	}
	return nil
}

func (m *memStore) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.failCreateAt > 0 && m.creates == m.failCreateAt {
		return errInjected
	}
	if err := m.checkRefs(a); err != nil {
		return err
	}
	a.ID = uuid.New()
	m.seq++
	a.CreatedAt = time.Date(2024, 1, 1, 0, 0, m.seq, 0, time.UTC)
	a.UpdatedAt = a.CreatedAt
	m.appts[a.ID] = a.Clone()
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *memStore) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.failUpdateAt > 0 && m.updates == m.failUpdateAt {
		return errInjected
	}
	if _, ok := m.appts[a.ID]; !ok {
		return ErrNotFound
	}
	if err := m.checkRefs(a); err != nil {
		return err
	}
	m.appts[a.ID] = a.Clone()
	return nil
}

func (m *memStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.failDeleteAt > 0 && m.deletes == m.failDeleteAt {
		return errInjected
	}
	if _, ok := m.appts[id]; !ok {
		return ErrNotFound
	}
	for _, other := range m.appts {
		if other.RecurringAppointmentID != nil && *other.RecurringAppointmentID == id {
			return fmt.Errorf("delete on appointment violates foreign key from %s", other.ID)
		}
	}
	if len(m.tags[id]) > 0 {
		return fmt.Errorf("delete on appointment violates foreign key from appointment_tag")
	}
	delete(m.appts, id)
	return nil
}

func (m *memStore) sorted(keep func(*Appointment) bool) []*Appointment {
	var out []*Appointment
	for _, a := range m.appts {
		if keep(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *memStore) ListSeries(_ context.Context, masterID uuid.UUID) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(a *Appointment) bool {
		return a.ID == masterID || (a.RecurringAppointmentID != nil && *a.RecurringAppointmentID == masterID)
	}), nil
}

func (m *memStore) Search(_ context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(func(a *Appointment) bool {
		switch {
		case f.ClinicianID != nil && a.ClinicianID != *f.ClinicianID:
			return false
		case f.ClientGroupID != nil && (a.ClientGroupID == nil || *a.ClientGroupID != *f.ClientGroupID):
			return false
		case f.From != nil && a.StartTime.Before(*f.From):
			return false
		case f.To != nil && !a.StartTime.Before(*f.To):
			return false
		case f.Status != "" && a.Status != f.Status:
			return false
		}
		return true
	})
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memStore) CountInRange(_ context.Context, clinicianID, clientGroupID uuid.UUID, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appts {
		if a.ClinicianID == clinicianID && a.ClientGroupID != nil && *a.ClientGroupID == clientGroupID &&
			!a.StartTime.Before(from) && a.StartTime.Before(to) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ExistsEarlier(_ context.Context, clientGroupID uuid.UUID, before time.Time, excludeID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if a.ID == excludeID || a.ClientGroupID == nil || *a.ClientGroupID != clientGroupID {
			continue
		}
		if a.StartTime.Before(before) || (a.StartTime.Equal(before) && bytes.Compare(a.ID[:], excludeID[:]) < 0) {
			return true, nil
		}
	}
	return false, nil
}

// -- TagRepository --

func (m *memStore) AttachDefaults(_ context.Context, appointmentID uuid.UUID, _ *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTags != nil {
		return m.failTags
	}
	if _, ok := m.appts[appointmentID]; !ok {
		return fmt.Errorf("appointment_tag violates foreign key: %s", appointmentID)
	}
	m.tags[appointmentID] = append([]string(nil), DefaultTagNames...)
	return nil
}

func (m *memStore) ListForAppointment(_ context.Context, appointmentID uuid.UUID) ([]Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Tag
	for _, name := range m.tags[appointmentID] {
		out = append(out, Tag{ID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)), Name: name})
	}
	return out, nil
}

func (m *memStore) DeleteForAppointments(_ context.Context, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.tags, id)
	}
	return nil
}

// -- ClientGroupRepository --

func (m *memStore) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups[id], nil
}

// -- InvoiceReader --

func (m *memStore) IDsForAppointments(_ context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []uuid.UUID
	for inv, appt := range m.invoices {
		if want[appt] {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// -- helpers --

func (m *memStore) addGroup() uuid.UUID {
	id := uuid.New()
	m.groups[id] = true
	return id
}

func (m *memStore) addInvoice(appointmentID uuid.UUID) (invoiceID, paymentID uuid.UUID) {
	invoiceID, paymentID = uuid.New(), uuid.New()
	m.invoices[invoiceID] = appointmentID
	m.payments[paymentID] = invoiceID
	return invoiceID, paymentID
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.appts)
}

func (m *memStore) get(id uuid.UUID) *Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.appts[id]; ok {
		return a.Clone()
	}
	return nil
}

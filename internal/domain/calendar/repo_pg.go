package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/practicehub/calendar/internal/platform/db"
)

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Querier(ctx, r.pool)
}

const apptCols = `id, type, title, start_time, end_time, is_all_day, clinician_id,
	client_group_id, location_id, service_id, status, is_recurring,
	recurring_appointment_id, recurring_rule, created_by, fee, notes, created_at, updated_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.Type, &a.Title, &a.StartTime, &a.EndTime, &a.AllDay, &a.ClinicianID,
		&a.ClientGroupID, &a.LocationID, &a.ServiceID, &a.Status, &a.IsRecurring,
		&a.RecurringAppointmentID, &a.RecurringRule, &a.CreatedBy, &a.Fee, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *appointmentRepoPG) scanAll(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, type, title, start_time, end_time, is_all_day, clinician_id,
			client_group_id, location_id, service_id, status, is_recurring,
			recurring_appointment_id, recurring_rule, created_by, fee, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING created_at, updated_at`,
		a.ID, a.Type, a.Title, a.StartTime, a.EndTime, a.AllDay, a.ClinicianID,
		a.ClientGroupID, a.LocationID, a.ServiceID, a.Status, a.IsRecurring,
		a.RecurringAppointmentID, a.RecurringRule, a.CreatedBy, a.Fee, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET type=$2, title=$3, start_time=$4, end_time=$5, is_all_day=$6,
			clinician_id=$7, client_group_id=$8, location_id=$9, service_id=$10, status=$11,
			is_recurring=$12, recurring_appointment_id=$13, recurring_rule=$14, fee=$15, notes=$16,
			updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Type, a.Title, a.StartTime, a.EndTime, a.AllDay,
		a.ClinicianID, a.ClientGroupID, a.LocationID, a.ServiceID, a.Status,
		a.IsRecurring, a.RecurringAppointmentID, a.RecurringRule, a.Fee, a.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointment WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) ListSeries(ctx context.Context, masterID uuid.UUID) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE id = $1 OR recurring_appointment_id = $1
		ORDER BY start_time, created_at, id`, masterID)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

func (r *appointmentRepoPG) Search(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	query := `SELECT ` + apptCols + ` FROM appointment WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM appointment WHERE 1=1`
	var args []interface{}
	idx := 1

	add := func(clause string, v interface{}) {
		query += fmt.Sprintf(clause, idx)
		countQuery += fmt.Sprintf(clause, idx)
		args = append(args, v)
		idx++
	}
	if f.ClinicianID != nil {
		add(` AND clinician_id = $%d`, *f.ClinicianID)
	}
	if f.ClientGroupID != nil {
		add(` AND client_group_id = $%d`, *f.ClientGroupID)
	}
	if f.From != nil {
		add(` AND start_time >= $%d`, *f.From)
	}
	if f.To != nil {
		add(` AND start_time < $%d`, *f.To)
	}
	if f.Status != "" {
		add(` AND status = $%d`, f.Status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY start_time, id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.scanAll(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *appointmentRepoPG) CountInRange(ctx context.Context, clinicianID, clientGroupID uuid.UUID, from, to time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointment
		WHERE clinician_id = $1 AND client_group_id = $2 AND start_time >= $3 AND start_time < $4`,
		clinicianID, clientGroupID, from, to).Scan(&n)
	return n, err
}

func (r *appointmentRepoPG) ExistsEarlier(ctx context.Context, clientGroupID uuid.UUID, before time.Time, excludeID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointment
			WHERE client_group_id = $1
			  AND (start_time < $2 OR (start_time = $2 AND id < $3))
		)`, clientGroupID, before, excludeID).Scan(&exists)
	return exists, err
}

// =========== Tag Repository ===========

type tagRepoPG struct{ pool *pgxpool.Pool }

func NewTagRepoPG(pool *pgxpool.Pool) TagRepository { return &tagRepoPG{pool: pool} }

func (r *tagRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Querier(ctx, r.pool)
}

// AttachDefaults links the practice-wide default tags. Tags are not scoped to
// a client group, so the group is accepted but not used for selection.
func (r *tagRepoPG) AttachDefaults(ctx context.Context, appointmentID uuid.UUID, _ *uuid.UUID) error {
	for _, name := range DefaultTagNames {
		tag, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO appointment_tag (id, appointment_id, tag_id)
			SELECT $1, $2, id FROM tag WHERE name = $3
			ON CONFLICT (appointment_id, tag_id) DO NOTHING`,
			uuid.New(), appointmentID, name)
		if err != nil {
			return fmt.Errorf("attach tag %q: %w", name, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("attach tag %q: tag is not seeded", name)
		}
	}
	return nil
}

func (r *tagRepoPG) ListForAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Tag, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT t.id, t.name, t.color FROM tag t
		JOIN appointment_tag at ON at.tag_id = t.id
		WHERE at.appointment_id = $1
		ORDER BY t.name`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Color); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (r *tagRepoPG) DeleteForAppointments(ctx context.Context, appointmentIDs []uuid.UUID) error {
	if len(appointmentIDs) == 0 {
		return nil
	}
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointment_tag WHERE appointment_id = ANY($1)`, appointmentIDs)
	return err
}

// =========== Client Group Repository ===========

type clientGroupRepoPG struct{ pool *pgxpool.Pool }

func NewClientGroupRepoPG(pool *pgxpool.Pool) ClientGroupRepository {
	return &clientGroupRepoPG{pool: pool}
}

func (r *clientGroupRepoPG) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := db.Querier(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM client_group WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

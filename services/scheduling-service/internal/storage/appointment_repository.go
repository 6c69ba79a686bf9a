// Package storage implements the booking store interfaces on Postgres via
// pgx. Driver-level failures are mapped onto the booking sentinels at this
// boundary so nothing above it sees SQLSTATE codes.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tareq-aziz/lifeline/libs/db"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/booking"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/model"
)

const apptColumns = `id, donor_id, bank_id, scheduled_at, kind, duration_minutes, status, COALESCE(notes, ''), COALESCE(cancel_reason, ''), created_at`

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

// Insert writes the row and lets the partial unique index on
// (bank_id, scheduled_at) over active statuses arbitrate slot conflicts. The
// index is the authoritative check; callers may pre-check but must not rely on
// it.
func (r *AppointmentRepository) Insert(ctx context.Context, appt *model.Appointment) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO appointments
			(donor_id, bank_id, scheduled_at, kind, duration_minutes, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, appt.DonorID, appt.BankID, appt.ScheduledAt, appt.Kind, appt.DurationMinutes, appt.Status, appt.Notes).
		Scan(&appt.ID, &appt.CreatedAt)
	if isUniqueViolation(err) {
		return booking.ErrSlotConflict
	}
	return err
}

func (r *AppointmentRepository) Get(ctx context.Context, id int64) (model.Appointment, error) {
	var appt model.Appointment
	err := r.pool.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE id = $1
	`, id).Scan(
		&appt.ID,
		&appt.DonorID,
		&appt.BankID,
		&appt.ScheduledAt,
		&appt.Kind,
		&appt.DurationMinutes,
		&appt.Status,
		&appt.Notes,
		&appt.CancelReason,
		&appt.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, booking.ErrNotFound
	}
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) FindConflicting(ctx context.Context, bankID int64, at time.Time, excludeID int64) (bool, error) {
	var taken bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE bank_id = $1
				AND scheduled_at = $2
				AND status IN ('scheduled', 'confirmed')
				AND id <> $3
		)
	`, bankID, at, excludeID).Scan(&taken)
	return taken, err
}

func (r *AppointmentRepository) Reschedule(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET scheduled_at = $2
		WHERE id = $1
	`, id, at)
	if isUniqueViolation(err) {
		return booking.ErrSlotConflict
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

// TransitionStatus guards the update with the expected current status so a
// concurrent transition loses cleanly instead of silently overwriting.
func (r *AppointmentRepository) TransitionStatus(ctx context.Context, id int64, from, to model.Status, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = $3,
			cancel_reason = CASE WHEN $3 = 'cancelled' THEN $4 ELSE cancel_reason END
		WHERE id = $1 AND status = $2
	`, id, from, to, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return booking.ErrNotFound
		}
		return booking.ErrStaleStatus
	}
	return nil
}

func (r *AppointmentRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func (r *AppointmentRepository) List(ctx context.Context, f booking.Filter) ([]model.Appointment, error) {
	where := []string{"1=1"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.DonorID != 0 {
		where = append(where, "donor_id = "+arg(f.DonorID))
	}
	if f.BankID != 0 {
		where = append(where, "bank_id = "+arg(f.BankID))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(f.Status))
	}
	if !f.Day.IsZero() {
		dayStart := f.Day.Truncate(24 * time.Hour)
		where = append(where, "scheduled_at >= "+arg(dayStart))
		where = append(where, "scheduled_at < "+arg(dayStart.Add(24*time.Hour)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY scheduled_at ASC
		LIMIT `+arg(limit), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		var appt model.Appointment
		if err := rows.Scan(
			&appt.ID,
			&appt.DonorID,
			&appt.BankID,
			&appt.ScheduledAt,
			&appt.Kind,
			&appt.DurationMinutes,
			&appt.Status,
			&appt.Notes,
			&appt.CancelReason,
			&appt.CreatedAt,
		); err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (r *AppointmentRepository) ActiveStartTimes(ctx context.Context, bankID int64, from, to time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT scheduled_at
		FROM appointments
		WHERE bank_id = $1
			AND status IN ('scheduled', 'confirmed')
			AND scheduled_at >= $2
			AND scheduled_at < $3
		ORDER BY scheduled_at ASC
	`, bankID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return times, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

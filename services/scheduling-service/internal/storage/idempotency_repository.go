package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/tareq-aziz/lifeline/libs/db"
)

// IdempotencyRecord is a stored response for a replayed create request. Keys
// are scoped per caller so two users can reuse the same key safely.
type IdempotencyRecord struct {
	Subject        string
	IdempotencyKey string
	AppointmentID  int64
	StatusCode     int
	ResponseBody   []byte
}

type IdempotencyRepository struct {
	pool *db.Pool
}

func NewIdempotencyRepository(pool *db.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool}
}

// Reserve claims the key for this caller. It returns the existing record and
// true when the key was seen before; a record with StatusCode 0 means the
// first request is still in flight.
func (r *IdempotencyRepository) Reserve(ctx context.Context, subject, key string) (IdempotencyRecord, bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO scheduling_idempotency_keys (subject, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (subject, idempotency_key) DO NOTHING
	`, subject, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	if tag.RowsAffected() == 1 {
		return IdempotencyRecord{Subject: subject, IdempotencyKey: key}, false, nil
	}

	var rec IdempotencyRecord
	var body string
	err = r.pool.QueryRow(ctx, `
		SELECT subject, idempotency_key, COALESCE(appointment_id, 0), COALESCE(status_code, 0), COALESCE(response_body::text, '')
		FROM scheduling_idempotency_keys
		WHERE subject = $1 AND idempotency_key = $2
	`, subject, key).Scan(&rec.Subject, &rec.IdempotencyKey, &rec.AppointmentID, &rec.StatusCode, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		// Reserved and deleted between our insert and select; treat as fresh.
		return IdempotencyRecord{Subject: subject, IdempotencyKey: key}, false, nil
	}
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	if body != "" {
		rec.ResponseBody = []byte(body)
	}
	return rec, true, nil
}

func (r *IdempotencyRepository) Finalize(ctx context.Context, subject, key string, appointmentID int64, statusCode int, body []byte) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE scheduling_idempotency_keys
		SET appointment_id = NULLIF($3, 0),
			status_code = $4,
			response_body = $5,
			updated_at = now()
		WHERE subject = $1 AND idempotency_key = $2
	`, subject, key, appointmentID, statusCode, body)
	return err
}

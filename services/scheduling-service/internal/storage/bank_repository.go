package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/tareq-aziz/lifeline/libs/db"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/booking"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/model"
)

type BankRepository struct {
	pool *db.Pool
}

func NewBankRepository(pool *db.Pool) *BankRepository {
	return &BankRepository{pool: pool}
}

func (r *BankRepository) Get(ctx context.Context, bankID int64) (model.BloodBank, error) {
	var b model.BloodBank
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(city, ''), COALESCE(phone, '')
		FROM blood_banks
		WHERE id = $1
	`, bankID).Scan(&b.ID, &b.Name, &b.City, &b.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.BloodBank{}, booking.ErrNotFound
	}
	if err != nil {
		return model.BloodBank{}, err
	}
	return b, nil
}

// Upsert mirrors a blood bank record from the registry feed.
func (r *BankRepository) Upsert(ctx context.Context, b model.BloodBank) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO blood_banks (id, name, city, phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			city = EXCLUDED.city,
			phone = EXCLUDED.phone
	`, b.ID, b.Name, b.City, b.Phone)
	return err
}

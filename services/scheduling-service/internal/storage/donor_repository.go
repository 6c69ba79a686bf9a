package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tareq-aziz/lifeline/libs/db"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/booking"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/model"
)

type DonorRepository struct {
	pool *db.Pool
}

func NewDonorRepository(pool *db.Pool) *DonorRepository {
	return &DonorRepository{pool: pool}
}

func (r *DonorRepository) Get(ctx context.Context, donorID int64) (model.Donor, error) {
	var d model.Donor
	var lastDonation *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, full_name, COALESCE(blood_group, ''), birth_date, is_eligible, last_donation_at, no_show_count
		FROM donors
		WHERE id = $1
	`, donorID).Scan(
		&d.ID,
		&d.UserID,
		&d.FullName,
		&d.BloodGroup,
		&d.BirthDate,
		&d.IsEligible,
		&lastDonation,
		&d.NoShowCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Donor{}, booking.ErrNotFound
	}
	if err != nil {
		return model.Donor{}, err
	}
	d.LastDonationAt = lastDonation
	return d, nil
}

func (r *DonorRepository) SetEligibility(ctx context.Context, donorID int64, eligible bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE donors SET is_eligible = $2 WHERE id = $1
	`, donorID, eligible)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func (r *DonorRepository) IncrementNoShow(ctx context.Context, donorID int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE donors SET no_show_count = no_show_count + 1 WHERE id = $1
	`, donorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

// Upsert mirrors a donor record from the registry feed. The local eligibility
// flag and no-show counter are owned here once the row exists, so the feed
// only seeds them on first insert.
func (r *DonorRepository) Upsert(ctx context.Context, d model.Donor) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO donors (id, user_id, full_name, blood_group, birth_date, is_eligible, last_donation_at, no_show_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			full_name = EXCLUDED.full_name,
			blood_group = EXCLUDED.blood_group,
			birth_date = EXCLUDED.birth_date,
			last_donation_at = EXCLUDED.last_donation_at
	`, d.ID, d.UserID, d.FullName, d.BloodGroup, d.BirthDate, d.IsEligible, d.LastDonationAt, d.NoShowCount)
	return err
}

package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/model"
)

// Topics published by the registry service.
const (
	TopicDonorUpdated = "registry.donor.updated.v1"
	TopicBankUpdated  = "registry.bank.updated.v1"
)

type DonorUpserter interface {
	Upsert(ctx context.Context, d model.Donor) error
}

type BankUpserter interface {
	Upsert(ctx context.Context, b model.BloodBank) error
}

type donorEvent struct {
	DonorID        int64      `json:"donor_id"`
	UserID         int64      `json:"user_id"`
	FullName       string     `json:"full_name"`
	BloodGroup     string     `json:"blood_group"`
	BirthDate      string     `json:"birth_date"` // YYYY-MM-DD
	IsEligible     bool       `json:"is_eligible"`
	LastDonationAt *time.Time `json:"last_donation_at"`
}

// DonorFeedHandler mirrors registry donor updates into the local donors table.
func DonorFeedHandler(donors DonorUpserter) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt donorEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return fmt.Errorf("decode donor event: %w", err)
		}
		birth, err := time.Parse("2006-01-02", evt.BirthDate)
		if err != nil {
			return fmt.Errorf("decode donor birth date %q: %w", evt.BirthDate, err)
		}
		return donors.Upsert(ctx, model.Donor{
			ID:             evt.DonorID,
			UserID:         evt.UserID,
			FullName:       evt.FullName,
			BloodGroup:     evt.BloodGroup,
			BirthDate:      birth,
			IsEligible:     evt.IsEligible,
			LastDonationAt: evt.LastDonationAt,
		})
	}
}

type bankEvent struct {
	BankID int64  `json:"bank_id"`
	Name   string `json:"name"`
	City   string `json:"city"`
	Phone  string `json:"phone"`
}

func BankFeedHandler(banks BankUpserter) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt bankEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return fmt.Errorf("decode bank event: %w", err)
		}
		return banks.Upsert(ctx, model.BloodBank{
			ID:    evt.BankID,
			Name:  evt.Name,
			City:  evt.City,
			Phone: evt.Phone,
		})
	}
}

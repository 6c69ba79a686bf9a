package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/model"
)

type recordingDonorStore struct {
	got []model.Donor
}

func (s *recordingDonorStore) Upsert(_ context.Context, d model.Donor) error {
	s.got = append(s.got, d)
	return nil
}

type recordingBankStore struct {
	got []model.BloodBank
}

func (s *recordingBankStore) Upsert(_ context.Context, b model.BloodBank) error {
	s.got = append(s.got, b)
	return nil
}

func TestDonorFeedHandler(t *testing.T) {
	store := &recordingDonorStore{}
	handler := DonorFeedHandler(store)

	msg := kafka.Message{
		Topic: TopicDonorUpdated,
		Value: []byte(`{
			"donor_id": 12,
			"user_id": 120,
			"full_name": "Asha Rahman",
			"blood_group": "O+",
			"birth_date": "1990-06-01",
			"is_eligible": true,
			"last_donation_at": "2025-12-01T09:30:00Z"
		}`),
	}
	if err := handler(context.Background(), msg); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if len(store.got) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(store.got))
	}
	d := store.got[0]
	if d.ID != 12 || d.UserID != 120 || d.BloodGroup != "O+" {
		t.Fatalf("unexpected donor: %+v", d)
	}
	wantBirth := time.Date(1990, 6, 1, 0, 0, 0, 0, time.UTC)
	if !d.BirthDate.Equal(wantBirth) {
		t.Fatalf("birth date %s, want %s", d.BirthDate, wantBirth)
	}
	if d.LastDonationAt == nil || !d.LastDonationAt.Equal(time.Date(2025, 12, 1, 9, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected last donation: %v", d.LastDonationAt)
	}
}

func TestDonorFeedHandler_BadPayload(t *testing.T) {
	store := &recordingDonorStore{}
	handler := DonorFeedHandler(store)

	if err := handler(context.Background(), kafka.Message{Value: []byte(`{`)}); err == nil {
		t.Fatal("expected error for malformed json")
	}
	if err := handler(context.Background(), kafka.Message{Value: []byte(`{"donor_id": 1, "birth_date": "June 1st"}`)}); err == nil {
		t.Fatal("expected error for bad birth date")
	}
	if len(store.got) != 0 {
		t.Fatalf("nothing should be stored, got %d", len(store.got))
	}
}

func TestBankFeedHandler(t *testing.T) {
	store := &recordingBankStore{}
	handler := BankFeedHandler(store)

	msg := kafka.Message{
		Topic: TopicBankUpdated,
		Value: []byte(`{"bank_id": 5, "name": "Central Blood Bank", "city": "Dhaka", "phone": "+880255512345"}`),
	}
	if err := handler(context.Background(), msg); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if len(store.got) != 1 || store.got[0].ID != 5 || store.got[0].Name != "Central Blood Bank" {
		t.Fatalf("unexpected bank: %+v", store.got)
	}
}

package booking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/model"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/policy"
)

// fakeAppointmentStore mirrors the database constraint: the occupied-slot
// check and the write happen under one lock, so concurrent inserts against the
// same (bank, timestamp) behave like the partial unique index does.
type fakeAppointmentStore struct {
	mu     sync.Mutex
	nextID int64
	appts  map[int64]model.Appointment
}

func newFakeAppointmentStore() *fakeAppointmentStore {
	return &fakeAppointmentStore{appts: map[int64]model.Appointment{}}
}

func (s *fakeAppointmentStore) conflictLocked(bankID int64, at time.Time, excludeID int64) bool {
	for _, a := range s.appts {
		if a.ID != excludeID && a.BankID == bankID && a.ScheduledAt.Equal(at) && a.Status.Active() {
			return true
		}
	}
	return false
}

func (s *fakeAppointmentStore) Insert(_ context.Context, appt *model.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflictLocked(appt.BankID, appt.ScheduledAt, 0) {
		return ErrSlotConflict
	}
	s.nextID++
	appt.ID = s.nextID
	appt.CreatedAt = time.Now().UTC()
	s.appts[appt.ID] = *appt
	return nil
}

func (s *fakeAppointmentStore) Get(_ context.Context, id int64) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return a, nil
}

func (s *fakeAppointmentStore) FindConflicting(_ context.Context, bankID int64, at time.Time, excludeID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conflictLocked(bankID, at, excludeID), nil
}

func (s *fakeAppointmentStore) Reschedule(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return ErrNotFound
	}
	if s.conflictLocked(a.BankID, at, id) {
		return ErrSlotConflict
	}
	a.ScheduledAt = at
	s.appts[id] = a
	return nil
}

func (s *fakeAppointmentStore) TransitionStatus(_ context.Context, id int64, from, to model.Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != from {
		return ErrStaleStatus
	}
	a.Status = to
	if to == model.StatusCancelled {
		a.CancelReason = reason
	}
	s.appts[id] = a
	return nil
}

func (s *fakeAppointmentStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appts[id]; !ok {
		return ErrNotFound
	}
	delete(s.appts, id)
	return nil
}

func (s *fakeAppointmentStore) List(_ context.Context, f Filter) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appts {
		if f.DonorID != 0 && a.DonorID != f.DonorID {
			continue
		}
		if f.BankID != 0 && a.BankID != f.BankID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *fakeAppointmentStore) ActiveStartTimes(_ context.Context, bankID int64, from, to time.Time) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Time
	for _, a := range s.appts {
		if a.BankID == bankID && a.Status.Active() && !a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to) {
			out = append(out, a.ScheduledAt)
		}
	}
	return out, nil
}

type fakeDonorStore struct {
	mu     sync.Mutex
	donors map[int64]model.Donor
}

func (s *fakeDonorStore) Get(_ context.Context, id int64) (model.Donor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.donors[id]
	if !ok {
		return model.Donor{}, ErrNotFound
	}
	return d, nil
}

func (s *fakeDonorStore) SetEligibility(_ context.Context, id int64, eligible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.donors[id]
	if !ok {
		return ErrNotFound
	}
	d.IsEligible = eligible
	s.donors[id] = d
	return nil
}

func (s *fakeDonorStore) IncrementNoShow(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.donors[id]
	if !ok {
		return ErrNotFound
	}
	d.NoShowCount++
	s.donors[id] = d
	return nil
}

type fakeBankStore struct {
	banks map[int64]model.BloodBank
}

func (s *fakeBankStore) Get(_ context.Context, id int64) (model.BloodBank, error) {
	b, ok := s.banks[id]
	if !ok {
		return model.BloodBank{}, ErrNotFound
	}
	return b, nil
}

type fakeSink struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (s *fakeSink) Send(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

var (
	testNow    = time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	slotAt     = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	otherSlot  = time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)
	testActor  = Actor{UserID: "user-1", Role: "donor"}
	staffActor = Actor{UserID: "staff-1", Role: "bank"}
)

type testEnv struct {
	manager *Manager
	appts   *fakeAppointmentStore
	donors  *fakeDonorStore
	banks   *fakeBankStore
	sink    *fakeSink
}

func newTestEnv() *testEnv {
	appts := newFakeAppointmentStore()
	donors := &fakeDonorStore{donors: map[int64]model.Donor{
		1: {ID: 1, UserID: 100, FullName: "Asha Rahman", BirthDate: time.Date(1990, 6, 1, 0, 0, 0, 0, time.UTC), IsEligible: true},
	}}
	banks := &fakeBankStore{banks: map[int64]model.BloodBank{
		5: {ID: 5, Name: "Central Blood Bank", City: "Dhaka"},
	}}
	sink := &fakeSink{}
	m := NewManager(appts, donors, banks, sink, policy.NewStaticProvider(policy.Default()), slog.Default())
	m.now = func() time.Time { return testNow }
	return &testEnv{manager: m, appts: appts, donors: donors, banks: banks, sink: sink}
}

func mustCreate(t *testing.T, env *testEnv, donorID, bankID int64, at time.Time) model.Appointment {
	t.Helper()
	appt, err := env.manager.Create(context.Background(), testActor, CreateRequest{DonorID: donorID, BankID: bankID, At: at})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return appt
}

func wantRejection(t *testing.T, err error, code Code) *RejectionError {
	t.Helper()
	rej, ok := AsRejection(err)
	if !ok {
		t.Fatalf("expected %s rejection, got %v", code, err)
	}
	if rej.Code != code {
		t.Fatalf("expected code %s, got %s", code, rej.Code)
	}
	return rej
}

func TestCreate_Defaults(t *testing.T) {
	env := newTestEnv()

	appt := mustCreate(t, env, 1, 5, slotAt)
	if appt.ID == 0 {
		t.Fatal("expected assigned id")
	}
	if appt.Status != model.StatusScheduled {
		t.Fatalf("expected scheduled, got %s", appt.Status)
	}
	if appt.Kind != model.KindDonation || appt.DurationMinutes != 30 {
		t.Fatalf("defaults not applied: kind=%s duration=%d", appt.Kind, appt.DurationMinutes)
	}
	if env.sink.count() != 1 {
		t.Fatalf("expected 1 notification, got %d", env.sink.count())
	}
	n := env.sink.sent[0]
	if n.UserID != 100 || n.AppointmentID != appt.ID || n.Category != "appointment" {
		t.Fatalf("unexpected notification: %+v", n)
	}
}

func TestCreate_PastTimestamp(t *testing.T) {
	env := newTestEnv()

	_, err := env.manager.Create(context.Background(), testActor, CreateRequest{
		DonorID: 1, BankID: 5, At: testNow.Add(-time.Hour),
	})
	wantRejection(t, err, CodeInvalidTimestamp)

	_, err = env.manager.Create(context.Background(), testActor, CreateRequest{DonorID: 1, BankID: 5})
	wantRejection(t, err, CodeInvalidTimestamp)
}

func TestCreate_UnknownCollaborators(t *testing.T) {
	env := newTestEnv()

	_, err := env.manager.Create(context.Background(), testActor, CreateRequest{DonorID: 1, BankID: 99, At: slotAt})
	wantRejection(t, err, CodeBankNotFound)

	_, err = env.manager.Create(context.Background(), testActor, CreateRequest{DonorID: 99, BankID: 5, At: slotAt})
	wantRejection(t, err, CodeDonorNotFound)
}

func TestCreate_IneligibleDonor(t *testing.T) {
	env := newTestEnv()
	d := env.donors.donors[1]
	d.IsEligible = false
	env.donors.donors[1] = d

	_, err := env.manager.Create(context.Background(), testActor, CreateRequest{DonorID: 1, BankID: 5, At: slotAt})
	rej := wantRejection(t, err, CodeIneligibleDonor)
	if rej.Reason != "FLAGGED_INELIGIBLE" {
		t.Fatalf("expected FLAGGED_INELIGIBLE, got %s", rej.Reason)
	}
	if env.sink.count() != 0 {
		t.Fatal("no notification expected for rejected booking")
	}
}

func TestCreate_SlotTaken(t *testing.T) {
	env := newTestEnv()
	env.donors.donors[2] = model.Donor{ID: 2, UserID: 200, BirthDate: time.Date(1985, 2, 10, 0, 0, 0, 0, time.UTC), IsEligible: true}

	mustCreate(t, env, 1, 5, slotAt)

	_, err := env.manager.Create(context.Background(), testActor, CreateRequest{DonorID: 2, BankID: 5, At: slotAt})
	wantRejection(t, err, CodeSlotTaken)
}

func TestCreate_ConcurrentSameSlot(t *testing.T) {
	env := newTestEnv()
	const donors = 8
	for i := int64(2); i <= donors+1; i++ {
		env.donors.donors[i] = model.Donor{ID: i, UserID: 100 + i, BirthDate: time.Date(1988, 1, 2, 0, 0, 0, 0, time.UTC), IsEligible: true}
	}

	var wg sync.WaitGroup
	errs := make([]error, donors)
	for i := 0; i < donors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.manager.Create(context.Background(), testActor, CreateRequest{
				DonorID: int64(i + 2), BankID: 5, At: slotAt,
			})
			errs[i] = err
		}(i)
	}
	wg.Wait()

	var succeeded, conflicted int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if rej, ok := AsRejection(err); ok && rej.Code == CodeSlotTaken {
			conflicted++
			continue
		}
		t.Fatalf("unexpected error: %v", err)
	}
	if succeeded != 1 || conflicted != donors-1 {
		t.Fatalf("expected exactly 1 winner, got %d ok / %d conflicts", succeeded, conflicted)
	}
}

func TestCreate_NotificationFailureIgnored(t *testing.T) {
	env := newTestEnv()
	env.sink.err = errors.New("sink unreachable")

	appt := mustCreate(t, env, 1, 5, slotAt)
	if appt.ID == 0 {
		t.Fatal("booking must survive a failed notification")
	}
}

func TestReschedule_ConflictAndSelfExclusion(t *testing.T) {
	env := newTestEnv()
	env.donors.donors[2] = model.Donor{ID: 2, UserID: 200, BirthDate: time.Date(1985, 2, 10, 0, 0, 0, 0, time.UTC), IsEligible: true}

	a := mustCreate(t, env, 1, 5, slotAt)
	b := mustCreate(t, env, 2, 5, otherSlot)

	err := env.manager.Reschedule(context.Background(), staffActor, a.ID, b.ScheduledAt)
	wantRejection(t, err, CodeSlotTaken)

	// Rescheduling onto its own timestamp must succeed (self-exclusion).
	if err := env.manager.Reschedule(context.Background(), staffActor, a.ID, a.ScheduledAt); err != nil {
		t.Fatalf("self-reschedule failed: %v", err)
	}

	free := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)
	if err := env.manager.Reschedule(context.Background(), staffActor, a.ID, free); err != nil {
		t.Fatalf("reschedule to free slot failed: %v", err)
	}
	got, err := env.manager.Get(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.ScheduledAt.Equal(free) {
		t.Fatalf("timestamp not updated: %s", got.ScheduledAt)
	}
}

func TestReschedule_Guards(t *testing.T) {
	env := newTestEnv()
	a := mustCreate(t, env, 1, 5, slotAt)

	err := env.manager.Reschedule(context.Background(), staffActor, a.ID, testNow.Add(-time.Minute))
	wantRejection(t, err, CodeInvalidTimestamp)

	err = env.manager.Reschedule(context.Background(), staffActor, 999, otherSlot)
	wantRejection(t, err, CodeAppointmentNotFound)

	if err := env.manager.ChangeStatus(context.Background(), staffActor, a.ID, model.StatusCancelled, "donor request"); err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}
	err = env.manager.Reschedule(context.Background(), staffActor, a.ID, otherSlot)
	wantRejection(t, err, CodeInvalidTransition)
}

func TestChangeStatus_NoShowPenalty(t *testing.T) {
	env := newTestEnv()
	a := mustCreate(t, env, 1, 5, slotAt)

	if err := env.manager.ChangeStatus(context.Background(), staffActor, a.ID, model.StatusNoShow, ""); err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}

	d := env.donors.donors[1]
	if d.IsEligible {
		t.Fatal("no-show must suspend eligibility")
	}
	if d.NoShowCount != 1 {
		t.Fatalf("expected no_show_count 1, got %d", d.NoShowCount)
	}

	// The suspended donor cannot book again.
	_, err := env.manager.Create(context.Background(), testActor, CreateRequest{DonorID: 1, BankID: 5, At: otherSlot})
	rej := wantRejection(t, err, CodeIneligibleDonor)
	if rej.Reason != "FLAGGED_INELIGIBLE" {
		t.Fatalf("expected FLAGGED_INELIGIBLE, got %s", rej.Reason)
	}
}

func TestChangeStatus_CancelledLeavesDonorAlone(t *testing.T) {
	env := newTestEnv()
	a := mustCreate(t, env, 1, 5, slotAt)

	if err := env.manager.ChangeStatus(context.Background(), staffActor, a.ID, model.StatusCancelled, "bank closed"); err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}

	d := env.donors.donors[1]
	if !d.IsEligible || d.NoShowCount != 0 {
		t.Fatalf("cancellation must not touch donor state: %+v", d)
	}
	got, _ := env.appts.Get(context.Background(), a.ID)
	if got.Status != model.StatusCancelled || got.CancelReason != "bank closed" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestChangeStatus_TransitionTable(t *testing.T) {
	env := newTestEnv()
	a := mustCreate(t, env, 1, 5, slotAt)

	if err := env.manager.ChangeStatus(context.Background(), staffActor, a.ID, model.StatusConfirmed, ""); err != nil {
		t.Fatalf("scheduled -> confirmed failed: %v", err)
	}
	if err := env.manager.ChangeStatus(context.Background(), staffActor, a.ID, model.StatusCompleted, ""); err != nil {
		t.Fatalf("confirmed -> completed failed: %v", err)
	}

	err := env.manager.ChangeStatus(context.Background(), staffActor, a.ID, model.StatusCancelled, "")
	wantRejection(t, err, CodeInvalidTransition)

	err = env.manager.ChangeStatus(context.Background(), staffActor, a.ID, model.StatusScheduled, "")
	wantRejection(t, err, CodeInvalidTransition)
}

func TestCancelFuture(t *testing.T) {
	env := newTestEnv()
	a := mustCreate(t, env, 1, 5, slotAt)

	if err := env.manager.CancelFuture(context.Background(), testActor, a.ID); err != nil {
		t.Fatalf("CancelFuture failed: %v", err)
	}
	if _, err := env.appts.Get(context.Background(), a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal("record must be hard-deleted")
	}

	// Deleting never touches donor eligibility (same as a cancelled status change).
	d := env.donors.donors[1]
	if !d.IsEligible || d.NoShowCount != 0 {
		t.Fatalf("cancel-future must not touch donor state: %+v", d)
	}
}

func TestCancelFuture_PastGuard(t *testing.T) {
	env := newTestEnv()
	a := mustCreate(t, env, 1, 5, slotAt)

	// Time passes beyond the visit.
	env.manager.now = func() time.Time { return slotAt.Add(time.Hour) }

	err := env.manager.CancelFuture(context.Background(), testActor, a.ID)
	wantRejection(t, err, CodeCannotCancelPast)

	got, getErr := env.appts.Get(context.Background(), a.ID)
	if getErr != nil {
		t.Fatalf("record must still exist: %v", getErr)
	}
	if got.Status != model.StatusScheduled || !got.ScheduledAt.Equal(slotAt) {
		t.Fatalf("record must be unchanged: %+v", got)
	}
}

func TestAvailableSlots_ReflectsBookings(t *testing.T) {
	env := newTestEnv()
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	slots, err := env.manager.AvailableSlots(context.Background(), 5, day)
	if err != nil {
		t.Fatalf("AvailableSlots failed: %v", err)
	}
	if len(slots) != 16 {
		t.Fatalf("expected 16 slots, got %d", len(slots))
	}

	mustCreate(t, env, 1, 5, slotAt)

	slots, err = env.manager.AvailableSlots(context.Background(), 5, day)
	if err != nil {
		t.Fatalf("AvailableSlots failed: %v", err)
	}
	if len(slots) != 15 {
		t.Fatalf("expected 15 slots after booking, got %d", len(slots))
	}
	for _, s := range slots {
		if s.At.Equal(slotAt) {
			t.Fatal("booked slot still listed")
		}
	}

	_, err = env.manager.AvailableSlots(context.Background(), 99, day)
	wantRejection(t, err, CodeBankNotFound)
}

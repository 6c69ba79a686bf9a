package booking

import (
	"context"
	"time"

	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/model"
)

// AppointmentStore persists appointments. Every mutating method is a single
// atomic unit against the backing store; in particular Insert and Reschedule
// must perform the occupied-slot check and the write together (unique
// constraint or equivalent) and return ErrSlotConflict on collision.
type AppointmentStore interface {
	Insert(ctx context.Context, appt *model.Appointment) error
	Get(ctx context.Context, id int64) (model.Appointment, error)
	// FindConflicting reports whether an active appointment other than
	// excludeID occupies (bankID, at). excludeID 0 excludes nothing.
	FindConflicting(ctx context.Context, bankID int64, at time.Time, excludeID int64) (bool, error)
	Reschedule(ctx context.Context, id int64, at time.Time) error
	// TransitionStatus is a guarded compare-and-set: it moves the row from
	// `from` to `to` and returns ErrStaleStatus if the row is no longer in
	// `from`.
	TransitionStatus(ctx context.Context, id int64, from, to model.Status, reason string) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, f Filter) ([]model.Appointment, error)
	ActiveStartTimes(ctx context.Context, bankID int64, from, to time.Time) ([]time.Time, error)
}

// Filter narrows List results. Zero values mean "any".
type Filter struct {
	DonorID int64
	BankID  int64
	Status  model.Status
	Day     time.Time
	Limit   int
}

type DonorStore interface {
	Get(ctx context.Context, donorID int64) (model.Donor, error)
	SetEligibility(ctx context.Context, donorID int64, eligible bool) error
	IncrementNoShow(ctx context.Context, donorID int64) error
}

type BankStore interface {
	Get(ctx context.Context, bankID int64) (model.BloodBank, error)
}

// Notification is the fire-and-forget status message emitted to a donor's
// user account. The core writes it and never reads it back. Status carries
// the lifecycle state the message describes, so sinks can emit a matching
// domain event.
type Notification struct {
	AppointmentID int64
	UserID        int64
	Category      string
	Message       string
	Status        model.Status
}

// NotificationSink delivery is best-effort: the manager logs failures and
// never fails the triggering operation on them.
type NotificationSink interface {
	Send(ctx context.Context, n Notification) error
}

package model

import "time"

// Status is the closed set of appointment lifecycle states.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// transitions is the explicit validity table for status changes. Anything not
// listed is rejected.
var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return Status(raw), true
	}
	return "", false
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Active appointments occupy their slot and count toward conflict detection.
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

const (
	KindDonation = "donation"

	DefaultDurationMinutes = 30
)

// Appointment is one scheduled donation visit at a blood bank.
type Appointment struct {
	ID              int64
	DonorID         int64
	BankID          int64
	ScheduledAt     time.Time
	Kind            string
	DurationMinutes int
	Status          Status
	Notes           string
	CancelReason    string
	CreatedAt       time.Time
}

// Donor is the scheduling view of a donor record. The registry service owns
// it; the scheduling core reads it and, on no-show, flips IsEligible and bumps
// NoShowCount.
type Donor struct {
	ID             int64
	UserID         int64
	FullName       string
	BloodGroup     string
	BirthDate      time.Time
	IsEligible     bool
	LastDonationAt *time.Time
	NoShowCount    int
}

type BloodBank struct {
	ID    int64
	Name  string
	City  string
	Phone string
}

package booking

import (
	"errors"
	"fmt"

	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/eligibility"
)

// Store sentinels. Implementations map driver-level failures onto these so the
// manager never sees pgx error codes.
var (
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrSlotConflict means an active appointment already holds the exact
	// (bank, timestamp) pair. Stores must raise it from the write itself, not
	// from a prior read.
	ErrSlotConflict = errors.New("slot already booked")
	// ErrStaleStatus means a guarded status update found the row in a
	// different state than expected (lost race with a concurrent transition).
	ErrStaleStatus = errors.New("appointment status changed concurrently")
)

// Code classifies expected business-rule rejections.
type Code string

const (
	CodeDonorNotFound       Code = "DONOR_NOT_FOUND"
	CodeBankNotFound        Code = "BANK_NOT_FOUND"
	CodeAppointmentNotFound Code = "APPOINTMENT_NOT_FOUND"
	CodeIneligibleDonor     Code = "INELIGIBLE_DONOR"
	CodeSlotTaken           Code = "SLOT_TAKEN"
	CodeCannotCancelPast    Code = "CANNOT_CANCEL_PAST"
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
	CodeInvalidTimestamp    Code = "INVALID_TIMESTAMP"
)

// RejectionError is an expected outcome of a booking operation, distinct from
// infrastructure failures: callers render it for the user instead of treating
// it as a server error.
type RejectionError struct {
	Code   Code
	Reason eligibility.Reason // set when Code is CodeIneligibleDonor
}

func (e *RejectionError) Error() string {
	if e.Code == CodeIneligibleDonor && e.Reason != "" {
		return fmt.Sprintf("%s(%s)", e.Code, e.Reason)
	}
	return string(e.Code)
}

func reject(code Code) error {
	return &RejectionError{Code: code}
}

func rejectIneligible(reason eligibility.Reason) error {
	return &RejectionError{Code: CodeIneligibleDonor, Reason: reason}
}

// AsRejection unwraps a business rejection, if err is one.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

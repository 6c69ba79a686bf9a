// Package eligibility decides whether a donor may book a donation on a given
// date. Evaluation is side-effect free and safe to call concurrently.
package eligibility

import (
	"time"

	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/calendar"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/model"
)

// Reason explains why a donor was rejected.
type Reason string

const (
	ReasonDonorNotFound Reason = "DONOR_NOT_FOUND"
	ReasonAgeOutOfRange Reason = "AGE_OUT_OF_RANGE"
	ReasonFlagged       Reason = "FLAGGED_INELIGIBLE"
	ReasonTooSoon       Reason = "TOO_SOON_SINCE_LAST_DONATION"
)

type Rules struct {
	MinAge            int
	MaxAge            int
	MinIntervalMonths int
}

// Evaluate runs the eligibility rules in order; the first failing rule wins.
//
//  1. donor record must exist
//  2. age on the appointment date within [MinAge, MaxAge], inclusive
//  3. the is_eligible flag must be set (cleared by no-shows and medical holds)
//  4. at least MinIntervalMonths whole calendar months since the last donation
//
// The flag and the interval are independent checks; a donor with no recorded
// last donation is only gated by the first three rules.
func Evaluate(donor *model.Donor, onDate time.Time, rules Rules) (bool, Reason) {
	if donor == nil {
		return false, ReasonDonorNotFound
	}

	age := calendar.AgeAt(donor.BirthDate, onDate)
	if age < rules.MinAge || age > rules.MaxAge {
		return false, ReasonAgeOutOfRange
	}

	if !donor.IsEligible {
		return false, ReasonFlagged
	}

	if donor.LastDonationAt != nil {
		if calendar.MonthsBetween(*donor.LastDonationAt, onDate) < rules.MinIntervalMonths {
			return false, ReasonTooSoon
		}
	}

	return true, ""
}

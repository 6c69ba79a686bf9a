// Package availability computes open donation slots for a bank and day.
// Results reflect store state at query time; the booking write path re-checks
// conflicts against the store constraint, so a stale read can never produce a
// double booking.
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/calendar"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/policy"
)

// ActiveTimesLister reports the start times of active (scheduled or confirmed)
// appointments at a bank within [from, to).
type ActiveTimesLister interface {
	ActiveStartTimes(ctx context.Context, bankID int64, from, to time.Time) ([]time.Time, error)
}

type Planner struct {
	store ActiveTimesLister
}

func NewPlanner(store ActiveTimesLister) *Planner {
	return &Planner{store: store}
}

// AvailableSlots enumerates the candidate slots for the day and drops every
// slot whose exact start time is already held by an active appointment,
// preserving chronological order.
func (p *Planner) AvailableSlots(ctx context.Context, bankID int64, day time.Time, rules policy.Rules) ([]calendar.Slot, error) {
	candidates, err := calendar.EnumerateSlots(day, rules.DayStart, rules.DayEnd, rules.SlotStep)
	if err != nil {
		return nil, fmt.Errorf("enumerate slots: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	from := candidates[0].At
	to := candidates[len(candidates)-1].At.Add(rules.SlotStep)
	booked, err := p.store.ActiveStartTimes(ctx, bankID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list booked slots: %w", err)
	}

	taken := make(map[int64]struct{}, len(booked))
	for _, t := range booked {
		taken[t.Unix()] = struct{}{}
	}

	open := make([]calendar.Slot, 0, len(candidates))
	for _, s := range candidates {
		if _, ok := taken[s.At.Unix()]; ok {
			continue
		}
		open = append(open, s)
	}
	return open, nil
}

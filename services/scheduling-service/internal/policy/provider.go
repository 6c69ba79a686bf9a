// Package policy supplies per-bank scheduling rules. The defaults match the
// national donation guidelines; a registry deployment can override them per
// bank via the gRPC provider (protogen builds).
package policy

import (
	"context"
	"time"

	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/eligibility"
)

type Rules struct {
	MinDonorAge       int
	MaxDonorAge       int
	MinIntervalMonths int
	DayStart          string // wall clock, "15:04"
	DayEnd            string
	SlotStep          time.Duration
	DefaultDuration   time.Duration
}

func Default() Rules {
	return Rules{
		MinDonorAge:       18,
		MaxDonorAge:       65,
		MinIntervalMonths: 3,
		DayStart:          "09:00",
		DayEnd:            "17:00",
		SlotStep:          30 * time.Minute,
		DefaultDuration:   30 * time.Minute,
	}
}

func (r Rules) Eligibility() eligibility.Rules {
	return eligibility.Rules{
		MinAge:            r.MinDonorAge,
		MaxAge:            r.MaxDonorAge,
		MinIntervalMonths: r.MinIntervalMonths,
	}
}

type Provider interface {
	BankRules(ctx context.Context, bankID int64) (Rules, error)
}

type staticProvider struct {
	rules Rules
}

func NewStaticProvider(rules Rules) Provider {
	return &staticProvider{rules: rules}
}

func (p *staticProvider) BankRules(_ context.Context, _ int64) (Rules, error) {
	return p.rules, nil
}

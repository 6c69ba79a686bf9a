//go:build protogen

package policy

import (
	"context"
	"log/slog"
	"time"

	"github.com/tareq-aziz/lifeline/libs/grpcx"
	registryv1 "github.com/tareq-aziz/lifeline/protos/gen/registry/v1"
)

// registryProvider fetches per-bank scheduling rules from the registry
// service, falling back to the configured defaults when a field is unset.
type registryProvider struct {
	client   registryv1.RegistryServiceClient
	fallback Rules
	logger   *slog.Logger
}

func NewRegistryProvider(logger *slog.Logger, rules Rules, addr string) (Provider, error) {
	if addr == "" {
		return NewStaticProvider(rules), nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &registryProvider{
		client:   registryv1.NewRegistryServiceClient(conn),
		fallback: rules,
		logger:   logger,
	}, nil
}

func (p *registryProvider) BankRules(ctx context.Context, bankID int64) (Rules, error) {
	resp, err := p.client.GetBankRules(ctx, &registryv1.BankRulesRequest{BankId: bankID})
	if err != nil {
		return Rules{}, err
	}

	rules := p.fallback
	if v := resp.GetMinDonorAge(); v > 0 {
		rules.MinDonorAge = int(v)
	}
	if v := resp.GetMaxDonorAge(); v > 0 {
		rules.MaxDonorAge = int(v)
	}
	if v := resp.GetMinIntervalMonths(); v > 0 {
		rules.MinIntervalMonths = int(v)
	}
	if v := resp.GetDayStart(); v != "" {
		rules.DayStart = v
	}
	if v := resp.GetDayEnd(); v != "" {
		rules.DayEnd = v
	}
	if v := resp.GetSlotStepMinutes(); v > 0 {
		rules.SlotStep = time.Duration(v) * time.Minute
	}
	if v := resp.GetDurationMinutes(); v > 0 {
		rules.DefaultDuration = time.Duration(v) * time.Minute
	}
	return rules, nil
}

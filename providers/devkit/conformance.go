package devkit

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-keyprobe/core"
)

func ValidateTransportAdapterConformance(
	ctx context.Context,
	adapter core.TransportAdapter,
	request core.TransportRequest,
) error {
	if adapter == nil {
		return fmt.Errorf("devkit: transport adapter is required")
	}
	if strings.TrimSpace(adapter.Kind()) == "" {
		return fmt.Errorf("devkit: transport adapter kind is required")
	}
	_, err := adapter.Do(ctx, request)
	return err
}

// ValidateProviderAdapterConformance checks that an adapter reports an id and
// always classifies into a terminal status.
func ValidateProviderAdapterConformance(
	ctx context.Context,
	adapter core.ProviderAdapter,
	request core.ProbeRequest,
) (core.TestOutcome, error) {
	if adapter == nil {
		return core.TestOutcome{}, fmt.Errorf("devkit: provider adapter is required")
	}
	if strings.TrimSpace(adapter.ID()) == "" {
		return core.TestOutcome{}, fmt.Errorf("devkit: provider adapter id is required")
	}
	outcome, err := adapter.Validate(ctx, request)
	if err != nil {
		return outcome, err
	}
	if !outcome.Status.IsTerminal() || outcome.Status == core.StatusCancelled {
		return outcome, fmt.Errorf("devkit: adapter %s returned non-classified status %q", adapter.ID(), outcome.Status)
	}
	if outcome.Status == core.StatusRateLimited && !outcome.Retryable {
		return outcome, fmt.Errorf("devkit: adapter %s returned a terminal rate-limited outcome", adapter.ID())
	}
	return outcome, nil
}

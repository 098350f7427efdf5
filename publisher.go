package mlwatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Publisher pushes analyzer verdicts to the alert backend, updating the
// existing policy for a test/metric pair when one exists and creating it
// otherwise.
type Publisher struct {
	backend AlertBackend
	config  *RegressionConfig
}

// NewPublisher creates a publisher over an alert backend.
func NewPublisher(backend AlertBackend, config *RegressionConfig) *Publisher {
	return &Publisher{backend: backend, config: config}
}

// Publish upserts one policy per spec. Metrics outside the opt-in list are
// dropped here; configured notification channels that the backend does not
// know are logged and skipped, never invented.
func (p *Publisher) Publish(ctx context.Context, testName string, specs map[string]AlertSpec) error {
	channels, err := p.resolveChannels(ctx)
	if err != nil {
		return err
	}

	existing, err := p.backend.ListPolicies(ctx)
	if err != nil {
		return fmt.Errorf("list alert policies: %w", err)
	}
	byDisplayName := make(map[string]AlertPolicy, len(existing))
	for _, policy := range existing {
		byDisplayName[policy.DisplayName] = policy
	}

	optIn := p.config.optInSet()
	// Deterministic publish order keeps logs and backend traffic stable.
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if optIn != nil {
			if _, ok := optIn[name]; !ok {
				continue
			}
		}
		spec := specs[name]
		spec.NotificationChannels = channels
		policy := BuildAlertPolicy(testName, spec)

		if prev, ok := byDisplayName[policy.DisplayName]; ok {
			policy.Name = prev.Name
			if _, err := p.backend.UpdatePolicy(ctx, policy); err != nil {
				return fmt.Errorf("update policy %s: %w", policy.DisplayName, err)
			}
			slog.Info("updated alert policy", "policy", policy.DisplayName,
				"threshold", spec.ThresholdValue, "comparison", spec.Comparison)
		} else {
			if _, err := p.backend.CreatePolicy(ctx, policy); err != nil {
				return fmt.Errorf("create policy %s: %w", policy.DisplayName, err)
			}
			slog.Info("created alert policy", "policy", policy.DisplayName,
				"threshold", spec.ThresholdValue, "comparison", spec.Comparison)
		}
	}
	return nil
}

// resolveChannels maps the configured channel display names to backend
// handles. Unknown display names are logged and dropped.
func (p *Publisher) resolveChannels(ctx context.Context) ([]string, error) {
	if len(p.config.NotificationChannelDisplayNames) == 0 {
		return nil, nil
	}

	registered, err := p.backend.ListNotificationChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list notification channels: %w", err)
	}
	byDisplayName := make(map[string]string, len(registered))
	for _, ch := range registered {
		byDisplayName[ch.DisplayName] = ch.Name
	}

	var handles []string
	for _, displayName := range p.config.NotificationChannelDisplayNames {
		handle, ok := byDisplayName[displayName]
		if !ok {
			slog.Warn("notification channel not registered with backend",
				"display_name", displayName)
			continue
		}
		handles = append(handles, handle)
	}
	return handles, nil
}

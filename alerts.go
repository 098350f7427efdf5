package mlwatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Comparison is the direction in which a metric value counts as a
// regression relative to its threshold.
type Comparison string

const (
	// ComparisonGT alerts when the value rises above the threshold.
	ComparisonGT Comparison = "COMPARISON_GT"
	// ComparisonLT alerts when the value falls below the threshold.
	ComparisonLT Comparison = "COMPARISON_LT"
)

// AlertSpec is the analyzer's verdict for one metric: the bound outside of
// which the metric counts as regressed, plus the routing needed to publish
// it as a policy.
type AlertSpec struct {
	MetricName           string
	Comparison           Comparison
	ThresholdValue       float64
	Filter               string
	NotificationChannels []string
}

// Bounds returns the spec's threshold as (upper, lower) pointers for
// persistence, with the unused side nil.
func (s AlertSpec) Bounds() (upper, lower *float64) {
	v := s.ThresholdValue
	if s.Comparison == ComparisonLT {
		return nil, &v
	}
	return &v, nil
}

const (
	alertCombiner    = "OR"
	alertDuration    = "300s"
	alignmentPeriod  = "60s"
	perSeriesAligner = "ALIGN_MAX"
	crossSeriesRed   = "REDUCE_MEAN"
	triggerCount     = 1
)

// metricTypePrefix namespaces published metric identifiers.
const metricTypePrefix = "custom.mlwatch.io"

// MetricID derives the monitoring identifier of a test's metric.
func MetricID(testName, metricName string) string {
	return fmt.Sprintf("%s/%s/%s", metricTypePrefix, testName, metricName)
}

// AlertDisplayName derives the stable policy display name used to find and
// update an existing policy for the same test and metric.
func AlertDisplayName(testName, metricName string) string {
	return fmt.Sprintf("MetricOutsideExpectedBounds__TestName:%s__MetricName:%s", testName, metricName)
}

// MetricFilter builds the time-series filter of a policy condition.
func MetricFilter(testName, metricName string) string {
	return fmt.Sprintf(`metric.type="%s" AND resource.type="gce_instance"`, MetricID(testName, metricName))
}

// AlertPolicy is one regression alert as the monitoring backend sees it.
// Name is the backend-assigned handle; it is empty on creation.
type AlertPolicy struct {
	Name                 string           `json:"name,omitempty"`
	DisplayName          string           `json:"display_name"`
	Combiner             string           `json:"combiner"`
	Conditions           []AlertCondition `json:"conditions"`
	NotificationChannels []string         `json:"notification_channels,omitempty"`
}

// AlertCondition is the threshold condition of a policy.
type AlertCondition struct {
	DisplayName string             `json:"display_name"`
	Threshold   ConditionThreshold `json:"condition_threshold"`
}

// ConditionThreshold describes when the condition fires: the filtered
// series is aligned per minute, reduced across series, and compared
// against the threshold over the duration window.
type ConditionThreshold struct {
	Filter         string           `json:"filter"`
	Comparison     Comparison       `json:"comparison"`
	ThresholdValue float64          `json:"threshold_value"`
	Duration       string           `json:"duration"`
	Aggregations   []Aggregation    `json:"aggregations"`
	Trigger        ConditionTrigger `json:"trigger"`
}

// Aggregation is the alignment step of a condition.
type Aggregation struct {
	AlignmentPeriod    string `json:"alignment_period"`
	PerSeriesAligner   string `json:"per_series_aligner"`
	CrossSeriesReducer string `json:"cross_series_reducer"`
}

// ConditionTrigger is the number of breaching series that fires the
// condition.
type ConditionTrigger struct {
	Count int `json:"count"`
}

// BuildAlertPolicy turns an analyzer verdict into the policy to publish.
func BuildAlertPolicy(testName string, spec AlertSpec) AlertPolicy {
	displayName := AlertDisplayName(testName, spec.MetricName)
	return AlertPolicy{
		DisplayName: displayName,
		Combiner:    alertCombiner,
		Conditions: []AlertCondition{{
			DisplayName: displayName,
			Threshold: ConditionThreshold{
				Filter:         spec.Filter,
				Comparison:     spec.Comparison,
				ThresholdValue: spec.ThresholdValue,
				Duration:       alertDuration,
				Aggregations: []Aggregation{{
					AlignmentPeriod:    alignmentPeriod,
					PerSeriesAligner:   perSeriesAligner,
					CrossSeriesReducer: crossSeriesRed,
				}},
				Trigger: ConditionTrigger{Count: triggerCount},
			},
		}},
		NotificationChannels: spec.NotificationChannels,
	}
}

// NotificationChannel is a routing target registered with the backend.
type NotificationChannel struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// AlertBackend is the monitoring service surface the publisher needs.
type AlertBackend interface {
	// ListPolicies returns every existing alert policy.
	ListPolicies(ctx context.Context) ([]AlertPolicy, error)

	// CreatePolicy registers a new policy and returns it with its
	// backend-assigned name.
	CreatePolicy(ctx context.Context, policy AlertPolicy) (AlertPolicy, error)

	// UpdatePolicy replaces the policy addressed by policy.Name.
	UpdatePolicy(ctx context.Context, policy AlertPolicy) (AlertPolicy, error)

	// ListNotificationChannels returns every registered channel.
	ListNotificationChannels(ctx context.Context) ([]NotificationChannel, error)
}

// MemoryAlertBackend is an in-memory AlertBackend for tests and dry runs.
// It is safe for concurrent use.
type MemoryAlertBackend struct {
	mu       sync.Mutex
	nextID   int
	policies map[string]AlertPolicy
	channels []NotificationChannel

	Creates int
	Updates int
}

// NewMemoryAlertBackend creates an empty in-memory backend with the given
// notification channels registered.
func NewMemoryAlertBackend(channels ...NotificationChannel) *MemoryAlertBackend {
	return &MemoryAlertBackend{
		policies: make(map[string]AlertPolicy),
		channels: channels,
	}
}

func (b *MemoryAlertBackend) ListPolicies(ctx context.Context) ([]AlertPolicy, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]AlertPolicy, 0, len(b.policies))
	for _, p := range b.policies {
		out = append(out, p)
	}
	return out, nil
}

func (b *MemoryAlertBackend) CreatePolicy(ctx context.Context, policy AlertPolicy) (AlertPolicy, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	policy.Name = fmt.Sprintf("policies/%d", b.nextID)
	b.policies[policy.Name] = policy
	b.Creates++
	return policy, nil
}

func (b *MemoryAlertBackend) UpdatePolicy(ctx context.Context, policy AlertPolicy) (AlertPolicy, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if policy.Name == "" {
		return AlertPolicy{}, fmt.Errorf("update requires a policy name")
	}
	if _, ok := b.policies[policy.Name]; !ok {
		return AlertPolicy{}, fmt.Errorf("no policy %q", policy.Name)
	}
	b.policies[policy.Name] = policy
	b.Updates++
	return policy, nil
}

func (b *MemoryAlertBackend) ListNotificationChannels(ctx context.Context) ([]NotificationChannel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]NotificationChannel(nil), b.channels...), nil
}

// Policy returns the stored policy with the given display name, for tests.
func (b *MemoryAlertBackend) Policy(displayName string) (AlertPolicy, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.policies {
		if p.DisplayName == displayName {
			return p, true
		}
	}
	return AlertPolicy{}, false
}

// sanitizeMetricName maps a metric identifier onto the character set
// accepted as a Prometheus metric name.
func sanitizeMetricName(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for i, r := range id {
		switch {
		case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

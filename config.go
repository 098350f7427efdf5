package mlwatch

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CollectionConfig controls how raw observations are collected and
// aggregated. It arrives embedded in the trigger payload.
type CollectionConfig struct {
	// TagsToIgnore lists tags excluded from collection entirely.
	TagsToIgnore []string `json:"tags_to_ignore" yaml:"tags_to_ignore"`

	// DefaultAggregationStrategies is applied to every tag without an
	// override in MetricToAggregationStrategies.
	DefaultAggregationStrategies []Strategy `json:"default_aggregation_strategies" yaml:"default_aggregation_strategies"`

	// MetricToAggregationStrategies overrides the strategy list per tag.
	MetricToAggregationStrategies map[string][]Strategy `json:"metric_to_aggregation_strategies" yaml:"metric_to_aggregation_strategies"`

	// TimeToAccuracy enables the time_to_accuracy derivation when set.
	TimeToAccuracy *TimeToAccuracyConfig `json:"time_to_accuracy" yaml:"time_to_accuracy"`

	// WriteToBigQuery enables persisting final metrics to the store.
	WriteToBigQuery bool `json:"write_to_bigquery" yaml:"write_to_bigquery"`

	// BigQueryDatasetName and BigQueryTableName locate the sink table.
	BigQueryDatasetName string `json:"bigquery_dataset_name" yaml:"bigquery_dataset_name"`
	BigQueryTableName   string `json:"bigquery_table_name" yaml:"bigquery_table_name"`
}

// TimeToAccuracyConfig configures the time_to_accuracy derivation.
// AccuracyThreshold is a pointer so a missing key can be distinguished
// from an explicit zero.
type TimeToAccuracyConfig struct {
	AccuracyTag       string   `json:"accuracy_tag" yaml:"accuracy_tag"`
	AccuracyThreshold *float64 `json:"accuracy_threshold" yaml:"accuracy_threshold"`
}

func (c *TimeToAccuracyConfig) validate() error {
	if c.AccuracyTag == "" {
		return fmt.Errorf("time_to_accuracy.accuracy_tag is required: %w", ErrConfig)
	}
	if c.AccuracyThreshold == nil {
		return fmt.Errorf("time_to_accuracy.accuracy_threshold is required: %w", ErrConfig)
	}
	return nil
}

// strategiesFor resolves the strategy list for a tag: the per-tag override
// if present, otherwise the default list.
func (c *CollectionConfig) strategiesFor(tag string) []Strategy {
	if strategies, ok := c.MetricToAggregationStrategies[tag]; ok && len(strategies) > 0 {
		return strategies
	}
	return c.DefaultAggregationStrategies
}

// ignoreSet returns TagsToIgnore as a set.
func (c *CollectionConfig) ignoreSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.TagsToIgnore))
	for _, tag := range c.TagsToIgnore {
		set[tag] = struct{}{}
	}
	return set
}

// RegressionConfig controls regression analysis and alert publishing.
// It arrives embedded in the trigger payload.
type RegressionConfig struct {
	// WriteToStackdriver enables both metric publishing and alert
	// publishing against the monitoring backend.
	WriteToStackdriver bool `json:"write_to_stackdriver" yaml:"write_to_stackdriver"`

	// MetricOptInList, when non-empty, restricts metric publishing and
	// alerting to the named metrics. Others are computed but discarded.
	MetricOptInList []string `json:"metric_opt_in_list" yaml:"metric_opt_in_list"`

	// BigQueryDatasetName and BigQueryTableName locate the history table.
	BigQueryDatasetName string `json:"bigquery_dataset_name" yaml:"bigquery_dataset_name"`
	BigQueryTableName   string `json:"bigquery_table_name" yaml:"bigquery_table_name"`

	// NotificationChannelDisplayNames are resolved to channel handles
	// against the alert backend at publish time.
	NotificationChannelDisplayNames []string `json:"notification_channel_display_names" yaml:"notification_channel_display_names"`

	// MinNumDatapointsBeforeAlerting gates alerting per metric: below
	// this combined point count the metric is skipped.
	MinNumDatapointsBeforeAlerting int `json:"min_num_datapoints_before_alerting" yaml:"min_num_datapoints_before_alerting"`

	// BaseThresholdExpression is the default threshold formula over
	// v_mean and v_stddev; ThresholdExpressionOverrides replaces it per
	// metric.
	BaseThresholdExpression      string            `json:"base_threshold_expression" yaml:"base_threshold_expression"`
	ThresholdExpressionOverrides map[string]string `json:"threshold_expression_overrides" yaml:"threshold_expression_overrides"`

	// BaseComparison is the default regression direction;
	// ComparisonOverrides replaces it per metric.
	BaseComparison      Comparison            `json:"base_comparison" yaml:"base_comparison"`
	ComparisonOverrides map[string]Comparison `json:"comparison_overrides" yaml:"comparison_overrides"`

	// MetricsToIgnore excludes metric names from regression analysis.
	MetricsToIgnore []string `json:"metrics_to_ignore" yaml:"metrics_to_ignore"`
}

// thresholdExpressionFor resolves the threshold formula for a metric.
func (c *RegressionConfig) thresholdExpressionFor(metric string) string {
	if expr, ok := c.ThresholdExpressionOverrides[metric]; ok && expr != "" {
		return expr
	}
	return c.BaseThresholdExpression
}

// comparisonFor resolves the regression direction for a metric.
func (c *RegressionConfig) comparisonFor(metric string) Comparison {
	if cmp, ok := c.ComparisonOverrides[metric]; ok && cmp != "" {
		return cmp
	}
	return c.BaseComparison
}

// optInSet returns MetricOptInList as a set, or nil when no filter is set.
func (c *RegressionConfig) optInSet() map[string]struct{} {
	if len(c.MetricOptInList) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(c.MetricOptInList))
	for _, name := range c.MetricOptInList {
		set[name] = struct{}{}
	}
	return set
}

// ignoreSet returns MetricsToIgnore as a set.
func (c *RegressionConfig) ignoreSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.MetricsToIgnore))
	for _, name := range c.MetricsToIgnore {
		set[name] = struct{}{}
	}
	return set
}

// Settings holds the runtime environment configuration for the pipeline
// binary: where the store lives and how to reach the monitoring backend.
// It is loaded from a YAML file and is deliberately separate from the
// per-run trigger payload.
type Settings struct {
	Store struct {
		// Path is the SQLite database file backing the metric store.
		Path string `yaml:"path"`
		// MaxRetries enables idempotent retry of the batch insert when
		// greater than zero.
		MaxRetries int `yaml:"max_retries"`
	} `yaml:"store"`

	Monitoring struct {
		// RemoteWriteURL receives final metrics as Prometheus remote write.
		RemoteWriteURL string `yaml:"remote_write_url"`
		// AlertAPIURL is the base URL of the alert policy API.
		AlertAPIURL string `yaml:"alert_api_url"`
		// Token authenticates against both endpoints.
		Token string `yaml:"token"`
	} `yaml:"monitoring"`

	S3 struct {
		Region          string `yaml:"region"`
		Endpoint        string `yaml:"endpoint"`
		AccessKeyID     string `yaml:"access_key_id"`
		SecretAccessKey string `yaml:"secret_access_key"`
		UsePathStyle    bool   `yaml:"use_path_style"`
	} `yaml:"s3"`
}

// LoadSettings reads and parses a Settings YAML file.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return &s, nil
}

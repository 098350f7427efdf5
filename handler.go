package mlwatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Trigger is the payload that starts one pipeline run: where the completed
// test wrote its events, how to aggregate them, and how to judge them
// against history.
type Trigger struct {
	// ModelDir is the event-log location, a local path or s3:// URL.
	ModelDir string `json:"model_dir"`
	// TestName identifies the test across runs; it keys the history.
	TestName string `json:"test_name"`
	// LogsLink points humans at the run's logs and is persisted per row.
	LogsLink string `json:"logs_link"`
	// JobName names the scheduler job, for the job_status metric.
	JobName string `json:"job_name"`

	Collection *CollectionConfig `json:"metric_collection_config"`
	Regression *RegressionConfig `json:"regression_test_config"`
}

// DecodeTrigger parses a trigger payload. The payload may be raw JSON or
// base64-encoded JSON, matching how message buses deliver it.
func DecodeTrigger(data []byte) (*Trigger, error) {
	if decoded, err := base64.StdEncoding.DecodeString(string(data)); err == nil {
		data = decoded
	}
	var t Trigger
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode trigger: %w: %v", ErrValidation, err)
	}
	return &t, nil
}

// Validate checks the trigger before any collaborator is contacted.
func (t *Trigger) Validate() error {
	if t.ModelDir == "" {
		return fmt.Errorf("model_dir is required: %w", ErrValidation)
	}
	if t.TestName == "" {
		return fmt.Errorf("test_name is required: %w", ErrValidation)
	}
	if t.LogsLink == "" {
		return fmt.Errorf("logs_link is required: %w", ErrValidation)
	}
	if t.JobName == "" {
		return fmt.Errorf("job_name is required: %w", ErrValidation)
	}
	if t.Collection == nil && t.Regression == nil {
		return fmt.Errorf("trigger configures neither collection nor regression: %w", ErrValidation)
	}
	if t.Collection != nil && t.Collection.WriteToBigQuery &&
		(t.Collection.BigQueryDatasetName == "" || t.Collection.BigQueryTableName == "") {
		return fmt.Errorf("bigquery dataset and table names are required when writing: %w", ErrValidation)
	}
	if t.Regression != nil &&
		(t.Regression.BigQueryDatasetName == "" || t.Regression.BigQueryTableName == "") {
		return fmt.Errorf("regression config needs bigquery dataset and table names: %w", ErrValidation)
	}
	return nil
}

// Handler runs the pipeline once for one completed test run. Collaborators
// may be nil when the trigger's config does not exercise them.
type Handler struct {
	Source EventSource
	Store  MetricStore
	Alerts AlertBackend
	Writer *RemoteWriter
	Jobs   JobStatusSource
}

// Run executes collect, aggregate, derive, persist, publish and alert for
// one trigger. A persistence failure is logged and the run continues, since
// alerting only needs the already-persisted history. Backend failures
// during publishing propagate to the caller.
func (h *Handler) Run(ctx context.Context, trigger *Trigger) (FinalMetrics, error) {
	if err := trigger.Validate(); err != nil {
		return nil, err
	}
	log := slog.With("test", trigger.TestName)

	collection := trigger.Collection
	if collection == nil {
		collection = &CollectionConfig{}
	}

	collector := NewCollector(h.Source)
	raw, err := collector.Collect(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("collect %s: %w", trigger.ModelDir, err)
	}
	log.Info("collected raw series", "tags", len(raw))

	final, err := AggregateAll(raw, collection)
	if err != nil {
		return nil, err
	}

	if collection.TimeToAccuracy != nil {
		point, err := TimeToAccuracy(raw, collection.TimeToAccuracy)
		if err != nil {
			return nil, err
		}
		final[MetricTimeToAccuracy] = point
	}
	if point, ok := TotalWallTime(raw); ok {
		final[MetricTotalWallTime] = point
	}
	if h.Jobs != nil && trigger.JobName != "" {
		rawStatus, err := h.Jobs.Status(ctx, trigger.JobName)
		if err != nil {
			return nil, fmt.Errorf("job status for %s: %w", trigger.JobName, err)
		}
		status := NormalizeJobStatus(rawStatus)
		final[MetricJobStatus] = status.Point()
		log.Info("job finished", "outcome", status.Outcome.String())
	}
	log.Info("computed final metrics", "metrics", len(final))

	// History is read before the current run is appended, so the analyzer
	// sees prior runs only and adds the new value itself.
	var specs map[string]AlertSpec
	if trigger.Regression != nil {
		history, err := h.Store.History(ctx, trigger.TestName)
		if err != nil {
			return nil, fmt.Errorf("read history: %w", err)
		}
		specs, err = NewAnalyzer(trigger.Regression).Analyze(trigger.TestName, final, history)
		if err != nil {
			return nil, err
		}
	}

	if collection.WriteToBigQuery {
		if err := h.persist(ctx, trigger, final, specs); err != nil {
			log.Error("persisting final metrics failed; continuing with alerting", "error", err)
		}
	}

	if trigger.Regression != nil && trigger.Regression.WriteToStackdriver {
		if h.Writer != nil {
			if err := h.Writer.Write(ctx, trigger.TestName, final, trigger.Regression); err != nil {
				return final, fmt.Errorf("publish metrics: %w", err)
			}
		}
		publisher := NewPublisher(h.Alerts, trigger.Regression)
		if err := publisher.Publish(ctx, trigger.TestName, specs); err != nil {
			return final, fmt.Errorf("publish alerts: %w", err)
		}
	}
	return final, nil
}

// persist appends one row per final metric, carrying the alerting bounds
// computed for it.
func (h *Handler) persist(ctx context.Context, trigger *Trigger, final FinalMetrics, specs map[string]AlertSpec) error {
	if err := h.Store.EnsureTable(ctx); err != nil {
		return err
	}
	rows := make([]MetricRow, 0, len(final))
	for name, point := range final {
		row := MetricRow{
			TestName:   trigger.TestName,
			MetricName: name,
			Value:      point.Value,
			Timestamp:  time.Unix(int64(point.WallTime), 0),
			LogsLink:   trigger.LogsLink,
		}
		if spec, ok := specs[name]; ok {
			row.UpperBound, row.LowerBound = spec.Bounds()
		}
		rows = append(rows, row)
	}
	return h.Store.Append(ctx, rows)
}

package mlwatch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

type fakeJobSource struct {
	status RawJobStatus
}

func (f *fakeJobSource) Status(ctx context.Context, jobName string) (RawJobStatus, error) {
	return f.status, nil
}

// failingStore fails every write but serves history, so a run can proceed
// past a persistence outage.
type failingStore struct {
	history History
}

func (s *failingStore) EnsureTable(ctx context.Context) error { return nil }
func (s *failingStore) Append(ctx context.Context, rows []MetricRow) error {
	return &PersistenceError{Table: "metrics", Rows: len(rows), Cause: errors.New("disk full")}
}
func (s *failingStore) History(ctx context.Context, testName string) (History, error) {
	return s.history, nil
}

func testTrigger(store bool) *Trigger {
	return &Trigger{
		ModelDir: "/runs/resnet",
		TestName: "resnet",
		LogsLink: "http://logs/1",
		JobName:  "resnet-v1-run",
		Collection: &CollectionConfig{
			DefaultAggregationStrategies: []Strategy{StrategyFinal},
			TimeToAccuracy: &TimeToAccuracyConfig{
				AccuracyTag:       "accuracy",
				AccuracyThreshold: threshold(0.9),
			},
			WriteToBigQuery:     store,
			BigQueryDatasetName: "metrics",
			BigQueryTableName:   "history",
		},
		Regression: &RegressionConfig{
			WriteToStackdriver:             true,
			BigQueryDatasetName:            "metrics",
			BigQueryTableName:              "history",
			MinNumDatapointsBeforeAlerting: 2,
			BaseThresholdExpression:        "v_mean + v_stddev * 4",
			BaseComparison:                 ComparisonGT,
			MetricsToIgnore:                []string{MetricTotalWallTime},
		},
	}
}

func testSource() *fakeEventSource {
	return &fakeEventSource{events: map[string][]RawEvent{
		"train": {
			{Tag: "loss", WallTime: 100, Value: scalar(0.9)},
			{Tag: "loss", WallTime: 200, Value: scalar(0.4)},
			{Tag: "accuracy", WallTime: 100, Value: scalar(0.5)},
			{Tag: "accuracy", WallTime: 180, Value: scalar(0.95)},
		},
	}}
}

func TestHandlerRun(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(SQLiteStoreConfig{
		Path:    filepath.Join(t.TempDir(), "metrics.db"),
		Dataset: "metrics",
		Table:   "history",
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()

	completed := 2000.0
	backend := NewMemoryAlertBackend()
	handler := Handler{
		Source: testSource(),
		Store:  store,
		Alerts: backend,
		Jobs:   &fakeJobSource{status: RawJobStatus{Succeeded: true, CompletionTime: &completed}},
	}
	trigger := testTrigger(true)

	final, err := handler.Run(ctx, trigger)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := final["loss_final"]; got.Value != 0.4 {
		t.Errorf("loss_final = %+v, want value 0.4", got)
	}
	if got := final[MetricTimeToAccuracy]; got.Value != 80 {
		t.Errorf("time_to_accuracy = %+v, want 80 seconds", got)
	}
	if got := final[MetricTotalWallTime]; got.Value != 100 {
		t.Errorf("total_wall_time = %+v, want 100 seconds", got)
	}
	if got := final[MetricJobStatus]; got.Value != 0 || got.WallTime != 2000 {
		t.Errorf("job_status = %+v, want success (0) at 2000", got)
	}

	// First run has one datapoint per metric, below the alerting minimum.
	if backend.Creates != 0 {
		t.Errorf("first run created %d policies, want 0", backend.Creates)
	}

	history, err := store.History(ctx, "resnet")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history["loss_final"]) != 1 {
		t.Fatalf("persisted history = %v, want one loss_final point", history)
	}

	// Second run reaches the minimum and publishes alerts.
	if _, err := handler.Run(ctx, trigger); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if backend.Creates == 0 {
		t.Error("second run created no policies")
	}
	if _, ok := backend.Policy(AlertDisplayName("resnet", MetricTotalWallTime)); ok {
		t.Error("ignored metric total_wall_time got a policy")
	}
	if _, ok := backend.Policy(AlertDisplayName("resnet", "loss_final")); !ok {
		t.Error("loss_final policy missing")
	}
}

func TestHandlerRunContinuesAfterPersistenceFailure(t *testing.T) {
	backend := NewMemoryAlertBackend()
	handler := Handler{
		Source: testSource(),
		Store: &failingStore{history: History{
			"loss_final": {{Value: 0.5, WallTime: 1}, {Value: 0.6, WallTime: 2}},
		}},
		Alerts: backend,
	}

	final, err := handler.Run(context.Background(), testTrigger(true))
	if err != nil {
		t.Fatalf("Run() error = %v, want persistence failure to be swallowed", err)
	}
	if len(final) == 0 {
		t.Fatal("Run() returned no final metrics")
	}
	if backend.Creates == 0 {
		t.Error("alerting was skipped after the persistence failure")
	}
}

func TestHandlerValidation(t *testing.T) {
	handler := Handler{Source: testSource()}
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Trigger)
	}{
		{"missing model_dir", func(tr *Trigger) { tr.ModelDir = "" }},
		{"missing test_name", func(tr *Trigger) { tr.TestName = "" }},
		{"missing logs_link", func(tr *Trigger) { tr.LogsLink = "" }},
		{"missing job_name", func(tr *Trigger) { tr.JobName = "" }},
		{"no configs at all", func(tr *Trigger) { tr.Collection, tr.Regression = nil, nil }},
		{"missing table for write", func(tr *Trigger) { tr.Collection.BigQueryTableName = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := testTrigger(true)
			tt.mutate(trigger)
			if _, err := handler.Run(ctx, trigger); !errors.Is(err, ErrValidation) {
				t.Errorf("Run() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestDecodeTrigger(t *testing.T) {
	payload := `{"model_dir":"/runs/resnet","test_name":"resnet","logs_link":"http://logs/1",` +
		`"metric_collection_config":{"default_aggregation_strategies":["final"]}}`

	trigger, err := DecodeTrigger([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeTrigger() error = %v", err)
	}
	if trigger.TestName != "resnet" || trigger.Collection == nil {
		t.Errorf("DecodeTrigger() = %+v, want parsed trigger", trigger)
	}
	if got := trigger.Collection.DefaultAggregationStrategies[0]; got != StrategyFinal {
		t.Errorf("default strategy = %v, want final", got)
	}
}

func TestDecodeTriggerBase64(t *testing.T) {
	// Base64 of {"model_dir":"/runs","test_name":"t"}
	encoded := "eyJtb2RlbF9kaXIiOiIvcnVucyIsInRlc3RfbmFtZSI6InQifQ=="
	trigger, err := DecodeTrigger([]byte(encoded))
	if err != nil {
		t.Fatalf("DecodeTrigger() error = %v", err)
	}
	if trigger.ModelDir != "/runs" || trigger.TestName != "t" {
		t.Errorf("DecodeTrigger() = %+v, want decoded payload", trigger)
	}
}

func TestDecodeTriggerMalformed(t *testing.T) {
	if _, err := DecodeTrigger([]byte("{broken")); !errors.Is(err, ErrValidation) {
		t.Errorf("DecodeTrigger() error = %v, want ErrValidation", err)
	}
}

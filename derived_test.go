package mlwatch

import (
	"errors"
	"testing"
)

func threshold(v float64) *float64 { return &v }

func TestTimeToAccuracy(t *testing.T) {
	raw := RawSeries{
		"accuracy": {
			{Value: 0.5, WallTime: 100},
			{Value: 0.92, WallTime: 300},
			{Value: 0.7, WallTime: 200},
		},
	}
	cfg := &TimeToAccuracyConfig{AccuracyTag: "accuracy", AccuracyThreshold: threshold(0.9)}

	got, err := TimeToAccuracy(raw, cfg)
	if err != nil {
		t.Fatalf("TimeToAccuracy() error = %v", err)
	}
	if got.Value != 200 || got.WallTime != 300 {
		t.Errorf("TimeToAccuracy() = %+v, want duration 200 at wall time 300", got)
	}
}

func TestTimeToAccuracyUnsortedSeries(t *testing.T) {
	// The crossing point arrives out of order; the scan must still find the
	// chronologically first crossing.
	raw := RawSeries{
		"accuracy": {
			{Value: 0.95, WallTime: 400},
			{Value: 0.91, WallTime: 250},
			{Value: 0.1, WallTime: 100},
		},
	}
	cfg := &TimeToAccuracyConfig{AccuracyTag: "accuracy", AccuracyThreshold: threshold(0.9)}

	got, err := TimeToAccuracy(raw, cfg)
	if err != nil {
		t.Fatalf("TimeToAccuracy() error = %v", err)
	}
	if got.Value != 150 || got.WallTime != 250 {
		t.Errorf("TimeToAccuracy() = %+v, want duration 150 at wall time 250", got)
	}
}

func TestTimeToAccuracyNeverReached(t *testing.T) {
	raw := RawSeries{
		"accuracy": {
			{Value: 0.2, WallTime: 100},
			{Value: 0.3, WallTime: 200},
		},
	}
	cfg := &TimeToAccuracyConfig{AccuracyTag: "accuracy", AccuracyThreshold: threshold(0.99)}

	got, err := TimeToAccuracy(raw, cfg)
	if err != nil {
		t.Fatalf("TimeToAccuracy() error = %v", err)
	}
	if got.Value != neverReachedAccuracySeconds {
		t.Errorf("TimeToAccuracy() value = %v, want sentinel %d", got.Value, neverReachedAccuracySeconds)
	}
	if got.WallTime != 100 {
		t.Errorf("TimeToAccuracy() wall time = %v, want series start 100", got.WallTime)
	}
}

func TestTimeToAccuracyExactThresholdCounts(t *testing.T) {
	raw := RawSeries{"accuracy": {{Value: 0.9, WallTime: 100}}}
	cfg := &TimeToAccuracyConfig{AccuracyTag: "accuracy", AccuracyThreshold: threshold(0.9)}

	got, err := TimeToAccuracy(raw, cfg)
	if err != nil {
		t.Fatalf("TimeToAccuracy() error = %v", err)
	}
	if got.Value != 0 {
		t.Errorf("TimeToAccuracy() = %+v, want zero duration for exact threshold", got)
	}
}

func TestTimeToAccuracyMissingTag(t *testing.T) {
	raw := RawSeries{"loss": {{Value: 1, WallTime: 1}}}
	cfg := &TimeToAccuracyConfig{AccuracyTag: "accuracy", AccuracyThreshold: threshold(0.9)}
	if _, err := TimeToAccuracy(raw, cfg); !errors.Is(err, ErrMissingTag) {
		t.Errorf("TimeToAccuracy() error = %v, want ErrMissingTag", err)
	}
}

func TestTimeToAccuracyConfigErrors(t *testing.T) {
	raw := RawSeries{"accuracy": {{Value: 1, WallTime: 1}}}

	if _, err := TimeToAccuracy(raw, nil); !errors.Is(err, ErrConfig) {
		t.Errorf("nil config error = %v, want ErrConfig", err)
	}
	if _, err := TimeToAccuracy(raw, &TimeToAccuracyConfig{AccuracyThreshold: threshold(0.9)}); !errors.Is(err, ErrConfig) {
		t.Errorf("missing tag config error = %v, want ErrConfig", err)
	}
	if _, err := TimeToAccuracy(raw, &TimeToAccuracyConfig{AccuracyTag: "accuracy"}); !errors.Is(err, ErrConfig) {
		t.Errorf("missing threshold config error = %v, want ErrConfig", err)
	}
}

func TestTotalWallTime(t *testing.T) {
	raw := RawSeries{
		"loss":     {{Value: 1, WallTime: 150}, {Value: 2, WallTime: 500}},
		"accuracy": {{Value: 3, WallTime: 100}},
	}
	got, ok := TotalWallTime(raw)
	if !ok {
		t.Fatal("TotalWallTime() ok = false, want true")
	}
	if got.Value != 400 || got.WallTime != 500 {
		t.Errorf("TotalWallTime() = %+v, want span 400 at 500", got)
	}
}

func TestTotalWallTimeEmpty(t *testing.T) {
	if _, ok := TotalWallTime(RawSeries{}); ok {
		t.Error("TotalWallTime(empty) ok = true, want false")
	}
	if _, ok := TotalWallTime(RawSeries{"loss": nil}); ok {
		t.Error("TotalWallTime(no points) ok = true, want false")
	}
}

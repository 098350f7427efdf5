package mlwatch

import (
	"fmt"
	"log/slog"
	"math"
)

// Derived metric names added to the final metrics of a run.
const (
	MetricTimeToAccuracy = "time_to_accuracy"
	MetricTotalWallTime  = "total_wall_time"
	MetricJobStatus      = "job_status"
)

// neverReachedAccuracySeconds is the sentinel duration emitted when the
// accuracy tag never meets the configured threshold: one year in seconds,
// high enough to trip any reasonable regression threshold.
const neverReachedAccuracySeconds = 60 * 60 * 24 * 365

// TimeToAccuracy computes how long the run took to first reach the
// configured accuracy threshold. The accuracy tag's series is sorted by
// wall time before scanning, so discovery order does not have to be
// chronological. When the threshold is never reached, the sentinel
// duration is returned with the series start as its wall time and the
// failure is logged so downstream alerting flags it as a regression.
func TimeToAccuracy(raw RawSeries, cfg *TimeToAccuracyConfig) (MetricPoint, error) {
	if cfg == nil {
		return MetricPoint{}, fmt.Errorf("time_to_accuracy is not configured: %w", ErrConfig)
	}
	if err := cfg.validate(); err != nil {
		return MetricPoint{}, err
	}

	points := raw[cfg.AccuracyTag]
	if len(points) == 0 {
		return MetricPoint{}, fmt.Errorf("accuracy tag %q (known tags: %v): %w",
			cfg.AccuracyTag, tagNames(raw), ErrMissingTag)
	}

	sorted := sortByWallTime(points)
	start := sorted[0].WallTime
	for _, p := range sorted {
		if p.Value >= *cfg.AccuracyThreshold {
			return MetricPoint{Value: p.WallTime - start, WallTime: p.WallTime}, nil
		}
	}

	slog.Error("accuracy never reached the configured threshold; emitting sentinel duration",
		"tag", cfg.AccuracyTag, "threshold", *cfg.AccuracyThreshold)
	return MetricPoint{Value: neverReachedAccuracySeconds, WallTime: start}, nil
}

// TotalWallTime computes the span between the earliest and latest
// observation across all tags. The second return value is false when the
// raw series is empty and no metric can be derived.
func TotalWallTime(raw RawSeries) (MetricPoint, bool) {
	if len(raw) == 0 {
		slog.Warn("empty raw series; skipping total_wall_time")
		return MetricPoint{}, false
	}

	min := math.Inf(1)
	max := math.Inf(-1)
	for _, points := range raw {
		for _, p := range points {
			if p.WallTime < min {
				min = p.WallTime
			}
			if p.WallTime > max {
				max = p.WallTime
			}
		}
	}
	if math.IsInf(min, 1) {
		// All tags present but none holds a point.
		slog.Warn("raw series holds no points; skipping total_wall_time")
		return MetricPoint{}, false
	}
	return MetricPoint{Value: max - min, WallTime: max}, true
}

func tagNames(raw RawSeries) []string {
	names := make([]string, 0, len(raw))
	for tag := range raw {
		names = append(names, tag)
	}
	return names
}

package mlwatch

import "sort"

// MetricPoint is a single scalar observation: a value and the unix wall time
// (fractional seconds) at which it was observed. Points are immutable value
// objects with no identity beyond their fields.
type MetricPoint struct {
	// Value is the observed scalar.
	Value float64
	// WallTime is the observation time as fractional unix seconds.
	WallTime float64
}

// RawSeries maps a metric tag to its observations in discovery order.
// The order is not guaranteed to be chronological; callers that need time
// ordering must sort explicitly.
type RawSeries map[string][]MetricPoint

// FinalMetrics maps an aggregated metric key ("{tag}_{strategy}" plus any
// derived metric names) to its single summary point. Keys are unique within
// one run's output.
type FinalMetrics map[string]MetricPoint

// History maps a metric name to the points persisted for it across prior
// runs, one point per run, ordered as read from the store.
type History map[string][]MetricPoint

// sortByWallTime returns a copy of points ordered by ascending WallTime.
// Equal timestamps keep their original relative order.
func sortByWallTime(points []MetricPoint) []MetricPoint {
	sorted := make([]MetricPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].WallTime < sorted[j].WallTime
	})
	return sorted
}

// values extracts the Value field of each point.
func values(points []MetricPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

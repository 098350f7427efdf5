package mlwatch

import "fmt"

// Strategy is a reduction rule collapsing a series of observations into one
// summary point.
type Strategy string

const (
	// StrategyFinal selects the point with the latest wall time.
	StrategyFinal Strategy = "final"
	// StrategyMax selects the point with the maximum value.
	StrategyMax Strategy = "max"
	// StrategyMin selects the point with the minimum value.
	StrategyMin Strategy = "min"
)

// Aggregate reduces a non-empty point sequence to a single point using the
// given strategy. Ties resolve to the earliest-indexed point. It is pure:
// the input slice is never modified.
func Aggregate(points []MetricPoint, strategy Strategy) (MetricPoint, error) {
	if len(points) == 0 {
		return MetricPoint{}, fmt.Errorf("aggregate %q: %w", strategy, ErrEmptySeries)
	}

	switch strategy {
	case StrategyFinal:
		latest := points[0]
		for _, p := range points[1:] {
			if p.WallTime > latest.WallTime {
				latest = p
			}
		}
		return latest, nil

	case StrategyMax:
		max := points[0]
		for _, p := range points[1:] {
			if p.Value > max.Value {
				max = p
			}
		}
		return max, nil

	case StrategyMin:
		min := points[0]
		for _, p := range points[1:] {
			if p.Value < min.Value {
				min = p
			}
		}
		return min, nil

	default:
		return MetricPoint{}, fmt.Errorf("aggregate %q: %w", strategy, ErrUnknownStrategy)
	}
}

// aggregatedKey builds the final-metrics key for a tag aggregated under a
// strategy. Keys are unique within one run's output.
func aggregatedKey(tag string, strategy Strategy) string {
	return fmt.Sprintf("%s_%s", tag, strategy)
}

// AggregateAll applies the configured strategies to every tag in the raw
// series. Per-tag overrides take precedence over the default strategy list;
// a tag may be aggregated under multiple strategies at once, producing one
// output key each.
func AggregateAll(raw RawSeries, cfg *CollectionConfig) (FinalMetrics, error) {
	final := make(FinalMetrics, len(raw))
	for tag, points := range raw {
		for _, strategy := range cfg.strategiesFor(tag) {
			point, err := Aggregate(points, strategy)
			if err != nil {
				return nil, fmt.Errorf("tag %q: %w", tag, err)
			}
			final[aggregatedKey(tag, strategy)] = point
		}
	}
	return final, nil
}

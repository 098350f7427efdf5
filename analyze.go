package mlwatch

import (
	"fmt"
	"log/slog"
	"math"
)

// Analyzer derives regression alert bounds for a run's final metrics from
// the persisted history of the same test. It only reads history; writing
// the current run is the persistence gateway's business.
type Analyzer struct {
	config *RegressionConfig
}

// NewAnalyzer creates an analyzer over a regression config.
func NewAnalyzer(config *RegressionConfig) *Analyzer {
	return &Analyzer{config: config}
}

// Analyze computes one AlertSpec per eligible metric over the union of
// history and the current run, so a metric that stopped being produced
// keeps its bound. A metric is skipped when it is ignored by config or when
// its combined sample count has not reached the alerting minimum. The new
// value participates in the mean and stddev so a fresh regression still
// shifts its own bound.
func (a *Analyzer) Analyze(testName string, metrics FinalMetrics, history History) (map[string]AlertSpec, error) {
	ignore := a.config.ignoreSet()
	specs := make(map[string]AlertSpec)

	names := make(map[string]struct{}, len(history)+len(metrics))
	for name := range history {
		names[name] = struct{}{}
	}
	for name := range metrics {
		names[name] = struct{}{}
	}

	for name := range names {
		if _, skip := ignore[name]; skip {
			continue
		}

		samples := values(history[name])
		if point, ok := metrics[name]; ok {
			samples = append(samples, point.Value)
		}
		if len(samples) < a.config.MinNumDatapointsBeforeAlerting {
			slog.Info("too few datapoints for alerting",
				"metric", name, "have", len(samples),
				"need", a.config.MinNumDatapointsBeforeAlerting)
			continue
		}

		mean, stddev := meanStddev(samples)
		expr := a.config.thresholdExpressionFor(name)
		threshold, err := EvalThreshold(expr, mean, stddev)
		if err != nil {
			return nil, fmt.Errorf("metric %q threshold %q: %w", name, expr, err)
		}

		specs[name] = AlertSpec{
			MetricName:     name,
			Comparison:     a.config.comparisonFor(name),
			ThresholdValue: threshold,
			Filter:         MetricFilter(testName, name),
		}
	}
	return specs, nil
}

// meanStddev returns the mean and population standard deviation.
func meanStddev(samples []float64) (mean, stddev float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	mean = sum / float64(len(samples))

	var sq float64
	for _, v := range samples {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(samples)))
}

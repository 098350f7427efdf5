package mlwatch

import (
	"errors"
	"math"
	"testing"
)

func TestEvalThreshold(t *testing.T) {
	tests := []struct {
		expr         string
		mean, stddev float64
		want         float64
	}{
		{"v_mean", 5, 0, 5},
		{"v_stddev", 0, 3, 3},
		{"v_mean + v_stddev * 3", 10, 2, 16},
		{"(v_mean + v_stddev) * 3", 10, 2, 36},
		{"v_mean - 2 * v_stddev", 100, 10, 80},
		{"-v_mean", 7, 0, -7},
		{"v_mean / 4", 10, 0, 2.5},
		{"1.5e2 + v_mean", 50, 0, 200},
		{"2 - 3 - 4", 0, 0, -5},
		{"  v_mean\t+ 1 ", 1, 0, 2},
	}
	for _, tt := range tests {
		got, err := EvalThreshold(tt.expr, tt.mean, tt.stddev)
		if err != nil {
			t.Errorf("EvalThreshold(%q) error = %v", tt.expr, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("EvalThreshold(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestEvalThresholdRejectsBadInput(t *testing.T) {
	exprs := []string{
		"",
		"v_median",
		"v_mean + ",
		"v_mean ** 2",
		"(v_mean",
		"v_mean) + 1",
		"v_mean; import os",
		"max(v_mean, 1)",
		"v_mean / 0",
		"1 2",
		"v_mean + $",
	}
	for _, expr := range exprs {
		if _, err := EvalThreshold(expr, 1, 1); !errors.Is(err, ErrInvalidExpression) {
			t.Errorf("EvalThreshold(%q) error = %v, want ErrInvalidExpression", expr, err)
		}
	}
}

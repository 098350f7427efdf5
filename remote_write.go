package mlwatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

// RemoteWriter publishes a run's final metrics to a Prometheus remote-write
// endpoint so alert policies have a live series to evaluate.
type RemoteWriter struct {
	url     string
	token   string
	client  *http.Client
	retryer *Retryer
}

// NewRemoteWriter creates a writer for the given remote-write URL. The
// token, when non-empty, is sent as a bearer token.
func NewRemoteWriter(url, token string) *RemoteWriter {
	return &RemoteWriter{
		url:     url,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		retryer: NewRetryer(DefaultRetryConfig()),
	}
}

// Write pushes one sample per metric. Metrics outside the config's opt-in
// list are dropped before the request is built.
func (w *RemoteWriter) Write(ctx context.Context, testName string, metrics FinalMetrics, config *RegressionConfig) error {
	req := buildWriteRequest(testName, metrics, config.optInSet())
	if len(req.Timeseries) == 0 {
		return nil
	}

	raw, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("encode remote write: %w", err)
	}
	compressed := snappy.Encode(nil, raw)

	return w.retryer.Do(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(compressed))
		if err != nil {
			return fmt.Errorf("remote write: %w", err)
		}
		httpReq.Header.Set("Content-Encoding", "snappy")
		httpReq.Header.Set("Content-Type", "application/x-protobuf")
		httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
		if w.token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+w.token)
		}

		resp, err := w.client.Do(httpReq)
		if err != nil {
			return &BackendError{Op: "remote write", Cause: err}
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &BackendError{Op: "remote write", Status: resp.StatusCode}
		}
		return nil
	})
}

// buildWriteRequest converts final metrics into one single-sample series
// each, in deterministic metric-name order.
func buildWriteRequest(testName string, metrics FinalMetrics, optIn map[string]struct{}) prompb.WriteRequest {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		if optIn != nil {
			if _, ok := optIn[name]; !ok {
				continue
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var req prompb.WriteRequest
	for _, name := range names {
		point := metrics[name]
		req.Timeseries = append(req.Timeseries, prompb.TimeSeries{
			Labels: []prompb.Label{
				{Name: "__name__", Value: sanitizeMetricName(MetricID(testName, name))},
				{Name: "test_name", Value: testName},
				{Name: "metric_name", Value: name},
			},
			Samples: []prompb.Sample{{
				Value:     point.Value,
				Timestamp: int64(point.WallTime * 1000),
			}},
		})
	}
	return req
}

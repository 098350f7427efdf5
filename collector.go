package mlwatch

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
)

// Collector walks an event source and builds the raw per-tag series for a
// completed run. Observations that fail to decode are dropped individually:
// the error is logged and collection continues, so one corrupt record never
// poisons the whole batch.
type Collector struct {
	source EventSource
}

// NewCollector creates a collector over an event source.
func NewCollector(source EventSource) *Collector {
	return &Collector{source: source}
}

// Collect reads every run of the source and merges their observations into
// one raw series, skipping ignored tags.
func (c *Collector) Collect(ctx context.Context, cfg *CollectionConfig) (RawSeries, error) {
	runs, err := c.source.Runs(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate runs: %w", err)
	}

	ignore := cfg.ignoreSet()
	raw := make(RawSeries)
	for _, run := range runs {
		events, err := c.source.Events(ctx, run)
		if err != nil {
			return nil, fmt.Errorf("run %q: %w", run, err)
		}
		for _, ev := range events {
			if _, skip := ignore[ev.Tag]; skip {
				continue
			}
			point, err := decodeEvent(ev)
			if err != nil {
				slog.Error("dropping undecodable observation", "error",
					&DecodeError{Tag: ev.Tag, Run: run, Message: "bad observation", Cause: err})
				continue
			}
			raw[ev.Tag] = append(raw[ev.Tag], point)
		}
	}
	return raw, nil
}

// decodeEvent converts one raw observation into a point. Scalar events carry
// the value directly; buffer events hold exactly one little-endian element of
// a declared numeric type.
func decodeEvent(ev RawEvent) (MetricPoint, error) {
	if ev.Tag == "" {
		return MetricPoint{}, fmt.Errorf("missing tag")
	}
	switch {
	case ev.Value != nil:
		return MetricPoint{Value: *ev.Value, WallTime: ev.WallTime}, nil
	case ev.Buffer != nil:
		value, err := decodeBuffer(ev.Buffer)
		if err != nil {
			return MetricPoint{}, err
		}
		return MetricPoint{Value: value, WallTime: ev.WallTime}, nil
	default:
		return MetricPoint{}, fmt.Errorf("observation carries neither value nor buffer")
	}
}

// bufferElementSize maps a buffer dtype to its encoded element width.
var bufferElementSize = map[string]int{
	"float32": 4,
	"float64": 8,
	"int32":   4,
	"int64":   8,
}

// decodeBuffer extracts the single element of a numeric buffer as float64.
func decodeBuffer(buf *NumericBuffer) (float64, error) {
	size, ok := bufferElementSize[buf.DType]
	if !ok {
		return 0, fmt.Errorf("unsupported buffer dtype %q", buf.DType)
	}
	if len(buf.Data) != size {
		return 0, fmt.Errorf("buffer holds %d bytes, want exactly one %s element (%d bytes)",
			len(buf.Data), buf.DType, size)
	}

	switch buf.DType {
	case "float32":
		bits := binary.LittleEndian.Uint32(buf.Data)
		return float64(math.Float32frombits(bits)), nil
	case "float64":
		bits := binary.LittleEndian.Uint64(buf.Data)
		return math.Float64frombits(bits), nil
	case "int32":
		return float64(int32(binary.LittleEndian.Uint32(buf.Data))), nil
	default: // int64
		return float64(int64(binary.LittleEndian.Uint64(buf.Data))), nil
	}
}

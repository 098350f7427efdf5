package mlwatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
)

// RawEvent is one observation record read from an event segment. Exactly one
// of Value and Buffer is set: plain scalar samples carry Value, while
// buffer-encoded observations carry a single-element numeric buffer that
// needs type-directed decoding.
type RawEvent struct {
	Tag      string         `json:"tag"`
	WallTime float64        `json:"wall_time"`
	Value    *float64       `json:"value,omitempty"`
	Buffer   *NumericBuffer `json:"buffer,omitempty"`
}

// NumericBuffer holds a little-endian encoded numeric buffer and its element
// type. A well-formed observation buffer holds exactly one element.
type NumericBuffer struct {
	DType string `json:"dtype"`
	Data  []byte `json:"data"`
}

// EventSource produces the raw observations of a completed run. It is the
// narrow interface through which the collector sees the event-log directory.
type EventSource interface {
	// Runs enumerates the run names found in the source.
	Runs(ctx context.Context) ([]string, error)
	// Events returns all observation records of one run, in the order
	// the producer wrote them.
	Events(ctx context.Context, run string) ([]RawEvent, error)
}

// Event segment files end in .events; a .snappy suffix marks a
// snappy-compressed segment.
const (
	segmentSuffix       = ".events"
	snappySegmentSuffix = ".events.snappy"
)

// DirEventSource reads event segments from a local directory. Each
// subdirectory is a run; segment files directly under the root belong to
// the run named ".". Segments are JSON lines, one RawEvent per line.
type DirEventSource struct {
	root string
}

// NewDirEventSource creates an event source over a local directory.
func NewDirEventSource(root string) *DirEventSource {
	return &DirEventSource{root: root}
}

// Runs enumerates subdirectories plus "." when the root itself holds
// segment files.
func (s *DirEventSource) Runs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read events dir %s: %w", s.root, err)
	}

	var runs []string
	rootHasSegments := false
	for _, entry := range entries {
		if entry.IsDir() {
			runs = append(runs, entry.Name())
		} else if isSegment(entry.Name()) {
			rootHasSegments = true
		}
	}
	if rootHasSegments {
		runs = append(runs, ".")
	}
	return runs, nil
}

// Events reads every segment of a run and concatenates their records in
// file-name order.
func (s *DirEventSource) Events(ctx context.Context, run string) ([]RawEvent, error) {
	dir := filepath.Join(s.root, run)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read run dir %s: %w", dir, err)
	}

	var events []RawEvent
	for _, entry := range entries {
		if entry.IsDir() || !isSegment(entry.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read segment %s: %w", entry.Name(), err)
		}
		segEvents, err := decodeSegment(entry.Name(), data)
		if err != nil {
			return nil, err
		}
		events = append(events, segEvents...)
	}
	return events, nil
}

func isSegment(name string) bool {
	return strings.HasSuffix(name, segmentSuffix) || strings.HasSuffix(name, snappySegmentSuffix)
}

// decodeSegment parses one segment file into records, transparently
// decompressing snappy segments.
func decodeSegment(name string, data []byte) ([]RawEvent, error) {
	if strings.HasSuffix(name, snappySegmentSuffix) {
		decoded, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("decompress segment %s: %w", name, err)
		}
		data = decoded
	}

	var events []RawEvent
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var ev RawEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("segment %s line %d: %w", name, line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan segment %s: %w", name, err)
	}
	return events, nil
}

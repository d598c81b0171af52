// Package stream durably buffers raw telemetry against process loss. Readings
// accumulate in memory per metric and are written as immutable, sequentially
// indexed chunk files on a fixed cadence; at session end the chunks are read
// back and concatenated into per-metric aggregated series.
package stream

import (
	"encoding/json"
	"fmt"
	"os"
)

// Data types a chunk can carry.
const (
	DataTypeNumeric = "numeric"
	DataTypeLatLng  = "latlng"
)

// StreamLatLng is the dedicated pseudo-metric for position chunks. Values are
// interleaved latitude,longitude pairs; SampleCount counts fixes, not floats.
const StreamLatLng = "latlng"

// Chunk is one immutable time-bounded slice of a single metric's raw
// readings. Written once at flush time, never mutated.
type Chunk struct {
	Metric      string    `json:"metric"`
	DataType    string    `json:"data_type"`
	Values      []float64 `json:"values"`
	Timestamps  []int64   `json:"timestamps"` // epoch milliseconds
	SampleCount int       `json:"sample_count"`
	StartTime   int64     `json:"start_time"` // epoch milliseconds
	EndTime     int64     `json:"end_time"`   // epoch milliseconds
	Index       int       `json:"index"`
}

// chunkFileName builds the per-{index,metric} file name, zero padded so a
// lexical sort matches the index order.
func chunkFileName(index int, metric string) string {
	return fmt.Sprintf("chunk_%05d_%s.json", index, metric)
}

// readChunk loads and decodes one chunk file.
func readChunk(path string) (Chunk, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Chunk{}, fmt.Errorf("read chunk %s: %w", path, err)
	}
	var c Chunk
	if err := json.Unmarshal(raw, &c); err != nil {
		return Chunk{}, fmt.Errorf("parse chunk %s: %w", path, err)
	}
	return c, nil
}

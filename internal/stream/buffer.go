package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/velotrace/recorder/internal/telemetry"
)

type bucket struct {
	dataType   string
	values     []float64
	timestamps []int64
}

func (b *bucket) empty() bool {
	return len(b.timestamps) == 0
}

// Buffer accumulates raw readings per metric and persists them as chunk
// files. A bucket is cleared only after its chunk write succeeds; on write
// failure the in-memory data is retained and retried on the next flush, so a
// transient I/O error loses nothing. One Buffer belongs to exactly one
// recording session.
type Buffer struct {
	dir    string
	logger *log.Logger

	mu        sync.Mutex
	buckets   map[string]*bucket
	nextIndex map[string]int
	persisted int

	// overridable for fault-injection tests
	writeFile func(name string, data []byte, perm os.FileMode) error
}

// NewBuffer creates the session chunk directory and an empty buffer.
func NewBuffer(dir string, logger *log.Logger) (*Buffer, error) {
	if logger == nil {
		panic("Buffer: logger cannot be nil")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	return &Buffer{
		dir:       dir,
		logger:    logger,
		buckets:   make(map[string]*bucket),
		nextIndex: make(map[string]int),
		writeFile: os.WriteFile,
	}, nil
}

// Dir returns the session chunk directory.
func (b *Buffer) Dir() string {
	return b.dir
}

// Add appends one numeric reading to its metric bucket.
func (b *Buffer) Add(r telemetry.Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk := b.bucketLocked(string(r.Metric), DataTypeNumeric)
	bk.values = append(bk.values, r.Value)
	bk.timestamps = append(bk.timestamps, r.Time.UnixMilli())
}

// AddLocation appends one GPS fix. The lat/lon pair goes to the dedicated
// latlng bucket; an altitude carried by the fix is split into its own
// numeric bucket.
func (b *Buffer) AddLocation(loc telemetry.Location) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk := b.bucketLocked(StreamLatLng, DataTypeLatLng)
	bk.values = append(bk.values, loc.Latitude, loc.Longitude)
	bk.timestamps = append(bk.timestamps, loc.Time.UnixMilli())
	if loc.HasAlt {
		alt := b.bucketLocked(string(telemetry.MetricAltitude), DataTypeNumeric)
		alt.values = append(alt.values, loc.Altitude)
		alt.timestamps = append(alt.timestamps, loc.Time.UnixMilli())
	}
}

// PendingCount returns the number of samples currently held in memory for a
// metric.
func (b *Buffer) PendingCount(metric string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, ok := b.buckets[metric]
	if !ok {
		return 0
	}
	return len(bk.timestamps)
}

// PersistedCount returns the total number of samples written to chunk files
// so far.
func (b *Buffer) PersistedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.persisted
}

// Flush writes every non-empty bucket as one chunk file and clears it on
// success. Buckets whose write fails keep their data; their chunk index is
// not advanced, so indices stay gapless. Failures on one metric do not stop
// the others.
func (b *Buffer) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	metrics := make([]string, 0, len(b.buckets))
	for m, bk := range b.buckets {
		if !bk.empty() {
			metrics = append(metrics, m)
		}
	}
	sort.Strings(metrics)

	var errs []error
	for _, m := range metrics {
		bk := b.buckets[m]
		index := b.nextIndex[m]
		chunk := Chunk{
			Metric:      m,
			DataType:    bk.dataType,
			Values:      bk.values,
			Timestamps:  bk.timestamps,
			SampleCount: len(bk.timestamps),
			StartTime:   bk.timestamps[0],
			EndTime:     bk.timestamps[len(bk.timestamps)-1],
			Index:       index,
		}
		raw, err := json.Marshal(chunk)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal chunk %s[%d]: %w", m, index, err))
			continue
		}
		path := filepath.Join(b.dir, chunkFileName(index, m))
		if err := b.writeFile(path, raw, 0644); err != nil {
			b.logger.Printf("Buffer: chunk write failed for %s[%d], retaining %d samples: %v",
				m, index, chunk.SampleCount, err)
			errs = append(errs, fmt.Errorf("write chunk %s[%d]: %w", m, index, err))
			continue
		}
		// Clear only after the write landed.
		b.persisted += chunk.SampleCount
		b.nextIndex[m] = index + 1
		b.buckets[m] = &bucket{dataType: bk.dataType}
	}
	return errors.Join(errs...)
}

// Cleanup removes the session chunk directory. Call only after the consuming
// stage has confirmed success.
func (b *Buffer) Cleanup() error {
	if err := os.RemoveAll(b.dir); err != nil {
		return fmt.Errorf("remove chunk dir: %w", err)
	}
	return nil
}

func (b *Buffer) bucketLocked(metric, dataType string) *bucket {
	bk, ok := b.buckets[metric]
	if !ok {
		bk = &bucket{dataType: dataType}
		b.buckets[metric] = bk
	}
	return bk
}

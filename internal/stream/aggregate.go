package stream

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Stats are the summary statistics of one numeric aggregated series.
type Stats struct {
	Min float64
	Max float64
	Avg float64
}

// Aggregated is the per-metric concatenation of all chunks for one metric.
// Built once at session end; read-only thereafter. Stats is nil for position
// data.
type Aggregated struct {
	Metric      string
	DataType    string
	Values      []float64
	Timestamps  []int64
	SampleCount int
	ChunkCount  int
	Stats       *Stats
}

// Aggregate reads every chunk file back, groups by metric, sorts each group
// by chunk index and concatenates values and timestamps. A metric whose
// chunks fail to parse is skipped with a log line; the other metrics still
// aggregate.
func (b *Buffer) Aggregate() (map[string]Aggregated, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("list chunk dir: %w", err)
	}

	chunksByMetric := make(map[string][]Chunk)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "chunk_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		c, err := readChunk(filepath.Join(b.dir, name))
		if err != nil {
			b.logger.Printf("Buffer: skipping unreadable chunk %s: %v", name, err)
			continue
		}
		chunksByMetric[c.Metric] = append(chunksByMetric[c.Metric], c)
	}

	out := make(map[string]Aggregated, len(chunksByMetric))
	for metric, chunks := range chunksByMetric {
		sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })

		agg := Aggregated{
			Metric:     metric,
			DataType:   chunks[0].DataType,
			ChunkCount: len(chunks),
		}
		for _, c := range chunks {
			agg.Values = append(agg.Values, c.Values...)
			agg.Timestamps = append(agg.Timestamps, c.Timestamps...)
			agg.SampleCount += c.SampleCount
		}
		if agg.DataType == DataTypeNumeric && len(agg.Values) > 0 {
			agg.Stats = summarize(agg.Values)
		}
		out[metric] = agg
	}
	return out, nil
}

func summarize(values []float64) *Stats {
	s := &Stats{Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		sum += v
	}
	s.Avg = sum / float64(len(values))
	return s
}

// SweepOrphans removes session chunk directories under root whose last
// modification is older than cutoff. Run at startup to clear directories
// left behind by crashed runs.
func SweepOrphans(root string, cutoff time.Time, logger *log.Logger) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list session root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(root, e.Name())
			if err := os.RemoveAll(path); err != nil {
				logger.Printf("SweepOrphans: failed to remove %s: %v", path, err)
				continue
			}
			logger.Printf("SweepOrphans: removed orphaned session dir %s", path)
		}
	}
	return nil
}

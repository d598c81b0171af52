package stream

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velotrace/recorder/internal/telemetry"
)

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestBuffer(t *testing.T) *Buffer {
	t.Helper()
	b, err := NewBuffer(filepath.Join(t.TempDir(), "session"), testLogger())
	require.NoError(t, err)
	return b
}

func addHeartRate(b *Buffer, base time.Time, values ...float64) {
	for i, v := range values {
		b.Add(telemetry.Reading{
			Metric: telemetry.MetricHeartRate,
			Value:  v,
			Time:   base.Add(time.Duration(i) * time.Second),
		})
	}
}

func TestBuffer_FlushWritesChunkAndClearsBucket(t *testing.T) {
	b := newTestBuffer(t)
	addHeartRate(b, t0, 140, 142, 144)

	require.Equal(t, 3, b.PendingCount("heart_rate"))
	require.NoError(t, b.Flush())

	assert.Equal(t, 0, b.PendingCount("heart_rate"))
	assert.Equal(t, 3, b.PersistedCount())

	c, err := readChunk(filepath.Join(b.Dir(), "chunk_00000_heart_rate.json"))
	require.NoError(t, err)
	assert.Equal(t, "heart_rate", c.Metric)
	assert.Equal(t, DataTypeNumeric, c.DataType)
	assert.Equal(t, []float64{140, 142, 144}, c.Values)
	assert.Equal(t, 3, c.SampleCount)
	assert.Equal(t, t0.UnixMilli(), c.StartTime)
	assert.Equal(t, t0.Add(2*time.Second).UnixMilli(), c.EndTime)
	assert.Equal(t, 0, c.Index)
}

func TestBuffer_EmptyBucketsNotFlushed(t *testing.T) {
	b := newTestBuffer(t)
	require.NoError(t, b.Flush())

	entries, err := os.ReadDir(b.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuffer_ChunkIndicesContiguous(t *testing.T) {
	b := newTestBuffer(t)

	for flush := 0; flush < 4; flush++ {
		addHeartRate(b, t0.Add(time.Duration(flush)*time.Minute), 140, 141)
		require.NoError(t, b.Flush())
	}

	for i := 0; i < 4; i++ {
		_, err := os.Stat(filepath.Join(b.Dir(), chunkFileName(i, "heart_rate")))
		assert.NoError(t, err, "chunk %d should exist", i)
	}
}

func TestBuffer_WriteFailureRetainsData(t *testing.T) {
	b := newTestBuffer(t)
	addHeartRate(b, t0, 140, 142, 144)

	failing := errors.New("disk unavailable")
	b.writeFile = func(string, []byte, os.FileMode) error { return failing }

	err := b.Flush()
	require.Error(t, err)
	assert.ErrorIs(t, err, failing)

	// No data loss: the pre-flush in-memory count is unchanged.
	assert.Equal(t, 3, b.PendingCount("heart_rate"))
	assert.Equal(t, 0, b.PersistedCount())

	// Next flush with a healthy writer succeeds and uses the same index.
	b.writeFile = os.WriteFile
	require.NoError(t, b.Flush())
	assert.Equal(t, 0, b.PendingCount("heart_rate"))
	_, statErr := os.Stat(filepath.Join(b.Dir(), chunkFileName(0, "heart_rate")))
	assert.NoError(t, statErr)
}

func TestBuffer_FailureOnOneMetricDoesNotBlockOthers(t *testing.T) {
	b := newTestBuffer(t)
	addHeartRate(b, t0, 140)
	b.Add(telemetry.Reading{Metric: telemetry.MetricPower, Value: 250, Time: t0})

	b.writeFile = func(name string, data []byte, perm os.FileMode) error {
		if filepath.Base(name) == chunkFileName(0, "heart_rate") {
			return errors.New("boom")
		}
		return os.WriteFile(name, data, perm)
	}

	err := b.Flush()
	require.Error(t, err)
	assert.Equal(t, 1, b.PendingCount("heart_rate"))
	assert.Equal(t, 0, b.PendingCount("power"))
	assert.Equal(t, 1, b.PersistedCount())
}

func TestBuffer_LocationSplitsAltitude(t *testing.T) {
	b := newTestBuffer(t)
	b.AddLocation(telemetry.Location{Latitude: 47.6, Longitude: -122.3, Altitude: 80, HasAlt: true, Time: t0})
	b.AddLocation(telemetry.Location{Latitude: 47.7, Longitude: -122.4, Time: t0.Add(time.Second)})

	require.NoError(t, b.Flush())

	pos, err := readChunk(filepath.Join(b.Dir(), chunkFileName(0, StreamLatLng)))
	require.NoError(t, err)
	assert.Equal(t, DataTypeLatLng, pos.DataType)
	assert.Equal(t, []float64{47.6, -122.3, 47.7, -122.4}, pos.Values)
	assert.Equal(t, 2, pos.SampleCount)

	alt, err := readChunk(filepath.Join(b.Dir(), chunkFileName(0, "altitude")))
	require.NoError(t, err)
	assert.Equal(t, DataTypeNumeric, alt.DataType)
	assert.Equal(t, []float64{80}, alt.Values)
}

func TestBuffer_AggregateConcatenatesInIndexOrder(t *testing.T) {
	b := newTestBuffer(t)

	var wantTotal int
	for flush := 0; flush < 3; flush++ {
		base := t0.Add(time.Duration(flush) * time.Minute)
		vals := []float64{float64(100 + flush), float64(200 + flush)}
		addHeartRate(b, base, vals...)
		wantTotal += len(vals)
		require.NoError(t, b.Flush())
	}

	aggs, err := b.Aggregate()
	require.NoError(t, err)

	hr, ok := aggs["heart_rate"]
	require.True(t, ok)
	assert.Equal(t, wantTotal, hr.SampleCount)
	assert.Equal(t, 3, hr.ChunkCount)
	assert.Equal(t, []float64{100, 200, 101, 201, 102, 202}, hr.Values)

	// Timestamps stay sorted because chunks concatenate in index order.
	for i := 1; i < len(hr.Timestamps); i++ {
		assert.LessOrEqual(t, hr.Timestamps[i-1], hr.Timestamps[i])
	}

	require.NotNil(t, hr.Stats)
	assert.Equal(t, 100.0, hr.Stats.Min)
	assert.Equal(t, 202.0, hr.Stats.Max)
	assert.InDelta(t, 151.0, hr.Stats.Avg, 1e-9)
}

func TestBuffer_AggregateOmitsStatsForPositions(t *testing.T) {
	b := newTestBuffer(t)
	b.AddLocation(telemetry.Location{Latitude: 1, Longitude: 2, Time: t0})
	require.NoError(t, b.Flush())

	aggs, err := b.Aggregate()
	require.NoError(t, err)
	pos := aggs[StreamLatLng]
	assert.Nil(t, pos.Stats)
	assert.Equal(t, 1, pos.SampleCount)
}

func TestBuffer_AggregateToleratesCorruptChunk(t *testing.T) {
	b := newTestBuffer(t)
	addHeartRate(b, t0, 140)
	b.Add(telemetry.Reading{Metric: telemetry.MetricPower, Value: 250, Time: t0})
	require.NoError(t, b.Flush())

	// Corrupt the heart-rate chunk on disk.
	path := filepath.Join(b.Dir(), chunkFileName(0, "heart_rate"))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	aggs, err := b.Aggregate()
	require.NoError(t, err)
	_, hasHR := aggs["heart_rate"]
	assert.False(t, hasHR)
	power, hasPower := aggs["power"]
	require.True(t, hasPower)
	assert.Equal(t, 1, power.SampleCount)
}

func TestBuffer_Cleanup(t *testing.T) {
	b := newTestBuffer(t)
	addHeartRate(b, t0, 140)
	require.NoError(t, b.Flush())

	require.NoError(t, b.Cleanup())
	_, err := os.Stat(b.Dir())
	assert.True(t, os.IsNotExist(err))
}

func TestSweepOrphans(t *testing.T) {
	root := t.TempDir()
	oldDir := filepath.Join(root, "session_old")
	newDir := filepath.Join(root, "session_new")
	require.NoError(t, os.MkdirAll(oldDir, 0755))
	require.NoError(t, os.MkdirAll(newDir, 0755))

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldDir, past, past))

	require.NoError(t, SweepOrphans(root, time.Now().Add(-time.Hour), testLogger()))

	_, err := os.Stat(oldDir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(newDir)
	assert.NoError(t, err)
}

func TestSweepOrphans_MissingRootIsNoop(t *testing.T) {
	assert.NoError(t, SweepOrphans(filepath.Join(t.TempDir(), "nope"), time.Now(), testLogger()))
}

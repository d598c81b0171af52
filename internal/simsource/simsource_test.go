package simsource

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velotrace/recorder/internal/telemetry"
)

type captureSink struct {
	readings  []telemetry.Reading
	locations []telemetry.Location
}

func (c *captureSink) Ingest(r telemetry.Reading)            { c.readings = append(c.readings, r) }
func (c *captureSink) IngestLocation(l telemetry.Location)   { c.locations = append(c.locations, l) }

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestSource_EmitProducesAllMetrics(t *testing.T) {
	sink := &captureSink{}
	s := NewSource(Config{Seed: 1}, sink, testLogger())

	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		s.Emit(now.Add(time.Duration(i) * time.Second))
	}

	require.Len(t, sink.readings, 240, "4 readings per emit")
	require.Len(t, sink.locations, 60)

	seen := map[telemetry.Metric]int{}
	for _, r := range sink.readings {
		seen[r.Metric]++
		assert.True(t, telemetry.InBounds(r.Metric, r.Value),
			"%s=%v must stay within sensor bounds", r.Metric, r.Value)
	}
	assert.Equal(t, 60, seen[telemetry.MetricPower])
	assert.Equal(t, 60, seen[telemetry.MetricHeartRate])
	assert.Equal(t, 60, seen[telemetry.MetricCadence])
	assert.Equal(t, 60, seen[telemetry.MetricSpeed])
}

func TestSource_DeterministicForSeed(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	run := func() []telemetry.Reading {
		sink := &captureSink{}
		s := NewSource(Config{Seed: 42}, sink, testLogger())
		for i := 0; i < 10; i++ {
			s.Emit(now.Add(time.Duration(i) * time.Second))
		}
		return sink.readings
	}

	assert.Equal(t, run(), run())
}

func TestSource_LocationDrifts(t *testing.T) {
	sink := &captureSink{}
	s := NewSource(Config{Seed: 1}, sink, testLogger())

	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	s.Emit(now)
	s.Emit(now.Add(time.Second))

	require.Len(t, sink.locations, 2)
	assert.Greater(t, sink.locations[1].Latitude, sink.locations[0].Latitude)
	assert.Greater(t, sink.locations[1].Longitude, sink.locations[0].Longitude)
	assert.True(t, sink.locations[0].HasAlt)
}

func TestSource_ShutdownIdempotent(t *testing.T) {
	s := NewSource(Config{Interval: 10 * time.Millisecond}, &captureSink{}, testLogger())
	s.Start()
	s.Shutdown()
	s.Shutdown()
}

// Package simsource provides a simulated rider: a deterministic sensor and
// location source for demos and tests without real hardware.
package simsource

import (
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/velotrace/recorder/internal/safego"
	"github.com/velotrace/recorder/internal/telemetry"
)

// Sink receives the simulated readings; the recording controller's ingestion
// surface satisfies it.
type Sink interface {
	Ingest(telemetry.Reading)
	IngestLocation(telemetry.Location)
}

// Config shapes the simulated rider. Zero values take the defaults below.
type Config struct {
	Interval     time.Duration
	BasePowerW   float64
	BaseHR       float64
	BaseCadence  float64
	BaseSpeedMps float64
	StartLat     float64
	StartLon     float64
	Seed         int64
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.BasePowerW == 0 {
		c.BasePowerW = 210
	}
	if c.BaseHR == 0 {
		c.BaseHR = 145
	}
	if c.BaseCadence == 0 {
		c.BaseCadence = 90
	}
	if c.BaseSpeedMps == 0 {
		c.BaseSpeedMps = 8.3
	}
	if c.StartLat == 0 && c.StartLon == 0 {
		c.StartLat, c.StartLon = 47.6062, -122.3321
	}
	return c
}

// Source emits one batch of readings per interval: power and cadence on a
// slow sinusoid with jitter, heart rate trailing power, speed following
// power, and a location fix drifting along the heading.
type Source struct {
	cfg    Config
	sink   Sink
	logger *log.Logger

	mu   sync.Mutex
	rng  *rand.Rand
	step int
	lat  float64
	lon  float64
	hr   float64

	doneChan     chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
	started      bool
}

// NewSource creates a stopped source. Panics if sink or logger is nil.
func NewSource(cfg Config, sink Sink, logger *log.Logger) *Source {
	if sink == nil {
		panic("Source: sink cannot be nil")
	}
	if logger == nil {
		panic("Source: logger cannot be nil")
	}
	cfg = cfg.withDefaults()
	return &Source{
		cfg:      cfg,
		sink:     sink,
		logger:   logger,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		lat:      cfg.StartLat,
		lon:      cfg.StartLon,
		hr:       cfg.BaseHR,
		doneChan: make(chan struct{}),
	}
}

// Start begins emitting on the configured interval.
func (s *Source) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Printf("Source: simulated rider starting (interval %s)", s.cfg.Interval)
	s.wg.Add(1)
	safego.Go(s.logger, func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.doneChan:
				return
			case now := <-ticker.C:
				s.Emit(now)
			}
		}
	})
}

// Emit pushes one batch of readings stamped at now. Exposed so callers can
// drive the source on their own clock.
func (s *Source) Emit(now time.Time) {
	s.mu.Lock()
	s.step++
	t := float64(s.step)

	power := s.cfg.BasePowerW + 30*math.Sin(t/45) + s.rng.Float64()*10 - 5
	if power < 0 {
		power = 0
	}
	cadence := s.cfg.BaseCadence + 4*math.Sin(t/30) + s.rng.Float64()*2 - 1
	// Heart rate drifts toward the effort rather than jumping.
	targetHR := s.cfg.BaseHR + (power-s.cfg.BasePowerW)*0.2
	s.hr += (targetHR - s.hr) * 0.1
	hr := s.hr
	speed := s.cfg.BaseSpeedMps * (0.85 + 0.3*(power/s.cfg.BasePowerW)/2)

	// Drift roughly north-east; one degree of latitude is ~111 km.
	s.lat += speed * float64(s.cfg.Interval) / float64(time.Second) / 111000 * 0.7
	s.lon += speed * float64(s.cfg.Interval) / float64(time.Second) / 111000 * 0.7
	lat, lon := s.lat, s.lon
	s.mu.Unlock()

	for _, r := range []telemetry.Reading{
		{Metric: telemetry.MetricPower, Value: math.Round(power), Time: now},
		{Metric: telemetry.MetricHeartRate, Value: math.Round(hr), Time: now},
		{Metric: telemetry.MetricCadence, Value: math.Round(cadence), Time: now},
		{Metric: telemetry.MetricSpeed, Value: speed, Time: now},
	} {
		s.sink.Ingest(r)
	}
	s.sink.IngestLocation(telemetry.Location{
		Latitude:  lat,
		Longitude: lon,
		Altitude:  56,
		HasAlt:    true,
		Accuracy:  3,
		Time:      now,
	})
}

// Shutdown stops the source. Safe to call multiple times.
func (s *Source) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.doneChan)
		s.wg.Wait()
		s.logger.Printf("Source: simulated rider stopped")
	})
}

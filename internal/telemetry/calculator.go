package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/velotrace/recorder/internal/events"
)

const (
	// Rolling window sizing shared by all metrics.
	windowMaxAge     = 5 * time.Minute
	windowMaxSamples = 1200

	// Snapshot notifications are coalesced to at most one per this interval,
	// independent of the raw ingestion rate.
	notifyMinInterval = 100 * time.Millisecond

	// Below this speed the rider counts as stopped unless power says otherwise.
	movingSpeedFloor = 0.5 // m/s

	// A latest value older than this is not used for moving/zone decisions.
	freshnessWindow = 5 * time.Second

	// Derived load estimates stay hidden until this much time has elapsed.
	advancedMinElapsed = 5 * time.Minute

	npSampleCount = 30
	npScale       = 1.05
)

// Profile carries the optional athlete configuration consumed by the
// calculator. Zero values mean unset and degrade derived-metric
// availability, never the recording itself.
type Profile struct {
	FTPWatts     float64
	ThresholdHR  float64
	BodyWeightKg float64
}

// RawSink receives every accepted raw reading, ahead of any aggregation.
// The durable stream buffer implements this.
type RawSink interface {
	Add(Reading)
	AddLocation(Location)
}

type powerHRPair struct {
	power float64
	hr    float64
}

// Calculator consumes validated readings, drives the per-metric rolling
// windows and produces the per-second LiveMetrics snapshot.
type Calculator struct {
	logger  *log.Logger
	profile Profile
	sink    RawSink
	updates *events.Topic[LiveMetrics]

	mu       sync.Mutex
	windows  map[Metric]*RollingWindow
	latest   map[Metric]Sample
	sums     map[Metric]float64
	counts   map[Metric]int
	maxima   map[Metric]float64
	elapsed  time.Duration
	moving   time.Duration
	distance float64

	hrZoneTime    [HRZoneCount]time.Duration
	powerZoneTime [PowerZoneCount]time.Duration

	pairs []powerHRPair

	lastTick   time.Time
	lastNotify time.Time
	dropped    int
}

// NewCalculator creates a calculator. sink may be nil when raw persistence is
// not wanted (tests).
func NewCalculator(profile Profile, sink RawSink, logger *log.Logger) *Calculator {
	if logger == nil {
		panic("Calculator: logger cannot be nil")
	}
	return &Calculator{
		logger:  logger,
		profile: profile,
		sink:    sink,
		updates: events.NewTopic[LiveMetrics](true),
		windows: make(map[Metric]*RollingWindow),
		latest:  make(map[Metric]Sample),
		sums:    make(map[Metric]float64),
		counts:  make(map[Metric]int),
		maxima:  make(map[Metric]float64),
	}
}

// Updates is the coalesced snapshot topic; at most one notification per
// notifyMinInterval regardless of ingestion rate.
func (c *Calculator) Updates() *events.Topic[LiveMetrics] {
	return c.updates
}

// Start marks the beginning of active time accumulation.
func (c *Calculator) Start(now time.Time) {
	c.mu.Lock()
	c.lastTick = now
	c.mu.Unlock()
}

// Resume re-bases the tick clock after a pause so paused wall time is not
// accumulated.
func (c *Calculator) Resume(now time.Time) {
	c.Start(now)
}

// Ingest validates and absorbs one sensor reading. Out-of-range readings are
// dropped and logged, never propagated.
func (c *Calculator) Ingest(r Reading) {
	if !InBounds(r.Metric, r.Value) {
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		c.logger.Printf("Calculator: dropping out-of-range %s reading %.1f", r.Metric, r.Value)
		return
	}

	c.mu.Lock()
	w, ok := c.windows[r.Metric]
	if !ok {
		w = NewRollingWindow(windowMaxAge, windowMaxSamples)
		c.windows[r.Metric] = w
	}
	w.Append(r.Value, r.Time)
	c.latest[r.Metric] = Sample{Value: r.Value, Time: r.Time}
	c.sums[r.Metric] += r.Value
	c.counts[r.Metric]++
	if r.Value > c.maxima[r.Metric] {
		c.maxima[r.Metric] = r.Value
	}
	if r.Metric == MetricDistance && r.Value > c.distance {
		c.distance = r.Value
	}
	notify, snap := c.maybeSnapshotLocked(r.Time)
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.Add(r)
	}
	if notify {
		c.updates.Publish(snap)
	}
}

// IngestLocation absorbs one GPS fix. The fix itself flows to the raw sink;
// an altitude carried by the fix also feeds the altitude metric.
func (c *Calculator) IngestLocation(loc Location) {
	if loc.HasAlt && InBounds(MetricAltitude, loc.Altitude) {
		c.mu.Lock()
		w, ok := c.windows[MetricAltitude]
		if !ok {
			w = NewRollingWindow(windowMaxAge, windowMaxSamples)
			c.windows[MetricAltitude] = w
		}
		w.Append(loc.Altitude, loc.Time)
		c.latest[MetricAltitude] = Sample{Value: loc.Altitude, Time: loc.Time}
		c.sums[MetricAltitude] += loc.Altitude
		c.counts[MetricAltitude]++
		if loc.Altitude > c.maxima[MetricAltitude] {
			c.maxima[MetricAltitude] = loc.Altitude
		}
		c.mu.Unlock()
	}
	if c.sink != nil {
		c.sink.AddLocation(loc)
	}
}

// Tick advances active time by the interval since the previous tick and
// recomputes the snapshot. Call once per second while recording (not while
// paused); the returned snapshot backs the timeUpdated event.
func (c *Calculator) Tick(now time.Time) LiveMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastTick.IsZero() {
		c.lastTick = now
		return c.snapshotLocked()
	}
	dt := now.Sub(c.lastTick)
	if dt <= 0 {
		return c.snapshotLocked()
	}
	c.lastTick = now
	c.elapsed += dt

	speed, speedFresh := c.freshLocked(MetricSpeed, now)
	power, powerFresh := c.freshLocked(MetricPower, now)

	moving := true
	if speedFresh && speed <= movingSpeedFloor && !(powerFresh && power > 0) {
		moving = false
	}
	if moving {
		c.moving += dt
	}
	if speedFresh {
		c.distance += speed * dt.Seconds()
	}

	// Zone-time accumulation: the whole tick is charged to the bucket the
	// current value falls in, switching buckets on threshold crossing.
	if hr, ok := c.freshLocked(MetricHeartRate, now); ok {
		c.hrZoneTime[HRZoneIndex(hr, c.profile.ThresholdHR)] += dt
	}
	if powerFresh {
		c.powerZoneTime[PowerZoneIndex(power, c.profile.FTPWatts)] += dt
	}

	if powerFresh {
		if hr, ok := c.freshLocked(MetricHeartRate, now); ok {
			c.pairs = append(c.pairs, powerHRPair{power: power, hr: hr})
		}
	}

	return c.snapshotLocked()
}

// TrimWindows drops window samples older than the rolling window span.
// Driven by the low-frequency cadence.
func (c *Calculator) TrimWindows(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := now.Add(-windowMaxAge)
	for _, w := range c.windows {
		w.TrimBefore(cutoff)
	}
}

// Snapshot returns a read-only copy of the current live metrics.
func (c *Calculator) Snapshot() LiveMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// DroppedCount returns how many readings validation rejected.
func (c *Calculator) DroppedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// freshLocked returns the latest value for metric if it is recent enough to
// base per-tick decisions on. Must be called with mu held.
func (c *Calculator) freshLocked(metric Metric, now time.Time) (float64, bool) {
	s, ok := c.latest[metric]
	if !ok || now.Sub(s.Time) > freshnessWindow {
		return 0, false
	}
	return s.Value, true
}

// maybeSnapshotLocked decides whether an update notification is due.
// Must be called with mu held.
func (c *Calculator) maybeSnapshotLocked(at time.Time) (bool, LiveMetrics) {
	if !c.lastNotify.IsZero() && at.Sub(c.lastNotify) < notifyMinInterval {
		return false, LiveMetrics{}
	}
	c.lastNotify = at
	return true, c.snapshotLocked()
}

// snapshotLocked builds the LiveMetrics copy. Must be called with mu held.
func (c *Calculator) snapshotLocked() LiveMetrics {
	snap := LiveMetrics{
		Elapsed:       c.elapsed,
		Moving:        c.moving,
		DistanceM:     c.distance,
		Latest:        make(map[Metric]float64, len(c.latest)),
		Averages:      make(map[Metric]float64, len(c.sums)),
		Maxima:        make(map[Metric]float64, len(c.maxima)),
		HRZoneTime:    c.hrZoneTime,
		PowerZoneTime: c.powerZoneTime,
	}
	for m, s := range c.latest {
		snap.Latest[m] = s.Value
	}
	for m, sum := range c.sums {
		if n := c.counts[m]; n > 0 {
			snap.Averages[m] = sum / float64(n)
		}
	}
	for m, v := range c.maxima {
		snap.Maxima[m] = v
	}

	avgPower := snap.Averages[MetricPower]
	if c.elapsed < advancedMinElapsed || avgPower <= 0 {
		return snap
	}
	snap.AdvancedAvailable = true

	if w, ok := c.windows[MetricPower]; ok {
		if mean, ok := w.AverageLast(npSampleCount); ok {
			snap.NormalizedPower = mean * npScale
		}
	}
	if snap.NormalizedPower == 0 {
		snap.NormalizedPower = avgPower
	}
	snap.VariabilityIndex = snap.NormalizedPower / avgPower
	if c.profile.FTPWatts > 0 {
		snap.IntensityFactor = snap.NormalizedPower / c.profile.FTPWatts
		snap.TrainingStress = c.elapsed.Seconds() * snap.NormalizedPower * snap.IntensityFactor /
			(c.profile.FTPWatts * 36)
	}
	if avgHR := snap.Averages[MetricHeartRate]; avgHR > 0 {
		snap.EfficiencyFactor = snap.NormalizedPower / avgHR
	}
	snap.DecouplingPct = decoupling(c.pairs)
	return snap
}

// decoupling compares the power:heart-rate ratio of the first half of the
// session against the second half, as a percentage drift.
func decoupling(pairs []powerHRPair) float64 {
	if len(pairs) < 4 {
		return 0
	}
	half := len(pairs) / 2
	ef1 := pairEfficiency(pairs[:half])
	ef2 := pairEfficiency(pairs[half:])
	if ef1 == 0 || ef2 == 0 {
		return 0
	}
	return (ef1/ef2 - 1) * 100
}

func pairEfficiency(pairs []powerHRPair) float64 {
	var pSum, hSum float64
	for _, p := range pairs {
		pSum += p.power
		hSum += p.hr
	}
	if hSum == 0 {
		return 0
	}
	return pSum / hSum
}

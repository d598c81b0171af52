package recorder

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/velotrace/recorder/internal/fitfile"
	"github.com/velotrace/recorder/internal/stream"
	"github.com/velotrace/recorder/internal/telemetry"
)

// FIT identity written into every activity file. 255 is the reserved
// development manufacturer number.
const (
	fitManufacturer = 255
	fitProduct      = 1
)

// Finish ends the recording: final flush, validation, read-back aggregation,
// FIT encoding, metadata completion, chunk cleanup and the terminal state
// transition. Validation and encode failures leave the state untouched so
// the caller may retry; recordingComplete fires exactly once, on success.
func (c *Controller) Finish() error {
	c.finishMu.Lock()
	defer c.finishMu.Unlock()

	c.mu.Lock()
	switch c.state {
	case StateRecording, StatePaused:
	case StateFinished:
		c.mu.Unlock()
		return ErrFinished
	default:
		c.mu.Unlock()
		return ErrNotRecording
	}
	calc := c.calc
	buffer := c.buffer
	meta := c.meta
	timerEvents := append([]timerEvent(nil), c.timerEvents...)
	c.mu.Unlock()

	now := c.cfg.Now()

	if err := buffer.Flush(); err != nil {
		err = fmt.Errorf("final flush: %w", err)
		c.errs.Publish(err)
		return err
	}

	snap := calc.Snapshot()
	if snap.Elapsed < c.cfg.MinDuration {
		err := fmt.Errorf("%w: %s elapsed, need %s", ErrSessionTooShort, snap.Elapsed, c.cfg.MinDuration)
		c.errs.Publish(err)
		return err
	}
	if buffer.PersistedCount() == 0 {
		c.errs.Publish(ErrNoPersistedData)
		return ErrNoPersistedData
	}

	aggs, err := buffer.Aggregate()
	if err != nil {
		err = fmt.Errorf("aggregate chunks: %w", err)
		c.errs.Publish(err)
		return err
	}

	path, err := c.encodeActivity(aggs, snap, meta, timerEvents, now)
	if err != nil {
		err = fmt.Errorf("encode activity: %w", err)
		c.errs.Publish(err)
		return err
	}

	if err := buffer.Cleanup(); err != nil {
		c.logger.Printf("Controller: chunk cleanup failed: %v", err)
	}

	c.mu.Lock()
	c.meta.EndedAt = &now
	c.meta.ActivityFilePath = path
	meta = c.meta
	for _, cancel := range c.progCancels {
		cancel()
	}
	c.progCancels = nil
	tr := c.setStateLocked(StateFinished, now)
	c.mu.Unlock()

	c.stateChanges.Publish(tr)
	c.send(cmdFinish)
	c.complete.Publish(Summary{Metadata: meta, Metrics: snap, FilePath: path})
	c.logger.Printf("Controller: recording complete, activity file %s", path)
	return nil
}

// encodeActivity builds a fresh encoder and writes the whole session:
// file_id, one device_info per active sensor, timer events interleaved with
// the per-second records read back from the chunk store, and the session
// summary. A fresh encoder per attempt keeps retries clean after a failure.
func (c *Controller) encodeActivity(
	aggs map[string]stream.Aggregated,
	snap telemetry.LiveMetrics,
	meta RecordingMetadata,
	timerEvents []timerEvent,
	endedAt time.Time,
) (string, error) {
	enc := fitfile.NewEncoder(c.logger, c.cfg.SettleDelay)
	serial := uint32(meta.StartedAt.Unix())

	if err := enc.WriteFileID(fitfile.FileID{
		Manufacturer: fitManufacturer,
		Product:      fitProduct,
		SerialNumber: serial,
		TimeCreated:  meta.StartedAt,
	}); err != nil {
		return "", err
	}

	for i, name := range c.activeSensors() {
		if err := enc.AddDeviceInfo(fitfile.DeviceInfo{
			DeviceIndex:  uint8(i),
			Manufacturer: fitManufacturer,
			Product:      fitProduct,
			SerialNumber: serial + uint32(i) + 1,
			Timestamp:    meta.StartedAt,
		}); err != nil {
			return "", fmt.Errorf("device_info %s: %w", name, err)
		}
	}

	if err := enc.StartTimer(meta.StartedAt); err != nil {
		return "", err
	}

	rows := buildRows(aggs)
	ei := 0
	for _, r := range rows {
		// Pauses apply strictly before a record's timestamp; resumes apply at
		// or before it, so a record stamped at the resume instant lands after
		// the timer restarts.
		for ei < len(timerEvents) && eventDue(timerEvents[ei], r.Timestamp) {
			if err := applyTimerEvent(enc, timerEvents[ei]); err != nil {
				return "", err
			}
			ei++
		}
		if err := enc.AddRecord(r); err != nil {
			return "", fmt.Errorf("record at %s: %w", r.Timestamp.Format(time.RFC3339), err)
		}
	}
	for ; ei < len(timerEvents); ei++ {
		if err := applyTimerEvent(enc, timerEvents[ei]); err != nil {
			return "", err
		}
	}

	if err := enc.StopTimer(endedAt); err != nil {
		return "", err
	}

	if err := enc.WriteSession(fitfile.Session{
		StartTime:       meta.StartedAt,
		EndTime:         endedAt,
		Sport:           fitfile.SportCycling,
		TotalElapsed:    endedAt.Sub(meta.StartedAt),
		TotalTimer:      snap.Elapsed,
		DistanceM:       snap.DistanceM,
		AvgSpeedMps:     snap.Averages[telemetry.MetricSpeed],
		MaxSpeedMps:     snap.Maxima[telemetry.MetricSpeed],
		AvgHeartRate:    snap.Averages[telemetry.MetricHeartRate],
		MaxHeartRate:    snap.Maxima[telemetry.MetricHeartRate],
		AvgCadence:      snap.Averages[telemetry.MetricCadence],
		AvgPowerW:       snap.Averages[telemetry.MetricPower],
		MaxPowerW:       snap.Maxima[telemetry.MetricPower],
		NormalizedPower: snap.NormalizedPower,
		TrainingStress:  snap.TrainingStress,
		IntensityFactor: snap.IntensityFactor,
	}); err != nil {
		return "", err
	}

	path := filepath.Join(c.cfg.DataDir, "activities",
		fmt.Sprintf("activity_%d.fit", meta.StartedAt.UnixMilli()))
	return enc.Finalize(path)
}

func eventDue(ev timerEvent, recordAt time.Time) bool {
	if ev.kind == timerPause {
		return ev.at.Before(recordAt)
	}
	return !ev.at.After(recordAt)
}

func applyTimerEvent(enc *fitfile.Encoder, ev timerEvent) error {
	switch ev.kind {
	case timerPause:
		return enc.AddPause(ev.at)
	case timerResume:
		return enc.AddResume(ev.at)
	default:
		return nil
	}
}

func (c *Controller) activeSensors() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := make([]string, 0, len(c.sensorsSeen))
	for m := range c.sensorsSeen {
		list = append(list, string(m))
	}
	sort.Strings(list)
	return list
}

// buildRows merges the aggregated per-metric streams into per-second record
// rows. Rows are keyed by epoch second; when no distance stream was
// recorded, cumulative distance is integrated from speed.
func buildRows(aggs map[string]stream.Aggregated) []fitfile.Record {
	rows := make(map[int64]*fitfile.Record)
	rowFor := func(ms int64) *fitfile.Record {
		sec := ms / 1000
		r, ok := rows[sec]
		if !ok {
			r = &fitfile.Record{Timestamp: time.Unix(sec, 0).UTC()}
			rows[sec] = r
		}
		return r
	}

	for name, agg := range aggs {
		if name == stream.StreamLatLng {
			for i := 0; i < len(agg.Timestamps) && 2*i+1 < len(agg.Values); i++ {
				r := rowFor(agg.Timestamps[i])
				lat, lon := agg.Values[2*i], agg.Values[2*i+1]
				r.Lat, r.Lon = &lat, &lon
			}
			continue
		}
		for i := 0; i < len(agg.Values) && i < len(agg.Timestamps); i++ {
			v := agg.Values[i]
			r := rowFor(agg.Timestamps[i])
			switch telemetry.Metric(name) {
			case telemetry.MetricHeartRate:
				r.HeartRate = &v
			case telemetry.MetricPower:
				r.PowerW = &v
			case telemetry.MetricCadence:
				r.Cadence = &v
			case telemetry.MetricSpeed:
				r.SpeedMps = &v
			case telemetry.MetricAltitude:
				r.AltitudeM = &v
			case telemetry.MetricTemperature:
				r.Temperature = &v
			case telemetry.MetricDistance:
				r.DistanceM = &v
			}
		}
	}

	out := make([]fitfile.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	if _, hasDistance := aggs[string(telemetry.MetricDistance)]; !hasDistance {
		var cum float64
		var prev time.Time
		for i := range out {
			if out[i].SpeedMps != nil && !prev.IsZero() {
				cum += *out[i].SpeedMps * out[i].Timestamp.Sub(prev).Seconds()
			}
			prev = out[i].Timestamp
			d := cum
			out[i].DistanceM = &d
		}
	}
	return out
}

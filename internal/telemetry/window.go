package telemetry

import (
	"time"
)

// RollingWindow is a fixed-duration in-memory time series for one metric.
// Samples older than the configured age, or beyond the capacity, are evicted
// on append or trim. The window owns its samples; callers get copies.
type RollingWindow struct {
	maxAge     time.Duration
	maxSamples int
	samples    []Sample
}

// NewRollingWindow creates a window keeping at most maxSamples samples no
// older than maxAge.
func NewRollingWindow(maxAge time.Duration, maxSamples int) *RollingWindow {
	if maxAge <= 0 {
		panic("telemetry: window maxAge must be positive")
	}
	if maxSamples <= 0 {
		panic("telemetry: window maxSamples must be positive")
	}
	return &RollingWindow{
		maxAge:     maxAge,
		maxSamples: maxSamples,
		samples:    make([]Sample, 0, maxSamples),
	}
}

// Append adds a sample and evicts anything outside the window.
func (w *RollingWindow) Append(value float64, at time.Time) {
	w.samples = append(w.samples, Sample{Value: value, Time: at})
	w.TrimBefore(at.Add(-w.maxAge))
	if over := len(w.samples) - w.maxSamples; over > 0 {
		w.samples = w.samples[over:]
	}
}

// Latest returns the most recent sample, if any.
func (w *RollingWindow) Latest() (Sample, bool) {
	if len(w.samples) == 0 {
		return Sample{}, false
	}
	return w.samples[len(w.samples)-1], true
}

// Average returns the mean of all samples newer than the given span, counted
// back from the newest sample. A zero span averages the whole window.
func (w *RollingWindow) Average(span time.Duration) (float64, bool) {
	slice := w.Slice(span)
	if len(slice) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range slice {
		sum += s.Value
	}
	return sum / float64(len(slice)), true
}

// AverageLast returns the mean of the newest n samples.
func (w *RollingWindow) AverageLast(n int) (float64, bool) {
	if len(w.samples) == 0 || n <= 0 {
		return 0, false
	}
	if n > len(w.samples) {
		n = len(w.samples)
	}
	var sum float64
	for _, s := range w.samples[len(w.samples)-n:] {
		sum += s.Value
	}
	return sum / float64(n), true
}

// Slice returns a copy of the samples newer than the given span, counted back
// from the newest sample. A zero span copies the whole window.
func (w *RollingWindow) Slice(span time.Duration) []Sample {
	if len(w.samples) == 0 {
		return nil
	}
	cutoff := time.Time{}
	if span > 0 {
		cutoff = w.samples[len(w.samples)-1].Time.Add(-span)
	}
	start := 0
	for start < len(w.samples) && w.samples[start].Time.Before(cutoff) {
		start++
	}
	out := make([]Sample, len(w.samples)-start)
	copy(out, w.samples[start:])
	return out
}

// TrimBefore drops samples older than t.
func (w *RollingWindow) TrimBefore(t time.Time) {
	start := 0
	for start < len(w.samples) && w.samples[start].Time.Before(t) {
		start++
	}
	if start > 0 {
		w.samples = append(w.samples[:0], w.samples[start:]...)
	}
}

// Len returns the number of samples currently held.
func (w *RollingWindow) Len() int {
	return len(w.samples)
}

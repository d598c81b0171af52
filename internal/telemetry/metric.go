// Package telemetry implements the live metrics pipeline of a recording
// session: per-metric rolling windows, range validation of incoming sensor
// readings, and the per-second calculator producing averages, maxima,
// zone-time histograms and derived load estimates.
package telemetry

import "time"

// Metric identifies a recorded telemetry channel.
type Metric string

const (
	MetricHeartRate   Metric = "heart_rate"
	MetricPower       Metric = "power"
	MetricCadence     Metric = "cadence"
	MetricSpeed       Metric = "speed"
	MetricTemperature Metric = "temperature"
	MetricAltitude    Metric = "altitude"
	MetricDistance    Metric = "distance"
)

// MetricInfo carries display metadata for a metric.
type MetricInfo struct {
	ID          Metric
	DisplayName string
	Unit        string
	FormatStr   string
}

// AllMetrics is the registry of supported metrics.
var AllMetrics = map[Metric]MetricInfo{
	MetricHeartRate:   {ID: MetricHeartRate, DisplayName: "Heart Rate", Unit: "bpm", FormatStr: "%.0f"},
	MetricPower:       {ID: MetricPower, DisplayName: "Power", Unit: "W", FormatStr: "%.0f"},
	MetricCadence:     {ID: MetricCadence, DisplayName: "Cadence", Unit: "rpm", FormatStr: "%.0f"},
	MetricSpeed:       {ID: MetricSpeed, DisplayName: "Speed", Unit: "m/s", FormatStr: "%.2f"},
	MetricTemperature: {ID: MetricTemperature, DisplayName: "Temperature", Unit: "°C", FormatStr: "%.1f"},
	MetricAltitude:    {ID: MetricAltitude, DisplayName: "Altitude", Unit: "m", FormatStr: "%.0f"},
	MetricDistance:    {ID: MetricDistance, DisplayName: "Distance", Unit: "m", FormatStr: "%.0f"},
}

// GetMetricInfo returns the metadata for a metric ID.
func GetMetricInfo(id Metric) (MetricInfo, bool) {
	info, ok := AllMetrics[id]
	return info, ok
}

// Bounds is the accepted value range for a metric. Readings outside the
// range are dropped at ingestion.
type Bounds struct {
	Min float64
	Max float64
}

// MetricBounds holds the per-metric validation ranges.
var MetricBounds = map[Metric]Bounds{
	MetricHeartRate:   {Min: 30, Max: 250},
	MetricPower:       {Min: 0, Max: 4000},
	MetricCadence:     {Min: 0, Max: 300},
	MetricSpeed:       {Min: 0, Max: 40},
	MetricTemperature: {Min: -30, Max: 60},
	MetricAltitude:    {Min: -500, Max: 9000},
	MetricDistance:    {Min: 0, Max: 1_000_000},
}

// InBounds reports whether value is acceptable for metric. Metrics without a
// configured range accept everything.
func InBounds(metric Metric, value float64) bool {
	b, ok := MetricBounds[metric]
	if !ok {
		return true
	}
	return value >= b.Min && value <= b.Max
}

// Reading is one immutable sensor sample pushed by the external source.
type Reading struct {
	Metric Metric
	Value  float64
	Time   time.Time
}

// Location is one GPS fix pushed by the external location source.
// Altitude, Accuracy and Heading are optional; NaN marks absence upstream,
// a zero Accuracy simply means unknown here.
type Location struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
	HasAlt    bool
	Accuracy  float64
	Heading   float64
	Time      time.Time
}

// Sample is one timestamped value held by a rolling window.
type Sample struct {
	Value float64
	Time  time.Time
}

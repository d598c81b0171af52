package telemetry

import "time"

// LiveMetrics is the read-only per-second view of an active recording.
// Derived load estimates are approximations; they are populated only once
// the session has at least five minutes of elapsed time and a nonzero
// average power.
type LiveMetrics struct {
	Elapsed   time.Duration
	Moving    time.Duration
	DistanceM float64

	Latest   map[Metric]float64
	Averages map[Metric]float64
	Maxima   map[Metric]float64

	HRZoneTime    [HRZoneCount]time.Duration
	PowerZoneTime [PowerZoneCount]time.Duration

	NormalizedPower  float64
	IntensityFactor  float64
	TrainingStress   float64
	VariabilityIndex float64
	EfficiencyFactor float64
	DecouplingPct    float64

	// AdvancedAvailable reports whether the derived estimates above are
	// populated yet.
	AdvancedAvailable bool
}

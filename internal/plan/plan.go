// Package plan holds the workout plan progression engine: a flattened ordered
// list of steps with duration and target specifications, advanced by elapsed
// moving time or by explicit user action.
package plan

import (
	"fmt"
	"time"

	"github.com/velotrace/recorder/internal/telemetry"
)

// DurationKind selects how a step's length is specified.
type DurationKind int

const (
	DurationTime DurationKind = iota
	DurationDistance
	DurationRepetitions
	DurationUntilFinished
)

func (k DurationKind) String() string {
	switch k {
	case DurationTime:
		return "time"
	case DurationDistance:
		return "distance"
	case DurationRepetitions:
		return "repetitions"
	case DurationUntilFinished:
		return "until_finished"
	default:
		return "unknown"
	}
}

// placeholderSpeedMps estimates a duration for distance-based steps when no
// better speed estimate exists (30 km/h).
const placeholderSpeedMps = 8.33

// DurationSpec is the length of one step. Exactly one of the value fields is
// meaningful, selected by Kind.
type DurationSpec struct {
	Kind        DurationKind
	Time        time.Duration
	DistanceM   float64
	Repetitions int
}

// Estimate returns the estimated wall duration of the step. ok is false for
// repetition and until-finished steps, which have no estimate.
func (d DurationSpec) Estimate() (estimate time.Duration, ok bool) {
	switch d.Kind {
	case DurationTime:
		return d.Time, true
	case DurationDistance:
		if d.DistanceM <= 0 {
			return 0, false
		}
		return time.Duration(d.DistanceM / placeholderSpeedMps * float64(time.Second)), true
	default:
		return 0, false
	}
}

// RequiresManualAdvance reports whether the step can only be left by an
// explicit user action.
func (d DurationSpec) RequiresManualAdvance() bool {
	_, ok := d.Estimate()
	return !ok
}

// TargetKind selects the unit a step target is expressed in.
type TargetKind int

const (
	TargetPowerPercentFTP TargetKind = iota
	TargetPowerWatts
	TargetHeartRatePercentThreshold
	TargetCadenceRPM
)

func (k TargetKind) String() string {
	switch k {
	case TargetPowerPercentFTP:
		return "power_percent_ftp"
	case TargetPowerWatts:
		return "power_watts"
	case TargetHeartRatePercentThreshold:
		return "heart_rate_percent_threshold"
	case TargetCadenceRPM:
		return "cadence_rpm"
	default:
		return "unknown"
	}
}

// TargetSpec is one training target as authored, possibly relative to a
// profile value.
type TargetSpec struct {
	Kind  TargetKind
	Value float64
}

// ResolvedTarget is a target converted to absolute units at apply-time.
// Metric is the telemetry metric the value applies to.
type ResolvedTarget struct {
	Metric telemetry.Metric
	Value  float64
}

// Resolve converts the spec to absolute units against the profile. Relative
// targets fail when the profile value they depend on is unset.
func (t TargetSpec) Resolve(profile telemetry.Profile) (ResolvedTarget, error) {
	switch t.Kind {
	case TargetPowerWatts:
		return ResolvedTarget{Metric: telemetry.MetricPower, Value: t.Value}, nil
	case TargetCadenceRPM:
		return ResolvedTarget{Metric: telemetry.MetricCadence, Value: t.Value}, nil
	case TargetPowerPercentFTP:
		if profile.FTPWatts <= 0 {
			return ResolvedTarget{}, fmt.Errorf("resolve %s target: functional threshold power not set", t.Kind)
		}
		return ResolvedTarget{Metric: telemetry.MetricPower, Value: t.Value / 100 * profile.FTPWatts}, nil
	case TargetHeartRatePercentThreshold:
		if profile.ThresholdHR <= 0 {
			return ResolvedTarget{}, fmt.Errorf("resolve %s target: threshold heart rate not set", t.Kind)
		}
		return ResolvedTarget{Metric: telemetry.MetricHeartRate, Value: t.Value / 100 * profile.ThresholdHR}, nil
	default:
		return ResolvedTarget{}, fmt.Errorf("resolve target: unknown kind %d", t.Kind)
	}
}

// Step is one flattened workout step.
type Step struct {
	Name     string
	Duration DurationSpec
	Targets  []TargetSpec
}

// Segment is one entry of a structured plan: either a single step or a
// repeat block. Exactly one field is set.
type Segment struct {
	Step   *Step
	Repeat *Repeat
}

// Repeat is an interval block executed Count times.
type Repeat struct {
	Count    int
	Segments []Segment
}

// Plan is a structured workout plan as authored.
type Plan struct {
	Name     string
	Segments []Segment
}

// Flatten unrolls repeat blocks into the ordered step list the progression
// engine runs over. The result is independent of the input plan.
func Flatten(p Plan) []Step {
	var out []Step
	flattenSegments(p.Segments, &out)
	return out
}

func flattenSegments(segs []Segment, out *[]Step) {
	for _, seg := range segs {
		switch {
		case seg.Step != nil:
			step := *seg.Step
			step.Targets = append([]TargetSpec(nil), seg.Step.Targets...)
			*out = append(*out, step)
		case seg.Repeat != nil:
			for i := 0; i < seg.Repeat.Count; i++ {
				flattenSegments(seg.Repeat.Segments, out)
			}
		}
	}
}

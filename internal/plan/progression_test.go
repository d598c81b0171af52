package plan

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velotrace/recorder/internal/telemetry"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func timedStep(name string, d time.Duration, targets ...TargetSpec) Segment {
	return Segment{Step: &Step{Name: name, Duration: DurationSpec{Kind: DurationTime, Time: d}, Targets: targets}}
}

func fullProfile() (float64, float64) { return 250, 170 }

func emptyProfile() (float64, float64) { return 0, 0 }

func TestFlatten_UnrollsRepeats(t *testing.T) {
	p := Plan{
		Name: "2x(work+rest)",
		Segments: []Segment{
			timedStep("warmup", 10*time.Minute),
			{Repeat: &Repeat{Count: 2, Segments: []Segment{
				timedStep("work", 5*time.Minute),
				timedStep("rest", 2*time.Minute),
			}}},
			timedStep("cooldown", 10*time.Minute),
		},
	}

	steps := Flatten(p)
	require.Len(t, steps, 6)
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"warmup", "work", "rest", "work", "rest", "cooldown"}, names)
}

func TestFlatten_NestedRepeats(t *testing.T) {
	p := Plan{Segments: []Segment{
		{Repeat: &Repeat{Count: 2, Segments: []Segment{
			{Repeat: &Repeat{Count: 3, Segments: []Segment{
				timedStep("sprint", 30 * time.Second),
			}}},
		}}},
	}}
	assert.Len(t, Flatten(p), 6)
}

func TestDurationSpec_Estimate(t *testing.T) {
	est, ok := DurationSpec{Kind: DurationTime, Time: 30 * time.Second}.Estimate()
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, est)

	// 833 m at the placeholder 8.33 m/s is 100 s.
	est, ok = DurationSpec{Kind: DurationDistance, DistanceM: 833}.Estimate()
	require.True(t, ok)
	assert.InDelta(t, 100, est.Seconds(), 1e-9)

	_, ok = DurationSpec{Kind: DurationRepetitions, Repetitions: 8}.Estimate()
	assert.False(t, ok)
	_, ok = DurationSpec{Kind: DurationUntilFinished}.Estimate()
	assert.False(t, ok)
}

func TestTargetSpec_Resolve(t *testing.T) {
	profile := telemetry.Profile{FTPWatts: 250, ThresholdHR: 170}

	r, err := TargetSpec{Kind: TargetPowerPercentFTP, Value: 80}.Resolve(profile)
	require.NoError(t, err)
	assert.Equal(t, telemetry.MetricPower, r.Metric)
	assert.InDelta(t, 200, r.Value, 1e-9)

	r, err = TargetSpec{Kind: TargetHeartRatePercentThreshold, Value: 90}.Resolve(profile)
	require.NoError(t, err)
	assert.Equal(t, telemetry.MetricHeartRate, r.Metric)
	assert.InDelta(t, 153, r.Value, 1e-9)

	r, err = TargetSpec{Kind: TargetPowerWatts, Value: 220}.Resolve(telemetry.Profile{})
	require.NoError(t, err)
	assert.InDelta(t, 220, r.Value, 1e-9)

	_, err = TargetSpec{Kind: TargetPowerPercentFTP, Value: 80}.Resolve(telemetry.Profile{})
	assert.Error(t, err)
}

func TestProgression_TimedStepProgressAndAdvance(t *testing.T) {
	p := NewProgression(Plan{Segments: []Segment{
		timedStep("a", 30*time.Second),
		timedStep("b", 30*time.Second),
	}}, fullProfile, testLogger())

	require.Equal(t, 0, p.CurrentIndex())
	assert.False(t, p.RequiresManualAdvance())

	p.Tick(15 * time.Second)
	assert.InDelta(t, 0.5, p.Progress(), 1e-9)
	assert.False(t, p.CanAdvance())
	assert.ErrorIs(t, p.Advance(), ErrAdvanceNotAllowed)
	assert.Equal(t, 0, p.CurrentIndex())

	// Reaching the full duration auto-advances on the tick that crosses it.
	p.Tick(15 * time.Second)
	assert.Equal(t, 1, p.CurrentIndex())
	assert.InDelta(t, 0, p.Progress(), 1e-9)
}

func TestProgression_ManualStepNeverAutoAdvances(t *testing.T) {
	p := NewProgression(Plan{Segments: []Segment{
		{Step: &Step{Name: "openers", Duration: DurationSpec{Kind: DurationRepetitions, Repetitions: 5}}},
		timedStep("spin", time.Minute),
	}}, fullProfile, testLogger())

	p.Tick(time.Hour)
	assert.Equal(t, 0, p.CurrentIndex())
	assert.True(t, p.RequiresManualAdvance())
	assert.True(t, p.CanAdvance())

	require.NoError(t, p.Advance())
	assert.Equal(t, 1, p.CurrentIndex())
}

func TestProgression_CompletionFiresOnce(t *testing.T) {
	p := NewProgression(Plan{Name: "short", Segments: []Segment{
		timedStep("only", 10 * time.Second),
	}}, fullProfile, testLogger())

	var completed []string
	p.CompletedEvents().Subscribe(func(name string) { completed = append(completed, name) })

	p.Tick(10 * time.Second)
	assert.True(t, p.IsCompleted())
	assert.Equal(t, []string{"short"}, completed)
	assert.Equal(t, 1, p.CurrentIndex())
	assert.False(t, p.CanAdvance())
	assert.ErrorIs(t, p.Advance(), ErrCompleted)

	// Further ticks do not re-fire completion or move the index.
	p.Tick(10 * time.Second)
	assert.Equal(t, []string{"short"}, completed)
	assert.Equal(t, 1, p.CurrentIndex())
}

func TestProgression_StepChangeCarriesResolvedTargets(t *testing.T) {
	p := NewProgression(Plan{Segments: []Segment{
		timedStep("tempo", time.Minute, TargetSpec{Kind: TargetPowerPercentFTP, Value: 80}),
	}}, fullProfile, testLogger())

	var changes []StepChange
	p.StepChanges().Subscribe(func(c StepChange) { changes = append(changes, c) })

	// Replay delivers the step entered at construction.
	require.Len(t, changes, 1)
	assert.Equal(t, 0, changes[0].Index)
	require.Len(t, changes[0].Targets, 1)
	assert.InDelta(t, 200, changes[0].Targets[0].Value, 1e-9)
}

func TestProgression_UnresolvableTargetFailsSoft(t *testing.T) {
	var errs []error
	p := NewProgression(Plan{Segments: []Segment{
		timedStep("tempo", time.Minute,
			TargetSpec{Kind: TargetPowerPercentFTP, Value: 80},
			TargetSpec{Kind: TargetCadenceRPM, Value: 95}),
	}}, emptyProfile, testLogger())
	p.Errors().Subscribe(func(err error) { errs = append(errs, err) })

	var change StepChange
	p.StepChanges().Subscribe(func(c StepChange) { change = c })

	// The percent-FTP target is skipped, the absolute one survives, and the
	// step still applies.
	require.Len(t, change.Targets, 1)
	assert.Equal(t, telemetry.MetricCadence, change.Targets[0].Metric)
	_, ok := p.CurrentStep()
	assert.True(t, ok)
}

func TestProgression_IndexNonDecreasingAndBounded(t *testing.T) {
	p := NewProgression(Plan{Segments: []Segment{
		timedStep("a", 10*time.Second),
		timedStep("b", 10*time.Second),
	}}, fullProfile, testLogger())

	last := p.CurrentIndex()
	for i := 0; i < 10; i++ {
		p.Tick(3 * time.Second)
		idx := p.CurrentIndex()
		assert.GreaterOrEqual(t, idx, last)
		assert.LessOrEqual(t, idx, p.StepCount())
		last = idx
	}
	assert.True(t, p.IsCompleted())
}

func TestProgression_EmptyPlanStartsCompleted(t *testing.T) {
	p := NewProgression(Plan{}, fullProfile, testLogger())
	assert.True(t, p.IsCompleted())
	assert.ErrorIs(t, p.Advance(), ErrCompleted)
}

func TestProgression_StepSubscriberMayReadBack(t *testing.T) {
	p := NewProgression(Plan{Name: "two", Segments: []Segment{
		timedStep("a", 10*time.Second),
		timedStep("b", 10*time.Second),
	}}, fullProfile, testLogger())

	// Subscribers query the progression back; the replay and every advance
	// below must still complete.
	type seen struct {
		index    int
		progress float64
		can      bool
	}
	var got []seen
	p.StepChanges().Subscribe(func(StepChange) {
		got = append(got, seen{index: p.CurrentIndex(), progress: p.Progress(), can: p.CanAdvance()})
	})

	var completed bool
	p.CompletedEvents().Subscribe(func(string) { completed = p.IsCompleted() })

	p.Tick(10 * time.Second)
	p.Tick(10 * time.Second)

	require.Len(t, got, 2)
	assert.Equal(t, []seen{{0, 0, false}, {1, 0, false}}, got)
	assert.True(t, completed)
}

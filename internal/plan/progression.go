package plan

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/velotrace/recorder/internal/events"
	"github.com/velotrace/recorder/internal/telemetry"
)

// ErrAdvanceNotAllowed is returned by Advance when the current step has not
// yet earned its advance.
var ErrAdvanceNotAllowed = errors.New("plan: advance not allowed")

// ErrCompleted is returned by Advance after the last step has been left.
var ErrCompleted = errors.New("plan: already completed")

// StepChange announces entry into a step. Targets carries only the targets
// that resolved against the profile; unresolvable ones are reported on the
// error topic and skipped.
type StepChange struct {
	Index   int
	Step    Step
	Targets []ResolvedTarget
}

// Progression runs a flattened plan: it tracks the current step index,
// accumulates moving time within the step, auto-advances timed steps and
// gates manual advances. The index never decreases and never exceeds the
// step count.
type Progression struct {
	mu sync.Mutex

	steps   []Step
	profile ProfileSource
	logger  *log.Logger

	index        int
	movingInStep time.Duration
	completed    bool

	stepChanges *events.Topic[StepChange]
	done        *events.Topic[string]
	errs        *events.Topic[error]
	planName    string
}

// ProfileSource supplies the rider profile used to resolve relative targets
// at apply-time, so profile edits mid-session take effect on the next step.
type ProfileSource func() (ftpWatts, thresholdHR float64)

// NewProgression flattens p and enters its first step. Panics if logger is
// nil. An empty plan starts completed.
func NewProgression(p Plan, profile ProfileSource, logger *log.Logger) *Progression {
	if logger == nil {
		panic("plan: logger must not be nil")
	}
	if profile == nil {
		profile = func() (float64, float64) { return 0, 0 }
	}
	pr := &Progression{
		steps:       Flatten(p),
		profile:     profile,
		logger:      logger,
		planName:    p.Name,
		stepChanges: events.NewTopic[StepChange](true),
		done:        events.NewTopic[string](true),
		errs:        events.NewTopic[error](false),
	}
	if len(pr.steps) == 0 {
		pr.completed = true
		return pr
	}
	pr.publish(pr.enterStepLocked())
	return pr
}

// pendingEvents collects publishes built while mu is held so they can be
// delivered after it is released. Subscribers may call back into the
// progression.
type pendingEvents struct {
	errs      []error
	change    *StepChange
	completed bool
}

func (p *Progression) publish(ev pendingEvents) {
	for _, err := range ev.errs {
		p.errs.Publish(err)
	}
	if ev.change != nil {
		p.stepChanges.Publish(*ev.change)
	}
	if ev.completed {
		p.done.Publish(p.planName)
	}
}

// StepChanges replays the current step to new subscribers.
func (p *Progression) StepChanges() *events.Topic[StepChange] { return p.stepChanges }

// Completed fires once, with the plan name, when the last step is left.
func (p *Progression) CompletedEvents() *events.Topic[string] { return p.done }

// Errors carries soft failures such as unresolvable targets.
func (p *Progression) Errors() *events.Topic[error] { return p.errs }

// StepCount returns the flattened step count.
func (p *Progression) StepCount() int { return len(p.steps) }

// CurrentIndex returns the current step index; equal to StepCount once the
// plan is completed.
func (p *Progression) CurrentIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

// CurrentStep returns the active step, or ok=false once completed.
func (p *Progression) CurrentStep() (Step, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completed {
		return Step{}, false
	}
	return p.steps[p.index], true
}

// IsCompleted reports whether every step has been left.
func (p *Progression) IsCompleted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// Progress reports elapsed moving time in the current step over its
// estimated duration, clamped to [0,1]. Steps without an estimate report 0.
func (p *Progression) Progress() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progressLocked()
}

func (p *Progression) progressLocked() float64 {
	if p.completed {
		return 1
	}
	est, ok := p.steps[p.index].Duration.Estimate()
	if !ok || est <= 0 {
		return 0
	}
	progress := float64(p.movingInStep) / float64(est)
	if progress > 1 {
		return 1
	}
	return progress
}

// RequiresManualAdvance reports whether the current step only advances on
// user action.
func (p *Progression) RequiresManualAdvance() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completed {
		return false
	}
	return p.steps[p.index].Duration.RequiresManualAdvance()
}

// CanAdvance reports whether a manual advance is currently permitted: always
// for manual-advance steps, and once progress reaches 1 for timed ones.
func (p *Progression) CanAdvance() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canAdvanceLocked()
}

func (p *Progression) canAdvanceLocked() bool {
	if p.completed {
		return false
	}
	if p.steps[p.index].Duration.RequiresManualAdvance() {
		return true
	}
	return p.progressLocked() >= 1
}

// Advance moves to the next step on user action. Fails with
// ErrAdvanceNotAllowed while the current step has not earned its advance.
func (p *Progression) Advance() error {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return ErrCompleted
	}
	if !p.canAdvanceLocked() {
		p.mu.Unlock()
		return ErrAdvanceNotAllowed
	}
	ev := p.advanceLocked()
	p.mu.Unlock()

	p.publish(ev)
	return nil
}

// Tick accumulates moving time for the current step and auto-advances timed
// steps whose progress reached 1. Called from the controller's tick loop
// with the moving-time delta since the previous tick.
func (p *Progression) Tick(movingDelta time.Duration) {
	p.mu.Lock()
	if p.completed || movingDelta <= 0 {
		p.mu.Unlock()
		return
	}
	p.movingInStep += movingDelta
	var ev pendingEvents
	if !p.steps[p.index].Duration.RequiresManualAdvance() && p.progressLocked() >= 1 {
		ev = p.advanceLocked()
	}
	p.mu.Unlock()

	p.publish(ev)
}

func (p *Progression) advanceLocked() pendingEvents {
	p.index++
	p.movingInStep = 0
	if p.index >= len(p.steps) {
		p.completed = true
		p.logger.Printf("Progression: plan %q completed after %d steps", p.planName, len(p.steps))
		return pendingEvents{completed: true}
	}
	return p.enterStepLocked()
}

// enterStepLocked resolves the new step's targets against the profile and
// returns the events announcing the change, for publishing once mu is
// released. Unresolvable targets are reported and skipped rather than
// blocking the step.
func (p *Progression) enterStepLocked() pendingEvents {
	step := p.steps[p.index]
	ftp, thr := p.profile()
	profile := telemetry.Profile{FTPWatts: ftp, ThresholdHR: thr}

	var ev pendingEvents
	resolved := make([]ResolvedTarget, 0, len(step.Targets))
	for _, t := range step.Targets {
		r, err := t.Resolve(profile)
		if err != nil {
			p.logger.Printf("Progression: step %d: %v", p.index, err)
			ev.errs = append(ev.errs, err)
			continue
		}
		resolved = append(resolved, r)
	}

	p.logger.Printf("Progression: entering step %d/%d (%s, %s)",
		p.index+1, len(p.steps), step.Name, step.Duration.Kind)
	ev.change = &StepChange{Index: p.index, Step: step, Targets: resolved}
	return ev
}

package recorder

import (
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/velotrace/recorder/internal/events"
	"github.com/velotrace/recorder/internal/plan"
	"github.com/velotrace/recorder/internal/safego"
	"github.com/velotrace/recorder/internal/stream"
	"github.com/velotrace/recorder/internal/telemetry"
)

// command represents commands sent to the controller goroutine.
type command int

const (
	cmdStart command = iota
	cmdPause
	cmdResume
	cmdFinish
)

// Defaults applied by NewController when Config leaves them zero.
const (
	DefaultSnapshotInterval = 1 * time.Second
	DefaultFlushInterval    = 60 * time.Second
	DefaultMinDuration      = 3 * time.Second
)

// Config carries the controller's tunables. Zero values take the defaults
// above; Now defaults to time.Now.
type Config struct {
	DataDir             string
	SnapshotInterval    time.Duration
	FlushInterval       time.Duration
	SettleDelay         time.Duration
	MinDuration         time.Duration
	RequiredPermissions []Permission
	Now                 func() time.Time
}

func (c Config) withDefaults() Config {
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = DefaultSnapshotInterval
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.MinDuration <= 0 {
		c.MinDuration = DefaultMinDuration
	}
	if c.RequiredPermissions == nil {
		c.RequiredPermissions = []Permission{PermissionSensors}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// StartInfo carries the caller-supplied metadata for a new recording.
type StartInfo struct {
	ProfileID string
	Category  string
	Location  string
}

type timerEventKind int

const (
	timerPause timerEventKind = iota
	timerResume
)

type timerEvent struct {
	kind timerEventKind
	at   time.Time
}

// Controller is the recording lifecycle state machine. It owns the telemetry
// calculator, the stream buffer, the plan progression and the encoder of one
// session; none of them are shared across sessions. All mutation happens
// under mu; periodic work runs on the controller goroutine.
type Controller struct {
	cfg     Config
	profile telemetry.Profile
	logger  *log.Logger

	mu           sync.RWMutex
	state        State
	granted      map[Permission]bool
	selectedPlan *plan.Plan
	meta         RecordingMetadata

	calc        *telemetry.Calculator
	buffer      *stream.Buffer
	prog        *plan.Progression
	timerEvents []timerEvent
	lastMoving  time.Duration
	lastMetrics telemetry.LiveMetrics
	sensorsSeen map[telemetry.Metric]bool
	progCancels []func()

	finishMu sync.Mutex // serializes Finish; at most one finalize in flight

	stateChanges  *events.Topic[StateTransition]
	stepChanges   *events.Topic[plan.StepChange]
	planCompleted *events.Topic[string]
	complete      *events.Topic[Summary]
	sensors       *events.Topic[[]string]
	errs          *events.Topic[error]
	timeUpdates   *events.Topic[TimeUpdate]

	cmdChan      chan command
	doneChan     chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewController creates a controller in the pending state and starts its
// goroutine. Panics if logger is nil.
func NewController(cfg Config, profile telemetry.Profile, logger *log.Logger) *Controller {
	if logger == nil {
		panic("Controller: logger cannot be nil")
	}

	c := &Controller{
		cfg:     cfg.withDefaults(),
		profile: profile,
		logger:  logger,
		state:   StatePending,
		granted: make(map[Permission]bool),

		stateChanges:  events.NewTopic[StateTransition](true),
		stepChanges:   events.NewTopic[plan.StepChange](true),
		planCompleted: events.NewTopic[string](false),
		complete:      events.NewTopic[Summary](true),
		sensors:       events.NewTopic[[]string](true),
		errs:          events.NewTopic[error](false),
		timeUpdates:   events.NewTopic[TimeUpdate](false),

		cmdChan:  make(chan command, 1),
		doneChan: make(chan struct{}),
	}

	if len(c.cfg.RequiredPermissions) == 0 {
		c.state = StateReady
	}

	c.wg.Add(1)
	safego.Go(logger, func() { c.runLoop() })

	return c
}

// Event surface.

func (c *Controller) StateChanges() *events.Topic[StateTransition] { return c.stateChanges }
func (c *Controller) StepChanges() *events.Topic[plan.StepChange]  { return c.stepChanges }
func (c *Controller) PlanCompleted() *events.Topic[string]         { return c.planCompleted }
func (c *Controller) RecordingComplete() *events.Topic[Summary]    { return c.complete }
func (c *Controller) SensorsChanged() *events.Topic[[]string]      { return c.sensors }
func (c *Controller) Errors() *events.Topic[error]                 { return c.errs }
func (c *Controller) TimeUpdates() *events.Topic[TimeUpdate]       { return c.timeUpdates }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Metadata returns a copy of the session metadata.
func (c *Controller) Metadata() RecordingMetadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meta
}

// LiveMetrics returns the most recent snapshot of the active recording.
func (c *Controller) LiveMetrics() telemetry.LiveMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMetrics
}

// GrantPermission marks one required permission granted; pending moves to
// ready once all required permissions are in.
func (c *Controller) GrantPermission(p Permission) {
	c.mu.Lock()
	c.granted[p] = true
	var tr *StateTransition
	if c.state == StatePending && c.allGrantedLocked() {
		t := c.setStateLocked(StateReady, c.cfg.Now())
		tr = &t
	}
	c.mu.Unlock()

	c.logger.Printf("Controller: permission %s granted", p)
	if tr != nil {
		c.stateChanges.Publish(*tr)
	}
}

func (c *Controller) allGrantedLocked() bool {
	for _, p := range c.cfg.RequiredPermissions {
		if !c.granted[p] {
			return false
		}
	}
	return true
}

// SelectPlan sets the workout plan for the next recording. Rejected while a
// recording is active.
func (c *Controller) SelectPlan(p plan.Plan) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRecording || c.state == StatePaused {
		return ErrPlanLocked
	}
	cp := p
	c.selectedPlan = &cp
	c.logger.Printf("Controller: plan %q selected (%d steps)", p.Name, len(plan.Flatten(p)))
	return nil
}

// ClearPlan removes the selected plan. Rejected while a recording is active.
func (c *Controller) ClearPlan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRecording || c.state == StatePaused {
		return ErrPlanLocked
	}
	c.selectedPlan = nil
	c.logger.Printf("Controller: plan cleared")
	return nil
}

// Start begins a recording. Requires the ready state; permissions must have
// been granted first.
func (c *Controller) Start(info StartInfo) error {
	c.mu.Lock()
	switch c.state {
	case StatePending:
		c.mu.Unlock()
		return ErrPermissionsMissing
	case StateRecording, StatePaused:
		c.mu.Unlock()
		return ErrAlreadyRecording
	case StateFinished:
		c.mu.Unlock()
		return ErrFinished
	}

	now := c.cfg.Now()
	sessionDir := filepath.Join(c.cfg.DataDir, "sessions", fmt.Sprintf("session_%d", now.UnixMilli()))
	buffer, err := stream.NewBuffer(sessionDir, c.logger)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("create stream buffer: %w", err)
	}

	c.buffer = buffer
	c.calc = telemetry.NewCalculator(c.profile, buffer, c.logger)
	c.meta = RecordingMetadata{
		StartedAt: now,
		ProfileID: info.ProfileID,
		Category:  info.Category,
		Location:  info.Location,
	}
	c.timerEvents = nil
	c.lastMoving = 0
	c.lastMetrics = telemetry.LiveMetrics{}
	c.sensorsSeen = make(map[telemetry.Metric]bool)

	if c.selectedPlan != nil {
		c.meta.PlanName = c.selectedPlan.Name
		c.prog = plan.NewProgression(*c.selectedPlan, func() (float64, float64) {
			return c.profile.FTPWatts, c.profile.ThresholdHR
		}, c.logger)
		c.progCancels = []func(){
			c.prog.StepChanges().Subscribe(c.stepChanges.Publish),
			c.prog.CompletedEvents().Subscribe(c.planCompleted.Publish),
			c.prog.Errors().Subscribe(c.errs.Publish),
		}
	}

	c.calc.Start(now)
	tr := c.setStateLocked(StateRecording, now)
	c.mu.Unlock()

	c.stateChanges.Publish(tr)
	c.send(cmdStart)
	c.logger.Printf("Controller: recording started at %s (session dir %s)", now.Format(time.RFC3339), sessionDir)
	return nil
}

// Pause suspends an active recording. Elapsed time and ingestion stop until
// Resume.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return ErrNotRecording
	}
	now := c.cfg.Now()
	c.timerEvents = append(c.timerEvents, timerEvent{kind: timerPause, at: now})
	tr := c.setStateLocked(StatePaused, now)
	c.mu.Unlock()

	c.stateChanges.Publish(tr)
	c.send(cmdPause)
	c.logger.Printf("Controller: recording paused")
	return nil
}

// Resume continues a paused recording.
func (c *Controller) Resume() error {
	c.mu.Lock()
	if c.state != StatePaused {
		c.mu.Unlock()
		return ErrNotPaused
	}
	now := c.cfg.Now()
	c.timerEvents = append(c.timerEvents, timerEvent{kind: timerResume, at: now})
	c.calc.Resume(now)
	tr := c.setStateLocked(StateRecording, now)
	c.mu.Unlock()

	c.stateChanges.Publish(tr)
	c.send(cmdResume)
	c.logger.Printf("Controller: recording resumed")
	return nil
}

// AdvanceStep advances the plan on user action. Only permitted when the
// progression reports the step has earned its advance.
func (c *Controller) AdvanceStep() error {
	c.mu.RLock()
	prog := c.prog
	c.mu.RUnlock()
	if prog == nil {
		return ErrNoPlan
	}
	return prog.Advance()
}

// CanAdvance reports whether a manual step advance is currently permitted.
func (c *Controller) CanAdvance() bool {
	c.mu.RLock()
	prog := c.prog
	c.mu.RUnlock()
	return prog != nil && prog.CanAdvance()
}

// Ingest feeds one sensor reading into the active recording. Readings
// arriving outside the recording state are dropped.
func (c *Controller) Ingest(r telemetry.Reading) {
	c.mu.RLock()
	state, calc := c.state, c.calc
	c.mu.RUnlock()
	if state != StateRecording || calc == nil {
		return
	}
	c.noteSensor(r.Metric)
	calc.Ingest(r)
}

// IngestLocation feeds one location fix into the active recording.
func (c *Controller) IngestLocation(loc telemetry.Location) {
	c.mu.RLock()
	state, calc := c.state, c.calc
	c.mu.RUnlock()
	if state != StateRecording || calc == nil {
		return
	}
	calc.IngestLocation(loc)
}

// noteSensor publishes the sensor list when a metric is seen for the first
// time this session.
func (c *Controller) noteSensor(m telemetry.Metric) {
	c.mu.Lock()
	if c.sensorsSeen[m] {
		c.mu.Unlock()
		return
	}
	c.sensorsSeen[m] = true
	list := make([]string, 0, len(c.sensorsSeen))
	for seen := range c.sensorsSeen {
		list = append(list, string(seen))
	}
	sort.Strings(list)
	c.mu.Unlock()

	c.logger.Printf("Controller: sensor %s active (now %v)", m, list)
	c.sensors.Publish(list)
}

// Shutdown stops the controller goroutine. Safe to call multiple times.
func (c *Controller) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.logger.Printf("Controller: shutting down")
		close(c.doneChan)
		c.wg.Wait()
	})
}

// send delivers a command to the controller goroutine, giving up if the
// controller has been shut down.
func (c *Controller) send(cmd command) {
	select {
	case c.cmdChan <- cmd:
	case <-c.doneChan:
	}
}

// setStateLocked transitions the lifecycle state and returns the transition.
// MUST be called with mu held. The caller publishes the transition after
// releasing mu so subscribers can call back into the controller.
func (c *Controller) setStateLocked(to State, at time.Time) StateTransition {
	from := c.state
	c.state = to
	c.logger.Printf("Controller: state %s -> %s", from, to)
	return StateTransition{From: from, To: to, At: at}
}

// handleSnapshotTick runs the per-second cadence: advance the calculator,
// trim windows, feed moving time to the plan and publish the time update.
func (c *Controller) handleSnapshotTick(now time.Time) {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	calc, prog := c.calc, c.prog
	c.mu.Unlock()

	snap := calc.Tick(now)
	calc.TrimWindows(now)

	c.mu.Lock()
	movingDelta := snap.Moving - c.lastMoving
	c.lastMoving = snap.Moving
	c.lastMetrics = snap
	c.mu.Unlock()

	if prog != nil {
		prog.Tick(movingDelta)
	}
	c.timeUpdates.Publish(TimeUpdate{Elapsed: snap.Elapsed, Moving: snap.Moving, Metrics: snap})
}

// handleFlushTick runs the per-minute cadence: persist pending chunks. Flush
// failures keep samples in memory; the buffer retries on the next tick.
func (c *Controller) handleFlushTick() {
	c.mu.RLock()
	state, buffer := c.state, c.buffer
	c.mu.RUnlock()
	if buffer == nil || (state != StateRecording && state != StatePaused) {
		return
	}
	if err := buffer.Flush(); err != nil {
		c.logger.Printf("Controller: flush failed, retaining samples: %v", err)
		c.errs.Publish(fmt.Errorf("flush chunks: %w", err))
	}
}

// runLoop is the controller goroutine: it owns the two cadence tickers and
// reacts to lifecycle commands.
func (c *Controller) runLoop() {
	defer c.wg.Done()

	snapshotTicker := time.NewTicker(c.cfg.SnapshotInterval)
	snapshotTicker.Stop() // started on cmdStart
	flushTicker := time.NewTicker(c.cfg.FlushInterval)
	flushTicker.Stop()

	for {
		select {
		case <-c.doneChan:
			snapshotTicker.Stop()
			flushTicker.Stop()
			c.logger.Printf("Controller: goroutine exiting")
			return

		case cmd := <-c.cmdChan:
			switch cmd {
			case cmdStart:
				snapshotTicker.Reset(c.cfg.SnapshotInterval)
				flushTicker.Reset(c.cfg.FlushInterval)
			case cmdPause:
				snapshotTicker.Stop()
			case cmdResume:
				snapshotTicker.Reset(c.cfg.SnapshotInterval)
			case cmdFinish:
				snapshotTicker.Stop()
				flushTicker.Stop()
			}

		case <-snapshotTicker.C:
			c.handleSnapshotTick(c.cfg.Now())

		case <-flushTicker.C:
			c.handleFlushTick()
		}
	}
}

// Package recorder holds the recording controller: the lifecycle state
// machine that owns the telemetry calculator, the durable stream buffer, the
// plan progression and the activity-file encoder for one session at a time.
package recorder

import (
	"errors"
	"time"

	"github.com/velotrace/recorder/internal/telemetry"
)

// State is the recording lifecycle state. Exactly one holds at any time.
type State int

const (
	StatePending State = iota // waiting for permissions
	StateReady
	StateRecording
	StatePaused
	StateFinished // terminal
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Permission names one runtime capability the recording needs before it can
// leave pending. The prompt flow itself lives with the caller.
type Permission string

const (
	PermissionSensors  Permission = "sensors"
	PermissionLocation Permission = "location"
)

var (
	ErrPermissionsMissing = errors.New("recorder: required permissions not granted")
	ErrNotReady           = errors.New("recorder: not ready to start")
	ErrNotRecording       = errors.New("recorder: no active recording")
	ErrNotPaused          = errors.New("recorder: not paused")
	ErrAlreadyRecording   = errors.New("recorder: recording already in progress")
	ErrFinished           = errors.New("recorder: recording already finished")
	ErrSessionTooShort    = errors.New("recorder: session shorter than minimum duration")
	ErrNoPersistedData    = errors.New("recorder: no persisted samples")
	ErrPlanLocked         = errors.New("recorder: cannot change plan while recording")
	ErrNoPlan             = errors.New("recorder: no plan selected")
)

// RecordingMetadata describes one session. The two pointer fields are set
// exactly once at finish; the struct is immutable afterwards.
type RecordingMetadata struct {
	StartedAt time.Time
	ProfileID string
	Category  string
	Location  string
	PlanName  string

	EndedAt          *time.Time
	ActivityFilePath string
}

// StateTransition is published on every lifecycle change.
type StateTransition struct {
	From State
	To   State
	At   time.Time
}

// TimeUpdate is published on every snapshot tick of an active recording.
type TimeUpdate struct {
	Elapsed time.Duration
	Moving  time.Duration
	Metrics telemetry.LiveMetrics
}

// Summary is published exactly once on recordingComplete.
type Summary struct {
	Metadata RecordingMetadata
	Metrics  telemetry.LiveMetrics
	FilePath string
}

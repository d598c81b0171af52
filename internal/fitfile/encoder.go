package fitfile

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// ErrMessageOrder is returned when a message arrives outside the legal
// activity-file sequence.
var ErrMessageOrder = errors.New("fitfile: message out of order")

// ErrFinalized is returned when a message is added after Finalize.
var ErrFinalized = errors.New("fitfile: encoder already finalized")

type stage int

const (
	stageEmpty stage = iota
	stageFileID
	stageTimerRunning
	stageTimerStopped
	stageLaps
	stageSession
	stageFinal
)

func (s stage) String() string {
	switch s {
	case stageEmpty:
		return "empty"
	case stageFileID:
		return "file_id"
	case stageTimerRunning:
		return "timer_running"
	case stageTimerStopped:
		return "timer_stopped"
	case stageLaps:
		return "laps"
	case stageSession:
		return "session"
	case stageFinal:
		return "final"
	default:
		return "unknown"
	}
}

// Encoder builds a FIT activity file in memory. Messages must arrive in the
// activity-file order: file_id first, then optional device_info, a timer
// start event, records with optional pause/resume pairs, a timer stop, at
// least one lap, exactly one session, then Finalize. Out-of-order messages
// fail with ErrMessageOrder and leave the encoder state untouched.
//
// Encoder is not safe for concurrent use; the recording controller serializes
// access on its loop goroutine.
type Encoder struct {
	w      *protoWriter
	logger *log.Logger

	stage       stage
	lastStamp   time.Time
	lapCount    uint16
	settleDelay time.Duration
	finalizedTo string
	recordCount int
}

// NewEncoder returns an empty encoder. settleDelay is slept once before the
// final write so late sensor callbacks already in flight land first; zero
// disables it. Panics if logger is nil.
func NewEncoder(logger *log.Logger, settleDelay time.Duration) *Encoder {
	if logger == nil {
		panic("fitfile: logger must not be nil")
	}
	return &Encoder{
		w:           newProtoWriter(),
		logger:      logger,
		settleDelay: settleDelay,
	}
}

// RecordCount reports how many record messages have been written.
func (e *Encoder) RecordCount() int { return e.recordCount }

func (e *Encoder) orderErr(msg string) error {
	return fmt.Errorf("%w: %s in stage %s", ErrMessageOrder, msg, e.stage)
}

// clampStamp enforces monotonically non-decreasing timestamps across the
// whole file.
func (e *Encoder) clampStamp(t time.Time) time.Time {
	if t.Before(e.lastStamp) {
		return e.lastStamp
	}
	e.lastStamp = t
	return t
}

// WriteFileID writes the file identification message. Must be the first
// message of the file.
func (e *Encoder) WriteFileID(f FileID) error {
	if e.stage != stageEmpty {
		return e.orderErr("file_id")
	}
	e.lastStamp = f.TimeCreated
	e.w.writeMessage(fileIDDef, f.values())
	e.stage = stageFileID
	return nil
}

// AddDeviceInfo records a contributing sensor. Legal any time between the
// file_id and the session message.
func (e *Encoder) AddDeviceInfo(d DeviceInfo) error {
	switch e.stage {
	case stageFileID, stageTimerRunning, stageTimerStopped, stageLaps:
	default:
		return e.orderErr("device_info")
	}
	d.Timestamp = e.clampStamp(d.Timestamp)
	e.w.writeMessage(deviceInfoDef, d.values())
	return nil
}

// StartTimer writes the timer-start event and opens the record section.
func (e *Encoder) StartTimer(at time.Time) error {
	if e.stage != stageFileID {
		return e.orderErr("timer start")
	}
	at = e.clampStamp(at)
	e.w.writeMessage(eventDef, timerEventValues(at, eventTypeStart))
	e.stage = stageTimerRunning
	return nil
}

// AddRecord writes one sample row. The timer must be running.
func (e *Encoder) AddRecord(r Record) error {
	if e.stage != stageTimerRunning {
		return e.orderErr("record")
	}
	r.Timestamp = e.clampStamp(r.Timestamp)
	e.w.writeMessage(recordDef, r.values())
	e.recordCount++
	return nil
}

// AddPause writes a timer-stop event. Records are rejected until AddResume.
func (e *Encoder) AddPause(at time.Time) error {
	if e.stage != stageTimerRunning {
		return e.orderErr("pause")
	}
	at = e.clampStamp(at)
	e.w.writeMessage(eventDef, timerEventValues(at, eventTypeStop))
	e.stage = stageTimerStopped
	return nil
}

// AddResume writes a timer-start event after a pause.
func (e *Encoder) AddResume(at time.Time) error {
	if e.stage != stageTimerStopped {
		return e.orderErr("resume")
	}
	at = e.clampStamp(at)
	e.w.writeMessage(eventDef, timerEventValues(at, eventTypeStart))
	e.stage = stageTimerRunning
	return nil
}

// StopTimer writes the final stop-all event and closes the record section.
// Legal whether the timer is running or paused.
func (e *Encoder) StopTimer(at time.Time) error {
	if e.stage != stageTimerRunning && e.stage != stageTimerStopped {
		return e.orderErr("timer stop")
	}
	at = e.clampStamp(at)
	e.w.writeMessage(eventDef, timerEventValues(at, eventTypeStopAll))
	e.stage = stageLaps
	return nil
}

// AddLap writes one lap summary. The timer must be stopped and the session
// not yet written.
func (e *Encoder) AddLap(l Lap) error {
	if e.stage != stageLaps {
		return e.orderErr("lap")
	}
	l.MessageIndex = e.lapCount
	l.EndTime = e.clampStamp(l.EndTime)
	e.w.writeMessage(lapDef, l.values())
	e.lapCount++
	return nil
}

// WriteSession writes the single session summary. At least one lap must have
// been written; if none was, a whole-session lap is synthesized from the
// session totals first.
func (e *Encoder) WriteSession(s Session) error {
	if e.stage != stageLaps {
		return e.orderErr("session")
	}
	if e.lapCount == 0 {
		lap := Lap{
			StartTime:    s.StartTime,
			EndTime:      s.EndTime,
			TotalElapsed: s.TotalElapsed,
			TotalTimer:   s.TotalTimer,
			DistanceM:    s.DistanceM,
			AvgSpeedMps:  s.AvgSpeedMps,
			MaxSpeedMps:  s.MaxSpeedMps,
			AvgHeartRate: s.AvgHeartRate,
			MaxHeartRate: s.MaxHeartRate,
			AvgCadence:   s.AvgCadence,
			AvgPowerW:    s.AvgPowerW,
			MaxPowerW:    s.MaxPowerW,
		}
		if err := e.AddLap(lap); err != nil {
			return err
		}
	}
	s.FirstLapIndex = 0
	s.NumLaps = e.lapCount
	s.EndTime = e.clampStamp(s.EndTime)
	e.w.writeMessage(sessionDef, s.values())

	e.w.writeMessage(activityDef, activityValues(s.EndTime, s.TotalTimer, 1))
	e.stage = stageSession
	return nil
}

// Finalize assembles header, data and CRC and writes the complete file to
// path in a single call. Calling Finalize again returns the path of the
// first successful write without touching disk. A failed write leaves the
// encoder finalizable so the caller can retry.
func (e *Encoder) Finalize(path string) (string, error) {
	switch e.stage {
	case stageSession:
	case stageFinal:
		return e.finalizedTo, nil
	default:
		return "", e.orderErr("finalize")
	}

	if e.settleDelay > 0 {
		time.Sleep(e.settleDelay)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create activity dir: %w", err)
	}
	data := e.w.bytes()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write activity file: %w", err)
	}

	e.logger.Printf("Encoder: wrote %d bytes (%d records, %d laps) to %s",
		len(data), e.recordCount, e.lapCount, path)
	e.finalizedTo = path
	e.stage = stageFinal
	return path, nil
}

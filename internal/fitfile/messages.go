package fitfile

import (
	"math"
	"time"
)

// Global FIT message numbers and the profile field layout used by the
// encoder. Field numbers follow the standard activity-file profile so that
// stock FIT tooling reads the output back.

const (
	globalFileID     = 0
	globalSession    = 18
	globalLap        = 19
	globalRecord     = 20
	globalEvent      = 21
	globalDeviceInfo = 23
	globalActivity   = 34
)

// Enum values used by the messages below.
const (
	fileTypeActivity = 4

	eventTimer       = 0
	eventLap         = 9
	eventSession     = 8
	eventActivity    = 26
	eventTypeStart   = 0
	eventTypeStop    = 1
	eventTypeStopAll = 4

	activityTypeManual = 0

	// SportCycling is the session sport written by default.
	SportCycling = 2
)

const (
	fieldTimestamp    = 253
	fieldMessageIndex = 254
)

var (
	fileIDDef = msgDef{global: globalFileID, local: 0, fields: []fieldDef{
		{0, baseEnum},    // type
		{1, baseUint16},  // manufacturer
		{2, baseUint16},  // product
		{3, baseUint32z}, // serial_number
		{4, baseUint32},  // time_created
	}}

	deviceInfoDef = msgDef{global: globalDeviceInfo, local: 1, fields: []fieldDef{
		{fieldTimestamp, baseUint32},
		{0, baseUint8},   // device_index
		{2, baseUint16},  // manufacturer
		{4, baseUint16},  // product
		{3, baseUint32z}, // serial_number
	}}

	eventDef = msgDef{global: globalEvent, local: 2, fields: []fieldDef{
		{fieldTimestamp, baseUint32},
		{0, baseEnum},  // event
		{1, baseEnum},  // event_type
		{4, baseUint8}, // event_group
	}}

	recordDef = msgDef{global: globalRecord, local: 3, fields: []fieldDef{
		{fieldTimestamp, baseUint32},
		{0, baseSint32},  // position_lat, semicircles
		{1, baseSint32},  // position_long, semicircles
		{2, baseUint16},  // altitude, (m+500)*5
		{3, baseUint8},   // heart_rate, bpm
		{4, baseUint8},   // cadence, rpm
		{5, baseUint32},  // distance, cm
		{6, baseUint16},  // speed, mm/s
		{7, baseUint16},  // power, W
		{13, baseSint8},  // temperature, °C
	}}

	lapDef = msgDef{global: globalLap, local: 4, fields: []fieldDef{
		{fieldTimestamp, baseUint32},
		{fieldMessageIndex, baseUint16},
		{0, baseEnum},   // event
		{1, baseEnum},   // event_type
		{2, baseUint32}, // start_time
		{7, baseUint32}, // total_elapsed_time, ms
		{8, baseUint32}, // total_timer_time, ms
		{9, baseUint32}, // total_distance, cm
		{13, baseUint16}, // avg_speed, mm/s
		{14, baseUint16}, // max_speed, mm/s
		{15, baseUint8},  // avg_heart_rate
		{16, baseUint8},  // max_heart_rate
		{17, baseUint8},  // avg_cadence
		{19, baseUint16}, // avg_power
		{20, baseUint16}, // max_power
	}}

	sessionDef = msgDef{global: globalSession, local: 5, fields: []fieldDef{
		{fieldTimestamp, baseUint32},
		{fieldMessageIndex, baseUint16},
		{0, baseEnum},   // event
		{1, baseEnum},   // event_type
		{2, baseUint32}, // start_time
		{5, baseEnum},   // sport
		{6, baseEnum},   // sub_sport
		{7, baseUint32}, // total_elapsed_time, ms
		{8, baseUint32}, // total_timer_time, ms
		{9, baseUint32}, // total_distance, cm
		{14, baseUint16}, // avg_speed, mm/s
		{15, baseUint16}, // max_speed, mm/s
		{16, baseUint8},  // avg_heart_rate
		{17, baseUint8},  // max_heart_rate
		{18, baseUint8},  // avg_cadence
		{20, baseUint16}, // avg_power
		{21, baseUint16}, // max_power
		{25, baseUint16}, // first_lap_index
		{26, baseUint16}, // num_laps
		{34, baseUint16}, // normalized_power
		{35, baseUint16}, // training_stress_score, x10
		{36, baseUint16}, // intensity_factor, x1000
	}}

	activityDef = msgDef{global: globalActivity, local: 6, fields: []fieldDef{
		{fieldTimestamp, baseUint32},
		{0, baseUint32}, // total_timer_time, ms
		{1, baseUint16}, // num_sessions
		{2, baseEnum},   // type
		{3, baseEnum},   // event
		{4, baseEnum},   // event_type
		{5, baseUint32}, // local_timestamp
	}}
)

// FileID identifies the activity file. Written exactly once, first.
type FileID struct {
	Manufacturer uint16
	Product      uint16
	SerialNumber uint32
	TimeCreated  time.Time
}

// DeviceInfo describes one sensor that contributed to the session.
type DeviceInfo struct {
	DeviceIndex  uint8
	Manufacturer uint16
	Product      uint16
	SerialNumber uint32
	Timestamp    time.Time
}

// Record is one per-second sample row. Nil pointer fields encode as the FIT
// "invalid" sentinel for their base type.
type Record struct {
	Timestamp   time.Time
	Lat         *float64 // degrees
	Lon         *float64 // degrees
	AltitudeM   *float64
	HeartRate   *float64 // bpm
	Cadence     *float64 // rpm
	DistanceM   *float64
	SpeedMps    *float64
	PowerW      *float64
	Temperature *float64 // °C
}

// Lap summarizes one lap. At least one lap precedes the session message.
type Lap struct {
	MessageIndex uint16
	StartTime    time.Time
	EndTime      time.Time
	TotalElapsed time.Duration
	TotalTimer   time.Duration
	DistanceM    float64
	AvgSpeedMps  float64
	MaxSpeedMps  float64
	AvgHeartRate float64
	MaxHeartRate float64
	AvgCadence   float64
	AvgPowerW    float64
	MaxPowerW    float64
}

// Session summarizes the whole recording; written exactly once, after laps.
type Session struct {
	StartTime       time.Time
	EndTime         time.Time
	Sport           uint8
	TotalElapsed    time.Duration
	TotalTimer      time.Duration
	DistanceM       float64
	AvgSpeedMps     float64
	MaxSpeedMps     float64
	AvgHeartRate    float64
	MaxHeartRate    float64
	AvgCadence      float64
	AvgPowerW       float64
	MaxPowerW       float64
	FirstLapIndex   uint16
	NumLaps         uint16
	NormalizedPower float64
	TrainingStress  float64
	IntensityFactor float64
}

func (f FileID) values() []fieldVal {
	return []fieldVal{
		fv(fileTypeActivity),
		fv(uint32(f.Manufacturer)),
		fv(uint32(f.Product)),
		fv(f.SerialNumber),
		fv(fitTimestamp(f.TimeCreated)),
	}
}

func (d DeviceInfo) values() []fieldVal {
	return []fieldVal{
		fv(fitTimestamp(d.Timestamp)),
		fv(uint32(d.DeviceIndex)),
		fv(uint32(d.Manufacturer)),
		fv(uint32(d.Product)),
		fv(d.SerialNumber),
	}
}

func timerEventValues(at time.Time, eventType uint8) []fieldVal {
	return []fieldVal{
		fv(fitTimestamp(at)),
		fv(eventTimer),
		fv(uint32(eventType)),
		fv(0), // event_group
	}
}

func (r Record) values() []fieldVal {
	return []fieldVal{
		fv(fitTimestamp(r.Timestamp)),
		optSemicircles(r.Lat),
		optSemicircles(r.Lon),
		optScaled(r.AltitudeM, func(v float64) uint32 { return uint32(math.Round((v + 500) * 5)) }),
		optScaled(r.HeartRate, roundU),
		optScaled(r.Cadence, roundU),
		optScaled(r.DistanceM, func(v float64) uint32 { return uint32(math.Round(v * 100)) }),
		optScaled(r.SpeedMps, func(v float64) uint32 { return uint32(math.Round(v * 1000)) }),
		optScaled(r.PowerW, roundU),
		optScaled(r.Temperature, func(v float64) uint32 { return uint32(int32(math.Round(v))) }),
	}
}

func (l Lap) values() []fieldVal {
	return []fieldVal{
		fv(fitTimestamp(l.EndTime)),
		fv(uint32(l.MessageIndex)),
		fv(eventLap),
		fv(eventTypeStop),
		fv(fitTimestamp(l.StartTime)),
		fv(millis(l.TotalElapsed)),
		fv(millis(l.TotalTimer)),
		fv(uint32(math.Round(l.DistanceM * 100))),
		fv(uint32(math.Round(l.AvgSpeedMps * 1000))),
		fv(uint32(math.Round(l.MaxSpeedMps * 1000))),
		fv(roundU(l.AvgHeartRate)),
		fv(roundU(l.MaxHeartRate)),
		fv(roundU(l.AvgCadence)),
		fv(roundU(l.AvgPowerW)),
		fv(roundU(l.MaxPowerW)),
	}
}

func (s Session) values() []fieldVal {
	return []fieldVal{
		fv(fitTimestamp(s.EndTime)),
		fv(0), // message_index
		fv(eventSession),
		fv(eventTypeStop),
		fv(fitTimestamp(s.StartTime)),
		fv(uint32(s.Sport)),
		fv(0), // sub_sport: generic
		fv(millis(s.TotalElapsed)),
		fv(millis(s.TotalTimer)),
		fv(uint32(math.Round(s.DistanceM * 100))),
		fv(uint32(math.Round(s.AvgSpeedMps * 1000))),
		fv(uint32(math.Round(s.MaxSpeedMps * 1000))),
		fv(roundU(s.AvgHeartRate)),
		fv(roundU(s.MaxHeartRate)),
		fv(roundU(s.AvgCadence)),
		fv(roundU(s.AvgPowerW)),
		fv(roundU(s.MaxPowerW)),
		fv(uint32(s.FirstLapIndex)),
		fv(uint32(s.NumLaps)),
		fv(roundU(s.NormalizedPower)),
		fv(roundU(s.TrainingStress * 10)),
		fv(roundU(s.IntensityFactor * 1000)),
	}
}

func activityValues(endTime time.Time, totalTimer time.Duration, numSessions uint16) []fieldVal {
	return []fieldVal{
		fv(fitTimestamp(endTime)),
		fv(millis(totalTimer)),
		fv(uint32(numSessions)),
		fv(activityTypeManual),
		fv(eventActivity),
		fv(eventTypeStop),
		fv(fitTimestamp(endTime)),
	}
}

func optSemicircles(deg *float64) fieldVal {
	if deg == nil {
		return fvAbsent()
	}
	return fvSigned(DegreesToSemicircles(*deg))
}

func optScaled(v *float64, scale func(float64) uint32) fieldVal {
	if v == nil {
		return fvAbsent()
	}
	return fv(scale(*v))
}

func roundU(v float64) uint32 {
	if v < 0 {
		return 0
	}
	return uint32(math.Round(v))
}

func millis(d time.Duration) uint32 {
	return uint32(d.Milliseconds())
}

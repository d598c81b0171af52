// Package fitfile encodes a finished recording session into a FIT activity
// file: an ordered sequence of typed binary messages buffered in memory and
// written in a single pass at finalize time.
package fitfile

import (
	"math"
	"time"
)

// The FIT format stores GPS coordinates as fixed-point "semicircle" integers
// and timestamps as seconds since the FIT epoch.

const semicirclesPerDegree = float64(1<<31) / 180.0

var fitEpoch = time.Date(1989, 12, 31, 0, 0, 0, 0, time.UTC)

// DegreesToSemicircles converts a coordinate in degrees to semicircles.
func DegreesToSemicircles(deg float64) int32 {
	return int32(math.Round(deg * semicirclesPerDegree))
}

// SemicirclesToDegrees converts a semicircle coordinate back to degrees.
func SemicirclesToDegrees(sc int32) float64 {
	return float64(sc) / semicirclesPerDegree
}

// fitTimestamp converts a wall-clock time to FIT epoch seconds.
func fitTimestamp(t time.Time) uint32 {
	return uint32(t.Sub(fitEpoch) / time.Second)
}

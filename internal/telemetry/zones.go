package telemetry

// Heart-rate zones are 5 buckets bounded by fractions of threshold heart
// rate; power zones are 7 buckets bounded by fractions of FTP. The upper
// bound of the last bucket is open.

// HRZoneCount and PowerZoneCount size the zone-time histograms.
const (
	HRZoneCount    = 5
	PowerZoneCount = 7
)

// Upper bounds of each zone as a fraction of the threshold value.
var (
	hrZoneCeilings    = [HRZoneCount - 1]float64{0.81, 0.89, 0.93, 0.99}
	powerZoneCeilings = [PowerZoneCount - 1]float64{0.55, 0.75, 0.90, 1.05, 1.20, 1.50}
)

// HRZoneIndex returns the zone bucket for a heart rate given a threshold
// heart rate. A zero threshold maps everything to the first bucket.
func HRZoneIndex(heartRate, thresholdHR float64) int {
	if thresholdHR <= 0 {
		return 0
	}
	frac := heartRate / thresholdHR
	for i, ceil := range hrZoneCeilings {
		if frac <= ceil {
			return i
		}
	}
	return HRZoneCount - 1
}

// PowerZoneIndex returns the zone bucket for a power value given FTP.
// A zero FTP maps everything to the first bucket.
func PowerZoneIndex(power, ftpWatts float64) int {
	if ftpWatts <= 0 {
		return 0
	}
	frac := power / ftpWatts
	for i, ceil := range powerZoneCeilings {
		if frac <= ceil {
			return i
		}
	}
	return PowerZoneCount - 1
}

package zone

import (
	"math"

	"codeberg.org/mutker/thermalctl/internal/sensor"
)

// State is a discrete thermal state. Off is below the first threshold;
// states 0..maxStates-2 follow, the last of which is CRITICAL.
type State int

const (
	Off    State = -1
	Normal State = 0

	// MinStates is OFF, at least three configured levels and CRITICAL.
	MinStates = 5

	// tripCeiling is the high trip of CRITICAL; no reading reaches it.
	tripCeiling = sensor.Temperature(math.MaxInt32)
)

// Classify maps temp onto the threshold table. thresholds[i] is the lower
// bound of state i and the final entry only pads the table to maxStates.
func Classify(temp sensor.Temperature, thresholds []sensor.Temperature) State {
	n := len(thresholds)
	if n < 2 || temp < thresholds[0] {
		return Off
	}
	if temp >= thresholds[n-2] {
		return State(n - 2)
	}

	for i := 0; i < n-2; i++ {
		if thresholds[i] <= temp && temp < thresholds[i+1] {
			return State(i)
		}
	}

	return Off
}

// TripPoints returns the [low, high) band that keeps a sensor in state s.
// CRITICAL has no upper band, so its high trip never fires.
func TripPoints(s State, thresholds []sensor.Temperature) (low, high sensor.Temperature) {
	n := len(thresholds)
	switch {
	case s <= Off:
		return 0, thresholds[0]
	case int(s) >= n-2:
		return thresholds[n-2], tripCeiling
	default:
		return thresholds[s], thresholds[s+1]
	}
}

package calibration

import (
	"fmt"

	"github.com/TheCacophonyProject/flight-battery/batterymodel"
	"github.com/TheCacophonyProject/flight-battery/drainlog"
)

const (
	// Voltage rise between samples that marks the motors starting.
	motorStartRise = 0.05
	// Samples skipped after the rise while the voltage settles.
	motorStartOffset = 5
	// Fewest samples a drain segment must have to be fitted.
	minSegment = 4
)

// FindMotorStart returns the index a little after the first sharp voltage rise,
// or 0 if there is none.
func FindMotorStart(voltages []float64) int {
	for i := 0; i+1 < len(voltages); i++ {
		if voltages[i+1]-voltages[i] > motorStartRise {
			return min(i+motorStartOffset, len(voltages)-1)
		}
	}
	return 0
}

// FindFullDrain returns the first index where no capacity remains, or the
// length of the trace if the battery was never drained.
func FindFullDrain(remaining []float64) int {
	for i, r := range remaining {
		if r <= 0 {
			return i
		}
	}
	return len(remaining)
}

// PercentTrace integrates the current of a drain log, returning the mAh and
// percent of nominal capacity remaining after each record.
func PercentTrace(l drainlog.Log, nominal float64) (remaining, percent []float64) {
	used := drainlog.ConsumedMAh(l)
	remaining = make([]float64, len(used))
	percent = make([]float64, len(used))
	for i, u := range used {
		remaining[i] = nominal - u
		percent[i] = 100 - u/nominal*100
	}
	return remaining, percent
}

// segment returns the fit window of a drain log.
func segment(l drainlog.Log, nominal float64) (start, end int, percent []float64, err error) {
	remaining, percent := PercentTrace(l, nominal)
	start = FindMotorStart(l.Voltages())
	end = FindFullDrain(remaining)
	if end-start < minSegment {
		return 0, 0, nil, fmt.Errorf("drain segment [%d, %d) is too short to fit", start, end)
	}
	return start, end, percent, nil
}

// FitDrainPair fits a percent based calibration from two drain tests of the same
// pack. The low load drain gives the voltage curve, with voltages raised by the
// sag seen when the load starts so the curve reads resting voltages. The hover
// drain gives the time curve.
func FitDrainPair(lowLoad, hover drainlog.Log, nominal float64) (Profile, error) {
	if nominal <= 0 {
		return Profile{}, fmt.Errorf("nominal capacity must be positive, got %v", nominal)
	}

	start, end, percent, err := segment(lowLoad, nominal)
	if err != nil {
		return Profile{}, fmt.Errorf("low load log: %w", err)
	}
	voltages := lowLoad.Voltages()
	sag := maxOf(voltages) - voltages[start]
	xs := make([]float64, 0, end-start)
	for _, v := range voltages[start:end] {
		xs = append(xs, v+sag)
	}
	voltageCurve, err := FitCubic(xs, percent[start:end])
	if err != nil {
		return Profile{}, fmt.Errorf("fitting voltage curve: %w", err)
	}

	start, end, percent, err = segment(hover, nominal)
	if err != nil {
		return Profile{}, fmt.Errorf("hover log: %w", err)
	}
	seconds := hover.Seconds()[start:end]
	remainingTime := make([]float64, len(seconds))
	last := seconds[len(seconds)-1]
	for i, s := range seconds {
		remainingTime[i] = last - s
	}
	timeCurve, err := FitCubic(percent[start:end], remainingTime)
	if err != nil {
		return Profile{}, fmt.Errorf("fitting time curve: %w", err)
	}

	p := Profile{
		Name: "fitted",
		Coefficients: batterymodel.Coefficients{
			X3: voltageCurve.P3, X2: voltageCurve.P2, X1: voltageCurve.P1, X0: voltageCurve.P0,
			Y3: timeCurve.P3, Y2: timeCurve.P2, Y1: timeCurve.P1, Y0: timeCurve.P0,
			NominalCapacity: nominal,
			Unit:            batterymodel.UnitPercent,
		},
	}
	return p, p.Coefficients.Validate()
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		m = max(m, v)
	}
	return m
}

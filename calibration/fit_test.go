package calibration

import (
	"math"
	"testing"
	"time"

	"github.com/TheCacophonyProject/flight-battery/batterymodel"
	"github.com/TheCacophonyProject/flight-battery/drainlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertCubic(t *testing.T, want, got batterymodel.Cubic) {
	assert.InEpsilon(t, want.P3, got.P3, 1e-9)
	assert.InEpsilon(t, want.P2, got.P2, 1e-9)
	assert.InEpsilon(t, want.P1, got.P1, 1e-9)
	assert.InEpsilon(t, want.P0, got.P0, 1e-9)
}

func TestFitCubicRecoversCoefficients(t *testing.T) {
	c := batterymodel.VergeX1Percent()

	var vs, percents []float64
	for i := 0; i <= 26; i++ {
		v := 10 + float64(i)/10
		vs = append(vs, v)
		percents = append(percents, c.VoltageToCapacity(v))
	}
	fit, err := FitCubic(vs, percents)
	require.NoError(t, err)
	assertCubic(t, c.VoltageCurve(), fit)

	var ps, times []float64
	for p := 0; p <= 100; p += 2 {
		ps = append(ps, float64(p))
		times = append(times, c.CapacityToTime(float64(p)))
	}
	fit, err = FitCubic(ps, times)
	require.NoError(t, err)
	assertCubic(t, c.TimeCurve(), fit)
}

func TestFitCubicErrors(t *testing.T) {
	_, err := FitCubic([]float64{1, 2, 3, 4}, []float64{1, 2, 3})
	assert.Error(t, err)

	_, err = FitCubic([]float64{1, 2, 3}, []float64{1, 2, 3})
	assert.Error(t, err)

	_, err = FitCubic([]float64{2, 2, 2, 2, 2}, []float64{1, 2, 3, 4, 5})
	assert.ErrorIs(t, err, ErrSingularFit)

	// Only two distinct x values can't pin down a cubic.
	_, err = FitCubic([]float64{1, 1, 1, 3, 3, 3}, []float64{1, 2, 3, 4, 5, 6})
	assert.ErrorIs(t, err, ErrSingularFit)

	_, err = FitCubic([]float64{1, 2, 3, 4}, []float64{1, math.NaN(), 3, 4})
	assert.Error(t, err)
}

func TestFitCubicExactThroughFourPoints(t *testing.T) {
	want := batterymodel.Cubic{P3: 2, P2: -3, P1: 0.5, P0: 7}
	xs := []float64{-2, 0, 1, 3}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = want.Eval(x)
	}
	got, err := FitCubic(xs, ys)
	require.NoError(t, err)
	assertCubic(t, want, got)
}

func TestFindMotorStart(t *testing.T) {
	assert.Equal(t, 0, FindMotorStart(nil))
	assert.Equal(t, 0, FindMotorStart([]float64{12.6, 12.5, 12.4, 12.3}))

	vs := []float64{12.6, 11.9, 11.95, 12.1, 12.1, 12.09, 12.08, 12.07, 12.06, 12.05}
	assert.Equal(t, 7, FindMotorStart(vs))

	// Clamped to the last sample.
	assert.Equal(t, 2, FindMotorStart([]float64{11.9, 12.0, 12.2}))
}

func TestFindFullDrain(t *testing.T) {
	assert.Equal(t, 2, FindFullDrain([]float64{100, 10, 0, -10}))
	assert.Equal(t, 1, FindFullDrain([]float64{5, -1, 3}))
	assert.Equal(t, 3, FindFullDrain([]float64{300, 200, 100}))
}

func TestPercentTrace(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	l := drainlog.Log{
		{Time: start, Voltage: 12.6, Current: 36000},
		{Time: start.Add(time.Second), Voltage: 12.5, Current: 36000},
		{Time: start.Add(2 * time.Second), Voltage: 12.4, Current: 72000},
	}
	remaining, percent := PercentTrace(l, 1000)
	assert.InDeltaSlice(t, []float64{990, 980, 960}, remaining, 1e-9)
	assert.InDeltaSlice(t, []float64{99, 98, 96}, percent, 1e-9)
}

// linearDrain drains a pack at a constant current with the voltage falling
// linearly from 12.6V, sampled once a second.
func linearDrain(samples int, current float64) drainlog.Log {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	l := make(drainlog.Log, samples)
	for i := range l {
		l[i] = drainlog.Record{
			Time:        start.Add(time.Duration(i) * time.Second),
			Voltage:     12.6 - float64(i)*0.0007,
			Current:     current,
			Temperature: 20,
		}
	}
	return l
}

func TestFitDrainPair(t *testing.T) {
	const nominal = 8500
	lowLoad := linearDrain(3700, 8500) // 1C, empty after an hour
	hover := linearDrain(1100, 30000)  // Empty after 1020s

	p, err := FitDrainPair(lowLoad, hover, nominal)
	require.NoError(t, err)
	c := p.Coefficients
	assert.Equal(t, batterymodel.UnitPercent, c.Unit)
	assert.Equal(t, float64(nominal), c.NominalCapacity)

	// Every sample drains 1/36 percent, and the voltage falls 0.0007V.
	for _, i := range []int{0, 900, 1800, 3500} {
		v := 12.6 - float64(i)*0.0007
		assert.InDelta(t, 100-float64(i+1)/36, c.VoltageToCapacity(v), 1e-6)
	}

	// Hover drains 1 percent every 10.2s, leaving 510s of flight at 50%.
	assert.InDelta(t, 510, c.CapacityToTime(50), 1)
	assert.InDelta(t, 0, c.CapacityToTime(0), 1)
}

func TestFitDrainPairAddsLoadSag(t *testing.T) {
	lowLoad := linearDrain(3700, 8500)
	// Motors start at sample 1, sagging the voltage by 0.3V.
	for i := 1; i < len(lowLoad); i++ {
		lowLoad[i].Voltage -= 0.3
	}
	lowLoad[1].Voltage -= 0.1
	hover := linearDrain(1100, 30000)

	p, err := FitDrainPair(lowLoad, hover, 8500)
	require.NoError(t, err)

	// FindMotorStart picks sample 6 after the rise at sample 1 -> 2.
	// The sag is max(v) - v[6] = 12.6 - (12.6 - 6*0.0007 - 0.3).
	sag := 0.3 + 6*0.0007
	i := 2000
	v := 12.6 - float64(i)*0.0007 - 0.3
	assert.InDelta(t, 100-float64(i+1)/36, p.Coefficients.VoltageToCapacity(v+sag), 1e-6)
}

func TestFitDrainPairErrors(t *testing.T) {
	_, err := FitDrainPair(linearDrain(3700, 8500), linearDrain(1100, 30000), 0)
	assert.Error(t, err)

	_, err = FitDrainPair(linearDrain(3, 8500), linearDrain(1100, 30000), 8500)
	assert.Error(t, err)

	_, err = FitDrainPair(linearDrain(3700, 8500), linearDrain(2, 30000), 8500)
	assert.Error(t, err)
}

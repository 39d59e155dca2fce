package drainlog

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Stats summarises a drain log.
type Stats struct {
	Samples         int
	Duration        time.Duration
	SampleRate      float64 // Hz
	MinVoltage      float64 // V
	FinalVoltage    float64 // V
	MeanCurrent     float64 // A
	MeanPower       float64 // W
	ConsumedMAh     float64
	ConsumedWh      float64
	FinalPercent    float64 // Of nominal capacity
	NominalCapacity float64 // mAh
}

// ConsumedMAh integrates the current over each record's period.
func ConsumedMAh(l Log) []float64 {
	used := make([]float64, len(l))
	total := 0.0
	for i, p := range l.Periods() {
		total += l[i].Current * p.Hours()
		used[i] = total
	}
	return used
}

// Compute returns the statistics of a log drained from a battery of nominal mAh.
func Compute(l Log, nominal float64) (Stats, error) {
	if len(l) == 0 {
		return Stats{}, ErrEmptyLog
	}
	if nominal <= 0 {
		return Stats{}, fmt.Errorf("nominal capacity must be positive, got %v", nominal)
	}
	s := Stats{
		Samples:         len(l),
		Duration:        l[len(l)-1].Time.Sub(l[0].Time),
		MinVoltage:      math.Inf(1),
		FinalVoltage:    l[len(l)-1].Voltage,
		NominalCapacity: nominal,
	}
	if s.Duration > 0 {
		s.SampleRate = float64(len(l)-1) / s.Duration.Seconds()
	}

	var currentSum, powerSum float64
	for i, p := range l.Periods() {
		r := l[i]
		s.MinVoltage = math.Min(s.MinVoltage, r.Voltage)
		amps := r.Current / 1000
		currentSum += amps
		powerSum += amps * r.Voltage
		s.ConsumedMAh += r.Current * p.Hours()
		s.ConsumedWh += amps * r.Voltage * p.Hours()
	}
	s.MeanCurrent = currentSum / float64(len(l))
	s.MeanPower = powerSum / float64(len(l))
	s.FinalPercent = 100 - s.ConsumedMAh/nominal*100
	return s, nil
}

func (s Stats) String() string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "Samples: %d over %s (%.1f Hz)\n", s.Samples, s.Duration, s.SampleRate)
	fmt.Fprintf(b, "Minimum Voltage: %.3fV\n", s.MinVoltage)
	fmt.Fprintf(b, "Final Voltage: %.3fV\n", s.FinalVoltage)
	fmt.Fprintf(b, "Average Current: %.2fA\n", s.MeanCurrent)
	fmt.Fprintf(b, "Average Power: %.1fW\n", s.MeanPower)
	fmt.Fprintf(b, "Consumed: %.0fmAh %.2fWh\n", s.ConsumedMAh, s.ConsumedWh)
	fmt.Fprintf(b, "Final Capacity: %.0fmAh\n", s.NominalCapacity-s.ConsumedMAh)
	fmt.Fprintf(b, "Final Percentage: %d%%", int(s.FinalPercent))
	return b.String()
}

// Package telemetry receives battery telemetry from the flight controller.
package telemetry

import (
	"context"
	"time"
)

// Sample is one battery reading. Current is in mA.
// Timestamp is the flight controller's clock, zero when it wasn't sent.
// Armed is nil when the reading doesn't carry the arm state.
type Sample struct {
	Voltage     float64
	Current     float64
	Temperature float64
	Timestamp   time.Time
	Armed       *bool
}

// Source delivers samples until the context is cancelled or it fails.
type Source interface {
	Run(ctx context.Context, out chan<- Sample) error
}

// FromMicros converts a flight controller timestamp in microseconds.
// Zero means no timestamp.
func FromMicros(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us)
}

func toMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

// Stepper turns the timestamps of successive samples into the time between them.
type Stepper struct {
	now  func() time.Time
	last time.Time
}

func NewStepper() *Stepper {
	return &Stepper{now: time.Now}
}

// Step returns the time since the previous sample. The first sample, and a
// sample older than the one before it, step by zero. backwards reports the
// latter so it can be logged. Samples without a timestamp use the time they
// were received.
func (s *Stepper) Step(sample Sample) (dt time.Duration, backwards bool) {
	t := sample.Timestamp
	if t.IsZero() {
		t = s.now()
	}
	defer func() { s.last = t }()
	if s.last.IsZero() {
		return 0, false
	}
	dt = t.Sub(s.last)
	if dt < 0 {
		return 0, true
	}
	return dt, false
}

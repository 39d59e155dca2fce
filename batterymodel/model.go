/*
flight-battery - Estimates remaining flight time from battery telemetry
Copyright (C) 2024, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package batterymodel estimates the flight time left on a battery.
//
// While the capacity is uninitialized a rolling average of the voltage derived
// capacity is kept until it settles. From then on the capacity is only reduced
// by integrating the measured current. When disarmed the estimate comes straight
// from the voltage, when armed it comes from the integrated capacity.
package batterymodel

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	defaultWindowSize = 3
	// Fraction of full scale the rolling average must settle within.
	defaultConvergenceFraction = 0.0005
)

var ErrNonFiniteTelemetry = errors.New("non-finite battery telemetry")

// Tuning controls how the initial capacity is found.
type Tuning struct {
	WindowSize           int     // Samples in the rolling average window.
	ConvergenceThreshold float64 // Capacity units, 0 uses a default based on full scale.
}

func DefaultTuning() Tuning {
	return Tuning{WindowSize: defaultWindowSize}
}

// State is a copy of the observable model state.
type State struct {
	Voltage             float64 `json:"voltage"`
	Current             float64 `json:"current"`
	Temperature         float64 `json:"temperature"`
	Capacity            float64 `json:"capacity"`
	RawCapacity         float64 `json:"raw_capacity"`
	TimeEstimate        float64 `json:"time_estimate"`
	RawTimeEstimate     float64 `json:"raw_time_estimate"`
	CapacityInitialized bool    `json:"capacity_initialized"`
	Armed               bool    `json:"armed"`
	Unit                string  `json:"unit"`
}

// Model tracks the state of a single battery. It is safe for concurrent use.
type Model struct {
	mu sync.Mutex

	coefficients Coefficients
	windowSize   float64
	threshold    float64

	voltage     float64
	current     float64 // mA
	temperature float64
	capacity    float64 // Calibration unit

	rollingAverage      float64
	seeded              bool
	capacityInitialized bool
	initSteps           int

	armed     bool
	haveInput bool
}

// New returns a model using the default tuning.
func New(c Coefficients) (*Model, error) {
	return NewWithTuning(c, DefaultTuning())
}

func NewWithTuning(c Coefficients, t Tuning) (*Model, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if t.WindowSize <= 0 {
		t.WindowSize = defaultWindowSize
	}
	if t.ConvergenceThreshold <= 0 || math.IsNaN(t.ConvergenceThreshold) {
		t.ConvergenceThreshold = c.FullScale() * defaultConvergenceFraction
	}
	return &Model{
		coefficients: c,
		windowSize:   float64(t.WindowSize),
		threshold:    t.ConvergenceThreshold,
	}, nil
}

// SetInput sets the latest battery readings, current is in mA.
// Non-finite voltage or current is rejected and the previous readings are kept.
// A non-finite temperature, reported when there is no sensor, leaves the
// previous temperature in place.
func (m *Model) SetInput(voltage, current, temperature float64) error {
	if !finite(voltage) || !finite(current) {
		return fmt.Errorf("%w: voltage=%v current=%v", ErrNonFiniteTelemetry, voltage, current)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voltage = voltage
	m.current = current
	if finite(temperature) {
		m.temperature = temperature
	}
	m.haveInput = true
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (m *Model) SetArmed(armed bool) {
	m.mu.Lock()
	m.armed = armed
	m.mu.Unlock()
}

// Update advances the model by dt, the time elapsed since the previous call.
// Until the capacity is initialized no depletion is integrated. Nothing happens
// before the first accepted input.
func (m *Model) Update(dt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.haveInput {
		return
	}
	if !m.capacityInitialized {
		if m.initCapacity() {
			m.capacity = m.rollingAverage
			m.capacityInitialized = true
		}
		return
	}

	if dt <= 0 {
		return
	}
	used := m.current * dt.Seconds() / 3600 // mAh
	m.capacity -= m.coefficients.FromMAh(used)
}

// initCapacity feeds the voltage derived capacity into the rolling average and
// reports whether it has settled.
func (m *Model) initCapacity() bool {
	m.initSteps++
	sample := m.coefficients.VoltageToCapacity(m.voltage)
	if !m.seeded {
		m.rollingAverage = sample
		m.seeded = true
		return false
	}
	previous := m.rollingAverage
	m.rollingAverage += (sample - m.rollingAverage) / m.windowSize
	return math.Abs(m.rollingAverage-previous) < m.threshold
}

// Capacity returns the remaining capacity clamped to [0, full scale].
func (m *Model) Capacity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clampCapacity(m.capacity)
}

func (m *Model) RawCapacity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capacity
}

// TimeEstimate returns the seconds of flight remaining, never negative.
func (m *Model) TimeEstimate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return math.Max(0, m.rawTimeEstimate())
}

func (m *Model) RawTimeEstimate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rawTimeEstimate()
}

func (m *Model) rawTimeEstimate() float64 {
	if m.armed {
		return m.coefficients.CapacityToTime(m.capacity)
	}
	return m.coefficients.CapacityToTime(m.coefficients.VoltageToCapacity(m.voltage))
}

// CapacityInitialized reports whether the armed estimate can be trusted yet.
func (m *Model) CapacityInitialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capacityInitialized
}

func (m *Model) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

// InitSteps returns how many updates were spent initializing the capacity.
func (m *Model) InitSteps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initSteps
}

func (m *Model) Coefficients() Coefficients {
	return m.coefficients
}

func (m *Model) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw := m.rawTimeEstimate()
	return State{
		Voltage:             m.voltage,
		Current:             m.current,
		Temperature:         m.temperature,
		Capacity:            m.clampCapacity(m.capacity),
		RawCapacity:         m.capacity,
		TimeEstimate:        math.Max(0, raw),
		RawTimeEstimate:     raw,
		CapacityInitialized: m.capacityInitialized,
		Armed:               m.armed,
		Unit:                m.coefficients.Unit,
	}
}

func (m *Model) clampCapacity(c float64) float64 {
	return math.Min(math.Max(c, 0), m.coefficients.FullScale())
}

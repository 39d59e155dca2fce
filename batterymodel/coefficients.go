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

package batterymodel

import (
	"errors"
	"fmt"
	"math"
)

// Capacity units a calibration can be expressed in.
const (
	UnitPercent = "percent"
	UnitMAh     = "mAh"
)

var ErrInvalidCoefficients = errors.New("invalid battery coefficients")

// Coefficients holds the two fitted curves of a battery calibration.
// X3..X0 map voltage to capacity, Y3..Y0 map capacity to seconds of flight remaining.
type Coefficients struct {
	X3 float64 `json:"x3"`
	X2 float64 `json:"x2"`
	X1 float64 `json:"x1"`
	X0 float64 `json:"x0"`

	Y3 float64 `json:"y3"`
	Y2 float64 `json:"y2"`
	Y1 float64 `json:"y1"`
	Y0 float64 `json:"y0"`

	NominalCapacity float64 `json:"nominal_capacity"` // mAh
	Unit            string  `json:"unit"`             // Capacity unit used by both curves
}

// VoltageCurve returns the voltage -> capacity curve.
func (c Coefficients) VoltageCurve() Cubic {
	return Cubic{c.X3, c.X2, c.X1, c.X0}
}

// TimeCurve returns the capacity -> time remaining curve.
func (c Coefficients) TimeCurve() Cubic {
	return Cubic{c.Y3, c.Y2, c.Y1, c.Y0}
}

func (c Coefficients) VoltageToCapacity(voltage float64) float64 {
	return c.VoltageCurve().Eval(voltage)
}

func (c Coefficients) CapacityToTime(capacity float64) float64 {
	return c.TimeCurve().Eval(capacity)
}

// FullScale is the capacity of a full battery in the calibration unit.
func (c Coefficients) FullScale() float64 {
	if c.Unit == UnitPercent {
		return 100
	}
	return c.NominalCapacity
}

// FromMAh converts a charge in mAh into the calibration unit.
func (c Coefficients) FromMAh(mAh float64) float64 {
	if c.Unit == UnitPercent {
		return mAh / c.NominalCapacity * 100
	}
	return mAh
}

// Validate checks the coefficients are usable. Curve shape is not checked, any
// finite coefficients are accepted. An all zero curve is the zero value of an
// unset calibration, so it is reported as missing.
func (c Coefficients) Validate() error {
	values := map[string]float64{
		"x3": c.X3, "x2": c.X2, "x1": c.X1, "x0": c.X0,
		"y3": c.Y3, "y2": c.Y2, "y1": c.Y1, "y0": c.Y0,
	}
	for name, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is %v", ErrInvalidCoefficients, name, v)
		}
	}
	if c.VoltageCurve().IsZero() {
		return fmt.Errorf("%w: voltage to capacity curve is missing", ErrInvalidCoefficients)
	}
	if c.TimeCurve().IsZero() {
		return fmt.Errorf("%w: capacity to time curve is missing", ErrInvalidCoefficients)
	}
	if math.IsNaN(c.NominalCapacity) || math.IsInf(c.NominalCapacity, 0) || c.NominalCapacity <= 0 {
		return fmt.Errorf("%w: nominal capacity must be positive, got %v", ErrInvalidCoefficients, c.NominalCapacity)
	}
	switch c.Unit {
	case UnitPercent, UnitMAh:
	default:
		return fmt.Errorf("%w: unknown capacity unit '%s'", ErrInvalidCoefficients, c.Unit)
	}
	return nil
}

package batterymodel

import "fmt"

// Cubic is a third order polynomial, highest degree first.
type Cubic struct {
	P3, P2, P1, P0 float64
}

// Eval returns p3*x^3 + p2*x^2 + p1*x + p0.
func (c Cubic) Eval(x float64) float64 {
	return c.P3*x*x*x + c.P2*x*x + c.P1*x + c.P0
}

func (c Cubic) IsZero() bool {
	return c == Cubic{}
}

func (c Cubic) String() string {
	return fmt.Sprintf("%v*x^3 + %v*x^2 + %v*x + %v", c.P3, c.P2, c.P1, c.P0)
}

package batterymodel

// Reference calibrations fitted from Verge X1 drain tests on an 8500mAh pack.
// The percent curves were fitted from a 1C drain (voltage -> percent) and a 30A
// hover drain (percent -> seconds).

func VergeX1Percent() Coefficients {
	return Coefficients{
		X3: 58.821010559671066,
		X2: -2134.5758966115527,
		X1: 25869.660996405204,
		X0: -104622.36370746762,

		Y3: 0.00031623534490089853,
		Y2: -0.06535263801996286,
		Y1: 15.21882160202914,
		Y0: -32.77764056651616,

		NominalCapacity: 8500,
		Unit:            UnitPercent,
	}
}

func VergeX1MAh() Coefficients {
	return Coefficients{
		X3: 4438.520356552959,
		X2: -161808.41170109142,
		X1: 1970036.1888353096,
		X0: -8003392.537598927,

		Y3: 5.124055173497321e-10,
		Y2: -9.008950105302864e-06,
		Y1: 0.17888813746864485,
		Y0: -32.85067290189358,

		NominalCapacity: 8500,
		Unit:            UnitMAh,
	}
}

package corrections

import (
	"math"

	"github.com/pkg/errors"
)

// PSS-78 practical salinity coefficients (Lewis & Perkin 1981). Conductivity
// is in S/m; the reference conductivity C(35,15,0) is 4.2914 S/m.
const referenceConductivity = 4.2914

var (
	pssA = [6]float64{0.0080, -0.1692, 25.3851, 14.0941, -7.0261, 2.7081}
	pssB = [6]float64{0.0005, -0.0056, -0.0066, -0.0375, 0.0636, -0.0144}
	pssC = [5]float64{0.6766097, 2.00564e-2, 1.104259e-4, -6.9698e-7, 1.0031e-9}
)

// Salinity computes practical salinity from conductivity (S/m), temperature
// (Celsius) and pressure (dbar) using the PSS-78 equation. Returns NaN for
// inputs outside the validity envelope rather than extrapolating nonsense.
func Salinity(conductivity, temperature, pressure float64) float64 {
	if math.IsNaN(conductivity) || math.IsNaN(temperature) || math.IsNaN(pressure) {
		return math.NaN()
	}

	if conductivity <= 0 || temperature < -2 || temperature > 35 {
		return math.NaN()
	}

	r := conductivity / referenceConductivity

	// temperature dependence of the conductivity ratio
	rt := pssC[0] + temperature*(pssC[1]+temperature*(pssC[2]+temperature*(pssC[3]+temperature*pssC[4])))

	// pressure dependence
	e1, e2, e3 := 2.070e-5, -6.370e-10, 3.989e-15
	d1, d2 := 3.426e-2, 4.464e-4
	d3, d4 := 4.215e-1, -3.107e-3

	rp := 1 + pressure*(e1+pressure*(e2+pressure*e3))/
		(1+d1*temperature+d2*temperature*temperature+(d3+d4*temperature)*r)

	capRt := r / (rp * rt)
	if capRt <= 0 {
		return math.NaN()
	}

	sqrtRt := math.Sqrt(capRt)

	s := 0.0
	ds := 0.0
	pow := 1.0
	for i := 0; i < 6; i++ {
		s += pssA[i] * pow
		ds += pssB[i] * pow
		pow *= sqrtRt
	}

	k := 0.0162
	s += (temperature - 15) / (1 + k*(temperature-15)) * ds

	if s < 0 || s > 45 {
		return math.NaN()
	}

	return s
}

// Conductivity inverts the PSS-78 equation, returning the conductivity (S/m)
// that would read the given salinity at the given temperature and pressure.
// Used to synthesize test data and to express corrected salinity back in
// conductivity terms; solved by bisection since the equation has no closed
// form inverse.
func Conductivity(salinity, temperature, pressure float64) (float64, error) {
	if salinity <= 0 || salinity > 42 {
		return 0, errors.Errorf("salinity %f outside invertible range", salinity)
	}

	lo, hi := 1e-3, 9.0

	fLo := Salinity(lo, temperature, pressure)
	fHi := Salinity(hi, temperature, pressure)
	if math.IsNaN(fLo) || math.IsNaN(fHi) || fLo > salinity || fHi < salinity {
		return 0, errors.Errorf("cannot bracket conductivity for salinity %f", salinity)
	}

	for i := 0; i < 100; i++ {
		mid := (lo + hi) / 2
		f := Salinity(mid, temperature, pressure)

		if math.IsNaN(f) {
			return 0, errors.New("salinity became undefined during inversion")
		}

		if f < salinity {
			lo = mid
		} else {
			hi = mid
		}
	}

	return (lo + hi) / 2, nil
}

package corrections

import (
	"math"

	kitlog "github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/optimize"

	"github.com/adeverne/kiwiglider/pkg/naming"
	"github.com/adeverne/kiwiglider/pkg/timeseries"
)

// SalinityColumn names the derived variable the thermal lag correction works
// with. The uncorrected salinity is derived at L0; the corrected salinity and
// conductivity are appended here, never replacing the measured columns.
const (
	SalinityColumn              = naming.Salinity
	CorrectedSalinityColumn     = naming.Salinity + "_corrected"
	CorrectedConductivityColumn = naming.Conductivity + "_corrected"
)

// ThermalLagConfig carries the tunable parameters of the thermal lag search.
// Zero values select the defaults.
type ThermalLagConfig struct {
	// InitialAlpha and InitialTau seed the minimizer: the error magnitude
	// (dimensionless) and time constant (seconds) of the cell's thermal mass.
	// Defaults 0.06 and 10 are the unpumped Slocum CTD values from the
	// thermal lag literature.
	InitialAlpha float64
	InitialTau   float64

	// DepthBin is the bin height in metres for the dive/climb mismatch cost.
	DepthBin float64

	// MinImprovement is the relative cost reduction the fitted correction
	// must achieve before the corrected column is kept. A correction that
	// cannot beat doing nothing by this margin is reported but not applied.
	MinImprovement float64
}

func (c ThermalLagConfig) withDefaults() ThermalLagConfig {
	if c.InitialAlpha == 0 {
		c.InitialAlpha = 0.06
	}
	if c.InitialTau == 0 {
		c.InitialTau = 10
	}
	if c.DepthBin == 0 {
		c.DepthBin = 5
	}
	if c.MinImprovement == 0 {
		c.MinImprovement = 0.05
	}
	return c
}

// ThermalLagResult reports what the correction did, for auditability: the
// chosen parameters and residual cost always, whether the minimizer converged,
// and whether the corrected column was actually appended.
type ThermalLagResult struct {
	Skipped         bool
	Applied         bool
	Converged       bool
	Alpha           float64
	Tau             float64
	Cost            float64
	UncorrectedCost float64
}

// ThermalLag corrects for the conductivity cell's thermal inertia: during
// rapid vertical transit the water inside the cell lags the ambient
// temperature the thermistor reads, spiking derived salinity across
// thermoclines. The correction estimates the in cell temperature with a
// recursive first order error model (Morison 1994) and fits the model's
// (alpha, tau) by minimizing dive/climb salinity mismatch with Nelder-Mead.
// The corrected salinity and conductivity are appended as new columns;
// nothing is mutated.
//
// A deployment without conductivity, temperature and pressure columns, or
// without at least one dive/climb pair, is skipped: a no-op, not a failure.
func ThermalLag(s *timeseries.Series, profiles []timeseries.Profile, cfg ThermalLagConfig, logger kitlog.Logger) (*ThermalLagResult, error) {
	logger = kitlog.With(logger, "module", "corrections")
	cfg = cfg.withDefaults()

	cond, okC := s.Column(naming.Conductivity)
	temp, okT := s.Column(naming.Temperature)
	pres, okP := s.Column(naming.Pressure)
	depth, okD := s.Column(naming.Depth)

	if !okC || !okT || !okP || !okD || len(profiles) < 2 {
		logger.Log("correction", "thermal_lag", "msg", "skipping, inputs absent")
		return &ThermalLagResult{Skipped: true}, nil
	}

	times := s.Times()

	uncorrected := salinityColumn(cond, temp, pres)
	uncorrectedCost := hysteresisCost(depth, uncorrected, profiles, cfg.DepthBin)
	if math.IsNaN(uncorrectedCost) {
		logger.Log("correction", "thermal_lag", "msg", "skipping, no overlapping dive/climb pairs")
		return &ThermalLagResult{Skipped: true}, nil
	}

	cost := func(x []float64) float64 {
		alpha := math.Exp(x[0])
		tau := math.Exp(x[1])

		corrected := salinityColumn(cond, cellTemperature(times, temp, alpha, tau), pres)
		c := hysteresisCost(depth, corrected, profiles, cfg.DepthBin)
		if math.IsNaN(c) {
			return math.Inf(1)
		}
		return c
	}

	problem := optimize.Problem{Func: cost}
	x0 := []float64{math.Log(cfg.InitialAlpha), math.Log(cfg.InitialTau)}

	result := &ThermalLagResult{
		Alpha:           cfg.InitialAlpha,
		Tau:             cfg.InitialTau,
		UncorrectedCost: uncorrectedCost,
	}

	solution, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
	if err != nil {
		// non convergence is a warning, not an abort: report the seed
		// parameters and their cost and leave the series untouched
		result.Cost = cost(x0)
		logger.Log("correction", "thermal_lag", "err", err, "msg", "minimizer failed to converge")
		return result, nil
	}

	result.Converged = true
	result.Alpha = math.Exp(solution.X[0])
	result.Tau = math.Exp(solution.X[1])
	result.Cost = solution.F

	improvement := (uncorrectedCost - result.Cost) / uncorrectedCost
	if improvement < cfg.MinImprovement {
		logger.Log(
			"correction", "thermal_lag",
			"alpha", result.Alpha,
			"tau", result.Tau,
			"cost", result.Cost,
			"uncorrected_cost", uncorrectedCost,
			"msg", "correction below quality threshold, not applied",
		)
		return result, nil
	}

	corrected := salinityColumn(cond, cellTemperature(times, temp, result.Alpha, result.Tau), pres)
	if err := s.AddColumn(CorrectedSalinityColumn, corrected); err != nil {
		return nil, errors.Wrap(err, "failed to append corrected salinity")
	}

	if err := s.AddColumn(CorrectedConductivityColumn, conductivityColumn(corrected, temp, pres)); err != nil {
		return nil, errors.Wrap(err, "failed to append corrected conductivity")
	}

	result.Applied = true

	logger.Log(
		"correction", "thermal_lag",
		"alpha", result.Alpha,
		"tau", result.Tau,
		"cost", result.Cost,
		"uncorrected_cost", uncorrectedCost,
		"msg", "applied thermal lag correction",
	)

	return result, nil
}

// DeriveSalinity appends the uncorrected practical salinity column computed
// from conductivity, temperature and pressure. A no-op when any input column
// is absent or salinity is already present.
func DeriveSalinity(s *timeseries.Series) error {
	if s.Has(SalinityColumn) {
		return nil
	}

	cond, okC := s.Column(naming.Conductivity)
	temp, okT := s.Column(naming.Temperature)
	pres, okP := s.Column(naming.Pressure)
	if !okC || !okT || !okP {
		return nil
	}

	return s.AddColumn(SalinityColumn, salinityColumn(cond, temp, pres))
}

func salinityColumn(cond, temp, pres []float64) []float64 {
	out := make([]float64, len(cond))
	for i := range out {
		out[i] = Salinity(cond[i], temp[i], pres[i])
	}
	return out
}

// conductivityColumn inverts the corrected salinity back into a conductivity
// referenced to the thermistor temperature, so both corrected variables are
// mutually consistent.
func conductivityColumn(sal, temp, pres []float64) []float64 {
	out := make([]float64, len(sal))
	for i := range out {
		if math.IsNaN(sal[i]) || math.IsNaN(temp[i]) || math.IsNaN(pres[i]) {
			out[i] = math.NaN()
			continue
		}

		c, err := Conductivity(sal[i], temp[i], pres[i])
		if err != nil {
			c = math.NaN()
		}
		out[i] = c
	}
	return out
}

// cellTemperature estimates the temperature of the water inside the
// conductivity cell from the thermistor record, using the recursive first
// order error model. alpha is the initial error magnitude, tau the error time
// constant in seconds.
func cellTemperature(times, temp []float64, alpha, tau float64) []float64 {
	out := make([]float64, len(temp))
	copy(out, temp)

	if alpha <= 0 || tau <= 0 {
		return out
	}

	errTerm := 0.0
	prev := -1

	for i, t := range temp {
		if math.IsNaN(t) {
			continue
		}

		if prev >= 0 {
			dt := times[i] - times[prev]
			if dt > 0 {
				fn := 1 / (2 * dt)
				a := 4 * fn * alpha * tau / (1 + 4*fn*tau)
				b := 1 - 2*a/alpha

				errTerm = -b*errTerm + a*(t-temp[prev])
			}
		}

		out[i] = t - errTerm
		prev = i
	}

	return out
}

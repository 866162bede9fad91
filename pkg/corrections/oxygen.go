package corrections

import (
	"math"

	kitlog "github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/optimize"

	"github.com/adeverne/kiwiglider/pkg/naming"
	"github.com/adeverne/kiwiglider/pkg/timeseries"
)

// CorrectedOxygenColumn is the variable the optode response correction
// appends.
const CorrectedOxygenColumn = naming.Oxygen + "_corrected"

// OxygenConfig carries the optode response correction parameters. Zero values
// select the defaults.
type OxygenConfig struct {
	// Tau is the sensor response time constant in seconds. When zero the
	// correction fits it from the data; deployments with a bench
	// characterised optode should pin it here.
	Tau float64

	// SmoothWindow is the width in seconds of the smoothing applied before
	// differentiating; deconvolution amplifies noise, so the derivative must
	// come from a smoothed signal.
	SmoothWindow float64

	// DepthBin is the bin height in metres for the dive/climb mismatch cost
	// used when fitting Tau.
	DepthBin float64

	// MinImprovement is the relative cost reduction a fitted Tau must achieve
	// before the corrected column is kept. Ignored when Tau is pinned.
	MinImprovement float64
}

func (c OxygenConfig) withDefaults() OxygenConfig {
	if c.SmoothWindow == 0 {
		c.SmoothWindow = 30
	}
	if c.DepthBin == 0 {
		c.DepthBin = 5
	}
	if c.MinImprovement == 0 {
		c.MinImprovement = 0.05
	}
	return c
}

// OxygenResult reports what the correction did.
type OxygenResult struct {
	Skipped         bool
	Applied         bool
	Converged       bool
	Fitted          bool
	Tau             float64
	Cost            float64
	UncorrectedCost float64
}

// OxygenResponse corrects the optode's first order response lag: the sensor
// reading O follows the true concentration with time constant tau, so the
// environment value is recovered by the inverse filter O + tau dO/dt applied
// to the smoothed signal. With no pinned tau the time constant is fitted by
// minimizing dive/climb mismatch of the corrected signal. The corrected
// oxygen concentration is appended as a new column alongside the original.
//
// A deployment without an optode is skipped: a no-op, not a failure.
func OxygenResponse(s *timeseries.Series, profiles []timeseries.Profile, cfg OxygenConfig, logger kitlog.Logger) (*OxygenResult, error) {
	logger = kitlog.With(logger, "module", "corrections")
	cfg = cfg.withDefaults()

	oxygen, okO := s.Column(naming.Oxygen)
	if !okO {
		logger.Log("correction", "oxygen_response", "msg", "skipping, no optode aboard")
		return &OxygenResult{Skipped: true}, nil
	}

	times := s.Times()
	smoothed := movingAverage(times, oxygen, cfg.SmoothWindow)
	rate := derivative(times, smoothed)

	correct := func(tau float64) []float64 {
		out := make([]float64, len(oxygen))
		for i, v := range oxygen {
			if math.IsNaN(v) || math.IsNaN(rate[i]) {
				out[i] = math.NaN()
				continue
			}
			out[i] = v + tau*rate[i]
		}
		return out
	}

	if cfg.Tau > 0 {
		if err := s.AddColumn(CorrectedOxygenColumn, correct(cfg.Tau)); err != nil {
			return nil, errors.Wrap(err, "failed to append corrected oxygen")
		}

		logger.Log("correction", "oxygen_response", "tau", cfg.Tau, "msg", "applied pinned response correction")
		return &OxygenResult{Applied: true, Converged: true, Tau: cfg.Tau}, nil
	}

	depth, okD := s.Column(naming.Depth)
	if !okD || len(profiles) < 2 {
		logger.Log("correction", "oxygen_response", "msg", "skipping, cannot fit tau without profiles")
		return &OxygenResult{Skipped: true}, nil
	}

	uncorrectedCost := hysteresisCost(depth, oxygen, profiles, cfg.DepthBin)
	if math.IsNaN(uncorrectedCost) {
		logger.Log("correction", "oxygen_response", "msg", "skipping, no overlapping dive/climb pairs")
		return &OxygenResult{Skipped: true}, nil
	}

	cost := func(x []float64) float64 {
		tau := math.Exp(x[0])
		c := hysteresisCost(depth, correct(tau), profiles, cfg.DepthBin)
		if math.IsNaN(c) {
			return math.Inf(1)
		}
		return c
	}

	result := &OxygenResult{Fitted: true, UncorrectedCost: uncorrectedCost}

	seed := []float64{math.Log(25.0)}

	solution, err := optimize.Minimize(optimize.Problem{Func: cost}, seed, nil, &optimize.NelderMead{})
	if err != nil {
		result.Tau = math.Exp(seed[0])
		result.Cost = cost(seed)
		logger.Log("correction", "oxygen_response", "err", err, "msg", "minimizer failed to converge")
		return result, nil
	}

	result.Converged = true
	result.Tau = math.Exp(solution.X[0])
	result.Cost = solution.F

	improvement := (uncorrectedCost - result.Cost) / uncorrectedCost
	if improvement < cfg.MinImprovement {
		logger.Log(
			"correction", "oxygen_response",
			"tau", result.Tau,
			"cost", result.Cost,
			"uncorrected_cost", uncorrectedCost,
			"msg", "correction below quality threshold, not applied",
		)
		return result, nil
	}

	if err := s.AddColumn(CorrectedOxygenColumn, correct(result.Tau)); err != nil {
		return nil, errors.Wrap(err, "failed to append corrected oxygen")
	}

	result.Applied = true

	logger.Log(
		"correction", "oxygen_response",
		"tau", result.Tau,
		"cost", result.Cost,
		"uncorrected_cost", uncorrectedCost,
		"msg", "applied response correction",
	)

	return result, nil
}

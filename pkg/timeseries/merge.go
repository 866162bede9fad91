package timeseries

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/interp"
)

// Channel is one canonical variable's samples as extracted from a decoded
// stream, in decode order. Times need not be sorted and may repeat; Compact
// resolves collisions before the merge.
type Channel struct {
	Times  []float64
	Values []float64
}

// Compact returns the channel sorted by time with duplicate timestamps
// collapsed. The later-decoded sample wins a collision, matching log append
// order: a resent realtime segment supersedes the truncated original.
func (c Channel) Compact() Channel {
	type sample struct {
		t, v  float64
		order int
	}

	samples := make([]sample, 0, len(c.Times))
	for i := range c.Times {
		if math.IsNaN(c.Times[i]) || math.IsNaN(c.Values[i]) {
			continue
		}
		samples = append(samples, sample{t: c.Times[i], v: c.Values[i], order: i})
	}

	sort.SliceStable(samples, func(i, j int) bool {
		if samples[i].t != samples[j].t {
			return samples[i].t < samples[j].t
		}
		return samples[i].order < samples[j].order
	})

	out := Channel{}
	for _, s := range samples {
		if n := len(out.Times); n > 0 && out.Times[n-1] == s.t {
			out.Values[n-1] = s.v
			continue
		}
		out.Times = append(out.Times, s.t)
		out.Values = append(out.Values, s.v)
	}

	return out
}

// JoinPolicy controls how flight channels are joined onto the science time
// axis.
type JoinPolicy struct {
	// Window is the furthest, in seconds, a flight sample may be from an axis
	// timestamp and still contribute to it. Outside the window the joined
	// value is NaN rather than an invented one.
	Window float64
}

// Merge builds the L0 series from resolved canonical channels. Science
// channels define the time axis and are placed only at their native sample
// times; flight channels are linearly interpolated onto that axis within the
// policy window, clamping to the nearest sample at the ends of their record.
// When a deployment has produced no science data yet (early in a realtime
// mission) the flight channels' own union axis is used instead.
func Merge(science, flight map[string]Channel, policy JoinPolicy) (*Series, error) {
	if policy.Window <= 0 {
		return nil, errors.New("join window must be positive")
	}

	compactSci := compactAll(science)
	compactFlt := compactAll(flight)

	axis := unionAxis(compactSci)
	if len(axis) == 0 {
		axis = unionAxis(compactFlt)
	}

	series, err := New(axis)
	if err != nil {
		return nil, err
	}

	for _, name := range sortedNames(compactSci) {
		if err := series.AddColumn(name, placeNative(axis, compactSci[name])); err != nil {
			return nil, errors.Wrapf(err, "failed to place science channel '%s'", name)
		}
	}

	for _, name := range sortedNames(compactFlt) {
		if series.Has(name) {
			// A science binding for the same canonical variable always
			// outranks the flight fallback.
			continue
		}

		values, err := joinFlight(axis, compactFlt[name], policy.Window)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to join flight channel '%s'", name)
		}

		if err := series.AddColumn(name, values); err != nil {
			return nil, errors.Wrapf(err, "failed to place flight channel '%s'", name)
		}
	}

	return series, nil
}

func compactAll(channels map[string]Channel) map[string]Channel {
	out := make(map[string]Channel, len(channels))
	for name, c := range channels {
		compacted := c.Compact()
		if len(compacted.Times) > 0 {
			out[name] = compacted
		}
	}
	return out
}

func sortedNames(channels map[string]Channel) []string {
	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// unionAxis merges every channel's timestamps into one sorted, deduplicated
// axis.
func unionAxis(channels map[string]Channel) []float64 {
	seen := map[float64]bool{}
	for _, c := range channels {
		for _, t := range c.Times {
			seen[t] = true
		}
	}

	axis := make([]float64, 0, len(seen))
	for t := range seen {
		axis = append(axis, t)
	}
	sort.Float64s(axis)
	return axis
}

// placeNative puts a channel's values at their exact axis positions, NaN
// everywhere else. Science values are measurements; they appear only where a
// measurement was taken.
func placeNative(axis []float64, c Channel) []float64 {
	values := make([]float64, len(axis))
	for i := range values {
		values[i] = math.NaN()
	}

	j := 0
	for i, t := range axis {
		for j < len(c.Times) && c.Times[j] < t {
			j++
		}
		if j < len(c.Times) && c.Times[j] == t {
			values[i] = c.Values[j]
		}
	}

	return values
}

// joinFlight interpolates a flight channel onto the axis. Inside the channel's
// time span values are linear between the bracketing samples; beyond either
// end they clamp to the end sample. Both cases only apply within the window of
// the nearest real sample.
func joinFlight(axis []float64, c Channel, window float64) ([]float64, error) {
	values := make([]float64, len(axis))
	for i := range values {
		values[i] = math.NaN()
	}

	if len(c.Times) == 1 {
		for i, t := range axis {
			if math.Abs(t-c.Times[0]) <= window {
				values[i] = c.Values[0]
			}
		}
		return values, nil
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(c.Times, c.Values); err != nil {
		return nil, errors.Wrap(err, "failed to fit interpolant")
	}

	for i, t := range axis {
		if nearestGap(c.Times, t) > window {
			continue
		}

		switch {
		case t <= c.Times[0]:
			values[i] = c.Values[0]
		case t >= c.Times[len(c.Times)-1]:
			values[i] = c.Values[len(c.Values)-1]
		default:
			values[i] = pl.Predict(t)
		}
	}

	return values, nil
}

// nearestGap returns the distance from t to the closest sample time in the
// sorted slice times.
func nearestGap(times []float64, t float64) float64 {
	i := sort.SearchFloat64s(times, t)

	gap := math.Inf(1)
	if i < len(times) {
		gap = times[i] - t
	}
	if i > 0 {
		if d := t - times[i-1]; d < gap {
			gap = d
		}
	}
	return gap
}

// DeriveDepth adds a depth column computed from pressure where the deployment
// has no depth channel of its own. The shallow water approximation (1 dbar ≈
// 1.019716 m) is within a few centimetres over glider depths.
func DeriveDepth(s *Series, pressureVar, depthVar string) error {
	if s.Has(depthVar) {
		return nil
	}

	pressure, ok := s.Column(pressureVar)
	if !ok {
		return errors.Errorf("no '%s' column to derive depth from", pressureVar)
	}

	depth := make([]float64, len(pressure))
	for i, p := range pressure {
		if math.IsNaN(p) {
			depth[i] = math.NaN()
			continue
		}
		depth[i] = p * 1.019716
	}

	return s.AddColumn(depthVar, depth)
}

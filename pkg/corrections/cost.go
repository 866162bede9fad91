package corrections

import (
	"math"

	"github.com/adeverne/kiwiglider/pkg/timeseries"
)

// hysteresisCost measures dive/climb disagreement for one variable: adjacent
// profiles sample the same water column minutes apart, so after a good
// correction their depth binned means should coincide. Returns the RMS
// difference over the bins both legs of each adjacent pair visit, averaged
// across pairs, or NaN when no pair has overlapping bins.
func hysteresisCost(depth, values []float64, profiles []timeseries.Profile, binSize float64) float64 {
	if binSize <= 0 || len(profiles) < 2 {
		return math.NaN()
	}

	sum := 0.0
	pairs := 0

	for i := 0; i+1 < len(profiles); i++ {
		a, b := profiles[i], profiles[i+1]
		if a.Direction == b.Direction {
			continue
		}

		binsA := binMeans(depth, values, a, binSize)
		binsB := binMeans(depth, values, b, binSize)

		diff := 0.0
		n := 0
		for bin, meanA := range binsA {
			meanB, ok := binsB[bin]
			if !ok {
				continue
			}
			diff += (meanA - meanB) * (meanA - meanB)
			n++
		}

		if n == 0 {
			continue
		}

		sum += math.Sqrt(diff / float64(n))
		pairs++
	}

	if pairs == 0 {
		return math.NaN()
	}

	return sum / float64(pairs)
}

// binMeans averages a profile's values into depth bins.
func binMeans(depth, values []float64, p timeseries.Profile, binSize float64) map[int]float64 {
	sums := map[int]float64{}
	counts := map[int]int{}

	for i := p.Start; i < p.End; i++ {
		if math.IsNaN(depth[i]) || math.IsNaN(values[i]) {
			continue
		}
		bin := int(math.Floor(depth[i] / binSize))
		sums[bin] += values[i]
		counts[bin]++
	}

	means := make(map[int]float64, len(sums))
	for bin, sum := range sums {
		means[bin] = sum / float64(counts[bin])
	}
	return means
}

// movingAverage smooths values over a centred time window, ignoring NaN.
func movingAverage(times, values []float64, window float64) []float64 {
	half := window / 2
	out := make([]float64, len(values))

	lo, hi := 0, 0
	for i, t := range times {
		for lo < len(times) && times[lo] < t-half {
			lo++
		}
		if hi < i {
			hi = i
		}
		for hi+1 < len(times) && times[hi+1] <= t+half {
			hi++
		}

		sum, n := 0.0, 0
		for j := lo; j <= hi; j++ {
			if math.IsNaN(values[j]) {
				continue
			}
			sum += values[j]
			n++
		}

		if n == 0 {
			out[i] = math.NaN()
		} else {
			out[i] = sum / float64(n)
		}
	}

	return out
}

// derivative computes a centred finite difference of values against time,
// skipping across NaN gaps.
func derivative(times, values []float64) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}

	valid := []int{}
	for i, v := range values {
		if !math.IsNaN(v) {
			valid = append(valid, i)
		}
	}

	for k := range valid {
		i := valid[k]

		switch {
		case k == 0 && len(valid) > 1:
			j := valid[k+1]
			out[i] = (values[j] - values[i]) / (times[j] - times[i])
		case k == len(valid)-1 && len(valid) > 1:
			j := valid[k-1]
			out[i] = (values[i] - values[j]) / (times[i] - times[j])
		case len(valid) > 2:
			prev, next := valid[k-1], valid[k+1]
			out[i] = (values[next] - values[prev]) / (times[next] - times[prev])
		}
	}

	return out
}

package timeseries

import (
	"math"

	"github.com/pkg/errors"
)

// Direction is the vertical sense of a profile.
type Direction int

const (
	// Dive is a descending profile: depth increasing.
	Dive Direction = 1

	// Climb is an ascending profile: depth decreasing.
	Climb Direction = -1
)

// String renders the direction the way the dataset attributes spell it.
func (d Direction) String() string {
	if d == Dive {
		return "dive"
	}
	return "climb"
}

// Profile is one contiguous dive or climb segment, a half open sample range
// [Start, End) on the series axis. Index numbers profiles sequentially from 1.
type Profile struct {
	Index     int
	Direction Direction
	Start     int
	End       int
}

// SplitOptions controls profile detection.
type SplitOptions struct {
	// FilterWindow is the width, in seconds, of the centred moving average
	// applied to depth before looking for direction reversals. The raw depth
	// signal wobbles with every steering correction; without smoothing each
	// wobble would read as a reversal.
	FilterWindow float64

	// MinSamples is the fewest depth samples a segment may hold and still
	// count as a profile. Shorter segments are surface noise or an inflection
	// stall and are merged into the preceding segment.
	MinSamples int
}

// ProfileIndexColumn and ProfileDirectionColumn are the per sample columns
// SplitProfiles attaches: the owning profile's number and its direction as
// +1 (dive) / -1 (climb).
const (
	ProfileIndexColumn     = "profile_index"
	ProfileDirectionColumn = "profile_direction"
)

// SplitProfiles partitions the series into dive and climb segments using sign
// changes of the smoothed depth derivative, attaches the profile index and
// direction columns, and returns the segments. A series with no usable depth
// signal yields zero profiles and no columns, which is not an error: early
// realtime data often has no depth yet.
func SplitProfiles(s *Series, depthVar string, opts SplitOptions) ([]Profile, error) {
	if opts.FilterWindow <= 0 {
		return nil, errors.New("profile filter window must be positive")
	}
	if opts.MinSamples < 1 {
		return nil, errors.New("profile minimum sample count must be at least 1")
	}

	depth, ok := s.Column(depthVar)
	if !ok {
		return nil, nil
	}

	filled := fillInterior(depth)
	smoothed := smooth(s.Times(), filled, opts.FilterWindow)

	signs := derivativeSigns(smoothed)
	if signs == nil {
		return nil, nil
	}

	segments := segmentBySign(signs)
	segments = mergeShort(segments, depth, opts.MinSamples)
	if len(segments) == 0 {
		return nil, nil
	}

	profiles := make([]Profile, len(segments))
	for i, seg := range segments {
		profiles[i] = Profile{
			Index:     i + 1,
			Direction: seg.direction,
			Start:     seg.start,
			End:       seg.end,
		}
	}

	index := make([]float64, s.Len())
	direction := make([]float64, s.Len())
	for _, p := range profiles {
		for i := p.Start; i < p.End; i++ {
			index[i] = float64(p.Index)
			direction[i] = float64(p.Direction)
		}
	}

	if err := s.AddColumn(ProfileIndexColumn, index); err != nil {
		return nil, err
	}
	if err := s.AddColumn(ProfileDirectionColumn, direction); err != nil {
		return nil, err
	}

	return profiles, nil
}

type segment struct {
	direction Direction
	start     int
	end       int
}

// fillInterior linearly interpolates across interior NaN gaps so smoothing and
// differencing see a continuous signal. Leading and trailing NaNs stay NaN;
// the depth column itself is never modified.
func fillInterior(depth []float64) []float64 {
	filled := make([]float64, len(depth))
	copy(filled, depth)

	prev := -1
	for i, v := range filled {
		if math.IsNaN(v) {
			continue
		}
		if prev >= 0 && i-prev > 1 {
			span := filled[i] - filled[prev]
			for j := prev + 1; j < i; j++ {
				filled[j] = filled[prev] + span*float64(j-prev)/float64(i-prev)
			}
		}
		prev = i
	}

	return filled
}

// smooth applies a centred moving average over a time window.
func smooth(times, values []float64, window float64) []float64 {
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

// derivativeSigns assigns each sample the sign of the smoothed depth change at
// that point. Flat or NaN stretches inherit the previous sign so a pause at an
// inflection does not fragment the profile. Returns nil when the signal never
// establishes a direction.
func derivativeSigns(smoothed []float64) []Direction {
	if len(smoothed) < 2 {
		return nil
	}

	signs := make([]Direction, len(smoothed))
	current := Direction(0)

	prevValid := -1
	for i, v := range smoothed {
		if math.IsNaN(v) {
			signs[i] = current
			continue
		}

		if prevValid >= 0 {
			delta := v - smoothed[prevValid]
			if delta > 0 {
				current = Dive
			} else if delta < 0 {
				current = Climb
			}
		}

		signs[i] = current
		prevValid = i
	}

	if current == 0 {
		return nil
	}

	// Samples before the first established direction belong to it.
	first := Direction(0)
	for _, s := range signs {
		if s != 0 {
			first = s
			break
		}
	}
	for i := range signs {
		if signs[i] != 0 {
			break
		}
		signs[i] = first
	}

	return signs
}

// segmentBySign turns the per sample direction signal into contiguous
// segments tiling the whole axis.
func segmentBySign(signs []Direction) []segment {
	segments := []segment{}

	start := 0
	for i := 1; i < len(signs); i++ {
		if signs[i] != signs[start] {
			segments = append(segments, segment{direction: signs[start], start: start, end: i})
			start = i
		}
	}
	segments = append(segments, segment{direction: signs[start], start: start, end: len(signs)})

	return segments
}

// mergeShort folds segments with too few valid depth samples into their
// neighbour, preferring the preceding segment, then renumbers.
func mergeShort(segments []segment, depth []float64, minSamples int) []segment {
	countValid := func(seg segment) int {
		n := 0
		for i := seg.start; i < seg.end; i++ {
			if !math.IsNaN(depth[i]) {
				n++
			}
		}
		return n
	}

	for {
		merged := false

		for i, seg := range segments {
			if countValid(seg) >= minSamples || len(segments) == 1 {
				continue
			}

			if i > 0 {
				segments[i-1].end = seg.end
				segments = append(segments[:i], segments[i+1:]...)
			} else {
				segments[1].start = seg.start
				segments = segments[1:]
			}

			merged = true
			break
		}

		if !merged {
			return segments
		}
	}
}

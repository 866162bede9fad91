package timeseries

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// Series is the merged timeseries container: a strictly increasing time axis
// (seconds since the Unix epoch) plus named canonical variable columns of the
// same length. NaN marks a missing sample; the merge never fabricates values.
type Series struct {
	times   []float64
	names   []string
	columns map[string][]float64
}

// New returns a Series over the given time axis. The axis must be strictly
// increasing; a duplicate or reversed timestamp here means an upstream merge
// bug, so it is rejected rather than repaired.
func New(times []float64) (*Series, error) {
	for i := 1; i < len(times); i++ {
		if times[i] <= times[i-1] {
			return nil, errors.Errorf("time axis not strictly increasing at index %d", i)
		}
	}

	axis := make([]float64, len(times))
	copy(axis, times)

	return &Series{
		times:   axis,
		columns: map[string][]float64{},
	}, nil
}

// Len returns the number of samples on the time axis.
func (s *Series) Len() int {
	return len(s.times)
}

// Times returns the time axis. Callers must not mutate it.
func (s *Series) Times() []float64 {
	return s.times
}

// Names returns the column names in insertion order.
func (s *Series) Names() []string {
	names := make([]string, len(s.names))
	copy(names, s.names)
	return names
}

// Has returns true when the named column exists.
func (s *Series) Has(name string) bool {
	_, ok := s.columns[name]
	return ok
}

// Column returns the values for the named column. Callers must not mutate the
// returned slice; use SetColumn to replace a column wholesale.
func (s *Series) Column(name string) ([]float64, bool) {
	values, ok := s.columns[name]
	return values, ok
}

// AddColumn attaches a new column. The column must match the axis length and
// the name must be unused.
func (s *Series) AddColumn(name string, values []float64) error {
	if name == "" {
		return errors.New("column with empty name")
	}

	if _, ok := s.columns[name]; ok {
		return errors.Errorf("column '%s' already present", name)
	}

	if len(values) != len(s.times) {
		return errors.Errorf("column '%s' has %d values for %d timestamps", name, len(values), len(s.times))
	}

	stored := make([]float64, len(values))
	copy(stored, values)

	s.names = append(s.names, name)
	s.columns[name] = stored
	return nil
}

// Slice returns a new Series covering samples [from, to).
func (s *Series) Slice(from, to int) (*Series, error) {
	if from < 0 || to > len(s.times) || from > to {
		return nil, errors.Errorf("slice [%d, %d) out of range for %d samples", from, to, len(s.times))
	}

	sliced, err := New(s.times[from:to])
	if err != nil {
		return nil, err
	}

	for _, name := range s.names {
		if err := sliced.AddColumn(name, s.columns[name][from:to]); err != nil {
			return nil, err
		}
	}

	return sliced, nil
}

// Append unions the incoming series onto this one, returning the merged series
// and the count of timestamps that were genuinely new. Where timestamps
// collide the incoming sample wins, so re-appending an already merged range is
// idempotent: same data in, same series out, zero added.
func (s *Series) Append(incoming *Series) (*Series, int, error) {
	existing := make(map[float64]int, len(s.times))
	for i, t := range s.times {
		existing[t] = i
	}

	added := 0
	axis := make([]float64, len(s.times))
	copy(axis, s.times)

	for _, t := range incoming.times {
		if _, ok := existing[t]; !ok {
			axis = append(axis, t)
			added++
		}
	}
	sort.Float64s(axis)

	index := make(map[float64]int, len(axis))
	for i, t := range axis {
		index[t] = i
	}

	merged, err := New(axis)
	if err != nil {
		return nil, 0, err
	}

	names := make([]string, 0, len(s.names))
	names = append(names, s.names...)
	for _, name := range incoming.names {
		if !merged.hasName(names, name) {
			names = append(names, name)
		}
	}

	for _, name := range names {
		values := make([]float64, len(axis))
		for i := range values {
			values[i] = math.NaN()
		}

		if col, ok := s.columns[name]; ok {
			for i, t := range s.times {
				values[index[t]] = col[i]
			}
		}

		if col, ok := incoming.columns[name]; ok {
			for i, t := range incoming.times {
				values[index[t]] = col[i]
			}
		}

		if err := merged.AddColumn(name, values); err != nil {
			return nil, 0, err
		}
	}

	return merged, added, nil
}

func (s *Series) hasName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// FirstValid returns the first non-NaN value of the named column and its
// timestamp.
func (s *Series) FirstValid(name string) (t, v float64, ok bool) {
	col, present := s.columns[name]
	if !present {
		return 0, 0, false
	}
	for i, value := range col {
		if !math.IsNaN(value) {
			return s.times[i], value, true
		}
	}
	return 0, 0, false
}

// LastValid returns the last non-NaN value of the named column and its
// timestamp.
func (s *Series) LastValid(name string) (t, v float64, ok bool) {
	col, present := s.columns[name]
	if !present {
		return 0, 0, false
	}
	for i := len(col) - 1; i >= 0; i-- {
		if !math.IsNaN(col[i]) {
			return s.times[i], col[i], true
		}
	}
	return 0, 0, false
}

// MaxValid returns the largest non-NaN value of the named column.
func (s *Series) MaxValid(name string) (float64, bool) {
	col, present := s.columns[name]
	if !present {
		return 0, false
	}

	max := math.NaN()
	for _, value := range col {
		if math.IsNaN(value) {
			continue
		}
		if math.IsNaN(max) || value > max {
			max = value
		}
	}

	if math.IsNaN(max) {
		return 0, false
	}
	return max, true
}

package qc

import (
	"math"

	"github.com/pkg/errors"

	"github.com/adeverne/kiwiglider/pkg/deployment"
)

// GrossRange flags values outside the sensor's plausible span. The fail span
// is mandatory; the suspect span, when configured, must nest inside it.
type GrossRange struct {
	FailMin, FailMax       float64
	SuspectMin, SuspectMax float64
	HasSuspect             bool
}

// Spike flags values that deviate from the midpoint of their neighbours by
// more than a threshold. Endpoints cannot be judged and are left not
// evaluated.
type Spike struct {
	SuspectThreshold float64
	FailThreshold    float64
}

// RateOfChange flags samples whose change per second from the previous valid
// sample exceeds a threshold. A genuine thermocline crossing can trip this,
// which is why it flags suspect rather than fail.
type RateOfChange struct {
	Threshold float64
}

// FlatLine flags stretches where the value stays within tolerance of its
// predecessors for longer than the suspect or fail window, in seconds. A
// biofouled or iced sensor reports exactly this.
type FlatLine struct {
	SuspectWindow float64
	FailWindow    float64
	Tolerance     float64
}

// VariableTests is the configured test set for one canonical variable. Nil
// members are simply not run.
type VariableTests struct {
	GrossRange   *GrossRange
	Spike        *Spike
	RateOfChange *RateOfChange
	FlatLine     *FlatLine
}

// TestsFromConfig parses the deployment document's qartod block into per
// variable test sets. A variable with no qartod entry gets no tests, which is
// legitimate: flag columns are only emitted for tested variables.
func TestsFromConfig(cfg *deployment.Config) (map[string]VariableTests, error) {
	tests := map[string]VariableTests{}

	for _, name := range cfg.VariableNames() {
		block, ok := cfg.Qartod(name)
		if !ok {
			continue
		}

		vt := VariableTests{}

		if gross, ok := block.Child("gross_range_test"); ok {
			span, ok := gross.Floats("fail_span")
			if !ok || len(span) != 2 {
				return nil, errors.Errorf("variable '%s' gross_range_test has no two element fail_span", name)
			}

			gr := &GrossRange{FailMin: span[0], FailMax: span[1]}

			if suspect, ok := gross.Floats("suspect_span"); ok {
				if len(suspect) != 2 {
					return nil, errors.Errorf("variable '%s' gross_range_test has a malformed suspect_span", name)
				}
				gr.SuspectMin, gr.SuspectMax = suspect[0], suspect[1]
				gr.HasSuspect = true
			}

			vt.GrossRange = gr
		}

		if spike, ok := block.Child("spike_test"); ok {
			suspect, okS := spike.Float("suspect_threshold")
			fail, okF := spike.Float("fail_threshold")
			if !okS || !okF {
				return nil, errors.Errorf("variable '%s' spike_test is missing thresholds", name)
			}
			vt.Spike = &Spike{SuspectThreshold: suspect, FailThreshold: fail}
		}

		if roc, ok := block.Child("rate_of_change_test"); ok {
			threshold, ok := roc.Float("threshold")
			if !ok {
				return nil, errors.Errorf("variable '%s' rate_of_change_test is missing its threshold", name)
			}
			vt.RateOfChange = &RateOfChange{Threshold: threshold}
		}

		if flat, ok := block.Child("flat_line_test"); ok {
			suspect, okS := flat.Float("suspect_threshold")
			fail, okF := flat.Float("fail_threshold")
			tolerance, okT := flat.Float("tolerance")
			if !okS || !okF || !okT {
				return nil, errors.Errorf("variable '%s' flat_line_test is missing parameters", name)
			}
			vt.FlatLine = &FlatLine{SuspectWindow: suspect, FailWindow: fail, Tolerance: tolerance}
		}

		tests[name] = vt
	}

	return tests, nil
}

// Check runs the gross range test over one column.
func (g *GrossRange) Check(times, values []float64) []Flag {
	flags := make([]Flag, len(values))

	for i, v := range values {
		switch {
		case math.IsNaN(v):
			flags[i] = Missing
		case v < g.FailMin || v > g.FailMax:
			flags[i] = Fail
		case g.HasSuspect && (v < g.SuspectMin || v > g.SuspectMax):
			flags[i] = Suspect
		default:
			flags[i] = Pass
		}
	}

	return flags
}

// Check runs the spike test over one column. Each interior sample is compared
// against the midpoint of its nearest valid neighbours.
func (s *Spike) Check(times, values []float64) []Flag {
	flags := make([]Flag, len(values))
	for i := range flags {
		if math.IsNaN(values[i]) {
			flags[i] = Missing
		} else {
			flags[i] = NotEvaluated
		}
	}

	valid := []int{}
	for i, v := range values {
		if !math.IsNaN(v) {
			valid = append(valid, i)
		}
	}

	for k := 1; k < len(valid)-1; k++ {
		i := valid[k]
		prev := values[valid[k-1]]
		next := values[valid[k+1]]

		deviation := math.Abs(values[i] - (prev+next)/2)

		switch {
		case deviation > s.FailThreshold:
			flags[i] = Fail
		case deviation > s.SuspectThreshold:
			flags[i] = Suspect
		default:
			flags[i] = Pass
		}
	}

	return flags
}

// Check runs the rate of change test over one column.
func (r *RateOfChange) Check(times, values []float64) []Flag {
	flags := make([]Flag, len(values))
	for i := range flags {
		if math.IsNaN(values[i]) {
			flags[i] = Missing
		} else {
			flags[i] = NotEvaluated
		}
	}

	prev := -1
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}

		if prev >= 0 {
			dt := times[i] - times[prev]
			if dt > 0 && math.Abs(v-values[prev])/dt > r.Threshold {
				flags[i] = Suspect
			} else {
				flags[i] = Pass
			}
		}

		prev = i
	}

	return flags
}

// Check runs the flat line test over one column. A sample fails when every
// valid value over the preceding fail window sits within tolerance of it, and
// is suspect over the shorter suspect window. Windows are in seconds.
func (f *FlatLine) Check(times, values []float64) []Flag {
	flags := make([]Flag, len(values))

	for i, v := range values {
		if math.IsNaN(v) {
			flags[i] = Missing
			continue
		}

		flatSpan := 0.0
		count := 0
		for j := i - 1; j >= 0; j-- {
			if math.IsNaN(values[j]) {
				continue
			}
			if math.Abs(values[j]-v) > f.Tolerance {
				break
			}
			flatSpan = times[i] - times[j]
			count++
		}

		switch {
		case count > 0 && flatSpan >= f.FailWindow:
			flags[i] = Fail
		case count > 0 && flatSpan >= f.SuspectWindow:
			flags[i] = Suspect
		case times[i]-times[0] < f.SuspectWindow:
			// not enough record behind the sample to judge yet
			flags[i] = NotEvaluated
		default:
			flags[i] = Pass
		}
	}

	return flags
}

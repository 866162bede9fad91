package qc

import (
	"sort"

	kitlog "github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/adeverne/kiwiglider/pkg/timeseries"
)

// Test column naming. Each test writes <variable>_qartod_<test>; the worst of
// aggregate lands in <variable>_qc, with NotEvaluated remapped to 0 there so
// downstream archive tooling reads untested as unflagged.
const (
	grossRangeSuffix   = "_qartod_gross_range_test"
	spikeSuffix        = "_qartod_spike_test"
	rateOfChangeSuffix = "_qartod_rate_of_change_test"
	flatLineSuffix     = "_qartod_flat_line_test"
	aggregateSuffix    = "_qc"
)

// AggregateColumn returns the aggregate flag column name for a variable.
func AggregateColumn(variable string) string {
	return variable + aggregateSuffix
}

// Runner applies configured tests to a merged series, attaching flag columns.
// Values are never modified and no sample, however bad, aborts a run.
type Runner struct {
	logger kitlog.Logger
}

// NewRunner returns a Runner.
func NewRunner(logger kitlog.Logger) *Runner {
	logger = kitlog.With(logger, "module", "qc")

	return &Runner{logger: logger}
}

// Counts summarises one variable's aggregate flags.
type Counts struct {
	Pass    int
	Suspect int
	Fail    int
	Missing int
}

// Apply runs every configured test against its variable, in sorted variable
// order so repeated runs produce identical column order. Variables configured
// but absent from the series are skipped. The returned map holds per variable
// aggregate counts for reporting.
func (r *Runner) Apply(s *timeseries.Series, tests map[string]VariableTests) (map[string]Counts, error) {
	counts := map[string]Counts{}

	for _, variable := range sortedKeys(tests) {
		values, ok := s.Column(variable)
		if !ok {
			continue
		}

		vt := tests[variable]
		times := s.Times()

		aggregate := make([]Flag, len(values))

		type run struct {
			suffix string
			flags  []Flag
		}
		runs := []run{}

		if vt.GrossRange != nil {
			runs = append(runs, run{grossRangeSuffix, vt.GrossRange.Check(times, values)})
		}
		if vt.Spike != nil {
			runs = append(runs, run{spikeSuffix, vt.Spike.Check(times, values)})
		}
		if vt.RateOfChange != nil {
			runs = append(runs, run{rateOfChangeSuffix, vt.RateOfChange.Check(times, values)})
		}
		if vt.FlatLine != nil {
			runs = append(runs, run{flatLineSuffix, vt.FlatLine.Check(times, values)})
		}

		if len(runs) == 0 {
			continue
		}

		for i := range aggregate {
			aggregate[i] = NotEvaluated
		}

		for _, tr := range runs {
			if err := s.AddColumn(variable+tr.suffix, toColumn(tr.flags)); err != nil {
				return nil, errors.Wrapf(err, "failed to attach flags for '%s'", variable)
			}
			for i, f := range tr.flags {
				aggregate[i] = worst(aggregate[i], f)
			}
		}

		c := Counts{}
		aggregateColumn := make([]float64, len(aggregate))
		for i, f := range aggregate {
			switch f {
			case Pass:
				c.Pass++
			case Suspect:
				c.Suspect++
			case Fail:
				c.Fail++
			case Missing:
				c.Missing++
			}

			if f == NotEvaluated {
				aggregateColumn[i] = 0
			} else {
				aggregateColumn[i] = float64(f)
			}
		}

		if err := s.AddColumn(AggregateColumn(variable), aggregateColumn); err != nil {
			return nil, errors.Wrapf(err, "failed to attach aggregate flags for '%s'", variable)
		}

		counts[variable] = c

		r.logger.Log(
			"variable", variable,
			"pass", c.Pass,
			"suspect", c.Suspect,
			"fail", c.Fail,
			"missing", c.Missing,
			"msg", "flagged variable",
		)
	}

	return counts, nil
}

func toColumn(flags []Flag) []float64 {
	values := make([]float64, len(flags))
	for i, f := range flags {
		values[i] = float64(f)
	}
	return values
}

func sortedKeys(tests map[string]VariableTests) []string {
	keys := make([]string, 0, len(tests))
	for k := range tests {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

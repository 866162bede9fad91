package qc_test

import (
	"math"
	"testing"

	kitlog "github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adeverne/kiwiglider/pkg/deployment"
	"github.com/adeverne/kiwiglider/pkg/qc"
	"github.com/adeverne/kiwiglider/pkg/timeseries"
)

func TestGrossRange(t *testing.T) {
	g := &qc.GrossRange{
		FailMin: -5, FailMax: 50,
		SuspectMin: 0, SuspectMax: 30,
		HasSuspect: true,
	}

	times := []float64{0, 10, 20, 30, 40}
	values := []float64{15, -10, 35, math.NaN(), 60}

	flags := g.Check(times, values)

	assert.Equal(t, []qc.Flag{qc.Pass, qc.Fail, qc.Suspect, qc.Missing, qc.Fail}, flags)
}

func TestGrossRangeNoSuspectSpan(t *testing.T) {
	g := &qc.GrossRange{FailMin: 0, FailMax: 10}

	flags := g.Check([]float64{0, 10}, []float64{5, 11})
	assert.Equal(t, []qc.Flag{qc.Pass, qc.Fail}, flags)
}

func TestSpike(t *testing.T) {
	s := &qc.Spike{SuspectThreshold: 1, FailThreshold: 3}

	times := []float64{0, 10, 20, 30, 40}
	values := []float64{10, 10, 15, 10, 10}

	flags := s.Check(times, values)

	assert.Equal(t, qc.NotEvaluated, flags[0])
	assert.Equal(t, qc.Suspect, flags[1], "dragged past suspect by the spike next door")
	assert.Equal(t, qc.Fail, flags[2], "5 above the neighbour midpoint")
	assert.Equal(t, qc.Suspect, flags[3], "dragged past suspect by the spike next door")
	assert.Equal(t, qc.NotEvaluated, flags[4])
}

func TestSpikeSkipsGaps(t *testing.T) {
	s := &qc.Spike{SuspectThreshold: 1, FailThreshold: 3}

	times := []float64{0, 10, 20, 30}
	values := []float64{10, math.NaN(), 10.5, 10}

	flags := s.Check(times, values)

	assert.Equal(t, qc.Missing, flags[1])
	assert.Equal(t, qc.Pass, flags[2], "neighbours are the nearest valid samples")
}

func TestRateOfChange(t *testing.T) {
	r := &qc.RateOfChange{Threshold: 0.1}

	times := []float64{0, 10, 20, 30}
	values := []float64{10, 10.5, 13, 13.1}

	flags := r.Check(times, values)

	assert.Equal(t, qc.NotEvaluated, flags[0])
	assert.Equal(t, qc.Pass, flags[1])
	assert.Equal(t, qc.Suspect, flags[2], "0.25 per second against a 0.1 threshold")
	assert.Equal(t, qc.Pass, flags[3])
}

func TestFlatLine(t *testing.T) {
	f := &qc.FlatLine{SuspectWindow: 30, FailWindow: 60, Tolerance: 0.01}

	times := []float64{0, 10, 20, 30, 40, 50, 60, 70}
	values := []float64{5, 5, 5, 5, 5, 5, 5, 9}

	flags := f.Check(times, values)

	// early record cannot be judged yet
	assert.Equal(t, qc.NotEvaluated, flags[0])
	assert.Equal(t, qc.NotEvaluated, flags[1])

	assert.Equal(t, qc.Suspect, flags[3], "flat for 30 seconds")
	assert.Equal(t, qc.Fail, flags[6], "flat for 60 seconds")
	assert.Equal(t, qc.Pass, flags[7], "the jump breaks the flat run")
}

func TestRunnerApply(t *testing.T) {
	s, err := timeseries.New([]float64{0, 10, 20, 30})
	require.Nil(t, err)
	original := []float64{15, 100, math.NaN(), 16}
	require.Nil(t, s.AddColumn("temperature", original))

	tests := map[string]qc.VariableTests{
		"temperature": {
			GrossRange: &qc.GrossRange{FailMin: -5, FailMax: 50},
		},
	}

	counts, err := qc.NewRunner(kitlog.NewNopLogger()).Apply(s, tests)
	require.Nil(t, err)

	// one aggregate flag per sample
	aggregate, ok := s.Column(qc.AggregateColumn("temperature"))
	require.True(t, ok)
	require.Len(t, aggregate, s.Len())
	assert.Equal(t, []float64{1, 4, 9, 1}, aggregate)

	perTest, ok := s.Column("temperature_qartod_gross_range_test")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 4, 9, 1}, perTest)

	// the flagged-fail value is retained unaltered
	values, _ := s.Column("temperature")
	assert.Equal(t, 100.0, values[1])
	assert.True(t, math.IsNaN(values[2]))

	c := counts["temperature"]
	assert.Equal(t, 2, c.Pass)
	assert.Equal(t, 1, c.Fail)
	assert.Equal(t, 1, c.Missing)
}

func TestRunnerAggregateWorstOf(t *testing.T) {
	s, err := timeseries.New([]float64{0, 10, 20, 30, 40})
	require.Nil(t, err)
	require.Nil(t, s.AddColumn("oxygen_concentration", []float64{200, 200, 260, 200, 200}))

	tests := map[string]qc.VariableTests{
		"oxygen_concentration": {
			GrossRange: &qc.GrossRange{FailMin: 0, FailMax: 500},
			Spike:      &qc.Spike{SuspectThreshold: 40, FailThreshold: 50},
		},
	}

	_, err = qc.NewRunner(kitlog.NewNopLogger()).Apply(s, tests)
	require.Nil(t, err)

	aggregate, _ := s.Column(qc.AggregateColumn("oxygen_concentration"))

	// gross range passes everywhere, spike fails the middle sample; worst of
	// the two wins
	assert.Equal(t, 4.0, aggregate[2])
	assert.Equal(t, 1.0, aggregate[1])
}

func TestRunnerSkipsAbsentVariables(t *testing.T) {
	s, err := timeseries.New([]float64{0, 10})
	require.Nil(t, err)
	require.Nil(t, s.AddColumn("temperature", []float64{15, 16}))

	tests := map[string]qc.VariableTests{
		"conductivity": {GrossRange: &qc.GrossRange{FailMin: 0, FailMax: 10}},
	}

	counts, err := qc.NewRunner(kitlog.NewNopLogger()).Apply(s, tests)
	require.Nil(t, err)

	assert.Empty(t, counts)
	assert.False(t, s.Has(qc.AggregateColumn("conductivity")))
}

func TestTestsFromConfig(t *testing.T) {
	cfg := &deployment.Config{
		Metadata: deployment.Attrs{{Key: "deployment_name", Value: "GLD0040"}},
		NetCDFVariables: deployment.Attrs{
			{Key: "temperature", Value: deployment.Attrs{{Key: "source", Value: "sci_water_temp"}}},
		},
		QartodTests: deployment.Attrs{
			{Key: "temperature", Value: deployment.Attrs{
				{Key: "flat_line_test", Value: deployment.Attrs{
					{Key: "fail_threshold", Value: 300.0},
					{Key: "suspect_threshold", Value: 150.0},
					{Key: "tolerance", Value: 0.0004},
				}},
				{Key: "gross_range_test", Value: deployment.Attrs{
					{Key: "fail_span", Value: []float64{-5, 50}},
				}},
				{Key: "rate_of_change_test", Value: deployment.Attrs{
					{Key: "threshold", Value: 0.02},
				}},
				{Key: "spike_test", Value: deployment.Attrs{
					{Key: "fail_threshold", Value: 0.04},
					{Key: "suspect_threshold", Value: 0.02},
				}},
			}},
		},
	}

	tests, err := qc.TestsFromConfig(cfg)
	require.Nil(t, err)

	vt, ok := tests["temperature"]
	require.True(t, ok)

	require.NotNil(t, vt.GrossRange)
	assert.Equal(t, -5.0, vt.GrossRange.FailMin)
	assert.Equal(t, 50.0, vt.GrossRange.FailMax)
	assert.False(t, vt.GrossRange.HasSuspect)

	require.NotNil(t, vt.Spike)
	assert.Equal(t, 0.02, vt.Spike.SuspectThreshold)

	require.NotNil(t, vt.RateOfChange)
	assert.Equal(t, 0.02, vt.RateOfChange.Threshold)

	require.NotNil(t, vt.FlatLine)
	assert.Equal(t, 300.0, vt.FlatLine.FailWindow)
	assert.Equal(t, 0.0004, vt.FlatLine.Tolerance)
}

func TestTestsFromConfigRejectsMalformedSpans(t *testing.T) {
	cfg := &deployment.Config{
		Metadata: deployment.Attrs{{Key: "deployment_name", Value: "GLD0040"}},
		NetCDFVariables: deployment.Attrs{
			{Key: "temperature", Value: deployment.Attrs{{Key: "source", Value: "sci_water_temp"}}},
		},
		QartodTests: deployment.Attrs{
			{Key: "temperature", Value: deployment.Attrs{
				{Key: "gross_range_test", Value: deployment.Attrs{
					{Key: "fail_span", Value: []float64{-5}},
				}},
			}},
		},
	}

	_, err := qc.TestsFromConfig(cfg)
	assert.NotNil(t, err)
}

func TestFlagString(t *testing.T) {
	assert.Equal(t, "pass", qc.Pass.String())
	assert.Equal(t, "fail", qc.Fail.String())
	assert.Equal(t, "missing", qc.Missing.String())
}

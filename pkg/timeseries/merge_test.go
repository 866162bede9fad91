package timeseries_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adeverne/kiwiglider/pkg/timeseries"
)

func TestCompactLaterSampleWinsCollision(t *testing.T) {
	c := timeseries.Channel{
		Times:  []float64{1010, 1000, 1010},
		Values: []float64{5.0, 1.0, 7.0},
	}

	compacted := c.Compact()

	assert.Equal(t, []float64{1000, 1010}, compacted.Times)
	assert.Equal(t, []float64{1.0, 7.0}, compacted.Values)
}

func TestCompactDropsNaN(t *testing.T) {
	nan := math.NaN()

	c := timeseries.Channel{
		Times:  []float64{1000, 1010, nan},
		Values: []float64{1.0, nan, 3.0},
	}

	compacted := c.Compact()
	assert.Equal(t, []float64{1000}, compacted.Times)
	assert.Equal(t, []float64{1.0}, compacted.Values)
}

func TestMergeAxisIsScienceTimestamps(t *testing.T) {
	science := map[string]timeseries.Channel{
		"conductivity": {Times: []float64{1001, 1011}, Values: []float64{4.01, 4.02}},
		"temperature":  {Times: []float64{1001, 1021}, Values: []float64{15.2, 15.3}},
	}
	flight := map[string]timeseries.Channel{
		"depth": {Times: []float64{1000, 1005, 1010, 1015, 1020}, Values: []float64{0, 5, 10, 15, 20}},
	}

	s, err := timeseries.Merge(science, flight, timeseries.JoinPolicy{Window: 30})
	require.Nil(t, err)

	// union of science timestamps, strictly increasing, deduplicated
	assert.Equal(t, []float64{1001, 1011, 1021}, s.Times())

	// science values only at native sample times
	cond, _ := s.Column("conductivity")
	assert.Equal(t, 4.01, cond[0])
	assert.Equal(t, 4.02, cond[1])
	assert.True(t, math.IsNaN(cond[2]))

	temp, _ := s.Column("temperature")
	assert.Equal(t, 15.2, temp[0])
	assert.True(t, math.IsNaN(temp[1]))
	assert.Equal(t, 15.3, temp[2])

	// flight values interpolated onto the axis
	depth, _ := s.Column("depth")
	assert.InDelta(t, 1.0, depth[0], 1e-9)
	assert.InDelta(t, 11.0, depth[1], 1e-9)
	assert.InDelta(t, 21.0, depth[2], 1e-9)
}

func TestMergeWindowBoundsInterpolation(t *testing.T) {
	science := map[string]timeseries.Channel{
		"temperature": {Times: []float64{1000, 2000}, Values: []float64{15.0, 16.0}},
	}
	flight := map[string]timeseries.Channel{
		"depth": {Times: []float64{995, 1005}, Values: []float64{10, 20}},
	}

	s, err := timeseries.Merge(science, flight, timeseries.JoinPolicy{Window: 30})
	require.Nil(t, err)

	depth, _ := s.Column("depth")
	assert.InDelta(t, 15.0, depth[0], 1e-9)

	// 2000 is nearly a thousand seconds from the closest depth sample; the
	// join must not invent a value there
	assert.True(t, math.IsNaN(depth[1]))
}

func TestMergeClampsAtRecordEdges(t *testing.T) {
	science := map[string]timeseries.Channel{
		"temperature": {Times: []float64{990, 1030}, Values: []float64{15.0, 16.0}},
	}
	flight := map[string]timeseries.Channel{
		"pitch": {Times: []float64{1000, 1020}, Values: []float64{-0.4, -0.5}},
	}

	s, err := timeseries.Merge(science, flight, timeseries.JoinPolicy{Window: 30})
	require.Nil(t, err)

	pitch, _ := s.Column("pitch")
	assert.Equal(t, -0.4, pitch[0])
	assert.Equal(t, -0.5, pitch[1])
}

func TestMergeFallsBackToFlightAxis(t *testing.T) {
	// early in a realtime mission there may be no science data at all
	flight := map[string]timeseries.Channel{
		"depth":    {Times: []float64{1000, 1010}, Values: []float64{0, 5}},
		"latitude": {Times: []float64{1000}, Values: []float64{-41.29}},
	}

	s, err := timeseries.Merge(nil, flight, timeseries.JoinPolicy{Window: 30})
	require.Nil(t, err)

	assert.Equal(t, []float64{1000, 1010}, s.Times())

	lat, _ := s.Column("latitude")
	assert.Equal(t, -41.29, lat[0])
	assert.Equal(t, -41.29, lat[1], "single sample fills within the window")
}

func TestMergeScienceOutranksFlightForSameVariable(t *testing.T) {
	science := map[string]timeseries.Channel{
		"temperature": {Times: []float64{1000}, Values: []float64{15.0}},
	}
	flight := map[string]timeseries.Channel{
		"temperature": {Times: []float64{999}, Values: []float64{99.0}},
	}

	s, err := timeseries.Merge(science, flight, timeseries.JoinPolicy{Window: 30})
	require.Nil(t, err)

	temp, _ := s.Column("temperature")
	assert.Equal(t, []float64{15.0}, temp)
}

func TestMergeRejectsBadWindow(t *testing.T) {
	_, err := timeseries.Merge(nil, nil, timeseries.JoinPolicy{})
	assert.NotNil(t, err)
}

func TestDeriveDepth(t *testing.T) {
	s, err := timeseries.New([]float64{1000, 1010})
	require.Nil(t, err)
	require.Nil(t, s.AddColumn("pressure", []float64{10, math.NaN()}))

	require.Nil(t, timeseries.DeriveDepth(s, "pressure", "depth"))

	depth, ok := s.Column("depth")
	require.True(t, ok)
	assert.InDelta(t, 10.19716, depth[0], 1e-6)
	assert.True(t, math.IsNaN(depth[1]))
}

func TestDeriveDepthKeepsMeasuredDepth(t *testing.T) {
	s, err := timeseries.New([]float64{1000})
	require.Nil(t, err)
	require.Nil(t, s.AddColumn("pressure", []float64{10}))
	require.Nil(t, s.AddColumn("depth", []float64{9.5}))

	require.Nil(t, timeseries.DeriveDepth(s, "pressure", "depth"))

	depth, _ := s.Column("depth")
	assert.Equal(t, []float64{9.5}, depth)
}

package pipeline_test

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	kitlog "github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/adeverne/kiwiglider/pkg/clock"
	"github.com/adeverne/kiwiglider/pkg/dataset"
	"github.com/adeverne/kiwiglider/pkg/decoder"
	"github.com/adeverne/kiwiglider/pkg/deployment"
	"github.com/adeverne/kiwiglider/pkg/mocks"
	"github.com/adeverne/kiwiglider/pkg/naming"
	"github.com/adeverne/kiwiglider/pkg/pipeline"
	"github.com/adeverne/kiwiglider/pkg/qc"
)

func testDocument(name string) *deployment.Config {
	variable := func(source, units string) deployment.Attrs {
		return deployment.Attrs{
			{Key: "source", Value: source},
			{Key: "units", Value: units},
		}
	}

	return &deployment.Config{
		Metadata: deployment.Attrs{
			{Key: "deployment_name", Value: name},
			{Key: "project", Value: "kiwiglider-tests"},
		},
		NetCDFVariables: deployment.Attrs{
			{Key: naming.Time, Value: deployment.Attrs{
				{Key: "units", Value: "seconds since 1970-01-01T00:00:00Z"},
			}},
			{Key: naming.Conductivity, Value: variable("sci_water_cond", "S m-1")},
			{Key: naming.Temperature, Value: variable("sci_water_temp", "Celsius")},
			{Key: naming.Pressure, Value: variable("sci_water_pressure", "dbar")},
			{Key: naming.Latitude, Value: variable("m_gps_lat", "degrees_north")},
			{Key: naming.Longitude, Value: variable("m_gps_lon", "degrees_east")},
		},
		QartodTests: deployment.Attrs{
			{Key: naming.Temperature, Value: deployment.Attrs{
				{Key: "gross_range_test", Value: deployment.Attrs{
					{Key: "fail_span", Value: []float64{-5, 50}},
					{Key: "suspect_span", Value: []float64{0, 40}},
				}},
			}},
		},
	}
}

// syntheticRaw builds decoded telemetry: a CTD sawtooth sampled every 5
// seconds from t=1000 with the given samples per leg, plus surface GPS fixes
// on the flight stream.
func syntheticRaw(samples, leg int) *decoder.RawData {
	const (
		t0 = 1000.0
		dt = 5.0
	)

	raw := &decoder.RawData{
		Flight:  decoder.Stream{Kind: decoder.Flight},
		Science: decoder.Stream{Kind: decoder.Science},
	}

	science := func(t float64, channel string, value float64) {
		raw.Science.Readings = append(raw.Science.Readings, decoder.Reading{
			Time: t, Channel: channel, Value: value,
		})
	}

	for i := 0; i < samples; i++ {
		t := t0 + float64(i)*dt

		pos := i % (2 * leg)
		var pressure float64
		if pos < leg {
			pressure = float64(pos) * 50.0 / float64(leg)
		} else {
			pressure = float64(2*leg-pos) * 50.0 / float64(leg)
		}

		depth := pressure * 1.019716

		science(t, "sci_water_pressure", pressure)
		science(t, "sci_water_temp", 20-0.1*depth+0.02*math.Sin(float64(i)))
		science(t, "sci_water_cond", 4.0)
	}

	last := t0 + float64(samples-1)*dt
	for _, fix := range []struct {
		t, lat, lon float64
	}{
		{t0, 42.5, -70.2},
		{last, 42.6, -70.1},
	} {
		raw.Flight.Readings = append(raw.Flight.Readings,
			decoder.Reading{Time: fix.t, Channel: "m_gps_lat", Value: fix.lat},
			decoder.Reading{Time: fix.t, Channel: "m_gps_lon", Value: fix.lon},
		)
	}

	return raw
}

func newPipeline(t *testing.T, root string, mode deployment.Mode, dec decoder.Decoder, corrections bool) (*pipeline.Pipeline, *deployment.Deployment) {
	t.Helper()

	deploy := deployment.New("GLD0040", root)

	p, err := pipeline.New(&pipeline.Config{
		Deployment:  deploy,
		Mode:        mode,
		Document:    testDocument("GLD0040"),
		Profiles:    true,
		Corrections: corrections,
	}, dec, clock.New(), kitlog.NewNopLogger())
	require.Nil(t, err)

	return p, deploy
}

func TestNewRejectsMalformedDocument(t *testing.T) {
	dec := new(mocks.Decoder)

	_, err := pipeline.New(&pipeline.Config{
		Deployment: deployment.New("GLD0040", t.TempDir()),
		Mode:       deployment.Realtime,
		Document:   &deployment.Config{},
	}, dec, clock.New(), kitlog.NewNopLogger())

	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "invalid deployment document")
}

func TestNewRejectsNameMismatch(t *testing.T) {
	dec := new(mocks.Decoder)

	_, err := pipeline.New(&pipeline.Config{
		Deployment: deployment.New("GLD0041", t.TempDir()),
		Mode:       deployment.Realtime,
		Document:   testDocument("GLD0040"),
	}, dec, clock.New(), kitlog.NewNopLogger())

	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "GLD0041")
}

func TestStagesRefuseToRunOutOfOrder(t *testing.T) {
	dec := new(mocks.Decoder)
	p, _ := newPipeline(t, t.TempDir(), deployment.Realtime, dec, false)

	err := p.BuildL0()
	var transition *pipeline.InvalidTransitionError
	require.True(t, errors.As(err, &transition))
	assert.Equal(t, pipeline.Uninitialized, transition.From)

	err = p.BuildL1()
	require.True(t, errors.As(err, &transition))

	_, err = p.Finalize()
	require.True(t, errors.As(err, &transition))
	assert.Equal(t, "finalize", transition.Stage)
}

func TestRunRealtime(t *testing.T) {
	root := t.TempDir()
	dec := new(mocks.Decoder)
	p, deploy := newPipeline(t, root, deployment.Realtime, dec, false)

	dec.On("DecodeDir", mock.Anything, deploy.RawDir(), deployment.Realtime).
		Return(syntheticRaw(80, 40), nil)

	result, err := p.Run(context.Background())
	require.Nil(t, err)

	assert.False(t, result.Empty)
	assert.Equal(t, 80, result.Samples)
	assert.Equal(t, 80, result.Added)
	assert.Equal(t, 2, result.Profiles)
	assert.Equal(t, pipeline.Finalized, p.State())

	// every level landed on disk
	for _, path := range []string{
		deploy.TimeseriesPath(deployment.Realtime, deployment.L0),
		deploy.TimeseriesPath(deployment.Realtime, deployment.L1),
		deploy.FinalPath(deployment.Realtime),
	} {
		_, statErr := os.Stat(path)
		assert.Nil(t, statErr, path)
	}

	// per profile datasets were extracted
	_, statErr := os.Stat(deploy.ProfilePath(deployment.Realtime, deployment.L0, 1))
	assert.Nil(t, statErr)

	// the L1 dataset carries flags for the configured variable
	d, err := dataset.Read(deploy.TimeseriesPath(deployment.Realtime, deployment.L1))
	require.Nil(t, err)
	_, ok := d.Variable(qc.AggregateColumn(naming.Temperature))
	assert.True(t, ok)

	// depth and salinity were derived during the merge
	_, ok = d.Variable(naming.Depth)
	assert.True(t, ok)
	_, ok = d.Variable(naming.Salinity)
	assert.True(t, ok)

	dec.AssertExpectations(t)
}

func TestRunRealtimeRerunAddsOnlyNewSamples(t *testing.T) {
	root := t.TempDir()

	first := new(mocks.Decoder)
	p1, deploy := newPipeline(t, root, deployment.Realtime, first, false)
	first.On("DecodeDir", mock.Anything, deploy.RawDir(), deployment.Realtime).
		Return(syntheticRaw(80, 40), nil)

	result, err := p1.Run(context.Background())
	require.Nil(t, err)
	require.Equal(t, 80, result.Samples)

	// the glider surfaces again: same files plus ten new samples
	second := new(mocks.Decoder)
	p2, _ := newPipeline(t, root, deployment.Realtime, second, false)
	second.On("DecodeDir", mock.Anything, deploy.RawDir(), deployment.Realtime).
		Return(syntheticRaw(90, 40), nil)

	result, err = p2.Run(context.Background())
	require.Nil(t, err)

	assert.Equal(t, 90, result.Samples)
	assert.Equal(t, 10, result.Added)

	// a third run over identical data changes nothing
	third := new(mocks.Decoder)
	p3, _ := newPipeline(t, root, deployment.Realtime, third, false)
	third.On("DecodeDir", mock.Anything, deploy.RawDir(), deployment.Realtime).
		Return(syntheticRaw(90, 40), nil)

	result, err = p3.Run(context.Background())
	require.Nil(t, err)

	assert.Equal(t, 90, result.Samples)
	assert.Equal(t, 0, result.Added)

	// the finalized axis is strictly increasing with no duplicates
	final, err := dataset.ReadSeries(deploy.FinalPath(deployment.Realtime))
	require.Nil(t, err)
	assert.Equal(t, 90, final.Len())
}

func TestRunRealtimeEmpty(t *testing.T) {
	root := t.TempDir()
	dec := new(mocks.Decoder)
	p, deploy := newPipeline(t, root, deployment.Realtime, dec, false)

	dec.On("DecodeDir", mock.Anything, deploy.RawDir(), deployment.Realtime).
		Return(nil, decoder.ErrNoRawData)

	result, err := p.Run(context.Background())
	require.Nil(t, err)

	assert.True(t, result.Empty)
	assert.Equal(t, pipeline.Finalized, p.State())

	// nothing was written
	_, statErr := os.Stat(deploy.FinalPath(deployment.Realtime))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunDelayedMissingRawDataIsFatal(t *testing.T) {
	root := t.TempDir()
	dec := new(mocks.Decoder)
	p, deploy := newPipeline(t, root, deployment.Delayed, dec, false)

	dec.On("DecodeDir", mock.Anything, deploy.RawDir(), deployment.Delayed).
		Return(nil, decoder.ErrNoRawData)

	_, err := p.Run(context.Background())
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "failed to decode")
}

func TestRunDelayedWithCorrections(t *testing.T) {
	root := t.TempDir()
	dec := new(mocks.Decoder)
	p, deploy := newPipeline(t, root, deployment.Delayed, dec, true)

	// two long legs so each clears the delayed mode minimum duration
	dec.On("DecodeDir", mock.Anything, deploy.RawDir(), deployment.Delayed).
		Return(syntheticRaw(160, 80), nil)

	result, err := p.Run(context.Background())
	require.Nil(t, err)

	require.NotNil(t, result.ThermalLag)
	assert.False(t, result.ThermalLag.Skipped)

	// no optode aboard, so the oxygen correction is a recorded no-op
	require.NotNil(t, result.Oxygen)
	assert.True(t, result.Oxygen.Skipped)

	_, statErr := os.Stat(deploy.FinalPath(deployment.Delayed))
	assert.Nil(t, statErr)
}

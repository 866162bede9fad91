package deployment_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adeverne/kiwiglider/pkg/deployment"
)

func TestParseMode(t *testing.T) {
	m, err := deployment.ParseMode("realtime")
	require.Nil(t, err)
	assert.Equal(t, deployment.Realtime, m)

	m, err = deployment.ParseMode("delayed")
	require.Nil(t, err)
	assert.Equal(t, deployment.Delayed, m)

	_, err = deployment.ParseMode("nearline")
	assert.NotNil(t, err)
}

func TestModeParameters(t *testing.T) {
	assert.Equal(t, "*.sbd", deployment.Realtime.FlightGlob())
	assert.Equal(t, "*.tbd", deployment.Realtime.ScienceGlob())
	assert.Equal(t, "*.dbd", deployment.Delayed.FlightGlob())
	assert.Equal(t, "*.ebd", deployment.Delayed.ScienceGlob())

	assert.Equal(t, 20*time.Second, deployment.Realtime.ProfileFilterWindow())
	assert.Equal(t, 100*time.Second, deployment.Delayed.ProfileFilterWindow())
	assert.Equal(t, 60*time.Second, deployment.Realtime.ProfileMinDuration())
	assert.Equal(t, 300*time.Second, deployment.Delayed.ProfileMinDuration())

	assert.Equal(t, "Realtime", deployment.Realtime.Dir())
	assert.Equal(t, "Delayed", deployment.Delayed.Dir())
}

func TestDeploymentPaths(t *testing.T) {
	d := deployment.New("GLD0040", "/data/gliders/GLD0040")

	assert.Equal(t, "/data/gliders/GLD0040/deployment_metadata.yml", d.ConfigPath())
	assert.Equal(t, "/data/gliders/GLD0040/Raw", d.RawDir())
	assert.Equal(t, "/data/gliders/GLD0040/Raw/Cache", d.CacheDir())
	assert.Equal(t, "/data/gliders/GLD0040/Realtime", d.ModeDir(deployment.Realtime))
	assert.Equal(t, "/data/gliders/GLD0040/Realtime/L0-timeseries", d.TimeseriesDir(deployment.Realtime, deployment.L0))
	assert.Equal(t, "/data/gliders/GLD0040/Realtime/L0-timeseries/GLD0040.kgd", d.TimeseriesPath(deployment.Realtime, deployment.L0))
	assert.Equal(t, "/data/gliders/GLD0040/Delayed/L1-profiles", d.ProfilesDir(deployment.Delayed, deployment.L1))
	assert.Equal(t, "/data/gliders/GLD0040/Delayed/L1-profiles/GLD0040_007.kgd", d.ProfilePath(deployment.Delayed, deployment.L1, 7))
	assert.Equal(t, "/data/gliders/GLD0040/Realtime/Final/GLD0040.kgd", d.FinalPath(deployment.Realtime))
	assert.Equal(t, "/data/gliders/GLD0040/Delayed/Reports", d.ReportsDir(deployment.Delayed))
}

func TestEnsureLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "GLD0040")
	d := deployment.New("GLD0040", root)

	require.Nil(t, d.EnsureLayout(deployment.Realtime))

	for _, dir := range []string{
		d.RawDir(),
		d.CacheDir(),
		d.TimeseriesDir(deployment.Realtime, deployment.L0),
		d.TimeseriesDir(deployment.Realtime, deployment.L1),
		d.ProfilesDir(deployment.Realtime, deployment.L0),
		d.FinalDir(deployment.Realtime),
		d.ReportsDir(deployment.Realtime),
	} {
		info, err := os.Stat(dir)
		require.Nil(t, err, "expected %s to exist", dir)
		assert.True(t, info.IsDir())
	}

	// calling it again on an existing tree is fine
	assert.Nil(t, d.EnsureLayout(deployment.Realtime))
}

func TestAttrsOrderPreserved(t *testing.T) {
	attrs := deployment.Attrs{}
	attrs.Set("zulu", 1)
	attrs.Set("alpha", 2)
	attrs.Set("mike", 3)

	assert.Equal(t, []string{"zulu", "alpha", "mike"}, attrs.Keys())

	// replacing a value keeps its position
	attrs.Set("alpha", 9)
	assert.Equal(t, []string{"zulu", "alpha", "mike"}, attrs.Keys())

	v, ok := attrs.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, 9, v)
}

func TestAttrsCoercion(t *testing.T) {
	attrs := deployment.Attrs{
		{Key: "str_num", Value: "10."},
		{Key: "int_num", Value: 42},
		{Key: "float_num", Value: 1.5},
		{Key: "not_num", Value: "ten"},
		{Key: "span", Value: []interface{}{0, 10.5}},
	}

	f, ok := attrs.Float("str_num")
	assert.True(t, ok)
	assert.Equal(t, 10.0, f)

	f, ok = attrs.Float("int_num")
	assert.True(t, ok)
	assert.Equal(t, 42.0, f)

	f, ok = attrs.Float("float_num")
	assert.True(t, ok)
	assert.Equal(t, 1.5, f)

	_, ok = attrs.Float("not_num")
	assert.False(t, ok)

	span, ok := attrs.Floats("span")
	assert.True(t, ok)
	assert.Equal(t, []float64{0, 10.5}, span)
}

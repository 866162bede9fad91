package deployment_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adeverne/kiwiglider/pkg/deployment"
)

func TestWriteLoadRoundTrip(t *testing.T) {
	config, err := newBuilder().Construct(row(), nil)
	require.Nil(t, err)

	path := filepath.Join(t.TempDir(), "deployment_metadata.yml")
	require.Nil(t, config.Write(path))

	loaded, err := deployment.Load(path)
	require.Nil(t, err)

	assert.Equal(t, "GLD0040", loaded.Name())

	// numeric limit strings survive the round trip as strings
	conductivity, ok := loaded.Variable("conductivity")
	require.True(t, ok)
	validMin, present := conductivity.Get("valid_min")
	require.True(t, present)
	assert.Equal(t, "0.", validMin)

	// and still coerce for QC consumers
	f, ok := conductivity.Float("valid_min")
	require.True(t, ok)
	assert.Equal(t, 0.0, f)

	// re-serializing the loaded document reproduces the original bytes
	secondPath := filepath.Join(t.TempDir(), "again.yml")
	require.Nil(t, loaded.Write(secondPath))

	first, err := os.ReadFile(path)
	require.Nil(t, err)
	second, err := os.ReadFile(secondPath)
	require.Nil(t, err)
	assert.Equal(t, first, second)
}

func TestLoadRejectsUnknownTopLevelKey(t *testing.T) {
	content := []byte(`metadata:
  deployment_name: GLD0040
netcdf_variables:
  time:
    units: seconds since 1970-01-01T00:00:00Z
surprises:
  what: "no"
`)

	path := filepath.Join(t.TempDir(), "bad.yml")
	require.Nil(t, os.WriteFile(path, content, 0644))

	_, err := deployment.Load(path)
	assert.NotNil(t, err)
}

func TestLoadValidates(t *testing.T) {
	testcases := []struct {
		label   string
		content string
	}{
		{
			label:   "no metadata",
			content: "netcdf_variables:\n  time:\n    axis: T\n",
		},
		{
			label:   "no deployment name",
			content: "metadata:\n  project: Moana\nnetcdf_variables:\n  time:\n    axis: T\n",
		},
		{
			label:   "no variables",
			content: "metadata:\n  deployment_name: GLD0040\n",
		},
		{
			label:   "variable without source",
			content: "metadata:\n  deployment_name: GLD0040\nnetcdf_variables:\n  conductivity:\n    units: S m-1\n",
		},
	}

	for _, testcase := range testcases {
		t.Run(testcase.label, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yml")
			require.Nil(t, os.WriteFile(path, []byte(testcase.content), 0644))

			_, err := deployment.Load(path)
			assert.NotNil(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := deployment.Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.NotNil(t, err)
}

func TestConfigTable(t *testing.T) {
	config, err := newBuilder().Construct(row(), nil)
	require.Nil(t, err)

	// pin conductivity to a non standard channel, as an operator would by
	// editing the document
	conductivity, ok := config.Variable("conductivity")
	require.True(t, ok)
	conductivity.Set("source", "sci_rbrctd_conductivity_00")
	config.NetCDFVariables.Set("conductivity", conductivity)

	table, err := config.Table()
	require.Nil(t, err)

	resolution, err := table.Resolve([]string{
		"sci_rbrctd_conductivity_00",
		"sci_water_cond",
		"m_gps_lat",
		"m_gps_lon",
	})
	require.Nil(t, err)

	source, ok := resolution.Source("conductivity")
	require.True(t, ok)
	assert.Equal(t, "sci_rbrctd_conductivity_00", source)

	// stock fallback still applies when the pinned channel is absent
	resolution, err = table.Resolve([]string{"sci_water_cond", "m_gps_lat", "m_gps_lon"})
	require.Nil(t, err)

	source, ok = resolution.Source("conductivity")
	require.True(t, ok)
	assert.Equal(t, "sci_water_cond", source)
}

func TestConfigVariableNames(t *testing.T) {
	config, err := newBuilder().Construct(row(), nil)
	require.Nil(t, err)

	names := config.VariableNames()
	assert.NotContains(t, names, "time")
	assert.Contains(t, names, "conductivity")

	// document order is sorted order
	for i := 1; i < len(names); i++ {
		assert.True(t, names[i-1] < names[i], "names out of order: %s >= %s", names[i-1], names[i])
	}
}

func TestWriteCreatesOnlyImmediateParent(t *testing.T) {
	config, err := newBuilder().Construct(row(), nil)
	require.Nil(t, err)

	root := t.TempDir()

	// the immediate parent is created on demand
	path := filepath.Join(root, "GLD0040", "deployment_metadata.yml")
	require.Nil(t, config.Write(path))
	_, err = os.Stat(path)
	assert.Nil(t, err)

	// a missing grandparent is an error, not a silently conjured tree
	deep := filepath.Join(root, "a", "b", "c", "deployment_metadata.yml")
	err = config.Write(deep)
	require.NotNil(t, err)
	_, err = os.Stat(filepath.Join(root, "a"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteModes(t *testing.T) {
	config, err := newBuilder().Construct(row(), nil)
	require.Nil(t, err)

	deploy := deployment.New("GLD0040", filepath.Join(t.TempDir(), "GLD0040"))
	require.Nil(t, os.Mkdir(deploy.Root, 0755))

	require.Nil(t, config.Write(deploy.ConfigPath()))
	require.Nil(t, config.WriteModes(deploy))

	original, err := os.ReadFile(deploy.ConfigPath())
	require.Nil(t, err)

	for _, mode := range []deployment.Mode{deployment.Realtime, deployment.Delayed} {
		copied, err := os.ReadFile(filepath.Join(deploy.ModeDir(mode), deployment.ConfigFileName))
		require.Nil(t, err)
		assert.Equal(t, original, copied)
	}
}

func TestWriteDoesNotClobberOnFailure(t *testing.T) {
	config, err := newBuilder().Construct(row(), nil)
	require.Nil(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "deployment_metadata.yml")
	require.Nil(t, config.Write(path))

	original, err := os.ReadFile(path)
	require.Nil(t, err)

	// nothing stale is left behind by the temp and rename dance
	entries, err := os.ReadDir(dir)
	require.Nil(t, err)
	assert.Len(t, entries, 1)

	// a second write lands cleanly over the first
	require.Nil(t, config.Write(path))
	rewritten, err := os.ReadFile(path)
	require.Nil(t, err)
	assert.Equal(t, original, rewritten)
}

package naming_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adeverne/kiwiglider/pkg/naming"
)

func TestResolveTypicalRealtimePayload(t *testing.T) {
	table := naming.DefaultTable()

	// the channel set a sparse early-mission surfacing typically reports
	present := []string{
		"sci_water_cond",
		"sci_oxy4_oxygen",
		"m_gps_lat",
		"m_gps_lon",
	}

	resolution, err := table.Resolve(present)
	require.Nil(t, err)

	expected := []naming.Binding{
		{Variable: "conductivity", Source: "sci_water_cond", Priority: 0},
		{Variable: "latitude", Source: "m_gps_lat", Priority: 0},
		{Variable: "longitude", Source: "m_gps_lon", Priority: 0},
		{Variable: "oxygen_concentration", Source: "sci_oxy4_oxygen", Priority: 0},
	}

	assert.Equal(t, expected, resolution.Bindings)
	assert.Contains(t, resolution.Absent, "temperature")
	assert.Contains(t, resolution.Absent, "pressure")
	assert.NotContains(t, resolution.Absent, "conductivity")

	source, ok := resolution.Source("oxygen_concentration")
	assert.True(t, ok)
	assert.Equal(t, "sci_oxy4_oxygen", source)

	_, ok = resolution.Source("par")
	assert.False(t, ok)
}

func TestResolveIsDeterministic(t *testing.T) {
	table := naming.DefaultTable()

	present := []string{
		"m_gps_lon",
		"sci_water_temp",
		"m_gps_lat",
		"sci_water_cond",
		"sci_water_pressure",
	}

	first, err := table.Resolve(present)
	require.Nil(t, err)

	// same channels, different arrival order
	shuffled := []string{
		"sci_water_pressure",
		"m_gps_lat",
		"sci_water_cond",
		"m_gps_lon",
		"sci_water_temp",
	}

	second, err := table.Resolve(shuffled)
	require.Nil(t, err)

	assert.Equal(t, first, second)
}

func TestResolvePrefersHigherPriorityAlias(t *testing.T) {
	table := naming.DefaultTable()

	resolution, err := table.Resolve([]string{"sci_water_cond", "m_water_cond", "m_gps_lat", "m_gps_lon"})
	require.Nil(t, err)

	source, ok := resolution.Source("conductivity")
	require.True(t, ok)
	assert.Equal(t, "sci_water_cond", source)
}

func TestResolveFallsBackToFlightChannel(t *testing.T) {
	table := naming.DefaultTable()

	resolution, err := table.Resolve([]string{"m_water_cond", "m_gps_lat", "m_gps_lon"})
	require.Nil(t, err)

	var binding naming.Binding
	for _, b := range resolution.Bindings {
		if b.Variable == "conductivity" {
			binding = b
		}
	}

	assert.Equal(t, "m_water_cond", binding.Source)
	assert.Equal(t, 1, binding.Priority)
}

func TestResolveMissingMandatoryListsAll(t *testing.T) {
	table := naming.DefaultTable()

	_, err := table.Resolve([]string{"sci_water_cond", "sci_water_temp"})
	require.NotNil(t, err)

	var missingErr *naming.MissingVariableError
	require.True(t, errors.As(err, &missingErr))
	assert.Equal(t, []string{"latitude", "longitude"}, missingErr.Missing)
	assert.Contains(t, err.Error(), "latitude")
	assert.Contains(t, err.Error(), "longitude")
}

func TestResolveDuplicateSource(t *testing.T) {
	// a deliberately inconsistent table where two canonical variables can
	// claim the same raw channel
	table, err := naming.NewTable([]naming.Variable{
		{Name: "temperature", Aliases: []string{"sci_rbrctd_temp"}},
		{Name: "temperature_external", Aliases: []string{"sci_rbrctd_temp"}},
	})
	require.Nil(t, err)

	_, err = table.Resolve([]string{"sci_rbrctd_temp"})
	require.NotNil(t, err)

	var dupErr *naming.DuplicateSourceError
	require.True(t, errors.As(err, &dupErr))
	assert.Equal(t, "sci_rbrctd_temp", dupErr.Source)
	assert.Equal(t, []string{"temperature", "temperature_external"}, dupErr.Variables)
}

func TestOverridePinsSource(t *testing.T) {
	table := naming.DefaultTable()

	table, err := table.Override("conductivity", "sci_rbrctd_conductivity_00")
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
}

func TestOverrideUnknownVariable(t *testing.T) {
	table := naming.DefaultTable()

	_, err := table.Override("density", "sci_water_density")
	assert.NotNil(t, err)
}

func TestNewTableValidation(t *testing.T) {
	testcases := []struct {
		label     string
		variables []naming.Variable
	}{
		{
			label:     "empty name",
			variables: []naming.Variable{{Name: "", Aliases: []string{"sci_water_cond"}}},
		},
		{
			label:     "no aliases",
			variables: []naming.Variable{{Name: "conductivity"}},
		},
		{
			label: "duplicate variable",
			variables: []naming.Variable{
				{Name: "conductivity", Aliases: []string{"sci_water_cond"}},
				{Name: "conductivity", Aliases: []string{"m_water_cond"}},
			},
		},
		{
			label:     "repeated alias",
			variables: []naming.Variable{{Name: "conductivity", Aliases: []string{"sci_water_cond", "sci_water_cond"}}},
		},
	}

	for _, testcase := range testcases {
		t.Run(testcase.label, func(t *testing.T) {
			_, err := naming.NewTable(testcase.variables)
			assert.NotNil(t, err)
		})
	}
}

func TestLoadTable(t *testing.T) {
	content := []byte(`variables:
  - name: conductivity
    aliases: [sci_rbrctd_conductivity_00]
  - name: latitude
    aliases: [m_gps_lat]
    mandatory: true
`)

	path := filepath.Join(t.TempDir(), "aliases.yml")
	require.Nil(t, os.WriteFile(path, content, 0644))

	table, err := naming.LoadTable(path)
	require.Nil(t, err)

	resolution, err := table.Resolve([]string{"sci_rbrctd_conductivity_00", "m_gps_lat"})
	require.Nil(t, err)
	assert.Len(t, resolution.Bindings, 2)
}

func TestLoadTableRejectsUnknownKeys(t *testing.T) {
	content := []byte(`variables:
  - name: conductivity
    alias: [sci_water_cond]
`)

	path := filepath.Join(t.TempDir(), "aliases.yml")
	require.Nil(t, os.WriteFile(path, content, 0644))

	_, err := naming.LoadTable(path)
	assert.NotNil(t, err)
}

func TestLoadTableMissingFile(t *testing.T) {
	_, err := naming.LoadTable(filepath.Join(t.TempDir(), "nope.yml"))
	assert.NotNil(t, err)
}

func TestNames(t *testing.T) {
	table := naming.DefaultTable()

	names := table.Names()
	assert.Contains(t, names, "conductivity")
	assert.Contains(t, names, "latitude")

	v, ok := table.Get("latitude")
	require.True(t, ok)
	assert.True(t, v.Mandatory)

	_, ok = table.Get("density")
	assert.False(t, ok)
}

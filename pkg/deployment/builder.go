package deployment

import (
	"fmt"
	"sort"
	"strings"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/adeverne/kiwiglider/pkg/clock"
	"github.com/adeverne/kiwiglider/pkg/naming"
	"github.com/adeverne/kiwiglider/pkg/registry"
)

// variableDevices maps each canonical variable to the device block that
// produces it. Variables absent from this map come from the flight computer
// and are always included; the ctd block is always fitted, so its variables
// are too.
var variableDevices = map[string]string{
	naming.Conductivity: "ctd",
	naming.Temperature:  "ctd",
	naming.Pressure:     "ctd",
	naming.Oxygen:       "optode",
	"oxygen_saturation": "optode",
	naming.Chlorophyll:  "fluorometer",
	"cdom":              "fluorometer",
	"backscatter_700":   "fluorometer",
	"backscatter_470":   "backscatter",
	"backscatter_532":   "backscatter",
	"backscatter_660":   "backscatter",
	"par":               "par",
}

// variableDefaults carries the standard attribute dictionary for every
// canonical variable we can write into a document. Numeric limits are kept as
// strings, which is how review tooling expects to see them; readers coerce.
var variableDefaults = map[string]Attrs{
	naming.Time: {
		{Key: "axis", Value: "T"},
		{Key: "calendar", Value: "gregorian"},
		{Key: "long_name", Value: "Time"},
		{Key: "observation_type", Value: "measured"},
		{Key: "standard_name", Value: "time"},
		{Key: "units", Value: "seconds since 1970-01-01T00:00:00Z"},
	},
	naming.Latitude: {
		{Key: "axis", Value: "Y"},
		{Key: "comment", Value: "Estimated between surface fixes"},
		{Key: "coordinate_reference_frame", Value: "urn:ogc:crs:EPSG::4326"},
		{Key: "long_name", Value: "latitude"},
		{Key: "observation_type", Value: "measured"},
		{Key: "standard_name", Value: "latitude"},
		{Key: "units", Value: "degrees_north"},
		{Key: "valid_max", Value: "90."},
		{Key: "valid_min", Value: "-90."},
	},
	naming.Longitude: {
		{Key: "axis", Value: "X"},
		{Key: "comment", Value: "Estimated between surface fixes"},
		{Key: "coordinate_reference_frame", Value: "urn:ogc:crs:EPSG::4326"},
		{Key: "long_name", Value: "longitude"},
		{Key: "observation_type", Value: "measured"},
		{Key: "standard_name", Value: "longitude"},
		{Key: "units", Value: "degrees_east"},
		{Key: "valid_max", Value: "180."},
		{Key: "valid_min", Value: "-180."},
	},
	naming.Conductivity: {
		{Key: "accuracy", Value: "0.0003"},
		{Key: "long_name", Value: "water conductivity"},
		{Key: "observation_type", Value: "measured"},
		{Key: "precision", Value: "0.0001"},
		{Key: "resolution", Value: "0.00002"},
		{Key: "standard_name", Value: "sea_water_electrical_conductivity"},
		{Key: "units", Value: "S m-1"},
		{Key: "valid_max", Value: "10."},
		{Key: "valid_min", Value: "0."},
	},
	naming.Temperature: {
		{Key: "accuracy", Value: "0.002"},
		{Key: "long_name", Value: "water temperature"},
		{Key: "observation_type", Value: "measured"},
		{Key: "precision", Value: "0.001"},
		{Key: "resolution", Value: "0.0002"},
		{Key: "standard_name", Value: "sea_water_temperature"},
		{Key: "units", Value: "Celsius"},
		{Key: "valid_max", Value: "50."},
		{Key: "valid_min", Value: "-5."},
	},
	naming.Pressure: {
		{Key: "accuracy", Value: "1"},
		{Key: "comment", Value: "ctd pressure sensor"},
		{Key: "long_name", Value: "water pressure"},
		{Key: "observation_type", Value: "measured"},
		{Key: "positive", Value: "down"},
		{Key: "precision", Value: "2"},
		{Key: "reference_datum", Value: "sea-surface"},
		{Key: "resolution", Value: "0.02"},
		{Key: "standard_name", Value: "sea_water_pressure"},
		{Key: "units", Value: "dbar"},
		{Key: "valid_max", Value: "2000."},
		{Key: "valid_min", Value: "0."},
	},
	naming.Depth: {
		{Key: "long_name", Value: "glider measured depth"},
		{Key: "observation_type", Value: "calculated"},
		{Key: "positive", Value: "down"},
		{Key: "reference_datum", Value: "sea-surface"},
		{Key: "standard_name", Value: "depth"},
		{Key: "units", Value: "m"},
		{Key: "valid_max", Value: "1200."},
		{Key: "valid_min", Value: "0."},
	},
	"heading": {
		{Key: "long_name", Value: "glider heading angle"},
		{Key: "observation_type", Value: "measured"},
		{Key: "standard_name", Value: "platform_orientation"},
		{Key: "units", Value: "rad"},
	},
	"pitch": {
		{Key: "long_name", Value: "glider pitch angle"},
		{Key: "observation_type", Value: "measured"},
		{Key: "standard_name", Value: "platform_pitch_angle"},
		{Key: "units", Value: "rad"},
	},
	"roll": {
		{Key: "long_name", Value: "glider roll angle"},
		{Key: "observation_type", Value: "measured"},
		{Key: "standard_name", Value: "platform_roll_angle"},
		{Key: "units", Value: "rad"},
	},
	"water_velocity_eastward": {
		{Key: "long_name", Value: "mean eastward water velocity in segment"},
		{Key: "observation_type", Value: "calculated"},
		{Key: "standard_name", Value: "eastward_sea_water_velocity"},
		{Key: "units", Value: "m s-1"},
	},
	"water_velocity_northward": {
		{Key: "long_name", Value: "mean northward water velocity in segment"},
		{Key: "observation_type", Value: "calculated"},
		{Key: "standard_name", Value: "northward_sea_water_velocity"},
		{Key: "units", Value: "m s-1"},
	},
	naming.Oxygen: {
		{Key: "accuracy", Value: "8"},
		{Key: "long_name", Value: "oxygen concentration"},
		{Key: "observation_type", Value: "measured"},
		{Key: "precision", Value: "1"},
		{Key: "resolution", Value: "0.2"},
		{Key: "standard_name", Value: "mole_concentration_of_dissolved_molecular_oxygen_in_sea_water"},
		{Key: "units", Value: "umol l-1"},
		{Key: "valid_max", Value: "500."},
		{Key: "valid_min", Value: "0."},
	},
	"oxygen_saturation": {
		{Key: "long_name", Value: "oxygen saturation"},
		{Key: "observation_type", Value: "measured"},
		{Key: "resolution", Value: "0.1"},
		{Key: "standard_name", Value: "fractional_saturation_of_oxygen_in_sea_water"},
		{Key: "units", Value: "percent"},
		{Key: "valid_max", Value: "120."},
		{Key: "valid_min", Value: "0."},
	},
	naming.Chlorophyll: {
		{Key: "accuracy", Value: "0.025"},
		{Key: "long_name", Value: "chlorophyll concentration"},
		{Key: "observation_type", Value: "calculated"},
		{Key: "resolution", Value: "0.025"},
		{Key: "standard_name", Value: "mass_concentration_of_chlorophyll_a_in_sea_water"},
		{Key: "units", Value: "mg m-3"},
		{Key: "valid_max", Value: "50."},
		{Key: "valid_min", Value: "0."},
	},
	"cdom": {
		{Key: "long_name", Value: "colored dissolved organic matter concentration"},
		{Key: "observation_type", Value: "calculated"},
		{Key: "resolution", Value: "0.09"},
		{Key: "units", Value: "ppb"},
		{Key: "valid_max", Value: "375."},
		{Key: "valid_min", Value: "0."},
	},
	"backscatter_700": {
		{Key: "long_name", Value: "700 nm wavelength backscatter"},
		{Key: "observation_type", Value: "calculated"},
		{Key: "resolution", Value: "0.000002"},
		{Key: "units", Value: "1"},
		{Key: "valid_max", Value: "5."},
		{Key: "valid_min", Value: "0."},
	},
	"backscatter_470": {
		{Key: "long_name", Value: "470 nm wavelength backscatter"},
		{Key: "observation_type", Value: "calculated"},
		{Key: "resolution", Value: "0.000002"},
		{Key: "units", Value: "1"},
		{Key: "valid_max", Value: "5."},
		{Key: "valid_min", Value: "0."},
	},
	"backscatter_532": {
		{Key: "long_name", Value: "532 nm wavelength backscatter"},
		{Key: "observation_type", Value: "calculated"},
		{Key: "resolution", Value: "0.000002"},
		{Key: "units", Value: "1"},
		{Key: "valid_max", Value: "5."},
		{Key: "valid_min", Value: "0."},
	},
	"backscatter_660": {
		{Key: "long_name", Value: "660 nm wavelength backscatter"},
		{Key: "observation_type", Value: "calculated"},
		{Key: "resolution", Value: "0.000002"},
		{Key: "units", Value: "1"},
		{Key: "valid_max", Value: "5."},
		{Key: "valid_min", Value: "0."},
	},
	"par": {
		{Key: "long_name", Value: "photosynthetically active radiation"},
		{Key: "observation_type", Value: "measured"},
		{Key: "resolution", Value: "0.1"},
		{Key: "standard_name", Value: "downwelling_photosynthetic_photon_spherical_irradiance_in_sea_water"},
		{Key: "units", Value: "uE m-2 s-1"},
		{Key: "valid_max", Value: "6000."},
		{Key: "valid_min", Value: "0."},
	},
}

// profileVariables is the static profile_variables block: attributes for the
// per profile summary values the pipeline computes when splitting profiles.
var profileVariables = Attrs{
	{Key: "profile_id", Value: Attrs{
		{Key: "comment", Value: "Sequential profile number within the trajectory. This value is unique in each file that is part of a single trajectory/deployment."},
		{Key: "long_name", Value: "Profile ID"},
		{Key: "valid_max", Value: "2147483647"},
		{Key: "valid_min", Value: "1"},
	}},
	{Key: "profile_lat", Value: Attrs{
		{Key: "comment", Value: "Value is interpolated to provide an estimate of the latitude at the mid-point of the profile"},
		{Key: "long_name", Value: "Profile Center Latitude"},
		{Key: "observation_type", Value: "calculated"},
		{Key: "standard_name", Value: "latitude"},
		{Key: "units", Value: "degrees_north"},
		{Key: "valid_max", Value: "90."},
		{Key: "valid_min", Value: "-90."},
	}},
	{Key: "profile_lon", Value: Attrs{
		{Key: "comment", Value: "Value is interpolated to provide an estimate of the longitude at the mid-point of the profile"},
		{Key: "long_name", Value: "Profile Center Longitude"},
		{Key: "observation_type", Value: "calculated"},
		{Key: "standard_name", Value: "longitude"},
		{Key: "units", Value: "degrees_east"},
		{Key: "valid_max", Value: "180."},
		{Key: "valid_min", Value: "-180."},
	}},
	{Key: "profile_time", Value: Attrs{
		{Key: "comment", Value: "Timestamp corresponding to the mid-point of the profile"},
		{Key: "long_name", Value: "Profile Center Time"},
		{Key: "observation_type", Value: "calculated"},
		{Key: "standard_name", Value: "time"},
		{Key: "units", Value: "seconds since 1970-01-01T00:00:00Z"},
	}},
	{Key: "u", Value: Attrs{
		{Key: "comment", Value: "The depth-averaged current is an estimate of the net current measured while the glider is underwater. The value is calculated over the entire underwater segment, which may consist of 1 or more dives."},
		{Key: "long_name", Value: "Depth-Averaged Eastward Sea Water Velocity"},
		{Key: "observation_type", Value: "calculated"},
		{Key: "standard_name", Value: "eastward_sea_water_velocity"},
		{Key: "units", Value: "m s-1"},
		{Key: "valid_max", Value: "10."},
		{Key: "valid_min", Value: "-10."},
	}},
	{Key: "v", Value: Attrs{
		{Key: "comment", Value: "The depth-averaged current is an estimate of the net current measured while the glider is underwater. The value is calculated over the entire underwater segment, which may consist of 1 or more dives."},
		{Key: "long_name", Value: "Depth-Averaged Northward Sea Water Velocity"},
		{Key: "observation_type", Value: "calculated"},
		{Key: "standard_name", Value: "northward_sea_water_velocity"},
		{Key: "units", Value: "m s-1"},
		{Key: "valid_max", Value: "10."},
		{Key: "valid_min", Value: "-10."},
	}},
}

// Builder constructs deployment documents from registry rows.
type Builder struct {
	table  *naming.Table
	clock  clock.Clock
	logger kitlog.Logger
}

// NewBuilder returns a Builder using the given alias table for source
// bindings. The clock stamps date_created so document regeneration under test
// can be made reproducible.
func NewBuilder(table *naming.Table, cl clock.Clock, logger kitlog.Logger) *Builder {
	logger = kitlog.With(logger, "module", "deployment")

	return &Builder{
		table:  table,
		clock:  cl,
		logger: logger,
	}
}

// Construct builds the full deployment document for a registry row. Overrides
// merge into the metadata block last, so an operator can correct or extend
// any registry derived global attribute without touching the registry itself.
func (b *Builder) Construct(row *registry.Row, overrides Attrs) (*Config, error) {
	if err := row.Validate(); err != nil {
		return nil, errors.Wrap(err, "registry row failed validation")
	}

	metadata, err := b.buildMetadata(row)
	if err != nil {
		return nil, err
	}

	for _, attr := range overrides {
		metadata.Set(attr.Key, attr.Value)
	}
	metadata = sortAttrs(metadata)

	devices := b.buildDevices(row)

	variables, err := b.buildVariables(row)
	if err != nil {
		return nil, err
	}

	b.logger.Log(
		"deployment", row.Name(),
		"devices", len(devices),
		"variables", len(variables),
		"msg", "constructed deployment document",
	)

	return &Config{
		Metadata:         metadata,
		GliderDevices:    devices,
		NetCDFVariables:  variables,
		ProfileVariables: profileVariables,
		QartodTests:      deriveQartod(variables),
	}, nil
}

// buildMetadata assembles the global attribute block. Keys are emitted in
// sorted order, capitals first, which is also how the review tooling has
// always displayed them.
func (b *Builder) buildMetadata(row *registry.Row) (Attrs, error) {
	authority, err := reverseDomain(row.DataManagerEmail)
	if err != nil {
		return nil, errors.Wrap(err, "cannot derive naming authority")
	}

	summary := fmt.Sprintf(
		"%s deployment of glider %s in the %s, deployed %s as part of %s.",
		row.Name(), row.Platform, row.Sea,
		row.DeployDate.Format("2006-01-02"), row.Project,
	)

	metadata := Attrs{
		{Key: "Conventions", Value: "CF-1.11"},
		{Key: "Metadata_Conventions", Value: "CF-1.11, Unidata Dataset Discovery v1.0"},
		{Key: "acknowledgement", Value: fmt.Sprintf("This deployment was supported by %s.", row.Funding)},
		{Key: "contributor_name", Value: strings.Join([]string{row.PrincipalInvestigator, row.DataManager, row.Pilot}, ", ")},
		{Key: "contributor_role", Value: "Principal Investigator, Data Manager, Glider Pilot"},
		{Key: "creator_email", Value: row.DataManagerEmail},
		{Key: "creator_name", Value: row.DataManager},
		{Key: "date_created", Value: b.clock.Now().UTC().Format(time.RFC3339)},
		{Key: "deployment_id", Value: row.ID},
		{Key: "deployment_name", Value: row.Name()},
		{Key: "deployment_start", Value: row.DeployDate.Format("2006-01-02")},
		{Key: "format_version", Value: "IOOS_Glider_NetCDF_v2.0.nc"},
		{Key: "glider_model", Value: row.GliderType},
		{Key: "glider_name", Value: row.Platform},
		{Key: "glider_pump_type", Value: row.PumpType},
		{Key: "glider_serial", Value: row.PlatformSerial},
		{Key: "institution", Value: row.Owner},
		{Key: "keywords", Value: "AUVS > Autonomous Underwater Vehicles, Oceans > Ocean Pressure > Water Pressure, Oceans > Ocean Temperature > Water Temperature, Oceans > Salinity/Density > Conductivity, Oceans > Salinity/Density > Density, Oceans > Salinity/Density > Salinity"},
		{Key: "keywords_vocabulary", Value: "GCMD Science Keywords"},
		{Key: "license", Value: "This data may be redistributed and used without restriction."},
		{Key: "naming_authority", Value: authority},
		{Key: "platform_type", Value: "Slocum Glider"},
		{Key: "project", Value: row.Project},
		{Key: "publisher_email", Value: row.DataManagerEmail},
		{Key: "publisher_name", Value: row.DataManager},
		{Key: "sea_name", Value: row.Sea},
		{Key: "source", Value: "Observational data from a profiling glider"},
		{Key: "standard_name_vocabulary", Value: "CF Standard Name Table v79"},
		{Key: "summary", Value: summary},
		{Key: "transmission_system", Value: "IRIDIUM"},
	}

	if row.RecoverDate.Valid {
		metadata.Set("deployment_end", row.RecoverDate.Time.Format("2006-01-02"))
	}

	if row.WMOID.Valid {
		metadata.Set("wmo_id", row.WMOID.String)
	}

	return sortAttrs(metadata), nil
}

// buildDevices assembles one block per fitted instrument.
func (b *Builder) buildDevices(row *registry.Row) Attrs {
	devices := Attrs{
		{Key: "ctd", Value: deviceBlock(row.CTD)},
	}

	for name, instrument := range row.Instruments() {
		if instrument.Installed {
			devices.Set(name, deviceBlock(instrument))
		}
	}

	return sortAttrs(devices)
}

// deviceBlock renders one instrument's attributes.
func deviceBlock(instrument registry.Instrument) Attrs {
	makeModel := instrument.Make.String

	block := Attrs{}

	if instrument.Calibrated.Valid {
		block.Set("calibration_date", instrument.Calibrated.Time.Format("2006-01-02"))
	}

	block.Set("long_name", makeModel)
	block.Set("make", firstWord(makeModel))
	block.Set("make_model", makeModel)
	block.Set("model", restWords(makeModel))

	if instrument.Serial.Valid {
		block.Set("serial", instrument.Serial.String)
	}

	return sortAttrs(block)
}

// buildVariables assembles the netcdf_variables block: the time axis plus
// every canonical variable whose device is aboard, each with its source
// binding and standard attributes.
func (b *Builder) buildVariables(row *registry.Row) (Attrs, error) {
	installed := map[string]bool{"ctd": true}
	for name, instrument := range row.Instruments() {
		installed[name] = instrument.Installed
	}

	variables := Attrs{}

	timeAttrs := make(Attrs, len(variableDefaults[naming.Time]))
	copy(timeAttrs, variableDefaults[naming.Time])
	variables.Set(naming.Time, sortAttrs(timeAttrs))

	for _, name := range b.table.Names() {
		device, gated := variableDevices[name]
		if gated && !installed[device] {
			continue
		}

		v, _ := b.table.Get(name)

		defaults, ok := variableDefaults[name]
		if !ok {
			return nil, errors.Errorf("no attribute defaults for variable '%s'", name)
		}

		attrs := make(Attrs, len(defaults))
		copy(attrs, defaults)

		attrs.Set("source", v.Aliases[0])
		if gated {
			attrs.Set("instrument", "instrument_"+device)
		}

		variables.Set(name, sortAttrs(attrs))
	}

	return sortAttrs(variables), nil
}

// deriveQartod maps each variable's physical limits onto QC test parameters:
// the valid range becomes the gross range fail span, and the sensor
// resolution scales the spike, rate of change and flat line thresholds.
func deriveQartod(variables Attrs) Attrs {
	tests := Attrs{}

	for _, attr := range variables {
		if attr.Key == naming.Time {
			continue
		}

		variable, ok := attr.Value.(Attrs)
		if !ok {
			continue
		}

		validMin, okMin := variable.Float("valid_min")
		validMax, okMax := variable.Float("valid_max")
		if !okMin || !okMax {
			continue
		}

		streamTests := Attrs{
			{Key: "gross_range_test", Value: Attrs{
				{Key: "fail_span", Value: []float64{validMin, validMax}},
			}},
		}

		if resolution, ok := variable.Float("resolution"); ok {
			streamTests.Set("flat_line_test", Attrs{
				{Key: "fail_threshold", Value: 300.0},
				{Key: "suspect_threshold", Value: 150.0},
				{Key: "tolerance", Value: resolution * 2},
			})
			streamTests.Set("rate_of_change_test", Attrs{
				{Key: "threshold", Value: resolution * 100},
			})
			streamTests.Set("spike_test", Attrs{
				{Key: "fail_threshold", Value: resolution * 200},
				{Key: "suspect_threshold", Value: resolution * 100},
			})
		}

		tests.Set(attr.Key, sortAttrs(streamTests))
	}

	return sortAttrs(tests)
}

// sortAttrs returns the attrs sorted by key, capitals before lowercase, the
// way every document we have ever shipped has been ordered.
func sortAttrs(attrs Attrs) Attrs {
	sorted := make(Attrs, len(attrs))
	copy(sorted, attrs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Key < sorted[j].Key
	})
	return sorted
}

// reverseDomain turns the domain of an email address into a naming authority,
// e.g. data@ocean.example.nz becomes nz.example.ocean.
func reverseDomain(email string) (string, error) {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return "", errors.Errorf("'%s' is not an email address", email)
	}

	parts := strings.Split(email[at+1:], ".")
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}

	return strings.Join(parts, "."), nil
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func restWords(s string) string {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return s
	}
	return strings.Join(fields[1:], " ")
}

package naming

// Canonical variable names used throughout the pipeline. Only the ones other
// packages switch on are exported as constants; everything else is referenced
// by its string name from the deployment document.
const (
	Time         = "time"
	Conductivity = "conductivity"
	Temperature  = "temperature"
	Pressure     = "pressure"
	Depth        = "depth"
	Latitude     = "latitude"
	Longitude    = "longitude"
	Oxygen       = "oxygen_concentration"
	Salinity     = "salinity"
	Chlorophyll  = "chlorophyll"
)

// defaultVariables is the stock alias table for Slocum gliders. Aliases are in
// priority order: science bay channels first, flight computer fallbacks after.
// Only navigation is mandatory; every science channel is payload dependent and
// may be legitimately absent, especially early in a realtime mission.
var defaultVariables = []Variable{
	{Name: Conductivity, Aliases: []string{"sci_water_cond", "m_water_cond"}},
	{Name: Temperature, Aliases: []string{"sci_water_temp", "m_water_temp"}},
	{Name: Pressure, Aliases: []string{"sci_water_pressure", "m_water_pressure"}},
	{Name: Depth, Aliases: []string{"m_depth"}},
	{Name: Latitude, Aliases: []string{"m_gps_lat", "m_lat"}, Mandatory: true},
	{Name: Longitude, Aliases: []string{"m_gps_lon", "m_lon"}, Mandatory: true},
	{Name: "heading", Aliases: []string{"m_heading"}},
	{Name: "pitch", Aliases: []string{"m_pitch"}},
	{Name: "roll", Aliases: []string{"m_roll"}},
	{Name: "water_velocity_eastward", Aliases: []string{"m_water_vx", "m_final_water_vx"}},
	{Name: "water_velocity_northward", Aliases: []string{"m_water_vy", "m_final_water_vy"}},
	{Name: Oxygen, Aliases: []string{"sci_oxy4_oxygen", "sci_oxy3835_oxygen"}},
	{Name: "oxygen_saturation", Aliases: []string{"sci_oxy4_saturation", "sci_oxy3835_saturation"}},
	{Name: Chlorophyll, Aliases: []string{"sci_flbbcd_chlor_units", "sci_flbb_chlor_units"}},
	{Name: "cdom", Aliases: []string{"sci_flbbcd_cdom_units"}},
	{Name: "backscatter_700", Aliases: []string{"sci_flbbcd_bb_units", "sci_flbb_bb_units"}},
	{Name: "backscatter_470", Aliases: []string{"sci_bb3slo_b470_scaled"}},
	{Name: "backscatter_532", Aliases: []string{"sci_bb3slo_b532_scaled"}},
	{Name: "backscatter_660", Aliases: []string{"sci_bb3slo_b660_scaled"}},
	{Name: "par", Aliases: []string{"sci_bsipar_par"}},
}

// DefaultTable returns the stock Slocum alias table. The table is rebuilt on
// every call so callers are free to apply overrides without affecting each
// other.
func DefaultTable() *Table {
	t, err := NewTable(defaultVariables)
	if err != nil {
		// defaultVariables is compiled in, so a validation failure is a
		// programming error rather than a runtime condition.
		panic(err)
	}
	return t
}

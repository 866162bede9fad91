package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/adeverne/kiwiglider/pkg/dataset"
	"github.com/adeverne/kiwiglider/pkg/naming"
	"github.com/adeverne/kiwiglider/pkg/timeseries"
)

// DegreeMinutes renders a decimal degree coordinate in the degree minutes
// form navigators and deployment reports use, e.g. "42 17.339 N". pos and neg
// are the hemisphere letters for positive and negative values.
func DegreeMinutes(dd float64, pos, neg string) string {
	hemisphere := pos
	if dd < 0 {
		hemisphere = neg
		dd = -dd
	}

	degrees := math.Floor(dd)
	minutes := (dd - degrees) * 60

	return fmt.Sprintf("%d %06.3f %s", int(degrees), minutes, hemisphere)
}

// DecimalDegrees converts a degree minutes pair back to decimal degrees.
// negative reports a southern or western hemisphere.
func DecimalDegrees(degrees, minutes float64, negative bool) float64 {
	dd := degrees + minutes/60
	if negative {
		dd = -dd
	}
	return dd
}

// summaryAttrs assembles the deployment summary snapshot attached to the
// finalized dataset: the span of the record, first and last fixes, profile
// count and maximum depth.
func summaryAttrs(s *timeseries.Series, profiles []timeseries.Profile) []dataset.Attr {
	attrs := []dataset.Attr{}

	times := s.Times()
	if len(times) == 0 {
		return attrs
	}

	start := epochTime(times[0])
	end := epochTime(times[len(times)-1])

	attrs = append(attrs,
		dataset.Attr{Key: "summary_start", Value: start.Format(time.RFC3339)},
		dataset.Attr{Key: "summary_end", Value: end.Format(time.RFC3339)},
		dataset.Attr{Key: "summary_duration_hours", Value: end.Sub(start).Hours()},
		dataset.Attr{Key: "summary_profiles", Value: int64(len(profiles))},
	)

	if _, lat, ok := s.FirstValid(naming.Latitude); ok {
		if _, lon, okLon := s.FirstValid(naming.Longitude); okLon {
			attrs = append(attrs, dataset.Attr{
				Key:   "summary_first_position",
				Value: DegreeMinutes(lat, "N", "S") + " " + DegreeMinutes(lon, "E", "W"),
			})
		}
	}

	if _, lat, ok := s.LastValid(naming.Latitude); ok {
		if _, lon, okLon := s.LastValid(naming.Longitude); okLon {
			attrs = append(attrs, dataset.Attr{
				Key:   "summary_last_position",
				Value: DegreeMinutes(lat, "N", "S") + " " + DegreeMinutes(lon, "E", "W"),
			})
		}
	}

	if maxDepth, ok := s.MaxValid(naming.Depth); ok {
		attrs = append(attrs, dataset.Attr{Key: "summary_max_depth", Value: maxDepth})
	}

	return attrs
}

// profileAttrs describes one extracted profile on its own dataset: its
// number, direction, time span and centre fix.
func profileAttrs(sliced *timeseries.Series, profile timeseries.Profile) []dataset.Attr {
	attrs := []dataset.Attr{
		{Key: "profile_id", Value: int64(profile.Index)},
		{Key: "profile_direction", Value: profile.Direction.String()},
	}

	times := sliced.Times()
	if len(times) > 0 {
		start := times[0]
		end := times[len(times)-1]

		attrs = append(attrs,
			dataset.Attr{Key: "profile_time_start", Value: epochTime(start).Format(time.RFC3339)},
			dataset.Attr{Key: "profile_time_end", Value: epochTime(end).Format(time.RFC3339)},
			dataset.Attr{Key: "profile_time", Value: epochTime((start + end) / 2).Format(time.RFC3339)},
		)
	}

	if lat, ok := centreValue(sliced, naming.Latitude); ok {
		attrs = append(attrs, dataset.Attr{Key: "profile_lat", Value: lat})
	}
	if lon, ok := centreValue(sliced, naming.Longitude); ok {
		attrs = append(attrs, dataset.Attr{Key: "profile_lon", Value: lon})
	}

	return attrs
}

// centreValue approximates a slowly varying channel's value at the middle of
// a profile as the mean of its first and last fixes. GPS only resolves at the
// surface, so this is as good as the data gets mid profile.
func centreValue(s *timeseries.Series, name string) (float64, bool) {
	_, first, okF := s.FirstValid(name)
	_, last, okL := s.LastValid(name)
	if !okF || !okL {
		return 0, false
	}
	return (first + last) / 2, true
}

func epochTime(seconds float64) time.Time {
	sec, frac := math.Modf(seconds)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

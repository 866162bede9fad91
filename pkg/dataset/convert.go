package dataset

import (
	"math"

	"github.com/pkg/errors"

	"github.com/adeverne/kiwiglider/pkg/deployment"
	"github.com/adeverne/kiwiglider/pkg/naming"
	"github.com/adeverne/kiwiglider/pkg/timeseries"
)

// FromSeries builds a dataset from a merged series: the time axis first, then
// every column in series order, each carrying the attributes the deployment
// document declares for it. Global attributes are the document's metadata
// block plus the processing level and the run provenance.
func FromSeries(s *timeseries.Series, cfg *deployment.Config, level deployment.Level, mode deployment.Mode, prov Provenance) (*Dataset, error) {
	prov.Deployment = cfg.Name()
	prov.Mode = string(mode)
	prov.Level = string(level)
	prov.Samples = s.Len()

	global := flattenAttrs(cfg.Metadata)
	global = append(global, Attr{Key: "processing_level", Value: string(level)})
	global = append(global, Attr{Key: "processing_mode", Value: string(mode)})

	d := &Dataset{
		Provenance: prov,
		Global:     global,
	}

	timeVar := Variable{Name: naming.Time, Values: s.Times()}
	if attrs, ok := cfg.Variable(naming.Time); ok {
		timeVar.Attrs = flattenAttrs(attrs)
	}
	d.Variables = append(d.Variables, timeVar)

	for _, name := range s.Names() {
		values, _ := s.Column(name)

		v := Variable{Name: name, Values: values}
		if attrs, ok := cfg.Variable(name); ok {
			v.Attrs = flattenAttrs(attrs)
		}

		d.Variables = append(d.Variables, v)
	}

	return d, nil
}

// Series reconstructs the merged series from a dataset.
func (d *Dataset) Series() (*timeseries.Series, error) {
	timeVar, ok := d.Variable(naming.Time)
	if !ok {
		return nil, errors.New("dataset has no time variable")
	}

	s, err := timeseries.New(timeVar.Values)
	if err != nil {
		return nil, errors.Wrap(err, "dataset time axis is invalid")
	}

	for _, v := range d.Variables {
		if v.Name == naming.Time {
			continue
		}
		if err := s.AddColumn(v.Name, v.Values); err != nil {
			return nil, errors.Wrapf(err, "dataset variable '%s' is invalid", v.Name)
		}
	}

	return s, nil
}

// ReadSeries loads the dataset at path and reconstructs its series. A missing
// file yields (nil, nil): the distinction between "nothing finalized yet" and
// a read failure matters to realtime appends.
func ReadSeries(path string) (*timeseries.Series, error) {
	d, err := Read(path)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	return d.Series()
}

// flattenAttrs converts document attributes to dataset attributes, keeping
// scalar values and skipping nested blocks, which have no place on a variable.
func flattenAttrs(attrs deployment.Attrs) []Attr {
	out := make([]Attr, 0, len(attrs))

	for _, attr := range attrs {
		switch v := attr.Value.(type) {
		case string:
			out = append(out, Attr{Key: attr.Key, Value: v})
		case bool:
			out = append(out, Attr{Key: attr.Key, Value: v})
		case int:
			out = append(out, Attr{Key: attr.Key, Value: int64(v)})
		case int64:
			out = append(out, Attr{Key: attr.Key, Value: v})
		case float64:
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				out = append(out, Attr{Key: attr.Key, Value: v})
			}
		}
	}

	return out
}

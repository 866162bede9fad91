package deployment

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ConfigFileName is the name of the deployment document within a deployment's
// root directory.
const ConfigFileName = "deployment_metadata.yml"

// Level identifies a processing level for on disk artefacts.
type Level string

const (
	// L0 is the merged, unfiltered timeseries.
	L0 Level = "L0"

	// L1 is L0 plus quality control flags.
	L1 Level = "L1"

	// Final marks a dataset promoted into the Final directory.
	Final Level = "final"
)

// Deployment ties a deployment's name to its directory tree on disk. Every
// path the pipeline reads or writes for a deployment comes from here, so two
// runs can only ever contend over files both of them derive from this
// contract.
type Deployment struct {
	Name string
	Root string
}

// New returns a Deployment rooted at the given directory.
func New(name, root string) *Deployment {
	return &Deployment{Name: name, Root: root}
}

// ConfigPath returns the path of the deployment document.
func (d *Deployment) ConfigPath() string {
	return filepath.Join(d.Root, ConfigFileName)
}

// RawDir returns the directory the dockserver (realtime) or recovery copy
// (delayed) drops raw binary logs into.
func (d *Deployment) RawDir() string {
	return filepath.Join(d.Root, "Raw")
}

// CacheDir returns the directory sensor list cache files live in. Slocum
// binary logs reference an out of band header cache; decoders need it to
// parse truncated files.
func (d *Deployment) CacheDir() string {
	return filepath.Join(d.RawDir(), "Cache")
}

// ModeDir returns the directory holding one mode's artefacts.
func (d *Deployment) ModeDir(m Mode) string {
	return filepath.Join(d.Root, m.Dir())
}

// TimeseriesDir returns the directory holding the merged timeseries for a
// level, e.g. Realtime/L0-timeseries.
func (d *Deployment) TimeseriesDir(m Mode, level Level) string {
	return filepath.Join(d.ModeDir(m), fmt.Sprintf("%s-timeseries", level))
}

// TimeseriesPath returns the dataset file path for a level.
func (d *Deployment) TimeseriesPath(m Mode, level Level) string {
	return filepath.Join(d.TimeseriesDir(m, level), d.Name+".kgd")
}

// ProfilesDir returns the directory holding per profile datasets for a level.
func (d *Deployment) ProfilesDir(m Mode, level Level) string {
	return filepath.Join(d.ModeDir(m), fmt.Sprintf("%s-profiles", level))
}

// ProfilePath returns the dataset file path for one numbered profile.
func (d *Deployment) ProfilePath(m Mode, level Level, number int) string {
	return filepath.Join(d.ProfilesDir(m, level), fmt.Sprintf("%s_%03d.kgd", d.Name, number))
}

// FinalDir returns the directory finalized datasets are promoted into.
func (d *Deployment) FinalDir(m Mode) string {
	return filepath.Join(d.ModeDir(m), "Final")
}

// FinalPath returns the finalized dataset path for a mode.
func (d *Deployment) FinalPath(m Mode) string {
	return filepath.Join(d.FinalDir(m), d.Name+".kgd")
}

// ReportsDir returns the directory compliance reports are written into.
func (d *Deployment) ReportsDir(m Mode) string {
	return filepath.Join(d.ModeDir(m), "Reports")
}

// EnsureLayout creates the directory tree for a mode if any of it is missing.
// The Raw directory is deliberately included: a fresh deployment starts as an
// empty Raw directory waiting for the first surfacing.
func (d *Deployment) EnsureLayout(m Mode) error {
	dirs := []string{
		d.RawDir(),
		d.CacheDir(),
		d.TimeseriesDir(m, L0),
		d.TimeseriesDir(m, L1),
		d.ProfilesDir(m, L0),
		d.ProfilesDir(m, L1),
		d.FinalDir(m),
		d.ReportsDir(m),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}

	return nil
}

package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	null "gopkg.in/guregu/null.v3"
)

// Source is the interface for anything able to look up a deployment row by its
// numeric id. We ship two implementations: a CSV file source for ship laptops
// with no database, and a Postgres source for the lab's shared registry.
type Source interface {
	// Lookup returns the row for the given deployment id, or a NotFoundError
	// if the registry does not contain it.
	Lookup(id int) (*Row, error)
}

// NotFoundError is returned when a deployment id is not present in the
// registry.
type NotFoundError struct {
	ID int
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("deployment %d not found in registry", e.ID)
}

// Instrument describes one sensor fitted to the glider for a deployment.
// Make, Serial and Calibrated stay null when the instrument is not installed,
// and may be null even when it is (older registry rows are patchy).
type Instrument struct {
	Installed  bool
	Make       null.String
	Serial     null.String
	Calibrated null.Time
}

// Row is a single deployment's registry record: who flew what, where, for
// whom, and which sensors were aboard. It is the sole input to the deployment
// document builder.
type Row struct {
	ID                    int
	Platform              string
	PlatformSerial        string
	GliderType            string
	PumpType              string
	Project               string
	PrincipalInvestigator string
	DataManager           string
	DataManagerEmail      string
	Pilot                 string
	Owner                 string
	Funding               string
	Sea                   string
	WMOID                 null.String
	DeployDate            time.Time
	RecoverDate           null.Time

	CTD         Instrument
	Optode      Instrument
	Fluorometer Instrument
	PAR         Instrument
	Backscatter Instrument
	LISST       Instrument
	Microrider  Instrument
}

// Name returns the canonical deployment name derived from the registry id,
// e.g. id 40 becomes GLD0040. This name keys every artefact the pipeline
// writes for the deployment.
func (r *Row) Name() string {
	return fmt.Sprintf("GLD%04d", r.ID)
}

// Validate checks that the row carries everything the document builder cannot
// proceed without. It returns an error naming every missing field rather than
// stopping at the first, since registry fixes usually happen in one sitting.
func (r *Row) Validate() error {
	missing := []string{}

	required := []struct {
		field string
		value string
	}{
		{"platform", r.Platform},
		{"glider_type", r.GliderType},
		{"project", r.Project},
		{"principal_investigator", r.PrincipalInvestigator},
		{"data_manager", r.DataManager},
		{"data_manager_email", r.DataManagerEmail},
		{"owner", r.Owner},
		{"sea", r.Sea},
		{"ctd_make", r.CTD.Make.String},
	}

	for _, f := range required {
		if f.value == "" {
			missing = append(missing, f.field)
		}
	}

	if r.DeployDate.IsZero() {
		missing = append(missing, "deploy_date")
	}

	if len(missing) > 0 {
		return errors.Errorf("deployment %d is missing registry fields: %s", r.ID, strings.Join(missing, ", "))
	}

	return nil
}

// Instruments returns the optional instruments keyed by the block name the
// deployment document uses for each. CTD is not included as it is always
// fitted.
func (r *Row) Instruments() map[string]Instrument {
	return map[string]Instrument{
		"optode":      r.Optode,
		"fluorometer": r.Fluorometer,
		"backscatter": r.Backscatter,
		"par":         r.PAR,
		"lisst":       r.LISST,
		"microrider":  r.Microrider,
	}
}

package registry

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	null "gopkg.in/guregu/null.v3"
)

// dateFormat is the layout registry dates are written in, both in CSV exports
// and in the Postgres DATE columns.
const dateFormat = "2006-01-02"

// CSVSource reads deployment rows from a CSV export of the registry
// spreadsheet. The first record must be a header row naming columns; column
// order is not significant.
type CSVSource struct {
	path   string
	logger kitlog.Logger
}

// NewCSVSource returns a Source reading from the CSV file at the given path.
func NewCSVSource(path string, logger kitlog.Logger) *CSVSource {
	logger = kitlog.With(logger, "module", "registry")

	return &CSVSource{
		path:   path,
		logger: logger,
	}
}

// Lookup scans the file for the row with the given deployment id. A duplicate
// id is treated as a corrupt registry rather than silently taking either row.
func (c *CSVSource) Lookup(id int) (*Row, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open registry file")
	}
	defer f.Close()

	c.logger.Log("path", c.path, "id", id, "msg", "looking up deployment")

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read header row from %s", c.path)
	}

	columns := map[string]int{}
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}

	if _, ok := columns["id"]; !ok {
		return nil, errors.Errorf("registry file %s has no id column", c.path)
	}

	var found *Row

	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read registry row at line %d", line)
		}

		rowID, err := strconv.Atoi(strings.TrimSpace(record[columns["id"]]))
		if err != nil {
			return nil, errors.Wrapf(err, "non numeric id at line %d", line)
		}

		if rowID != id {
			continue
		}

		if found != nil {
			return nil, errors.Errorf("deployment %d appears twice in registry %s", id, c.path)
		}

		row, err := parseRecord(rowID, record, columns)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed registry row at line %d", line)
		}

		found = row
	}

	if found == nil {
		return nil, &NotFoundError{ID: id}
	}

	return found, nil
}

// fields provides checked access to a CSV record via the header index.
type fields struct {
	record  []string
	columns map[string]int
}

func (f fields) get(name string) (string, error) {
	i, ok := f.columns[name]
	if !ok {
		return "", errors.Errorf("registry has no '%s' column", name)
	}
	if i >= len(f.record) {
		return "", errors.Errorf("row is short of the '%s' column", name)
	}
	return strings.TrimSpace(f.record[i]), nil
}

func (f fields) optional(name string) string {
	i, ok := f.columns[name]
	if !ok || i >= len(f.record) {
		return ""
	}
	return strings.TrimSpace(f.record[i])
}

func (f fields) date(name string) (time.Time, error) {
	value, err := f.get(name)
	if err != nil {
		return time.Time{}, err
	}
	if value == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(dateFormat, value)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "bad date in column '%s'", name)
	}
	return t, nil
}

func (f fields) boolean(name string) (bool, error) {
	value := strings.ToLower(f.optional(name))
	switch value {
	case "", "false", "no", "n", "0", "f":
		return false, nil
	case "true", "yes", "y", "1", "t":
		return true, nil
	}
	return false, errors.Errorf("bad boolean '%s' in column '%s'", value, name)
}

func (f fields) instrument(prefix string) (Instrument, error) {
	installed, err := f.boolean(prefix + "_installed")
	if err != nil {
		return Instrument{}, err
	}

	instrument := Instrument{
		Installed: installed,
		Make:      nullString(f.optional(prefix + "_make")),
		Serial:    nullString(f.optional(prefix + "_serial")),
	}

	calibrated := f.optional(prefix + "_calibrated")
	if calibrated != "" {
		t, err := time.Parse(dateFormat, calibrated)
		if err != nil {
			return Instrument{}, errors.Wrapf(err, "bad date in column '%s_calibrated'", prefix)
		}
		instrument.Calibrated = null.TimeFrom(t)
	}

	return instrument, nil
}

func nullString(s string) null.String {
	return null.NewString(s, s != "")
}

// parseRecord converts one CSV record into a validated Row.
func parseRecord(id int, record []string, columns map[string]int) (*Row, error) {
	f := fields{record: record, columns: columns}

	row := &Row{ID: id}

	var err error

	strFields := []struct {
		name string
		dest *string
	}{
		{"platform", &row.Platform},
		{"platform_serial", &row.PlatformSerial},
		{"glider_type", &row.GliderType},
		{"pump_type", &row.PumpType},
		{"project", &row.Project},
		{"principal_investigator", &row.PrincipalInvestigator},
		{"data_manager", &row.DataManager},
		{"data_manager_email", &row.DataManagerEmail},
		{"pilot", &row.Pilot},
		{"owner", &row.Owner},
		{"funding", &row.Funding},
		{"sea", &row.Sea},
	}

	for _, sf := range strFields {
		*sf.dest, err = f.get(sf.name)
		if err != nil {
			return nil, err
		}
	}

	row.WMOID = nullString(f.optional("wmo_id"))

	row.DeployDate, err = f.date("deploy_date")
	if err != nil {
		return nil, err
	}

	recovered, err := f.date("recover_date")
	if err != nil {
		return nil, err
	}
	if !recovered.IsZero() {
		row.RecoverDate = null.TimeFrom(recovered)
	}

	// the CTD is always fitted, so it has no installed column
	row.CTD = Instrument{
		Installed: true,
		Make:      nullString(f.optional("ctd_make")),
		Serial:    nullString(f.optional("ctd_serial")),
	}

	ctdCal := f.optional("ctd_calibrated")
	if ctdCal != "" {
		t, err := time.Parse(dateFormat, ctdCal)
		if err != nil {
			return nil, errors.Wrap(err, "bad date in column 'ctd_calibrated'")
		}
		row.CTD.Calibrated = null.TimeFrom(t)
	}

	instruments := []struct {
		prefix string
		dest   *Instrument
	}{
		{"optode", &row.Optode},
		{"fluorometer", &row.Fluorometer},
		{"par", &row.PAR},
		{"backscatter", &row.Backscatter},
		{"lisst", &row.LISST},
		{"microrider", &row.Microrider},
	}

	for _, in := range instruments {
		*in.dest, err = f.instrument(in.prefix)
		if err != nil {
			return nil, err
		}
	}

	if err = row.Validate(); err != nil {
		return nil, err
	}

	return row, nil
}

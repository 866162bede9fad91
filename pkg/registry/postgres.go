package registry

import (
	"database/sql"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	null "gopkg.in/guregu/null.v3"
)

// Open is a helper function that takes as input a connection string for a DB,
// and returns either a sqlx.DB instance or an error. This function is
// separated out to help with CLI tasks for managing migrations.
func Open(connStr string) (*sqlx.DB, error) {
	return sqlx.Open("postgres", connStr)
}

// PostgresSource is a registry Source backed by the lab's shared Postgres
// instance. It must be started before use and stopped after.
type PostgresSource struct {
	connStr string
	DB      *sqlx.DB
	logger  kitlog.Logger
}

// Config carries package local configuration for the Postgres registry.
type Config struct {
	ConnStr string
}

// NewPostgresSource creates a new PostgresSource with the given connection
// string. We also pass in a logger.
func NewPostgresSource(config *Config, logger kitlog.Logger) *PostgresSource {
	logger = kitlog.With(logger, "module", "registry")

	return &PostgresSource{
		connStr: config.ConnStr,
		logger:  logger,
	}
}

// Start creates our DB connection pool, returning an error if any failure
// occurs.
func (p *PostgresSource) Start() error {
	p.logger.Log("msg", "starting postgres registry")

	db, err := Open(p.connStr)
	if err != nil {
		return errors.Wrap(err, "opening db connection failed")
	}

	p.DB = db

	return nil
}

// Stop closes the DB connection pool.
func (p *PostgresSource) Stop() error {
	p.logger.Log("msg", "stopping postgres registry")

	return p.DB.Close()
}

// Ping verifies the database connection is alive by executing a simple select
// on the server. We don't use the built in DB.Ping() here as that may not go
// to the database if there are existing connections in the pool.
func (p *PostgresSource) Ping() error {
	_, err := p.DB.Exec("SELECT 1")
	if err != nil {
		return err
	}
	return nil
}

// pgRow is the flat scan target for a deployments row; db tags mirror the
// column names created by the migrations.
type pgRow struct {
	ID                    int         `db:"id"`
	Platform              string      `db:"platform"`
	PlatformSerial        string      `db:"platform_serial"`
	GliderType            string      `db:"glider_type"`
	PumpType              string      `db:"pump_type"`
	Project               string      `db:"project"`
	PrincipalInvestigator string      `db:"principal_investigator"`
	DataManager           string      `db:"data_manager"`
	DataManagerEmail      string      `db:"data_manager_email"`
	Pilot                 string      `db:"pilot"`
	Owner                 string      `db:"owner"`
	Funding               string      `db:"funding"`
	Sea                   string      `db:"sea"`
	WMOID                 null.String `db:"wmo_id"`
	DeployDate            string      `db:"deploy_date"`
	RecoverDate           null.String `db:"recover_date"`

	CTDMake       null.String `db:"ctd_make"`
	CTDSerial     null.String `db:"ctd_serial"`
	CTDCalibrated null.String `db:"ctd_calibrated"`

	OptodeInstalled  bool        `db:"optode_installed"`
	OptodeMake       null.String `db:"optode_make"`
	OptodeSerial     null.String `db:"optode_serial"`
	OptodeCalibrated null.String `db:"optode_calibrated"`

	FluorometerInstalled  bool        `db:"fluorometer_installed"`
	FluorometerMake       null.String `db:"fluorometer_make"`
	FluorometerSerial     null.String `db:"fluorometer_serial"`
	FluorometerCalibrated null.String `db:"fluorometer_calibrated"`

	PARInstalled  bool        `db:"par_installed"`
	PARMake       null.String `db:"par_make"`
	PARSerial     null.String `db:"par_serial"`
	PARCalibrated null.String `db:"par_calibrated"`

	BackscatterInstalled  bool        `db:"backscatter_installed"`
	BackscatterMake       null.String `db:"backscatter_make"`
	BackscatterSerial     null.String `db:"backscatter_serial"`
	BackscatterCalibrated null.String `db:"backscatter_calibrated"`

	LISSTInstalled  bool        `db:"lisst_installed"`
	LISSTMake       null.String `db:"lisst_make"`
	LISSTSerial     null.String `db:"lisst_serial"`
	LISSTCalibrated null.String `db:"lisst_calibrated"`

	MicroriderInstalled  bool        `db:"microrider_installed"`
	MicroriderMake       null.String `db:"microrider_make"`
	MicroriderSerial     null.String `db:"microrider_serial"`
	MicroriderCalibrated null.String `db:"microrider_calibrated"`
}

// Lookup fetches the deployments row for the given id.
func (p *PostgresSource) Lookup(id int) (*Row, error) {
	query := `SELECT id, platform, platform_serial, glider_type, pump_type,
		project, principal_investigator, data_manager, data_manager_email,
		pilot, owner, funding, sea, wmo_id,
		to_char(deploy_date, 'YYYY-MM-DD') AS deploy_date,
		to_char(recover_date, 'YYYY-MM-DD') AS recover_date,
		ctd_make, ctd_serial, to_char(ctd_calibrated, 'YYYY-MM-DD') AS ctd_calibrated,
		optode_installed, optode_make, optode_serial, to_char(optode_calibrated, 'YYYY-MM-DD') AS optode_calibrated,
		fluorometer_installed, fluorometer_make, fluorometer_serial, to_char(fluorometer_calibrated, 'YYYY-MM-DD') AS fluorometer_calibrated,
		par_installed, par_make, par_serial, to_char(par_calibrated, 'YYYY-MM-DD') AS par_calibrated,
		backscatter_installed, backscatter_make, backscatter_serial, to_char(backscatter_calibrated, 'YYYY-MM-DD') AS backscatter_calibrated,
		lisst_installed, lisst_make, lisst_serial, to_char(lisst_calibrated, 'YYYY-MM-DD') AS lisst_calibrated,
		microrider_installed, microrider_make, microrider_serial, to_char(microrider_calibrated, 'YYYY-MM-DD') AS microrider_calibrated
	FROM deployments
	WHERE id = $1`

	p.logger.Log("id", id, "msg", "looking up deployment")

	var scanned pgRow

	err := p.DB.Get(&scanned, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{ID: id}
		}
		return nil, errors.Wrap(err, "failed to load deployment row")
	}

	return scanned.toRow()
}

// toRow converts the scanned flat record into the shared Row type.
func (s *pgRow) toRow() (*Row, error) {
	row := &Row{
		ID:                    s.ID,
		Platform:              s.Platform,
		PlatformSerial:        s.PlatformSerial,
		GliderType:            s.GliderType,
		PumpType:              s.PumpType,
		Project:               s.Project,
		PrincipalInvestigator: s.PrincipalInvestigator,
		DataManager:           s.DataManager,
		DataManagerEmail:      s.DataManagerEmail,
		Pilot:                 s.Pilot,
		Owner:                 s.Owner,
		Funding:               s.Funding,
		Sea:                   s.Sea,
		WMOID:                 s.WMOID,
	}

	var err error

	row.DeployDate, err = parseDate(s.DeployDate)
	if err != nil {
		return nil, errors.Wrap(err, "bad deploy_date in registry row")
	}

	row.RecoverDate, err = parseNullDate(s.RecoverDate)
	if err != nil {
		return nil, errors.Wrap(err, "bad recover_date in registry row")
	}

	type block struct {
		dest       *Instrument
		installed  bool
		brand      null.String
		serial     null.String
		calibrated null.String
	}

	blocks := []block{
		{&row.CTD, true, s.CTDMake, s.CTDSerial, s.CTDCalibrated},
		{&row.Optode, s.OptodeInstalled, s.OptodeMake, s.OptodeSerial, s.OptodeCalibrated},
		{&row.Fluorometer, s.FluorometerInstalled, s.FluorometerMake, s.FluorometerSerial, s.FluorometerCalibrated},
		{&row.PAR, s.PARInstalled, s.PARMake, s.PARSerial, s.PARCalibrated},
		{&row.Backscatter, s.BackscatterInstalled, s.BackscatterMake, s.BackscatterSerial, s.BackscatterCalibrated},
		{&row.LISST, s.LISSTInstalled, s.LISSTMake, s.LISSTSerial, s.LISSTCalibrated},
		{&row.Microrider, s.MicroriderInstalled, s.MicroriderMake, s.MicroriderSerial, s.MicroriderCalibrated},
	}

	for _, b := range blocks {
		b.dest.Installed = b.installed
		b.dest.Make = b.brand
		b.dest.Serial = b.serial

		b.dest.Calibrated, err = parseNullDate(b.calibrated)
		if err != nil {
			return nil, errors.Wrap(err, "bad calibration date in registry row")
		}
	}

	if err = row.Validate(); err != nil {
		return nil, err
	}

	return row, nil
}

func parseDate(value string) (time.Time, error) {
	return time.Parse(dateFormat, value)
}

func parseNullDate(value null.String) (null.Time, error) {
	if !value.Valid || value.String == "" {
		return null.Time{}, nil
	}

	t, err := time.Parse(dateFormat, value.String)
	if err != nil {
		return null.Time{}, err
	}

	return null.TimeFrom(t), nil
}

package pipeline

import (
	"context"
	"math"
	"sort"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/adeverne/kiwiglider/pkg/clock"
	"github.com/adeverne/kiwiglider/pkg/corrections"
	"github.com/adeverne/kiwiglider/pkg/dataset"
	"github.com/adeverne/kiwiglider/pkg/decoder"
	"github.com/adeverne/kiwiglider/pkg/deployment"
	"github.com/adeverne/kiwiglider/pkg/metrics"
	"github.com/adeverne/kiwiglider/pkg/naming"
	"github.com/adeverne/kiwiglider/pkg/qc"
	"github.com/adeverne/kiwiglider/pkg/timeseries"
)

var (
	// mergedSamples reports the size of the last merged timeseries.
	mergedSamples = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kiwiglider",
			Subsystem: "pipeline",
			Name:      "merged_samples",
			Help:      "Samples in the last merged timeseries",
		},
		[]string{"deployment", "mode"},
	)

	// stageDuration records how long each stage of a run takes.
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kiwiglider",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Time taken by each pipeline stage",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"stage"},
	)

	// flagCounter counts quality control flags attached, by flag class.
	flagCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kiwiglider",
			Subsystem: "pipeline",
			Name:      "qc_flags_total",
			Help:      "Count of aggregate quality control flags attached",
		},
		[]string{"flag"},
	)

	// finalizeCounter counts datasets promoted into Final.
	finalizeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kiwiglider",
			Subsystem: "pipeline",
			Name:      "finalized_total",
			Help:      "Count of finalize stages completed",
		},
		[]string{"mode"},
	)
)

func init() {
	metrics.MustRegister(mergedSamples)
	metrics.MustRegister(stageDuration)
	metrics.MustRegister(flagCounter)
	metrics.MustRegister(finalizeCounter)
}

// Config binds a pipeline to one deployment, one mode and one parsed
// deployment document.
type Config struct {
	Deployment *deployment.Deployment
	Mode       deployment.Mode
	Document   *deployment.Config

	// Profiles enables per profile dataset extraction alongside the merged
	// timeseries at each level.
	Profiles bool

	// Corrections enables the delayed mode sensor corrections at finalize.
	// Ignored in realtime, where the truncated data cannot support a fit.
	Corrections bool

	// ThermalLag and Oxygen tune the corrections; zero values are the
	// defaults.
	ThermalLag corrections.ThermalLagConfig
	Oxygen     corrections.OxygenConfig
}

// Result is what a completed run reports back to its caller.
type Result struct {
	// Empty marks a realtime run that found no raw data: nothing was written
	// and nothing needed to be.
	Empty bool

	// Samples is the size of the finalized time axis, Added how many of those
	// timestamps this run contributed. In delayed mode they are equal; in
	// realtime Added is the increment over the previous finalized dataset.
	Samples int
	Added   int

	// Profiles is the number of dive/climb segments detected.
	Profiles int

	// FinalPath is where the finalized dataset landed.
	FinalPath string

	// ThermalLag and Oxygen report what the delayed mode corrections did,
	// nil when corrections were not run.
	ThermalLag *corrections.ThermalLagResult
	Oxygen     *corrections.OxygenResult
}

// Pipeline advances one deployment's telemetry through the processing levels:
// decode, merge into L0, flag into L1, finalize. Stages must run in order;
// each checks the state on entry and returns an InvalidTransitionError when
// called early or twice.
type Pipeline struct {
	config  *Config
	decoder decoder.Decoder
	clock   clock.Clock
	logger  kitlog.Logger

	state      State
	runID      string
	raw        *decoder.RawData
	resolution *naming.Resolution
	series     *timeseries.Series
	profiles   []timeseries.Profile
}

// New validates the configuration and returns a pipeline ready to run. A
// malformed deployment document fails here, before any data is touched.
func New(config *Config, dec decoder.Decoder, cl clock.Clock, logger kitlog.Logger) (*Pipeline, error) {
	if config.Deployment == nil {
		return nil, errors.New("pipeline requires a deployment")
	}

	if config.Document == nil {
		return nil, errors.New("pipeline requires a deployment document")
	}

	if err := config.Document.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid deployment document")
	}

	if config.Document.Name() != config.Deployment.Name {
		return nil, errors.Errorf(
			"document is for deployment '%s', not '%s'",
			config.Document.Name(), config.Deployment.Name,
		)
	}

	if _, err := deployment.ParseMode(string(config.Mode)); err != nil {
		return nil, err
	}

	logger = kitlog.With(logger,
		"module", "pipeline",
		"deployment", config.Deployment.Name,
		"mode", config.Mode,
	)

	return &Pipeline{
		config:  config,
		decoder: dec,
		clock:   cl,
		logger:  logger,
		runID:   uuid.New().String(),
		state:   Uninitialized,
	}, nil
}

// State returns the pipeline's current processing state.
func (p *Pipeline) State() State {
	return p.state
}

// Empty reports whether decoding found no raw data at all. Only meaningful
// after LoadRaw.
func (p *Pipeline) Empty() bool {
	return p.raw == nil || p.raw.Empty()
}

// LoadRaw decodes the deployment's raw directory. In realtime an empty raw
// directory is a quiet surfacing and yields an empty load; in delayed mode it
// means the recovery copy never happened and is fatal.
func (p *Pipeline) LoadRaw(ctx context.Context) error {
	if p.state != Uninitialized {
		return &InvalidTransitionError{Stage: "load-raw", From: p.state}
	}

	if err := p.config.Deployment.EnsureLayout(p.config.Mode); err != nil {
		return errors.Wrap(err, "failed to create deployment layout")
	}

	started := p.clock.Now()

	raw, err := p.decoder.DecodeDir(ctx, p.config.Deployment.RawDir(), p.config.Mode)
	if err != nil {
		if errors.Cause(err) == decoder.ErrNoRawData && p.config.Mode == deployment.Realtime {
			p.logger.Log("msg", "no raw data yet, nothing to process")
			raw = &decoder.RawData{}
		} else {
			return errors.Wrap(err, "failed to decode raw directory")
		}
	}

	p.raw = raw
	p.state = RawLoaded

	stageDuration.WithLabelValues("load-raw").Observe(time.Since(started).Seconds())

	p.logger.Log(
		"flight_readings", len(raw.Flight.Readings),
		"science_readings", len(raw.Science.Readings),
		"msg", "loaded raw data",
	)

	return nil
}

// BuildL0 resolves canonical variables against the decoded channels, merges
// both streams onto one time axis, derives depth and salinity, splits
// profiles and writes the L0 artefacts.
func (p *Pipeline) BuildL0() error {
	if p.state != RawLoaded {
		return &InvalidTransitionError{Stage: "build-l0", From: p.state}
	}

	if p.Empty() {
		return errors.New("no raw data loaded, nothing to merge")
	}

	started := p.clock.Now()

	table, err := p.config.Document.Table()
	if err != nil {
		return errors.Wrap(err, "failed to build alias table")
	}

	resolution, err := table.Resolve(p.raw.Channels())
	if err != nil {
		return errors.Wrap(err, "failed to resolve variables")
	}
	p.resolution = resolution

	for _, absent := range resolution.Absent {
		p.logger.Log("variable", absent, "msg", "no raw channel aboard, variable omitted")
	}

	science, flight := p.bindChannels(resolution)

	merged, err := timeseries.Merge(science, flight, timeseries.JoinPolicy{
		Window: p.config.Mode.JoinWindow().Seconds(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to merge streams")
	}

	if merged.Has(naming.Pressure) {
		if err = timeseries.DeriveDepth(merged, naming.Pressure, naming.Depth); err != nil {
			return errors.Wrap(err, "failed to derive depth")
		}
	}

	if err = corrections.DeriveSalinity(merged); err != nil {
		return errors.Wrap(err, "failed to derive salinity")
	}

	profiles, err := timeseries.SplitProfiles(merged, naming.Depth, timeseries.SplitOptions{
		FilterWindow: p.config.Mode.ProfileFilterWindow().Seconds(),
		MinSamples:   minProfileSamples(merged.Times(), p.config.Mode.ProfileMinDuration().Seconds()),
	})
	if err != nil {
		return errors.Wrap(err, "failed to split profiles")
	}

	p.series = merged
	p.profiles = profiles

	if err = p.writeLevel(deployment.L0); err != nil {
		return err
	}

	p.state = L0Built

	mergedSamples.WithLabelValues(p.config.Deployment.Name, string(p.config.Mode)).Set(float64(merged.Len()))
	stageDuration.WithLabelValues("build-l0").Observe(time.Since(started).Seconds())

	p.logger.Log(
		"samples", merged.Len(),
		"variables", len(merged.Names()),
		"profiles", len(profiles),
		"msg", "built L0 timeseries",
	)

	return nil
}

// BuildL1 applies the deployment's configured quality control tests and
// writes the L1 artefacts. Bad samples are flagged, never removed.
func (p *Pipeline) BuildL1() error {
	if p.state != L0Built {
		return &InvalidTransitionError{Stage: "build-l1", From: p.state}
	}

	started := p.clock.Now()

	tests, err := qc.TestsFromConfig(p.config.Document)
	if err != nil {
		return errors.Wrap(err, "invalid quality control configuration")
	}

	runner := qc.NewRunner(p.logger)

	counts, err := runner.Apply(p.series, tests)
	if err != nil {
		return errors.Wrap(err, "failed to apply quality control")
	}

	for _, c := range counts {
		flagCounter.WithLabelValues("pass").Add(float64(c.Pass))
		flagCounter.WithLabelValues("suspect").Add(float64(c.Suspect))
		flagCounter.WithLabelValues("fail").Add(float64(c.Fail))
		flagCounter.WithLabelValues("missing").Add(float64(c.Missing))
	}

	if err = p.writeLevel(deployment.L1); err != nil {
		return err
	}

	p.state = L1Built

	stageDuration.WithLabelValues("build-l1").Observe(time.Since(started).Seconds())

	p.logger.Log("variables_flagged", len(counts), "msg", "built L1 timeseries")

	return nil
}

// Finalize promotes the run's output into the Final directory. Delayed mode
// runs the sensor corrections and writes once, terminally. Realtime appends
// onto whatever an earlier surfacing finalized: timestamps already present
// are overwritten in place, new ones extend the axis, so re-running over the
// same raw files is idempotent.
//
// An empty realtime load finalizes directly from RawLoaded as a no-op.
func (p *Pipeline) Finalize() (*Result, error) {
	if p.state == RawLoaded && p.Empty() {
		p.state = Finalized
		finalizeCounter.WithLabelValues(string(p.config.Mode)).Inc()
		p.logger.Log("msg", "nothing to finalize")
		return &Result{Empty: true, FinalPath: p.config.Deployment.FinalPath(p.config.Mode)}, nil
	}

	if p.state != L0Built && p.state != L1Built {
		return nil, &InvalidTransitionError{Stage: "finalize", From: p.state}
	}

	started := p.clock.Now()

	result := &Result{
		Profiles:  len(p.profiles),
		FinalPath: p.config.Deployment.FinalPath(p.config.Mode),
	}

	if p.config.Mode == deployment.Delayed && p.config.Corrections {
		thermal, err := corrections.ThermalLag(p.series, p.profiles, p.config.ThermalLag, p.logger)
		if err != nil {
			return nil, errors.Wrap(err, "thermal lag correction failed")
		}
		result.ThermalLag = thermal

		oxygen, err := corrections.OxygenResponse(p.series, p.profiles, p.config.Oxygen, p.logger)
		if err != nil {
			return nil, errors.Wrap(err, "oxygen response correction failed")
		}
		result.Oxygen = oxygen
	}

	final := p.series
	added := p.series.Len()

	if p.config.Mode == deployment.Realtime {
		existing, err := dataset.ReadSeries(result.FinalPath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read previous finalized dataset")
		}

		if existing != nil {
			final, added, err = existing.Append(p.series)
			if err != nil {
				return nil, errors.Wrap(err, "failed to append onto finalized dataset")
			}
		}
	}

	d, err := dataset.FromSeries(final, p.config.Document, deployment.Final, p.config.Mode, p.provenance())
	if err != nil {
		return nil, errors.Wrap(err, "failed to build finalized dataset")
	}
	d.Global = append(d.Global, summaryAttrs(final, p.profiles)...)

	if err = d.Write(result.FinalPath); err != nil {
		return nil, errors.Wrap(err, "failed to write finalized dataset")
	}

	result.Samples = final.Len()
	result.Added = added

	p.state = Finalized

	finalizeCounter.WithLabelValues(string(p.config.Mode)).Inc()
	stageDuration.WithLabelValues("finalize").Observe(time.Since(started).Seconds())

	p.logger.Log(
		"samples", result.Samples,
		"added", result.Added,
		"path", result.FinalPath,
		"msg", "finalized dataset",
	)

	return result, nil
}

// Run climbs the whole ladder for the configured mode.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if err := p.LoadRaw(ctx); err != nil {
		return nil, err
	}

	if p.Empty() {
		return p.Finalize()
	}

	if err := p.BuildL0(); err != nil {
		return nil, err
	}

	if err := p.BuildL1(); err != nil {
		return nil, err
	}

	return p.Finalize()
}

// bindChannels splits the resolved bindings into science and flight channel
// maps keyed by canonical variable. A raw channel present in both streams
// binds as science; the merge treats science placement as authoritative.
func (p *Pipeline) bindChannels(resolution *naming.Resolution) (science, flight map[string]timeseries.Channel) {
	sciSamples := streamChannels(&p.raw.Science)
	fltSamples := streamChannels(&p.raw.Flight)

	science = map[string]timeseries.Channel{}
	flight = map[string]timeseries.Channel{}

	for _, b := range resolution.Bindings {
		if c, ok := sciSamples[b.Source]; ok {
			science[b.Variable] = c
			continue
		}
		if c, ok := fltSamples[b.Source]; ok {
			flight[b.Variable] = c
		}
	}

	return science, flight
}

// streamChannels groups a stream's readings per raw channel, preserving decode
// order so the merge's later wins rule sees the same ordering the logs had.
func streamChannels(s *decoder.Stream) map[string]timeseries.Channel {
	out := map[string]timeseries.Channel{}

	for _, r := range s.Readings {
		c := out[r.Channel]
		c.Times = append(c.Times, r.Time)
		c.Values = append(c.Values, r.Value)
		out[r.Channel] = c
	}

	return out
}

// minProfileSamples converts the mode's minimum profile duration into a
// sample count using the median sampling interval of the axis.
func minProfileSamples(times []float64, minDuration float64) int {
	if len(times) < 2 {
		return 1
	}

	gaps := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		gaps = append(gaps, times[i]-times[i-1])
	}
	sort.Float64s(gaps)

	median := gaps[len(gaps)/2]
	if median <= 0 {
		return 1
	}

	n := int(math.Round(minDuration / median))
	if n < 1 {
		return 1
	}
	return n
}

func (p *Pipeline) provenance() dataset.Provenance {
	return dataset.Provenance{
		RunID:   p.runID,
		Created: p.clock.Now().UTC().Format(time.RFC3339),
	}
}

// writeLevel writes the merged timeseries dataset for a level, plus the per
// profile datasets when extraction is enabled.
func (p *Pipeline) writeLevel(level deployment.Level) error {
	d, err := dataset.FromSeries(p.series, p.config.Document, level, p.config.Mode, p.provenance())
	if err != nil {
		return errors.Wrapf(err, "failed to build %s dataset", level)
	}

	path := p.config.Deployment.TimeseriesPath(p.config.Mode, level)
	if err = d.Write(path); err != nil {
		return errors.Wrapf(err, "failed to write %s dataset", level)
	}

	if !p.config.Profiles {
		return nil
	}

	for _, profile := range p.profiles {
		if err = p.writeProfile(level, profile); err != nil {
			return err
		}
	}

	return nil
}

func (p *Pipeline) writeProfile(level deployment.Level, profile timeseries.Profile) error {
	sliced, err := p.series.Slice(profile.Start, profile.End)
	if err != nil {
		return errors.Wrapf(err, "failed to slice profile %d", profile.Index)
	}

	d, err := dataset.FromSeries(sliced, p.config.Document, level, p.config.Mode, p.provenance())
	if err != nil {
		return errors.Wrapf(err, "failed to build profile %d dataset", profile.Index)
	}

	d.Global = append(d.Global, profileAttrs(sliced, profile)...)

	path := p.config.Deployment.ProfilePath(p.config.Mode, level, profile.Index)
	if err = d.Write(path); err != nil {
		return errors.Wrapf(err, "failed to write profile %d dataset", profile.Index)
	}

	return nil
}

package decoder

import (
	"bufio"
	"bytes"
	"context"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	kitlog "github.com/go-kit/kit/log"
	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/adeverne/kiwiglider/pkg/deployment"
	"github.com/adeverne/kiwiglider/pkg/metrics"
)

var (
	// fileCounter counts raw files decoded, labelled by stream kind.
	fileCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kiwiglider",
			Subsystem: "decoder",
			Name:      "files_total",
			Help:      "Count of raw files decoded",
		},
		[]string{"kind"},
	)

	// readingCounter counts readings parsed from decoder output.
	readingCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kiwiglider",
			Subsystem: "decoder",
			Name:      "readings_total",
			Help:      "Count of readings parsed from decoder output",
		},
		[]string{"kind"},
	)

	// errorCounter counts decode failures.
	errorCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kiwiglider",
			Subsystem: "decoder",
			Name:      "errors_total",
			Help:      "Count of raw files that failed to decode",
		},
	)

	// decodeDuration records how long each file takes to decode.
	decodeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kiwiglider",
			Subsystem: "decoder",
			Name:      "duration_seconds",
			Help:      "Time taken to decode each raw file",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
	)
)

func init() {
	metrics.MustRegister(fileCounter)
	metrics.MustRegister(readingCounter)
	metrics.MustRegister(errorCounter)
	metrics.MustRegister(decodeDuration)
}

// maxLine is the largest decoder output line we will accept. Sensor lists in
// header lines can be long but nothing legitimate approaches a megabyte.
const maxLine = 1024 * 1024

// ExecConfig configures an ExecDecoder.
type ExecConfig struct {
	// Command is the decoder executable, e.g. "slocum-decode".
	Command string

	// Args are extra arguments placed before the file path.
	Args []string

	// CacheDir is passed via --cache so the decoder can find sensor list
	// headers referenced by truncated realtime files.
	CacheDir string
}

// ExecDecoder shells out to an installed decoder command once per raw file.
// The command must write one JSON object per line to stdout, each carrying a
// timestamp, channel name and value:
//
//	{"t": 1695890123.45, "name": "sci_water_cond", "value": 4.0132, "unit": "S m-1"}
//
// and exit non zero on a corrupt file.
type ExecDecoder struct {
	config *ExecConfig
	logger kitlog.Logger
}

// NewExecDecoder returns a Decoder that runs the configured command.
func NewExecDecoder(config *ExecConfig, logger kitlog.Logger) *ExecDecoder {
	logger = kitlog.With(logger, "module", "decoder")

	return &ExecDecoder{
		config: config,
		logger: logger,
	}
}

// execReading is the JSON shape of one decoder output line.
type execReading struct {
	T     float64 `json:"t"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// DecodeDir decodes every raw file for the mode under dir. Files are
// processed in name order, which for Slocum logs is mission segment order.
func (e *ExecDecoder) DecodeDir(ctx context.Context, dir string, mode deployment.Mode) (*RawData, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, errors.Wrapf(err, "raw directory %s is not readable", dir)
	}

	flightFiles, err := filepath.Glob(filepath.Join(dir, mode.FlightGlob()))
	if err != nil {
		return nil, errors.Wrap(err, "bad flight glob")
	}

	scienceFiles, err := filepath.Glob(filepath.Join(dir, mode.ScienceGlob()))
	if err != nil {
		return nil, errors.Wrap(err, "bad science glob")
	}

	if len(flightFiles) == 0 && len(scienceFiles) == 0 {
		return nil, ErrNoRawData
	}

	sort.Strings(flightFiles)
	sort.Strings(scienceFiles)

	e.logger.Log(
		"dir", dir,
		"mode", mode,
		"flight_files", len(flightFiles),
		"science_files", len(scienceFiles),
		"msg", "decoding raw directory",
	)

	raw := &RawData{
		Flight:  Stream{Kind: Flight, Units: map[string]string{}},
		Science: Stream{Kind: Science, Units: map[string]string{}},
	}

	if err := e.decodeFiles(ctx, flightFiles, &raw.Flight); err != nil {
		return nil, err
	}

	if err := e.decodeFiles(ctx, scienceFiles, &raw.Science); err != nil {
		return nil, err
	}

	return raw, nil
}

func (e *ExecDecoder) decodeFiles(ctx context.Context, files []string, stream *Stream) error {
	for _, file := range files {
		if err := e.decodeFile(ctx, file, stream); err != nil {
			errorCounter.Inc()
			return err
		}

		stream.Files++
		fileCounter.WithLabelValues(string(stream.Kind)).Inc()
	}

	return nil
}

func (e *ExecDecoder) decodeFile(ctx context.Context, file string, stream *Stream) error {
	start := time.Now()

	args := make([]string, 0, len(e.config.Args)+3)
	args = append(args, e.config.Args...)
	if e.config.CacheDir != "" {
		args = append(args, "--cache", e.config.CacheDir)
	}
	args = append(args, file)

	cmd := exec.CommandContext(ctx, e.config.Command, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "failed to open decoder stdout")
	}

	if err = cmd.Start(); err != nil {
		return errors.Wrapf(err, "failed to start decoder for %s", file)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	count := 0
	line := 0

	for scanner.Scan() {
		line++

		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}

		var r execReading
		if err := json.Unmarshal(text, &r); err != nil {
			cmd.Process.Kill()
			cmd.Wait()
			return errors.Wrapf(err, "unparseable decoder output at %s line %d", file, line)
		}

		if r.Name == "" || math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
			continue
		}

		stream.Readings = append(stream.Readings, Reading{
			Time:    r.T,
			Channel: r.Name,
			Value:   r.Value,
		})

		if r.Unit != "" {
			stream.Units[r.Name] = r.Unit
		}

		count++
	}

	if err = scanner.Err(); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return errors.Wrapf(err, "failed reading decoder output for %s", file)
	}

	if err = cmd.Wait(); err != nil {
		return errors.Wrapf(err, "decoder failed on %s: %s", file, firstLine(stderr.String()))
	}

	readingCounter.WithLabelValues(string(stream.Kind)).Add(float64(count))
	decodeDuration.Observe(time.Since(start).Seconds())

	e.logger.Log(
		"file", filepath.Base(file),
		"kind", stream.Kind,
		"readings", count,
		"msg", "decoded file",
	)

	return nil
}

// firstLine trims decoder stderr down to something that fits in an error.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		return "no stderr output"
	}
	return s
}

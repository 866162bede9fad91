package compliance

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	kitlog "github.com/go-kit/kit/log"
	"github.com/pkg/errors"
)

// Report is the outcome of checking one dataset against the publication
// standard: pass or fail plus the checker's itemized findings. Skipped marks a
// dataset that already had a report on disk from an earlier run.
type Report struct {
	Dataset  string
	Passed   bool
	Skipped  bool
	Findings []string
}

// Checker is the interface to the external compliance tool. The real
// implementation shells out; tests substitute a mock.
type Checker interface {
	// Check validates the dataset at datasetPath and writes its findings to
	// reportPath. A dataset that fails the standard yields a Report with
	// Passed false, not an error; errors mean the tool itself could not run.
	Check(ctx context.Context, datasetPath, reportPath string) (*Report, error)
}

// ExecConfig configures an ExecChecker.
type ExecConfig struct {
	// Command is the compliance checker executable.
	Command string

	// Args are extra arguments placed before the dataset path.
	Args []string
}

// ExecChecker runs an installed compliance checker command against a dataset.
// The command receives the dataset path as its final argument, writes findings
// to stdout one per line, and exits zero for a compliant dataset, one for a
// non compliant one. Any other exit is a tool failure. Finalized datasets are
// never modified by a check, whatever the outcome.
type ExecChecker struct {
	config *ExecConfig
	logger kitlog.Logger
}

// NewExecChecker returns a Checker that runs the configured command.
func NewExecChecker(config *ExecConfig, logger kitlog.Logger) *ExecChecker {
	logger = kitlog.With(logger, "module", "compliance")

	return &ExecChecker{
		config: config,
		logger: logger,
	}
}

// Check implements Checker. A report already present at reportPath short
// circuits the run: reports are only regenerated by deleting them, so a rerun
// over a fully checked deployment does no work.
func (e *ExecChecker) Check(ctx context.Context, datasetPath, reportPath string) (*Report, error) {
	if _, err := os.Stat(reportPath); err == nil {
		e.logger.Log("dataset", filepath.Base(datasetPath), "msg", "report exists, skipping check")
		return &Report{Dataset: datasetPath, Passed: true, Skipped: true}, nil
	}

	if _, err := os.Stat(datasetPath); err != nil {
		return nil, errors.Wrapf(err, "dataset %s is not readable", datasetPath)
	}

	args := make([]string, 0, len(e.config.Args)+1)
	args = append(args, e.config.Args...)
	args = append(args, datasetPath)

	cmd := exec.CommandContext(ctx, e.config.Command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	report := &Report{
		Dataset:  datasetPath,
		Findings: splitFindings(stdout.String()),
	}

	switch {
	case err == nil:
		report.Passed = true
	case exitCode(err) == 1:
		report.Passed = false
	default:
		return nil, errors.Wrapf(err, "compliance checker failed on %s: %s", datasetPath, firstLine(stderr.String()))
	}

	if err := writeReport(reportPath, report); err != nil {
		return nil, err
	}

	e.logger.Log(
		"dataset", filepath.Base(datasetPath),
		"passed", report.Passed,
		"findings", len(report.Findings),
		"msg", "checked dataset",
	)

	return report, nil
}

func splitFindings(out string) []string {
	findings := []string{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			findings = append(findings, line)
		}
	}
	return findings
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// writeReport persists the findings next to the dataset via temp and rename,
// matching how every other artefact lands on disk.
func writeReport(path string, report *Report) error {
	var buf bytes.Buffer

	if report.Passed {
		buf.WriteString("PASS\n")
	} else {
		buf.WriteString("FAIL\n")
	}
	for _, finding := range report.Findings {
		buf.WriteString(finding)
		buf.WriteString("\n")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create report directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp report")
	}

	if _, err = tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to write temp report")
	}

	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to close temp report")
	}

	if err = os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to promote report into place")
	}

	return nil
}

// firstLine trims checker stderr down to something that fits in an error.
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

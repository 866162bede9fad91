package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adeverne/kiwiglider/pkg/compliance"
	"github.com/adeverne/kiwiglider/pkg/dataset"
	"github.com/adeverne/kiwiglider/pkg/deployment"
	"github.com/adeverne/kiwiglider/pkg/logger"
)

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringP("mode", "m", "realtime", "Processing mode: realtime or delayed")
	checkCmd.Flags().String("checker", "compliance-checker", "Compliance checker command to run")
	checkCmd.Flags().StringP("data-dir", "d", "/data/gliders", "Directory deployments live under")

	viper.BindPFlag("mode", checkCmd.Flags().Lookup("mode"))
	viper.BindPFlag("checker", checkCmd.Flags().Lookup("checker"))
	viper.BindPFlag("data-dir", checkCmd.Flags().Lookup("data-dir"))
}

var checkCmd = &cobra.Command{
	Use:   "check <deployment>",
	Short: "Compliance check a deployment's finalized datasets",
	Long: `Runs the external compliance checker over a deployment's finalized dataset
and its L1 profile datasets, writing a report per file into the deployment's
Reports directory.

Files already bearing a report are skipped; delete a report to force a
recheck. The checked datasets themselves are never modified.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := deployment.ParseMode(viper.GetString("mode"))
		if err != nil {
			return err
		}

		log := logger.NewLogger()

		deploy, _, err := openDeployment(viper.GetString("data-dir"), args[0])
		if err != nil {
			return err
		}

		checker := compliance.NewExecChecker(&compliance.ExecConfig{
			Command: viper.GetString("checker"),
		}, log)

		paths, err := checkable(deploy, mode)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return errors.Errorf("no finalized datasets to check for %s", deploy.Name)
		}

		failed := 0
		for _, path := range paths {
			report, err := checker.Check(context.Background(), path, reportPath(deploy, mode, path))
			if err != nil {
				return err
			}
			if !report.Passed {
				failed++
			}
		}

		log.Log(
			"deployment", deploy.Name,
			"mode", mode,
			"checked", len(paths),
			"failed", failed,
			"msg", "compliance check complete",
		)

		if failed > 0 {
			return errors.Errorf("%d of %d datasets failed compliance", failed, len(paths))
		}

		return nil
	},
}

// checkable lists the datasets a check run covers: the finalized timeseries
// plus every L1 profile dataset that exists.
func checkable(deploy *deployment.Deployment, mode deployment.Mode) ([]string, error) {
	paths := []string{}

	final := deploy.FinalPath(mode)
	if _, err := os.Stat(final); err == nil {
		paths = append(paths, final)
	}

	profiles, err := filepath.Glob(filepath.Join(deploy.ProfilesDir(mode, deployment.L1), "*"+dataset.FileExt))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list profile datasets")
	}

	return append(paths, profiles...), nil
}

// reportPath names the report file a checked dataset gets, e.g.
// Reports/GLD0040_report.txt.
func reportPath(deploy *deployment.Deployment, mode deployment.Mode, datasetPath string) string {
	base := strings.TrimSuffix(filepath.Base(datasetPath), dataset.FileExt)
	return filepath.Join(deploy.ReportsDir(mode), fmt.Sprintf("%s_report.txt", base))
}

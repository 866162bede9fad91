package tasks

import (
	"log"
	"strings"

	raven "github.com/getsentry/raven-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adeverne/kiwiglider/pkg/version"
)

func init() {
	viper.SetEnvPrefix("kiwiglider")
	viper.AutomaticEnv()
	replacer := strings.NewReplacer("-", "_")
	viper.SetEnvKeyReplacer(replacer)
}

var rootCmd = &cobra.Command{
	Use:   version.BinaryName,
	Short: "Post processing pipeline for Slocum glider telemetry",
	Long: `This tool turns the raw binary logs a Slocum glider produces into
standardized, quality controlled datasets.

Raw flight and science logs are decoded and merged onto a single time axis
(L0), flagged with QARTOD quality control tests (L1), and finalized into a
self describing dataset per deployment. Realtime surfacings are processed
incrementally as files arrive from the dockserver; a recovered deployment is
reprocessed in full from the flash card logs, including the delayed mode
sensor corrections.

Deployment metadata comes from the operator registry, either a CSV export or
the lab's shared Postgres instance, and is reviewed as a YAML document before
any processing runs.
`,
	Version: version.VersionString(),
}

// Execute is our main entrypoint to the application
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		raven.CaptureErrorAndWait(err, nil)
		log.Fatal(err)
	}
}

package tasks

import (
	"bufio"
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adeverne/kiwiglider/pkg/archive"
	"github.com/adeverne/kiwiglider/pkg/deployment"
	"github.com/adeverne/kiwiglider/pkg/logger"
)

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().StringP("mode", "m", "realtime", "Processing mode: realtime or delayed")
	publishCmd.Flags().String("bucket", "", "S3 bucket to publish into")
	publishCmd.Flags().String("prefix", "", "Key prefix within the bucket")
	publishCmd.Flags().String("region", "", "AWS region of the bucket")
	publishCmd.Flags().Bool("force", false, "Publish even without a passing compliance report")
	publishCmd.Flags().StringP("data-dir", "d", "/data/gliders", "Directory deployments live under")

	viper.BindPFlag("mode", publishCmd.Flags().Lookup("mode"))
	viper.BindPFlag("bucket", publishCmd.Flags().Lookup("bucket"))
	viper.BindPFlag("prefix", publishCmd.Flags().Lookup("prefix"))
	viper.BindPFlag("region", publishCmd.Flags().Lookup("region"))
	viper.BindPFlag("force", publishCmd.Flags().Lookup("force"))
	viper.BindPFlag("data-dir", publishCmd.Flags().Lookup("data-dir"))
}

var publishCmd = &cobra.Command{
	Use:   "publish <deployment>",
	Short: "Upload a deployment's finalized dataset to the archive",
	Long: `Uploads a deployment's finalized dataset to the archive bucket, gzip
compressed, under <prefix>/<deployment>/<mode>/.

By default the dataset must carry a passing compliance report before it will
be published; --force skips that gate. A failed upload changes nothing
locally and can simply be retried.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := deployment.ParseMode(viper.GetString("mode"))
		if err != nil {
			return err
		}

		bucket := viper.GetString("bucket")
		if bucket == "" {
			return errors.New("must provide a bucket to publish into")
		}

		log := logger.NewLogger()

		deploy, _, err := openDeployment(viper.GetString("data-dir"), args[0])
		if err != nil {
			return err
		}

		final := deploy.FinalPath(mode)
		if _, err = os.Stat(final); err != nil {
			return errors.Wrapf(err, "no finalized dataset for %s", deploy.Name)
		}

		if !viper.GetBool("force") {
			if err = requirePassingReport(deploy, mode, final); err != nil {
				return err
			}
		}

		ctx := context.Background()

		uploader, err := archive.NewS3Uploader(ctx, &archive.Config{
			Bucket: bucket,
			Prefix: viper.GetString("prefix"),
			Region: viper.GetString("region"),
		}, log)
		if err != nil {
			return err
		}

		key, err := uploader.Upload(ctx, deploy.Name, mode, final)
		if err != nil {
			return err
		}

		log.Log("deployment", deploy.Name, "bucket", bucket, "key", key, "msg", "published dataset")

		return nil
	},
}

// requirePassingReport refuses to publish a dataset whose compliance report
// is missing or failing.
func requirePassingReport(deploy *deployment.Deployment, mode deployment.Mode, datasetPath string) error {
	path := reportPath(deploy, mode, datasetPath)

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "no compliance report for %s, run check first or pass --force", deploy.Name)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() || scanner.Text() != "PASS" {
		return errors.Errorf("compliance report %s is not passing", path)
	}

	return nil
}

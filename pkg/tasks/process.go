package tasks

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adeverne/kiwiglider/pkg/clock"
	"github.com/adeverne/kiwiglider/pkg/decoder"
	"github.com/adeverne/kiwiglider/pkg/deployment"
	"github.com/adeverne/kiwiglider/pkg/logger"
	"github.com/adeverne/kiwiglider/pkg/pipeline"
)

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringP("mode", "m", "realtime", "Processing mode: realtime or delayed")
	processCmd.Flags().StringP("level", "l", "final", "Stop after this level: l0, l1 or final")
	processCmd.Flags().Bool("profiles", true, "Extract per profile datasets")
	processCmd.Flags().Bool("corrections", true, "Apply delayed mode sensor corrections")
	processCmd.Flags().String("decoder", "slocum-decode", "Decoder command to run over raw files")
	processCmd.Flags().StringP("data-dir", "d", "/data/gliders", "Directory deployments live under")

	viper.BindPFlag("mode", processCmd.Flags().Lookup("mode"))
	viper.BindPFlag("level", processCmd.Flags().Lookup("level"))
	viper.BindPFlag("profiles", processCmd.Flags().Lookup("profiles"))
	viper.BindPFlag("corrections", processCmd.Flags().Lookup("corrections"))
	viper.BindPFlag("decoder", processCmd.Flags().Lookup("decoder"))
	viper.BindPFlag("data-dir", processCmd.Flags().Lookup("data-dir"))
}

var processCmd = &cobra.Command{
	Use:   "process <deployment>",
	Short: "Run the processing pipeline for a deployment",
	Long: `Runs the processing ladder for one deployment and mode: decode the raw
logs, merge them into the L0 timeseries, attach quality control flags (L1)
and finalize the dataset.

Realtime runs are incremental and idempotent: re-running after a surfacing
appends only the newly arrived samples onto the finalized dataset. Delayed
runs reprocess everything from the recovered logs and apply the sensor
corrections before the single terminal write.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := deployment.ParseMode(viper.GetString("mode"))
		if err != nil {
			return err
		}

		log := logger.NewLogger()

		deploy, document, err := openDeployment(viper.GetString("data-dir"), args[0])
		if err != nil {
			return err
		}

		dec := decoder.NewExecDecoder(&decoder.ExecConfig{
			Command:  viper.GetString("decoder"),
			CacheDir: deploy.CacheDir(),
		}, log)

		p, err := pipeline.New(&pipeline.Config{
			Deployment:  deploy,
			Mode:        mode,
			Document:    document,
			Profiles:    viper.GetBool("profiles"),
			Corrections: viper.GetBool("corrections"),
		}, dec, clock.New(), log)
		if err != nil {
			return err
		}

		ctx := context.Background()

		switch viper.GetString("level") {
		case "l0":
			if err = p.LoadRaw(ctx); err != nil {
				return err
			}
			if p.Empty() {
				log.Log("deployment", deploy.Name, "msg", "no raw data yet")
				return nil
			}
			return p.BuildL0()

		case "l1":
			if err = p.LoadRaw(ctx); err != nil {
				return err
			}
			if p.Empty() {
				log.Log("deployment", deploy.Name, "msg", "no raw data yet")
				return nil
			}
			if err = p.BuildL0(); err != nil {
				return err
			}
			return p.BuildL1()

		case "final":
			result, err := p.Run(ctx)
			if err != nil {
				return err
			}

			log.Log(
				"deployment", deploy.Name,
				"mode", mode,
				"samples", result.Samples,
				"added", result.Added,
				"profiles", result.Profiles,
				"empty", result.Empty,
				"msg", "processing run complete",
			)
			return nil
		}

		return errors.Errorf("unknown level '%s': must be l0, l1 or final", viper.GetString("level"))
	},
}

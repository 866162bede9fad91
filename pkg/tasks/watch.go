package tasks

import (
	"context"
	"errors"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adeverne/kiwiglider/pkg/clock"
	"github.com/adeverne/kiwiglider/pkg/decoder"
	"github.com/adeverne/kiwiglider/pkg/deployment"
	"github.com/adeverne/kiwiglider/pkg/logger"
	"github.com/adeverne/kiwiglider/pkg/pipeline"
	"github.com/adeverne/kiwiglider/pkg/watch"
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringP("addr", "a", "0.0.0.0:8081", "Address to which the status HTTP server binds")
	watchCmd.Flags().StringP("broker", "b", "", "Address of the MQTT broker the dockserver publishes to")
	watchCmd.Flags().StringP("topic", "t", "gliders/+/files/#", "Topic filter for file notifications")
	watchCmd.Flags().Duration("debounce", 30*time.Second, "How long to wait after the last notification before running")
	watchCmd.Flags().String("decoder", "slocum-decode", "Decoder command to run over raw files")
	watchCmd.Flags().StringP("data-dir", "d", "/data/gliders", "Directory deployments live under")

	viper.BindPFlag("addr", watchCmd.Flags().Lookup("addr"))
	viper.BindPFlag("broker", watchCmd.Flags().Lookup("broker"))
	viper.BindPFlag("topic", watchCmd.Flags().Lookup("topic"))
	viper.BindPFlag("debounce", watchCmd.Flags().Lookup("debounce"))
	viper.BindPFlag("decoder", watchCmd.Flags().Lookup("decoder"))
	viper.BindPFlag("data-dir", watchCmd.Flags().Lookup("data-dir"))
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Process realtime surfacings as files arrive",
	Long: `Subscribes to the dockserver's file notification topics and runs the
realtime pipeline for a deployment once its burst of new files has settled.

Also starts a small status HTTP server exposing /pulse for load balancer
health checks and /metrics for Prometheus.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		broker := viper.GetString("broker")
		if broker == "" {
			return errors.New("must provide a broker address")
		}

		log := logger.NewLogger()

		runner := &pipelineRunner{
			dataDir:    viper.GetString("data-dir"),
			decoderCmd: viper.GetString("decoder"),
			logger:     log,
		}

		watcher := watch.NewWatcher(&watch.Config{
			Debounce: viper.GetDuration("debounce"),
		}, watch.NewConnector(), runner, log)

		server := watch.NewServer(&watch.ServerConfig{
			ListenAddr: viper.GetString("addr"),
			BrokerAddr: broker,
			Topic:      viper.GetString("topic"),
		}, watcher, log)

		return server.Start()
	},
}

// pipelineRunner is the watch.Runner the service uses: each triggered run
// builds a fresh realtime pipeline for the named deployment.
type pipelineRunner struct {
	dataDir    string
	decoderCmd string
	logger     kitlog.Logger
}

// Run implements watch.Runner.
func (r *pipelineRunner) Run(ctx context.Context, name string) error {
	deploy, document, err := openDeployment(r.dataDir, name)
	if err != nil {
		return err
	}

	dec := decoder.NewExecDecoder(&decoder.ExecConfig{
		Command:  r.decoderCmd,
		CacheDir: deploy.CacheDir(),
	}, r.logger)

	p, err := pipeline.New(&pipeline.Config{
		Deployment: deploy,
		Mode:       deployment.Realtime,
		Document:   document,
		Profiles:   true,
	}, dec, clock.New(), r.logger)
	if err != nil {
		return err
	}

	_, err = p.Run(ctx)
	return err
}

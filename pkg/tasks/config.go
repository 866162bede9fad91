package tasks

import (
	"errors"
	"path/filepath"
	"strings"

	kitlog "github.com/go-kit/kit/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adeverne/kiwiglider/pkg/clock"
	"github.com/adeverne/kiwiglider/pkg/deployment"
	"github.com/adeverne/kiwiglider/pkg/logger"
	"github.com/adeverne/kiwiglider/pkg/naming"
	"github.com/adeverne/kiwiglider/pkg/registry"
)

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.Flags().IntP("id", "i", 0, "Registry id of the deployment")
	configCmd.Flags().String("csv", "", "Path to a registry CSV export to read instead of Postgres")
	configCmd.Flags().StringArrayP("set", "s", nil, "Metadata override as key=value, may be repeated")
	configCmd.Flags().StringP("data-dir", "d", "/data/gliders", "Directory deployments live under")

	viper.BindPFlag("id", configCmd.Flags().Lookup("id"))
	viper.BindPFlag("csv", configCmd.Flags().Lookup("csv"))
	viper.BindPFlag("set", configCmd.Flags().Lookup("set"))
	viper.BindPFlag("data-dir", configCmd.Flags().Lookup("data-dir"))
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Build a deployment document from the registry",
	Long: `Builds the deployment document for a registered deployment and writes it
into the deployment's directory, ready for review.

The registry is read from Postgres by default, using the connection string in
$KIWIGLIDER_DATABASE_URL; passing --csv reads a CSV export instead, which is
what ship laptops without database access use.

The generated document is deterministic: rebuilding it from an unchanged
registry row produces identical bytes, so a reviewed document only changes
when someone changed something.

Global attributes can be overridden without touching the registry by passing
--set key=value, which merges over the registry derived value.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		id := viper.GetInt("id")
		if id <= 0 {
			return errors.New("must provide a positive deployment id")
		}

		log := logger.NewLogger()

		source, cleanup, err := openSource(log)
		if err != nil {
			return err
		}
		defer cleanup()

		row, err := source.Lookup(id)
		if err != nil {
			return err
		}

		overrides, err := parseOverrides(viper.GetStringSlice("set"))
		if err != nil {
			return err
		}

		builder := deployment.NewBuilder(naming.DefaultTable(), clock.New(), log)

		document, err := builder.Construct(row, overrides)
		if err != nil {
			return err
		}

		deploy := deployment.New(row.Name(), filepath.Join(viper.GetString("data-dir"), row.Name()))

		if err = document.Write(deploy.ConfigPath()); err != nil {
			return err
		}

		if err = document.WriteModes(deploy); err != nil {
			return err
		}

		log.Log("deployment", row.Name(), "path", deploy.ConfigPath(), "msg", "wrote deployment document")

		return nil
	},
}

// parseOverrides turns repeated key=value flags into the metadata overrides
// the builder merges last.
func parseOverrides(pairs []string) (deployment.Attrs, error) {
	overrides := deployment.Attrs{}

	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, errors.New("overrides must be passed as key=value: " + pair)
		}
		overrides.Set(key, value)
	}

	return overrides, nil
}

// openSource picks the registry backend: CSV when a path was given, Postgres
// otherwise. The returned cleanup stops whatever was started.
func openSource(log kitlog.Logger) (registry.Source, func(), error) {
	if csvPath := viper.GetString("csv"); csvPath != "" {
		return registry.NewCSVSource(csvPath, log), func() {}, nil
	}

	connStr, err := GetFromEnv(DatabaseURLKey)
	if err != nil {
		return nil, nil, err
	}

	source := registry.NewPostgresSource(&registry.Config{ConnStr: connStr}, log)
	if err := source.Start(); err != nil {
		return nil, nil, err
	}

	return source, func() { source.Stop() }, nil
}

package tasks

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adeverne/kiwiglider/pkg/logger"
	"github.com/adeverne/kiwiglider/pkg/registry"
	"github.com/adeverne/kiwiglider/pkg/version"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateNewCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateUpCmd)

	migrateNewCmd.Flags().String("dir", "pkg/registry/sql", "The directory into which new migrations should be created")
	migrateDownCmd.Flags().IntP("steps", "s", 1, "Number of down migrations to run")
	migrateDownCmd.Flags().Bool("all", false, "Boolean flag that if true runs all down migrations")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage registry Postgres migrations",
	Long: `This task provides subcommands for working with migrations for the registry
database.

Here we offer commands to create properly named migration files, and commands
to run up and down migrations against the configured registry instance.`,
}

var migrateNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a new registry migration",
	Long: fmt.Sprintf(`This command is a simple helper that creates a pair of matching migration
files, correctly named within the specified directory. The desired name of
the migration should be passed via a positional argument after the new
subcommand.

For example:

    $ %s migrate new AddMicroriderColumn`, version.BinaryName),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := cmd.Flags().GetString("dir")
		if err != nil {
			return err
		}

		logger := logger.NewLogger()

		return registry.NewMigration(dir, args[0], logger)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Run down migrations against the registry",
	Long: `This command can be used to rollback migrations executed against the registry
database. It takes as parameters: the number of steps to rollback (default
1), or a boolean flag (--all) indicating we should rollback all migrations.
The default is to simply rollback one migration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		datasource, err := GetFromEnv(DatabaseURLKey)
		if err != nil {
			return err
		}

		steps, err := cmd.Flags().GetInt("steps")
		if err != nil {
			return err
		}

		all, err := cmd.Flags().GetBool("all")
		if err != nil {
			return err
		}

		logger := logger.NewLogger()

		db, err := registry.Open(datasource)
		if err != nil {
			return err
		}

		if all {
			return registry.MigrateDownAll(db.DB, logger)
		}

		return registry.MigrateDown(db.DB, steps, logger)
	},
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Run up migrations against the registry",
	Long: `This command can be used to run up migrations against the registry database.
It is primarily intended to be used in development when working on migrations
as deployments usually run against an already migrated shared instance.
	`,
	RunE: func(cmd *cobra.Command, args []string) error {
		connStr, err := GetFromEnv(DatabaseURLKey)
		if err != nil {
			return err
		}

		logger := logger.NewLogger()

		db, err := registry.Open(connStr)
		if err != nil {
			return err
		}

		return registry.MigrateUp(db.DB, logger)
	},
}

package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/citeresolve/internal/config"
	"github.com/turtacn/citeresolve/internal/infrastructure/database/postgres"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/citeresolve/pkg/errors"
)

// schemaMigrator is the subset of *postgres.Migrator the commands use.
type schemaMigrator interface {
	Up() (postgres.MigrationState, error)
	Down(steps int) (postgres.MigrationState, error)
	Status() (postgres.MigrationState, error)
	Force(version int) error
}

// newMigrator is replaced in tests.
var newMigrator = func(cfg config.PostgresConfig, logger logging.Logger) schemaMigrator {
	return postgres.NewMigrator(cfg.MigrationsPath, cfg.URL(), logger)
}

// MigrationOutput is the printable schema state.
type MigrationOutput struct {
	postgres.MigrationState
}

func (o MigrationOutput) String() string {
	s := fmt.Sprintf("schema version %d", o.Version)
	if o.Dirty {
		s += " (dirty: fix the failed migration, then run migrate force)"
	}
	return s
}

func (o MigrationOutput) TableHeaders() []string { return []string{"Version", "Dirty"} }

func (o MigrationOutput) TableRows() [][]string {
	return [][]string{{strconv.FormatUint(uint64(o.Version), 10), strconv.FormatBool(o.Dirty)}}
}

// NewMigrateCmd manages the Postgres schema.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema for resolution records and batch runs",
	}

	withMigrator := func(fn func(cmd *cobra.Command, m schemaMigrator, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			return fn(cmd, newMigrator(cliCtx.Config.Postgres, cliCtx.Logger), args)
		}
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m schemaMigrator, _ []string) error {
			st, err := m.Up()
			if err != nil {
				return err
			}
			return PrintResult(cmd, MigrationOutput{st})
		}),
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m schemaMigrator, _ []string) error {
			st, err := m.Down(steps)
			if err != nil {
				return err
			}
			return PrintResult(cmd, MigrationOutput{st})
		}),
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m schemaMigrator, _ []string) error {
			st, err := m.Status()
			if err != nil {
				return err
			}
			return PrintResult(cmd, MigrationOutput{st})
		}),
	}

	force := &cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m schemaMigrator, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return errors.NewValidationError("version", "version must be an integer")
			}
			if err := m.Force(v); err != nil {
				return err
			}
			PrintSuccess(cmd, fmt.Sprintf("schema version forced to %d", v))
			return nil
		}),
	}

	cmd.AddCommand(up, down, status, force)
	return cmd
}

package cli

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cti/scanhub/internal/infrastructure/migration"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultMigrationsPath = "migrations"

type migrateOptions struct {
	path     string
	logLevel string
}

// NewMigrateCmd builds the schema migration tool
func NewMigrateCmd() *cobra.Command {
	opts := &migrateOptions{}
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply and scaffold scanhub database migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.path, "path", "", "migrations directory (default ./migrations)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		migratorCmd(opts, "up", "Apply all pending migrations", cobra.NoArgs,
			func(m *migration.Migrator, _ []string) error { return m.Up() }),
		migratorCmd(opts, "down", "Roll back all migrations", cobra.NoArgs,
			func(m *migration.Migrator, _ []string) error { return m.Down() }),
		migratorCmd(opts, "steps N", "Apply N migrations (negative rolls back)", cobra.ExactArgs(1),
			func(m *migration.Migrator, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				return m.Steps(n)
			}),
		migratorCmd(opts, "goto VERSION", "Migrate up or down to VERSION", cobra.ExactArgs(1),
			func(m *migration.Migrator, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return m.GoTo(uint(v))
			}),
		migratorCmd(opts, "force VERSION", "Record VERSION as applied without running it", cobra.ExactArgs(1),
			func(m *migration.Migrator, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return m.Force(v)
			}),
		newVersionCmd(opts),
		newDropCmd(opts),
		newCreateCmd(opts),
		newListCmd(opts),
	)
	return root
}

// resolvePath falls back to ./migrations, then to the directory two levels
// above the executable (bin/<os>/migrate in a release tree).
func (o *migrateOptions) resolvePath() (string, error) {
	path := o.path
	if path == "" {
		path = defaultMigrationsPath
		if _, err := os.Stat(path); err != nil {
			if exe, err := os.Executable(); err == nil {
				candidate := filepath.Join(filepath.Dir(exe), "..", "..", defaultMigrationsPath)
				if _, err := os.Stat(candidate); err == nil {
					path = candidate
				}
			}
		}
	}
	return filepath.Abs(path)
}

// withMigrator opens the configured database and hands a Migrator to fn
func (o *migrateOptions) withMigrator(fn func(env *environment, m *migration.Migrator) error) error {
	env, err := loadEnvironment(o.logLevel)
	if err != nil {
		return err
	}
	defer env.close()

	path, err := o.resolvePath()
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", env.cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	m, err := migration.New(db, path, env.log)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			env.log.Warn("Failed to close migrator", zap.Error(err))
		}
	}()

	env.log.Debug("Using migrations", zap.String("path", path))
	return fn(env, m)
}

func migratorCmd(opts *migrateOptions, use, short string, args cobra.PositionalArgs, fn func(*migration.Migrator, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, argv []string) error {
			return opts.withMigrator(func(_ *environment, m *migration.Migrator) error {
				return fn(m, argv)
			})
		},
	}
}

func newVersionCmd(opts *migrateOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withMigrator(func(_ *environment, m *migration.Migrator) error {
				status, err := m.Status()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if status.Version == 0 {
					fmt.Fprintln(out, "no migrations applied")
					return nil
				}
				fmt.Fprintf(out, "version %d", status.Version)
				if status.Dirty {
					fmt.Fprint(out, " (dirty)")
				}
				fmt.Fprintln(out)
				return nil
			})
		},
	}
}

func newDropCmd(opts *migrateOptions) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop every database object (requires --confirm)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return fmt.Errorf("refusing to drop without --confirm")
			}
			return opts.withMigrator(func(_ *environment, m *migration.Migrator) error {
				return m.Drop()
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm that all data will be lost")
	return cmd
}

func newCreateCmd(opts *migrateOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create NAME [DESCRIPTION]",
		Short: "Create an empty up/down migration pair",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := opts.resolvePath()
			if err != nil {
				return err
			}
			description := ""
			if len(args) > 1 {
				description = args[1]
			}
			mf, err := migration.CreateMigration(path, args[0], description)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), mf.UpPath)
			fmt.Fprintln(cmd.OutOrStdout(), mf.DownPath)
			return nil
		},
	}
}

func newListCmd(opts *migrateOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := opts.resolvePath()
			if err != nil {
				return err
			}
			names, err := migration.ListMigrations(path)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

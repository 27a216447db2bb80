// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/hilsha/gatehouse/internal/store"
)

// migrationRunner wraps the methods used from store.Migrator.
type migrationRunner interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (*store.MigrationStatus, error)
	Close() error
}

// newMigrationRunner is replaced in tests.
var newMigrationRunner = func(databaseURL string) (migrationRunner, error) {
	return store.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate command group.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Apply, roll back or inspect the embedded PostgreSQL schema migrations.`,
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL (default: DATABASE_URL)")

	cmd.AddCommand(newMigrateUpCmd(), newMigrateDownCmd(), newMigrateStatusCmd(), newMigrateForceCmd())
	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m migrationRunner) error {
				cmd.Println("Running migrations...")
				if err := m.Up(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "up").Wrap(err)
				}
				cmd.Println("Migrations completed successfully")
				return nil
			})
		},
	}
}

func newMigrateDownCmd() *cobra.Command {
	var (
		steps int
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long:  `Roll back the last migration, the last --steps migrations, or every migration with --all.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 {
				return oops.Code("INVALID_STEPS").With("steps", steps).Errorf("--steps must be at least 1")
			}
			return withMigrator(cmd, func(m migrationRunner) error {
				var err error
				if all {
					err = m.Down()
				} else {
					err = m.Steps(-steps)
				}
				if err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "down").Wrap(err)
				}
				cmd.Println("Rollback completed successfully")
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.Flags().BoolVar(&all, "all", false, "roll back every migration")
	return cmd
}

func newMigrateStatusCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current schema version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m migrationRunner) error {
				st, err := m.Status()
				if err != nil {
					return oops.Code("MIGRATION_STATUS_FAILED").Wrap(err)
				}
				if jsonOutput {
					data, err := json.MarshalIndent(st, "", "  ")
					if err != nil {
						return oops.Code("MIGRATION_STATUS_FAILED").Wrap(err)
					}
					cmd.Println(string(data))
					return nil
				}
				cmd.Print(formatMigrationStatus(st))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output status as JSON")
	return cmd
}

func newMigrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Long: `Mark the schema as being at VERSION and clear the dirty flag. Use this
only after repairing a failed migration by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, func(m migrationRunner) error {
				if err := m.Force(v); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "force").With("version", v).Wrap(err)
				}
				cmd.Printf("Schema version forced to %d\n", v)
				return nil
			})
		},
	}
}

// parseForceVersion reads a leading integer, ignoring surrounding text.
func parseForceVersion(s string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &v); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be an integer")
	}
	return v, nil
}

func withMigrator(cmd *cobra.Command, fn func(migrationRunner) error) error {
	cfg, _, err := loadConfig(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url or DATABASE_URL is required")
	}

	m, err := newMigrationRunner(cfg.Database.URL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrln("warning: closing migrator:", closeErr)
		}
	}()
	return fn(m)
}

func formatMigrationStatus(st *store.MigrationStatus) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	name := st.Name
	if name == "" {
		name = "-"
	}
	fmt.Fprintf(w, "VERSION\t%d (%s)\n", st.Version, name)
	fmt.Fprintf(w, "LATEST\t%d\n", st.Latest)
	fmt.Fprintf(w, "DIRTY\t%t\n", st.Dirty)
	pending := "none"
	if len(st.Pending) > 0 {
		parts := make([]string, len(st.Pending))
		for i, v := range st.Pending {
			parts[i] = fmt.Sprint(v)
		}
		pending = strings.Join(parts, ", ")
	}
	fmt.Fprintf(w, "PENDING\t%s\n", pending)
	_ = w.Flush()
	return b.String()
}

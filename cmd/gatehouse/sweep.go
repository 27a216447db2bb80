// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"encoding/json"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/hilsha/gatehouse/internal/auth/postgres"
	"github.com/hilsha/gatehouse/internal/store"
)

// NewSweepCmd creates the one-shot sweep subcommand.
func NewSweepCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired sessions and stale tokens once",
		Long: `Run a single sweep pass: delete expired sessions and purpose tokens whose
expiry is older than the configured retention window. Consumed tokens are kept
until then. The serve command runs the same pass periodically.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runSweep(cmd.Context(), cfg, cmd, nil, jsonOutput)
		},
	}
	cmd.Flags().String("database-url", "", "PostgreSQL connection URL (default: DATABASE_URL)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output counts as JSON")
	return cmd
}

func runSweep(ctx context.Context, cfg *Config, cmd *cobra.Command, deps *ServeDeps, jsonOutput bool) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.withDefaults()

	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url or DATABASE_URL is required")
	}
	pool, err := deps.PoolFactory(ctx, store.PoolConfig{URL: cfg.Database.URL, MaxConns: 2}, nil)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	sweeper := store.NewSweeper(postgres.NewSessionRepository(pool), postgres.NewTokenRepository(pool), store.SweeperConfig{
		TokenRetention: cfg.Sweep.TokenRetention,
	})
	res, err := sweeper.Once(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		data, err := json.Marshal(res)
		if err != nil {
			return oops.Code("SWEEP_OUTPUT_FAILED").Wrap(err)
		}
		cmd.Println(string(data))
		return nil
	}
	cmd.Printf("Deleted %d expired sessions and %d stale tokens\n", res.Sessions, res.Tokens)
	return nil
}

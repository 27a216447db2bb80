// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Gatehouse CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatehouse",
		Short: "Gatehouse - email and password authentication service",
		Long: `Gatehouse provides account signup, session sign-in, email
verification and password recovery over a JSON HTTP API.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/gatehouse/config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	cmd.PersistentFlags().String("log-format", "", "log format: json or text")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSweepCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"github.com/spf13/cobra"
)

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	var validate bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration that serve would use, after merging defaults,
the config file, GATEHOUSE_* environment variables and flags. Passwords in
connection URLs and the SMTP password are masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, k, err := loadConfig(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			if validate {
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			data, err := redactedYAML(k)
			if err != nil {
				return err
			}
			cmd.Print(string(data))
			return nil
		},
	}
	cmd.Flags().BoolVar(&validate, "validate", false, "fail when the configuration is invalid")
	return cmd
}

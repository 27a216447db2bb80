// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// ProbeStatus holds the result of one health probe.
type ProbeStatus struct {
	Probe  string `json:"probe"`
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
	timeout    time.Duration
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running Gatehouse server",
		Long: `Query the liveness and readiness probes of a running server on its
observability address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appCfg, _, err := loadConfig(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runStatus(cmd, cfg, appCfg.Observability.Addr)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 3*time.Second, "per-probe timeout")
	cmd.Flags().String("metrics-addr", "", "observability address of the server (default 127.0.0.1:9100)")

	return cmd
}

// runStatus probes addr and prints the results. It fails when any probe is
// not OK so scripts can rely on the exit code.
func runStatus(cmd *cobra.Command, cfg *statusConfig, addr string) error {
	if addr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("observability.addr is empty; the server exposes no health endpoints")
	}

	client := &http.Client{Timeout: cfg.timeout}
	statuses := []ProbeStatus{
		queryProbe(cmd.Context(), client, addr, "liveness"),
		queryProbe(cmd.Context(), client, addr, "readiness"),
	}

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		cmd.Println(string(data))
	} else {
		cmd.Print(formatStatusTable(statuses))
	}

	for _, st := range statuses {
		if !st.OK {
			return oops.Code("SERVER_UNHEALTHY").With("probe", st.Probe).Errorf("%s probe failed", st.Probe)
		}
	}
	return nil
}

func queryProbe(ctx context.Context, client *http.Client, addr, probe string) ProbeStatus {
	if ctx == nil {
		ctx = context.Background()
	}
	st := ProbeStatus{Probe: probe}

	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/healthz/"+probe, nil)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	resp, err := client.Do(req)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	defer resp.Body.Close()

	st.Status = resp.StatusCode
	st.OK = resp.StatusCode == http.StatusOK
	return st
}

func formatStatusTable(statuses []ProbeStatus) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROBE\tOK\tSTATUS\tERROR")
	for _, st := range statuses {
		code := "-"
		if st.Status != 0 {
			code = fmt.Sprint(st.Status)
		}
		errText := st.Error
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", st.Probe, st.OK, code, errText)
	}
	_ = w.Flush()
	return b.String()
}

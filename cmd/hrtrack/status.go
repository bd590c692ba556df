// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// statusTimeout bounds each probe request.
const statusTimeout = 2 * time.Second

// ProbeStatus is the result of one health probe.
type ProbeStatus struct {
	Probe  string `json:"probe"`
	URL    string `json:"url"`
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Probe a running HRTrack server",
		Long: `Query the liveness and readiness probes on the metrics address and
the API health endpoint of a running server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg, &http.Client{Timeout: statusTimeout})
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, scfg *statusConfig, client *http.Client) error {
	cfg, err := loadConfig(cmd, os.Getenv)
	if err != nil {
		return err
	}

	var probes []ProbeStatus
	if cfg.Metrics.Addr != "" {
		base := "http://" + cfg.Metrics.Addr
		probes = append(probes,
			probe(cmd.Context(), client, "liveness", base+"/healthz/liveness"),
			probe(cmd.Context(), client, "readiness", base+"/healthz/readiness"),
		)
	}
	probes = append(probes, probe(cmd.Context(), client, "api", "http://"+cfg.HTTP.Addr+"/api/health"))

	var output string
	if scfg.jsonOutput {
		data, err := json.MarshalIndent(probes, "", "  ")
		if err != nil {
			return oops.Code("STATUS_ENCODE_FAILED").Wrap(err)
		}
		output = string(data)
	} else {
		output = formatStatusTable(probes)
	}
	cmd.Println(output)

	for _, p := range probes {
		if !p.OK {
			return oops.Code("SERVER_UNHEALTHY").With("probe", p.Probe).Errorf("%s probe failed", p.Probe)
		}
	}
	return nil
}

func probe(ctx context.Context, client *http.Client, name, url string) ProbeStatus {
	result := ProbeStatus{Probe: name, URL: url}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	resp, err := client.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("failed to connect: %v", err)
		return result
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain only

	result.Status = resp.StatusCode
	result.OK = resp.StatusCode == http.StatusOK
	return result
}

// formatStatusTable formats the probes as a human-readable table.
func formatStatusTable(probes []ProbeStatus) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "PROBE\tSTATE\tDETAIL")
	_, _ = fmt.Fprintln(w, "-----\t-----\t------")
	for _, p := range probes {
		state := "down"
		if p.OK {
			state = "ok"
		}
		detail := p.Error
		if detail == "" {
			detail = fmt.Sprintf("HTTP %d", p.Status)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", p.Probe, state, detail)
	}

	_ = w.Flush()
	return buf.String()
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/roomrelay/roomrelay/internal/config"
)

const statusTimeout = 2 * time.Second

// probeOrder is the order probes are queried and printed in.
var probeOrder = []string{"liveness", "readiness"}

// ProbeStatus is the result of one health probe.
type ProbeStatus struct {
	Probe      string `json:"probe"`
	Healthy    bool   `json:"healthy"`
	StatusCode int    `json:"status_code,omitempty"`
	Body       string `json:"body,omitempty"`
	Error      string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	addr       string
	jsonOutput bool
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of a running relay",
		Long: `Query the liveness and readiness health endpoints of a running relay.
The address defaults to server.metrics_addr from the configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "addr", "", "observability address of the relay (host:port)")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	addr := cfg.addr
	if addr == "" {
		loaded, err := config.Load(configFile, nil)
		if err != nil {
			return err
		}
		addr = loaded.Server.MetricsAddr
	}
	if addr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("no observability address configured; pass --addr")
	}

	client := &http.Client{Timeout: statusTimeout}
	statuses := make(map[string]ProbeStatus, len(probeOrder))
	for _, probe := range probeOrder {
		statuses[probe] = queryProbe(cmd.Context(), client, addr, probe)
	}

	var output string
	if cfg.jsonOutput {
		var err error
		output, err = formatStatusJSON(statuses)
		if err != nil {
			return oops.With("operation", "format status").Wrap(err)
		}
	} else {
		output = formatStatusTable(addr, statuses)
	}

	cmd.Println(output)
	return nil
}

// queryProbe GETs /healthz/<probe> on addr.
func queryProbe(ctx context.Context, client *http.Client, addr, probe string) ProbeStatus {
	status := ProbeStatus{Probe: probe}
	if ctx == nil {
		ctx = context.Background()
	}

	url := "http://" + addr + "/healthz/" + probe
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		status.Error = fmt.Sprintf("invalid request: %v", err)
		return status
	}

	resp, err := client.Do(req)
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256)) //nolint:errcheck // body is informational
	status.StatusCode = resp.StatusCode
	status.Body = strings.TrimSpace(string(body))
	status.Healthy = resp.StatusCode == http.StatusOK
	return status
}

// formatStatusTable formats the probes as a human-readable table.
func formatStatusTable(addr string, statuses map[string]ProbeStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "RoomRelay at %s\n\n", addr)

	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROBE\tSTATUS\tCODE\tDETAIL")
	_, _ = fmt.Fprintln(w, "-----\t------\t----\t------")
	for _, probe := range probeOrder {
		s := statuses[probe]
		switch {
		case s.Error != "":
			_, _ = fmt.Fprintf(w, "%s\tunreachable\t-\t%s\n", probe, s.Error)
		case s.Healthy:
			_, _ = fmt.Fprintf(w, "%s\tok\t%d\t%s\n", probe, s.StatusCode, s.Body)
		default:
			_, _ = fmt.Fprintf(w, "%s\tfailing\t%d\t%s\n", probe, s.StatusCode, s.Body)
		}
	}
	_ = w.Flush()
	return b.String()
}

// formatStatusJSON formats the probes as JSON.
func formatStatusJSON(statuses map[string]ProbeStatus) (string, error) {
	data, err := json.MarshalIndent(statuses, "", "  ")
	if err != nil {
		return "", oops.With("operation", "marshal status").Wrap(err)
	}
	return string(data), nil
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// ServiceStatus holds the status information for the identity service.
type ServiceStatus struct {
	Component string `json:"component"`
	Running   bool   `json:"running"`
	Live      bool   `json:"live,omitempty"`
	Ready     bool   `json:"ready,omitempty"`
	Error     string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput  bool
	metricsAddr string
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show health of the running identity service",
		Long:  `Queries the observability endpoints of a running identity service.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", defaultMetricsAddr, "metrics/health address of the running service")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	status := queryServiceStatus("http://"+cfg.metricsAddr, &http.Client{Timeout: 2 * time.Second})

	var output string
	var err error

	if cfg.jsonOutput {
		output, err = formatStatusJSON(status)
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
	} else {
		output = formatStatusTable(status)
	}

	cmd.Println(output)
	return nil
}

// queryServiceStatus probes the liveness and readiness endpoints.
func queryServiceStatus(baseURL string, client *http.Client) ServiceStatus {
	status := ServiceStatus{Component: "identity"}

	live, err := probe(client, baseURL+"/healthz/liveness")
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	status.Running = true
	status.Live = live

	ready, err := probe(client, baseURL+"/healthz/readiness")
	if err != nil {
		// Liveness succeeded but readiness failed - still consider running
		return status
	}
	status.Ready = ready

	return status
}

// probe hits one health endpoint and reports whether it returned 200.
func probe(client *http.Client, url string) (bool, error) {
	resp, err := client.Get(url)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK, nil
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(status ServiceStatus) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "SERVICE\tSTATUS\tLIVE\tREADY")
	_, _ = fmt.Fprintln(w, "-------\t------\t----\t-----")

	if status.Running {
		_, _ = fmt.Fprintf(w, "%s\trunning\t%s\t%s\n",
			status.Component, yesNo(status.Live), yesNo(status.Ready))
	} else {
		reason := "not running"
		if status.Error != "" {
			reason = status.Error
		}
		_, _ = fmt.Fprintf(w, "%s\tstopped\t-\t%s\n", status.Component, reason)
	}

	_ = w.Flush()
	return sb.String()
}

// formatStatusJSON formats the status as JSON.
func formatStatusJSON(status ServiceStatus) (string, error) {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal status: %w", err)
	}
	return string(data), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

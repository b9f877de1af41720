package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/vortexion256/caremax-sub002/pkg/metrics"
)

var (
	usageTenant  string
	usageWindow  time.Duration
	usageByModel bool
	usageJSON    bool
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show a tenant's model and tool usage from Prometheus",
	Long: `Usage queries the Prometheus server at server.prometheus_url for the
token, cost, turn and tool counters a tenant accumulated. --window limits the
totals to a trailing period (e.g. 24h).`,
	RunE: runUsage,
}

func init() {
	usageCmd.Flags().StringVar(&usageTenant, "tenant", "", "Tenant to report on (required)")
	usageCmd.Flags().DurationVar(&usageWindow, "window", 0, "Trailing window, e.g. 24h (default: all time)")
	usageCmd.Flags().BoolVar(&usageByModel, "by-model", false, "Break tokens and cost down by model")
	usageCmd.Flags().BoolVar(&usageJSON, "json", false, "Print JSON")
	_ = usageCmd.MarkFlagRequired("tenant")
}

func runUsage(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.PrometheusURL == "" {
		return errors.New("server.prometheus_url is not set")
	}
	q, err := metrics.NewQueryService(cfg.Server.PrometheusURL, cfg.LLM.Metrics.Namespace)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if usageByModel {
		byModel, err := q.GetTenantUsageByModel(cmd.Context(), usageTenant, usageWindow)
		if err != nil {
			return err
		}
		if usageJSON {
			return writeJSON(out, byModel)
		}
		names := make([]string, 0, len(byModel))
		for name := range byModel {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			u := byModel[name]
			fmt.Fprintf(out, "%-28s tokens=%d (prompt %d, completion %d) cost=$%.4f\n",
				name, u.TotalTokens, u.PromptTokens, u.CompletionTokens, u.TotalCost)
		}
		return nil
	}

	usage, err := q.GetTenantUsage(cmd.Context(), usageTenant, usageWindow)
	if err != nil {
		return err
	}
	if usageJSON {
		return writeJSON(out, usage)
	}
	printUsage(out, usage)
	return nil
}

func printUsage(out io.Writer, u *metrics.TenantUsage) {
	window := "all time"
	if u.Window != "" {
		window = "last " + u.Window
	}
	fmt.Fprintf(out, "Tenant %s (%s)\n", u.TenantID, window)
	fmt.Fprintf(out, "  tokens: %d (prompt %d, completion %d)\n", u.TotalTokens, u.PromptTokens, u.CompletionTokens)
	fmt.Fprintf(out, "  cost:   $%.4f\n", u.TotalCost)
	printCounts(out, "turns", u.Turns, nil)
	printCounts(out, "tools", u.ToolCalls, u.ToolFailures)
}

func printCounts(out io.Writer, title string, counts, failures map[string]int64) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(out, "  %s:\n", title)
	for _, k := range keys {
		if failures != nil {
			fmt.Fprintf(out, "    %-20s %d (%d failed)\n", k, counts[k], failures[k])
			continue
		}
		fmt.Fprintf(out, "    %-20s %d\n", k, counts[k])
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

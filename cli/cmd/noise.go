package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kestrelsec/sysmonfleet/cli/pkg/output"
)

var noiseCmd = &cobra.Command{
	Use:   "noise",
	Short: "Event noise analysis",
	Long:  "Analyze Sysmon event volume per host and generate exclusion rules",
}

var noiseAnalyzeCmd = &cobra.Command{
	Use:   "analyze [host-id]",
	Short: "Run noise analysis for one host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hours, _ := cmd.Flags().GetFloat64("hours")

		resp, err := apiClient(cmd).Analyze(args[0], hours)
		if err != nil {
			return fmt.Errorf("failed to analyze host: %w", err)
		}

		if format, _ := cmd.Flags().GetString("output"); format == "json" {
			return output.JSON(resp)
		}

		output.Info("Run %s: %d events over %gh", resp.Run.ID, resp.Run.TotalEvents, resp.Run.TimeRangeHours)
		if len(resp.Results) == 0 {
			output.Info("No event patterns found")
			return nil
		}

		table := output.NewTable("Event", "Pattern", "Count", "Rate/h", "Score", "Level")
		for _, res := range resp.Results {
			pattern := res.GroupKey
			if len(pattern) > 70 {
				pattern = pattern[:67] + "..."
			}
			table.AddRow(
				fmt.Sprintf("%d", res.EventID),
				pattern,
				fmt.Sprintf("%d", res.Count),
				fmt.Sprintf("%.1f", res.Rate),
				fmt.Sprintf("%.2f", res.Score),
				string(res.Level),
			)
		}
		table.Render()
		return nil
	},
}

var noiseCompareCmd = &cobra.Command{
	Use:   "compare [host-id]...",
	Short: "Compare noise across hosts",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		hours, _ := cmd.Flags().GetFloat64("hours")

		report, err := apiClient(cmd).Compare(args, hours)
		if err != nil {
			return fmt.Errorf("failed to compare hosts: %w", err)
		}

		if format, _ := cmd.Flags().GetString("output"); format == "json" {
			return output.JSON(report)
		}

		table := output.NewTable("Hostname", "Noisy", "Very Noisy", "Aggregate Score")
		for _, h := range report.Hosts {
			table.AddRow(h.Hostname,
				fmt.Sprintf("%d", h.NoisyCount),
				fmt.Sprintf("%d", h.VeryNoisyCount),
				fmt.Sprintf("%.2f", h.AggregateScore))
		}
		table.Render()

		if len(report.CommonPatterns) > 0 {
			output.Info("\nPatterns noisy on multiple hosts:")
			for _, p := range report.CommonPatterns {
				fmt.Println("  " + p)
			}
		}
		return nil
	},
}

var noiseExclusionsCmd = &cobra.Command{
	Use:   "exclusions [run-id]",
	Short: "Generate Sysmon exclusion XML from a noise run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		minScore, _ := cmd.Flags().GetFloat64("min-score")

		xml, err := apiClient(cmd).Exclusions(args[0], minScore)
		if err != nil {
			return fmt.Errorf("failed to generate exclusions: %w", err)
		}
		fmt.Println(strings.TrimRight(xml, "\n"))
		return nil
	},
}

func init() {
	noiseAnalyzeCmd.Flags().Float64("hours", 24, "analysis window in hours")
	noiseCompareCmd.Flags().Float64("hours", 24, "analysis window in hours")
	noiseExclusionsCmd.Flags().Float64("min-score", 2.0, "minimum score for a pattern to be excluded")

	noiseCmd.AddCommand(noiseAnalyzeCmd, noiseCompareCmd, noiseExclusionsCmd)
	rootCmd.AddCommand(noiseCmd)
}

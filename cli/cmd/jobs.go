package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kestrelsec/sysmonfleet/cli/pkg/output"
	"github.com/kestrelsec/sysmonfleet/internal/models"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Deployment job management",
	Long:  "Create, inspect and cancel Sysmon deployment jobs",
}

var jobsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a deployment job",
	RunE: func(cmd *cobra.Command, args []string) error {
		operation, _ := cmd.Flags().GetString("operation")
		hosts, _ := cmd.Flags().GetStringSlice("host")
		configID, _ := cmd.Flags().GetString("config")
		version, _ := cmd.Flags().GetString("sysmon-version")

		req := &models.CreateJobRequest{
			Operation:     operation,
			HostIDs:       hosts,
			SysmonVersion: version,
		}
		if configID != "" {
			req.ConfigID = &configID
		}

		job, err := apiClient(cmd).CreateJob(req)
		if err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}

		if format, _ := cmd.Flags().GetString("output"); format == "json" {
			return output.JSON(job)
		}
		output.Success("Job %s created: %s across %d host(s)", job.ID, job.Operation, len(hosts))
		return nil
	},
}

var jobsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recent jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := apiClient(cmd).ListJobs(limit)
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}

		if format, _ := cmd.Flags().GetString("output"); format == "json" {
			return output.JSON(jobs)
		}
		if len(jobs) == 0 {
			output.Info("No jobs found")
			return nil
		}

		table := output.NewTable("ID", "Operation", "Status", "Created By", "Created At")
		for _, job := range jobs {
			table.AddRow(job.ID, string(job.Operation), string(job.Status),
				job.CreatedBy, job.CreatedAt.Format("2006-01-02 15:04"))
		}
		table.Render()
		return nil
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show a job with its per-host results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := apiClient(cmd).GetJob(args[0])
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}

		if format, _ := cmd.Flags().GetString("output"); format == "json" {
			return output.JSON(resp)
		}

		output.Info("Job %s  %s  %s", resp.Job.ID, resp.Job.Operation, resp.Job.Status)
		table := output.NewTable("Host", "State", "Dispatch", "Detail")
		for _, res := range resp.Results {
			detail := res.Detail
			if len(detail) > 60 {
				detail = detail[:57] + "..."
			}
			table.AddRow(res.Hostname, string(res.State), string(res.Dispatch), detail)
		}
		table.Render()
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel [id]",
	Short: "Cancel a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := apiClient(cmd).CancelJob(args[0])
		if err != nil {
			return fmt.Errorf("failed to cancel job: %w", err)
		}
		output.Success("Job %s is now %s", job.ID, job.Status)
		return nil
	},
}

var jobsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete finished jobs older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")

		resp, err := apiClient(cmd).PurgeJobs(days)
		if err != nil {
			return fmt.Errorf("failed to purge jobs: %w", err)
		}
		output.Success("Purged %d job(s) and %d result(s)", resp.JobsDeleted, resp.ResultsDeleted)
		return nil
	},
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Agent fleet overview",
}

var agentsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List agent-managed hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		hosts, err := apiClient(cmd).ListHosts()
		if err != nil {
			return fmt.Errorf("failed to list hosts: %w", err)
		}

		var agents []*models.Host
		for _, h := range hosts {
			if h.Managed == models.ManagedAgent {
				agents = append(agents, h)
			}
		}

		if format, _ := cmd.Flags().GetString("output"); format == "json" {
			return output.JSON(agents)
		}
		if len(agents) == 0 {
			output.Info("No agent-managed hosts found")
			return nil
		}

		table := output.NewTable("Hostname", "Agent ID", "Sysmon", "Config Hash", "Last Seen")
		for _, h := range agents {
			lastSeen := "never"
			if h.LastSeenAt != nil {
				lastSeen = h.LastSeenAt.Format("2006-01-02 15:04")
			}
			hash := h.ConfigHash
			if len(hash) > 12 {
				hash = hash[:12]
			}
			table.AddRow(h.Hostname, h.AgentID, h.SysmonVersion, hash, lastSeen)
		}
		table.Render()
		output.Info("\n%d agent(s)", len(agents))
		return nil
	},
}

func init() {
	jobsCreateCmd.Flags().String("operation", "", "operation: "+strings.Join([]string{"install", "update", "pushconfig", "uninstall", "test"}, ", "))
	jobsCreateCmd.Flags().StringSlice("host", nil, "target host id (repeatable)")
	jobsCreateCmd.Flags().String("config", "", "sysmon config id")
	jobsCreateCmd.Flags().String("sysmon-version", "", "sysmon version to install")
	jobsCreateCmd.MarkFlagRequired("operation")
	jobsCreateCmd.MarkFlagRequired("host")

	jobsListCmd.Flags().Int("limit", 20, "maximum jobs to show")
	jobsPurgeCmd.Flags().Int("days", 30, "delete terminal jobs older than this many days")

	jobsCmd.AddCommand(jobsCreateCmd, jobsListCmd, jobsGetCmd, jobsCancelCmd, jobsPurgeCmd)
	agentsCmd.AddCommand(agentsListCmd)
	rootCmd.AddCommand(jobsCmd, agentsCmd)
}

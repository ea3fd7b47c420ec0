package cli

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/recogito/studio-jobs/internal/domain"
)

func (a *app) newCreateCmd() *cobra.Command {
	var name, jobType string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a job record in the initializing state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t := domain.JobType(strings.ToUpper(jobType))
			if !t.Valid() {
				return fmt.Errorf("unknown job type %q", jobType)
			}
			job, err := a.client().CreateJob(cmd.Context(), name, t)
			if err != nil {
				return err
			}
			return a.printJSON(job)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "job name")
	cmd.Flags().StringVar(&jobType, "type", string(domain.JobTypeExport), "job type (EXPORT or IMPORT)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (a *app) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.client().GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(job)
		},
	}
}

func (a *app) newListCmd() *cobra.Command {
	var jobType, status, cursor string
	var pageSize int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your jobs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if jobType != "" {
				q.Set("job_type", strings.ToUpper(jobType))
			}
			if status != "" {
				q.Set("status", status)
			}
			if pageSize > 0 {
				q.Set("page_size", strconv.Itoa(pageSize))
			}
			if cursor != "" {
				q.Set("cursor", cursor)
			}

			page, err := a.client().ListJobs(cmd.Context(), q)
			if err != nil {
				return err
			}
			return a.printJSON(page)
		},
	}
	cmd.Flags().StringVar(&jobType, "type", "", "filter by job type")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "page size (server default when 0)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "cursor from a previous page")
	return cmd
}

func (a *app) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a job and its artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deleted, err := a.client().DeleteJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(map[string]any{"deleted": deleted})
		},
	}
}

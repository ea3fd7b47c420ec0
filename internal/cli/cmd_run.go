package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/recogito/studio-jobs/internal/domain"
	"github.com/recogito/studio-jobs/internal/runner"
)

var errNotDispatched = errors.New("job was not dispatched")

func (a *app) newRunCmd() *cobra.Command {
	var params map[string]string

	cmd := &cobra.Command{
		Use:   "run <job-id>",
		Short: "Dispatch an existing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.client().RunJob(cmd.Context(), args[0], params) {
				return errNotDispatched
			}
			fmt.Fprintf(a.out, "dispatched %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "run parameter key=value (repeatable)")
	return cmd
}

func (a *app) newExportCmd() *cobra.Command {
	var name, out string
	var wait, timeout time.Duration

	cmd := &cobra.Command{
		Use:   "export <project-id>",
		Short: "Export a project and optionally download the archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := args[0]
			if name == "" {
				name = "Export " + projectID
			}

			client := a.client()
			job, err := client.CreateJob(cmd.Context(), name, domain.JobTypeExport)
			if err != nil {
				return err
			}
			if !client.RunJob(cmd.Context(), job.ID, map[string]string{"projectId": projectID}) {
				return errNotDispatched
			}
			if out == "" {
				return a.printJSON(job)
			}

			job, err = a.await(cmd.Context(), client, job.ID, wait, timeout)
			if err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := client.DownloadArtifact(cmd.Context(), job.ID, f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "wrote %s (job %s)\n", out, job.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "job name")
	cmd.Flags().StringVarP(&out, "out", "o", "", "wait for completion and write the archive here")
	cmd.Flags().DurationVar(&wait, "poll", 2*time.Second, "status poll interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "give up waiting after this long")
	return cmd
}

func (a *app) newImportCmd() *cobra.Command {
	var name string
	var params map[string]string
	var follow bool
	var wait, timeout time.Duration

	cmd := &cobra.Command{
		Use:   "import <archive.zip>",
		Short: "Upload an export archive and import it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			if name == "" {
				name = "Import " + args[0]
			}

			client := a.client()
			job, err := client.CreateJob(cmd.Context(), name, domain.JobTypeImport)
			if err != nil {
				return err
			}
			if !client.RunImportJob(cmd.Context(), job.ID, f, params) {
				return errNotDispatched
			}
			if follow {
				if job, err = a.await(cmd.Context(), client, job.ID, wait, timeout); err != nil {
					return err
				}
			}
			return a.printJSON(job)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "job name")
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "run parameter key=value (repeatable)")
	cmd.Flags().BoolVarP(&follow, "wait", "w", false, "wait for the import to finish")
	cmd.Flags().DurationVar(&wait, "poll", 2*time.Second, "status poll interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "give up waiting after this long")
	return cmd
}

// await polls until the job is terminal and fails unless it completed
func (a *app) await(ctx context.Context, client *runner.Client, jobID string, interval, timeout time.Duration) (*domain.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	job, err := client.WaitForJob(ctx, jobID, interval)
	if err != nil {
		return nil, fmt.Errorf("waiting for job %s: %w", jobID, err)
	}
	if job.JobStatus != domain.JobStatusComplete {
		return job, fmt.Errorf("job %s finished with status %s", jobID, job.JobStatus)
	}
	return job, nil
}

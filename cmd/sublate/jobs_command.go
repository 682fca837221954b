package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

func newJobsCommand(configFlag *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List processing jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configFlag)
			if err != nil {
				return err
			}
			defer a.close()

			jobs, err := a.jobs.ListJobs(limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no jobs")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				progress := "-"
				if job.Total > 0 {
					progress = fmt.Sprintf("%d/%d", job.Completed, job.Total)
				}
				rows = append(rows, []string{
					job.ID,
					filepath.Base(job.InputPath),
					job.TargetLanguage,
					job.Status,
					progress,
					fmt.Sprint(job.Tokens),
					job.CreatedAt.Local().Format(time.DateTime),
				})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "FILE", "LANG", "STATUS", "PROGRESS", "TOKENS", "CREATED"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of jobs to list")
	return cmd
}

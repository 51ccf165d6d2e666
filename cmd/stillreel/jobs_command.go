package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/stillreel/internal/model"
	"github.com/seantiz/stillreel/internal/store"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect persisted jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			db, err := store.NewSQLiteStore(cfg.Store.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			jobs, total, err := db.ListJobs(cmd.Context(), limit, offset)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}

			out := cmd.OutOrStdout()
			if total == 0 {
				fmt.Fprintln(out, "No jobs recorded")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, jobRow(j))
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Status", "Format", "Frames", "Progress", "Took", "Created"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			fmt.Fprintf(out, "Showing %d of %d\n", len(jobs), total)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of jobs to skip")
	return cmd
}

func jobRow(j *model.Job) []string {
	status := j.Status
	if j.ErrorKind != "" {
		status += " (" + j.ErrorKind + ")"
	}
	took := "-"
	if j.DurationMS != nil {
		took = (time.Duration(*j.DurationMS) * time.Millisecond).String()
	}
	return []string{
		j.ID,
		status,
		upperCase.String(j.Format),
		strconv.Itoa(j.FrameCount),
		strconv.Itoa(j.Progress) + "%",
		took,
		j.CreatedAt.Local().Format(time.DateTime),
	}
}

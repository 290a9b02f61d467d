package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/quailyquaily/nightshift/internal/clifmt"
	"github.com/quailyquaily/nightshift/internal/strutil"
	"github.com/quailyquaily/nightshift/queue"
	"github.com/quailyquaily/nightshift/results"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts, running tasks and today's agent usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				counts, err := a.queue.Status(ctx)
				if err != nil {
					return err
				}
				running, err := a.queue.InProgress(ctx)
				if err != nil {
					return err
				}
				now := time.Now()
				day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
				usage, err := a.results.UsageSince(ctx, day)
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), counts, running, usage, now)
				return nil
			})
		},
	}
}

func printStatus(w io.Writer, c queue.StatusCounts, running []queue.Task, u results.UsageTotals, now time.Time) {
	fmt.Fprintln(w, clifmt.Headerf("Queue"))
	clifmt.Fields(w,
		[2]string{"pending", strconv.Itoa(c.Pending)},
		[2]string{"in_progress", strconv.Itoa(c.InProgress)},
		[2]string{"completed", strconv.Itoa(c.Completed)},
		[2]string{"failed", strconv.Itoa(c.Failed)},
		[2]string{"cancelled", strconv.Itoa(c.Cancelled)},
		[2]string{"total", strconv.Itoa(c.Total)},
	)

	fmt.Fprintln(w)
	fmt.Fprintln(w, clifmt.Headerf("Running"))
	if len(running) == 0 {
		fmt.Fprintln(w, clifmt.Dim("idle"))
	}
	for _, t := range running {
		age := "-"
		if t.StartedAt != nil {
			age = now.Sub(*t.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "#%-5d %-8s %s\n", t.ID, age, strutil.TruncateRunes(t.Description, 70))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, clifmt.Headerf("Agent usage today"))
	clifmt.Fields(w,
		[2]string{"executions", strconv.Itoa(u.Executions)},
		[2]string{"cost", fmt.Sprintf("$%.2f", u.TotalCostUSD)},
		[2]string{"time", (time.Duration(u.DurationMs) * time.Millisecond).Round(time.Second).String()},
	)
}

func newProjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List projects and their task counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				projects, err := a.queue.Projects(ctx)
				if err != nil {
					return err
				}
				printProjects(cmd.OutOrStdout(), projects)
				return nil
			})
		},
	}
	cmd.AddCommand(newProjectShowCmd(), newProjectDeleteCmd())
	return cmd
}

func printProjects(w io.Writer, projects []queue.ProjectSummary) {
	if len(projects) == 0 {
		fmt.Fprintln(w, clifmt.Dim("no projects"))
		return
	}
	for _, p := range projects {
		fmt.Fprintf(w, "%s %s  %s\n",
			clifmt.Key(p.ProjectID),
			clifmt.Dim(p.ProjectName),
			projectCounts(p),
		)
	}
}

func projectCounts(p queue.ProjectSummary) string {
	return fmt.Sprintf("%d tasks: %d pending, %d running, %d done, %d failed",
		p.TotalTasks, p.Pending, p.InProgress, p.Completed, p.Failed)
}

func newProjectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show one project and its latest tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				detail, err := a.queue.Project(ctx, args[0])
				if err != nil {
					return err
				}
				if detail == nil {
					return fmt.Errorf("project %q not found", args[0])
				}
				w := cmd.OutOrStdout()
				fmt.Fprintln(w, clifmt.Headerf("Project %s", detail.ProjectID))
				clifmt.Fields(w,
					[2]string{"name", detail.ProjectName},
					[2]string{"created", formatTime(&detail.CreatedAt)},
					[2]string{"tasks", projectCounts(detail.ProjectSummary)},
				)
				fmt.Fprintln(w)
				for _, t := range detail.Recent {
					fmt.Fprintf(w, "#%-5d %-11s %s\n", t.ID, clifmt.Status(string(t.Status)), t.Description)
				}
				return nil
			})
		},
	}
}

func newProjectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Cancel every pending task of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := a.queue.DeleteProject(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), clifmt.Success(fmt.Sprintf("Cancelled %d pending task(s) in %s", n, args[0])))
				return nil
			})
		},
	}
}

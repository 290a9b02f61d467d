package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/quailyquaily/nightshift/internal/clifmt"
	"github.com/quailyquaily/nightshift/internal/strutil"
	"github.com/quailyquaily/nightshift/internal/taskinput"
	"github.com/quailyquaily/nightshift/queue"
	"github.com/quailyquaily/nightshift/results"
	"github.com/spf13/cobra"
)

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	log, err := loggerFromViper(os.Stderr)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Queue, inspect and cancel tasks",
	}
	cmd.AddCommand(
		newTaskAddCmd(),
		newTaskCancelCmd(),
		newTaskShowCmd(),
		newTaskListCmd(),
		newTaskPriorityCmd(),
	)
	return cmd
}

type addOptions struct {
	priority string
	project  string
	taskType string
	assignee string
	context  []string
}

func newTaskAddCmd() *cobra.Command {
	var opts addOptions
	cmd := &cobra.Command{
		Use:   "add <description>",
		Short: "Queue a task for the agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return addTask(ctx, cmd.OutOrStdout(), a.queue, strings.Join(args, " "), opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.priority, "priority", string(queue.PrioritySerious), "serious, thought or generated")
	cmd.Flags().StringVar(&opts.project, "project", "", "project name; tasks of one project share a workspace")
	cmd.Flags().StringVar(&opts.taskType, "type", string(queue.TaskTypeNew), "new or refine")
	cmd.Flags().StringVar(&opts.assignee, "assign", "", "who to notify when the task finishes")
	cmd.Flags().StringArrayVar(&opts.context, "context", nil, "extra context as key=value (repeatable)")
	return cmd
}

// newThinkCmd queues a low-priority thought.
func newThinkCmd() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "think <idea>",
		Short: "Queue a thought to explore when nothing serious is waiting",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return addTask(ctx, cmd.OutOrStdout(), a.queue, strings.Join(args, " "), addOptions{
					priority: string(queue.PriorityThought),
					project:  project,
				})
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name")
	return cmd
}

type taskAdder interface {
	Add(ctx context.Context, in queue.NewTask) (*queue.Task, error)
}

func addTask(ctx context.Context, w io.Writer, q taskAdder, raw string, opts addOptions) error {
	parsed := taskinput.Prepare(raw, opts.project)
	if parsed.Description == "" {
		return fmt.Errorf("empty task description")
	}
	priority, err := queue.ParsePriority(opts.priority)
	if err != nil {
		return err
	}
	taskType, err := queue.ParseTaskType(opts.taskType)
	if err != nil {
		return err
	}
	extra, err := parseContextPairs(opts.context)
	if err != nil {
		return err
	}

	task, err := q.Add(ctx, queue.NewTask{
		Description: parsed.Description,
		Priority:    priority,
		TaskType:    taskType,
		Context:     extra,
		AssignedTo:  strings.TrimSpace(opts.assignee),
		ProjectID:   parsed.ProjectID,
		ProjectName: parsed.ProjectName,
	})
	if err != nil {
		return err
	}
	if parsed.Note != "" {
		fmt.Fprintln(w, clifmt.Warn(parsed.Note))
	}
	line := fmt.Sprintf("Task #%d queued (%s)", task.ID, task.Priority)
	if task.ProjectID != "" {
		line += fmt.Sprintf(" in project %s", task.ProjectID)
	}
	fmt.Fprintln(w, clifmt.Success(line))
	return nil
}

// parseContextPairs turns repeated key=value flags into a context map.
// Integer values are stored as numbers so ids survive a round trip.
func parseContextPairs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --context %q (want key=value)", p)
		}
		v = strings.TrimSpace(v)
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
			continue
		}
		out[k] = v
	}
	return out, nil
}

func parseTaskID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(s), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func newTaskCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				task, err := a.queue.Cancel(ctx, id)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				switch {
				case task == nil:
					return fmt.Errorf("task #%d not found", id)
				case task.Status == queue.StatusCancelled:
					fmt.Fprintln(w, clifmt.Success(fmt.Sprintf("Task #%d cancelled", id)))
				default:
					fmt.Fprintln(w, clifmt.Warn(fmt.Sprintf("Task #%d is %s and cannot be cancelled", id, task.Status)))
				}
				return nil
			})
		},
	}
}

func newTaskPriorityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "priority <id> <serious|thought|generated>",
		Short: "Change the priority of a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				task, err := a.queue.UpdatePriority(ctx, id, queue.Priority(args[1]))
				if err != nil {
					return err
				}
				if task == nil {
					return fmt.Errorf("task #%d not found", id)
				}
				fmt.Fprintln(cmd.OutOrStdout(), clifmt.Success(fmt.Sprintf("Task #%d is now %s", id, task.Priority)))
				return nil
			})
		},
	}
}

func newTaskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task and its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				task, err := a.queue.Get(ctx, id)
				if err != nil {
					return err
				}
				if task == nil {
					return fmt.Errorf("task #%d not found", id)
				}
				res, err := a.results.ForTask(ctx, id)
				if err != nil {
					return err
				}
				printTask(cmd.OutOrStdout(), *task, res)
				return nil
			})
		},
	}
}

func printTask(w io.Writer, t queue.Task, res []results.Result) {
	fmt.Fprintln(w, clifmt.Headerf("Task #%d", t.ID))
	pairs := [][2]string{
		{"status", clifmt.Status(string(t.Status))},
		{"priority", string(t.Priority)},
		{"type", string(t.TaskType)},
		{"created", formatTime(&t.CreatedAt)},
	}
	if t.StartedAt != nil {
		pairs = append(pairs, [2]string{"started", formatTime(t.StartedAt)})
	}
	if t.CompletedAt != nil {
		pairs = append(pairs, [2]string{"finished", formatTime(t.CompletedAt)})
	}
	if t.ProjectID != "" {
		pairs = append(pairs, [2]string{"project", t.ProjectID})
	}
	if t.AssignedTo != "" {
		pairs = append(pairs, [2]string{"assigned", t.AssignedTo})
	}
	if t.ErrorMessage != "" {
		pairs = append(pairs, [2]string{"error", clifmt.Fail(t.ErrorMessage)})
	}
	clifmt.Fields(w, pairs...)
	fmt.Fprintf(w, "\n%s\n", t.Description)

	for _, r := range res {
		fmt.Fprintln(w)
		fmt.Fprintln(w, clifmt.Headerf("Result #%d", r.ID))
		rp := [][2]string{
			{"files", strconv.Itoa(len(r.FilesModified))},
			{"commands", strconv.Itoa(len(r.CommandsExecuted))},
			{"duration", fmt.Sprintf("%ds", r.ProcessingTimeSeconds)},
		}
		if r.GitCommitSHA != "" {
			rp = append(rp, [2]string{"commit", r.GitCommitSHA})
		}
		if r.GitBranch != "" {
			rp = append(rp, [2]string{"branch", r.GitBranch})
		}
		clifmt.Fields(w, rp...)
		if out := strings.TrimSpace(r.Output); out != "" {
			fmt.Fprintln(w, clifmt.Dim(strutil.TruncateRunes(out, 800)))
		}
	}
}

func newTaskListCmd() *cobra.Command {
	var (
		which string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending, recent or failed tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				var (
					tasks []queue.Task
					err   error
				)
				switch strings.ToLower(strings.TrimSpace(which)) {
				case "", "pending":
					tasks, err = a.queue.Pending(ctx, limit)
				case "recent":
					tasks, err = a.queue.Recent(ctx, limit)
				case "failed":
					tasks, err = a.queue.Failed(ctx, limit)
				case "running", "in_progress":
					tasks, err = a.queue.InProgress(ctx)
				default:
					return fmt.Errorf("unknown list %q (want pending|recent|failed|running)", which)
				}
				if err != nil {
					return err
				}
				printTaskLines(cmd.OutOrStdout(), tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&which, "which", "pending", "pending, recent, failed or running")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of tasks")
	return cmd
}

func printTaskLines(w io.Writer, tasks []queue.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, clifmt.Dim("no tasks"))
		return
	}
	for _, t := range tasks {
		line := fmt.Sprintf("#%-5d %-11s %-9s %s", t.ID, clifmt.Status(string(t.Status)), t.Priority, strutil.TruncateRunes(t.Description, 70))
		if t.ProjectID != "" {
			line += " " + clifmt.Dim("["+t.ProjectID+"]")
		}
		fmt.Fprintln(w, line)
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

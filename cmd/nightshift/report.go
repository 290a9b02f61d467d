package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/quailyquaily/nightshift/internal/clifmt"
	"github.com/quailyquaily/nightshift/report"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const reportDateLayout = "2006-01-02"

type reportOptions struct {
	date      string
	project   string
	summarize bool
	list      bool
	raw       bool
}

func newReportCmd() *cobra.Command {
	var opts reportOptions
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a daily or project report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return runReport(cmd.OutOrStdout(), a.reports, opts, time.Now())
			})
		},
	}
	cmd.Flags().StringVar(&opts.date, "date", "", "report day as YYYY-MM-DD (default today, UTC)")
	cmd.Flags().StringVar(&opts.project, "project", "", "show a project report instead of a daily one")
	cmd.Flags().BoolVar(&opts.summarize, "summarize", false, "rewrite the summary section before printing")
	cmd.Flags().BoolVar(&opts.list, "list", false, "list available reports")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "print markdown without terminal rendering")
	cmd.MarkFlagsMutuallyExclusive("date", "project")
	return cmd
}

func runReport(w io.Writer, g *report.Generator, opts reportOptions, now time.Time) error {
	if opts.list {
		return listReports(w, g)
	}

	var (
		content string
		ok      bool
		err     error
		name    string
	)
	if p := strings.TrimSpace(opts.project); p != "" {
		name = "project " + p
		if opts.summarize {
			if _, err := g.SummarizeProject(p); err != nil {
				return err
			}
		}
		content, ok, err = g.Project(p)
	} else {
		day, perr := parseReportDate(opts.date, now)
		if perr != nil {
			return perr
		}
		name = day.Format(reportDateLayout)
		if opts.summarize {
			if _, err := g.SummarizeDaily(day); err != nil {
				return err
			}
		}
		content, ok, err = g.Daily(day)
	}
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(w, clifmt.Dim("no report for "+name))
		return nil
	}
	fmt.Fprint(w, renderMarkdown(content, !opts.raw && isTerminal(w)))
	return nil
}

func parseReportDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "today":
		return now.UTC(), nil
	case "yesterday":
		return now.UTC().AddDate(0, 0, -1), nil
	}
	day, err := time.Parse(reportDateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q (want YYYY-MM-DD)", s)
	}
	return day, nil
}

func listReports(w io.Writer, g *report.Generator) error {
	days, err := g.ListDaily()
	if err != nil {
		return err
	}
	projects, err := g.ListProjects()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, clifmt.Headerf("Daily"))
	if len(days) == 0 {
		fmt.Fprintln(w, clifmt.Dim("none"))
	}
	for _, d := range days {
		fmt.Fprintln(w, d)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, clifmt.Headerf("Projects"))
	if len(projects) == 0 {
		fmt.Fprintln(w, clifmt.Dim("none"))
	}
	for _, p := range projects {
		fmt.Fprintln(w, p)
	}
	return nil
}

func renderMarkdown(content string, tty bool) string {
	if !tty {
		return content
	}
	width := clifmt.TermWidth(100)
	return string(markdown.Render(content, width, 2))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

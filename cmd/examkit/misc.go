package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/wudi/examkit/config"
	"github.com/wudi/examkit/fsx"
	"github.com/wudi/examkit/report"
	"github.com/wudi/examkit/review"
	"github.com/wudi/examkit/templates"
)

func templatesCmd(_ context.Context, e *env, args []string) error {
	fs, cf := newFlagSet(e, "templates", "[-export FILE] [flags]")
	export := fs.String("export", "", "write all templates as JSON to FILE")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := e.setup(fs, cf, config.CLI{}); err != nil {
		return err
	}
	reg, err := e.registry()
	if err != nil {
		return err
	}
	all := reg.Templates()

	if *export != "" {
		var b strings.Builder
		if err := templates.Encode(&b, all); err != nil {
			return err
		}
		return fsx.WriteFileAtomic(filepath.Dir(*export), filepath.Base(*export), []byte(b.String()))
	}

	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FAMILY\tVERSION\tYEARS\tPAGES\tQUESTIONS")
	for _, t := range all {
		fmt.Fprintf(tw, "%s\t%s\t%d-%d\t%d\t%d\n", t.Family, t.Version, t.YearMin, t.YearMax, len(t.Pages), t.QuestionCount())
	}
	return tw.Flush()
}

func reportCmd(_ context.Context, e *env, args []string) error {
	fs, cf := newFlagSet(e, "report", "-summary FILE [-html FILE]")
	summary := fs.String("summary", "", "split_summary.json to render")
	htmlOut := fs.String("html", "", "output file (default report.html next to the summary)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *summary == "" {
		return fmt.Errorf("%w: -summary is required", errUsage)
	}
	if err := e.setup(fs, cf, config.CLI{}); err != nil {
		return err
	}
	s, err := fsx.ReadSummary(*summary)
	if err != nil {
		return err
	}
	page, err := report.SummaryHTML(s)
	if err != nil {
		return err
	}
	out := *htmlOut
	if out == "" {
		out = filepath.Join(filepath.Dir(*summary), "report.html")
	}
	if err := fsx.WriteFileAtomic(filepath.Dir(out), filepath.Base(out), page); err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, out)
	return nil
}

func reviewCmd(_ context.Context, e *env, args []string) error {
	fs, cf := newFlagSet(e, "review", "[-resolve PROBLEM_ID] [-all]")
	resolve := fs.String("resolve", "", "mark a problem as reviewed")
	all := fs.Bool("all", false, "include resolved entries")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := e.setup(fs, cf, config.CLI{}); err != nil {
		return err
	}
	q := review.Open(e.cfg.ReviewQueue, e.log)

	if *resolve != "" {
		ok, err := q.Resolve(*resolve)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s is not in %s", *resolve, e.cfg.ReviewQueue)
		}
		return nil
	}

	var entries []review.Entry
	var err error
	if *all {
		entries, err = q.Entries()
	} else {
		entries, err = q.Pending()
	}
	if err != nil {
		return err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ProblemID < entries[j].ProblemID })
	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	for _, en := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", en.ProblemID, en.Status, en.Reason)
	}
	if len(entries) == 0 {
		fmt.Fprintf(e.stderr, "no entries in %s\n", e.cfg.ReviewQueue)
	}
	return tw.Flush()
}

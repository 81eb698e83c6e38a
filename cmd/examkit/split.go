package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wudi/examkit/batch"
	"github.com/wudi/examkit/config"
	"github.com/wudi/examkit/fsx"
	"github.com/wudi/examkit/observability"
	"github.com/wudi/examkit/ocr"
	"github.com/wudi/examkit/ocr/gemini"
	"github.com/wudi/examkit/ocr/tesseract"
	"github.com/wudi/examkit/recognizer"
	"github.com/wudi/examkit/records"
	"github.com/wudi/examkit/report"
	"github.com/wudi/examkit/review"
	"github.com/wudi/examkit/splitter"
	"github.com/wudi/examkit/templates"
)

const splitUsage = `[flags] [EXAM:YEAR:DIR ...]

Each EXAM:YEAR:DIR argument is one exam whose page images (PNG or JPEG,
ordered by the numbers in their names) live in DIR. Alternatively use -exam, -year and -pages
for a single exam. Crops go to <out>/<year>_<exam>/.`

// jobSpec is one exam named on the command line.
type jobSpec struct {
	exam string
	year int
	dir  string
}

func parseJobSpec(s string) (jobSpec, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return jobSpec{}, fmt.Errorf("%w: want EXAM:YEAR:DIR, got %q", errUsage, s)
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return jobSpec{}, fmt.Errorf("%w: bad year in %q", errUsage, s)
	}
	return jobSpec{exam: parts[0], year: year, dir: parts[2]}, nil
}

func splitCmd(ctx context.Context, e *env, args []string) error {
	fs, cf := newFlagSet(e, "split", splitUsage)
	exam := fs.String("exam", "", "exam family, e.g. CSAT, KICE6, KICE9")
	year := fs.Int("year", 0, "exam year")
	pages := fs.String("pages", "", "directory of page images")
	rec := fs.String("recognizer", "", "none, tesseract or gemini")
	concurrency := fs.Int("concurrency", 0, "exams split in parallel")
	noReport := fs.Bool("no-report", false, "skip report.html")
	if err := parse(fs, args); err != nil {
		return err
	}

	var specs []jobSpec
	if *exam != "" || *pages != "" {
		if *exam == "" || *year == 0 || *pages == "" {
			return fmt.Errorf("%w: -exam, -year and -pages go together", errUsage)
		}
		specs = append(specs, jobSpec{exam: *exam, year: *year, dir: *pages})
	}
	for _, a := range fs.Args() {
		s, err := parseJobSpec(a)
		if err != nil {
			return err
		}
		specs = append(specs, s)
	}
	if len(specs) == 0 {
		return fmt.Errorf("%w: no exam given", errUsage)
	}

	cli := config.CLI{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "recognizer":
			cli.Recognizer = rec
		case "concurrency":
			cli.Concurrency = concurrency
		}
	})
	if err := e.setup(fs, cf, cli); err != nil {
		return err
	}

	reg, err := e.registry()
	if err != nil {
		return err
	}
	sp, err := e.splitter(reg)
	if err != nil {
		return err
	}

	jobs := make([]batch.Job, 0, len(specs))
	for _, s := range specs {
		src, err := batch.OpenDir(s.dir)
		if err != nil {
			return err
		}
		if src.Len() == 0 {
			return fmt.Errorf("no page images in %s", s.dir)
		}
		out, err := fsx.NewDir(filepath.Join(e.cfg.OutputDir, fmt.Sprintf("%d_%s", s.year, s.exam)))
		if err != nil {
			return err
		}
		jobs = append(jobs, batch.Job{Exam: s.exam, Year: s.year, Pages: src, Store: out, Summary: out})
	}

	runner := &batch.Runner{Splitter: sp, Logger: e.log, Observer: progress{log: e.log}}
	sums, runErr := batch.RunAll(ctx, runner, jobs, e.cfg.Concurrency)

	queue := review.Open(e.cfg.ReviewQueue, e.log)
	st, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}
	for i, s := range sums {
		if s.RunID == "" {
			continue // job never started
		}
		dir := jobs[i].Summary.(*fsx.Dir)
		if err := dir.WriteOverrides(reg.AuditFor(s.Exam, s.Template)); err != nil {
			e.log.Error("write template overrides", observability.Error("err", err))
		}
		if _, err := queue.FlagSummary(s); err != nil {
			e.log.Error("update review queue", observability.Error("err", err))
		}
		if st != nil {
			if err := st.UpsertSplits(context.WithoutCancel(ctx), records.FromSummary(s)); err != nil {
				e.log.Error("store split records", observability.Error("err", err))
			}
		}
		if !*noReport {
			if page, err := report.SummaryHTML(s); err != nil {
				e.log.Error("render report", observability.Error("err", err))
			} else if err := fsx.WriteFileAtomic(dir.Root, "report.html", page); err != nil {
				e.log.Error("write report", observability.Error("err", err))
			}
		}
		fmt.Fprintf(e.stdout, "%d %s: %d crops, %d need review, mean confidence %.2f -> %s\n",
			s.Year, s.Exam, s.Total, s.NeedsReviewCount, s.MeanConfidence, dir.Path(fsx.SummaryFile))
	}
	return runErr
}

// splitter builds the splitter for the configured recognizer.
func (e *env) splitter(reg *templates.Registry) (*splitter.Splitter, error) {
	var engine ocr.Engine
	switch e.cfg.Recognizer {
	case config.RecognizerNone:
		return splitter.New(reg, splitter.WithLogger(e.log)), nil
	case config.RecognizerTesseract:
		engine = tesseract.New(e.cfg.Languages...)
	case config.RecognizerGemini:
		key := e.cfg.GeminiAPIKey()
		if key == "" {
			return nil, &config.Error{Code: config.ErrCodeInvalid, Err: fmt.Errorf("recognizer gemini needs $%s", e.cfg.GeminiAPIKeyEnv)}
		}
		engine = gemini.New(key, e.cfg.GeminiModel)
	}
	rec := recognizer.FromEngine(engine,
		recognizer.WithTimeout(e.cfg.RecognizerTimeout),
		recognizer.WithHeaderFraction(e.cfg.HeaderFraction),
		recognizer.WithLogger(e.log),
		recognizer.WithPageDPI(e.cfg.PageDPI),
		recognizer.WithInputOptions(ocr.WithLanguages(e.cfg.Languages...)))
	e.log.Info("recognizer enabled", observability.String("engine", rec.Engine()))
	return splitter.NewVerified(reg, rec, splitter.WithLogger(e.log)), nil
}

// progress logs one line per finished page.
type progress struct{ log observability.Logger }

func (p progress) OnPageDone(exam string, year int, split splitter.PageSplit) {
	p.log.Info("page done",
		observability.String("exam", exam),
		observability.Int("year", year),
		observability.Int("page", split.Page),
		observability.String("outcome", split.Outcome.String()),
		observability.Int("crops", len(split.Results)),
		observability.Int("needs_review", split.NeedsReview()))
}

func (progress) OnResult(string, int, batch.ResultEntry) {}

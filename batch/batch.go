// Package batch runs the splitter over every page of an exam, stores the
// crops and writes a run summary.
package batch

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/examkit/observability"
	"github.com/wudi/examkit/splitter"
)

// CropStore persists encoded crops under their canonical file name.
type CropStore interface {
	Put(ctx context.Context, name string, png []byte) error
}

// SummaryWriter persists the finished summary of a run.
type SummaryWriter interface {
	WriteSummary(ctx context.Context, s RunSummary) error
}

// Job identifies one exam to split. Store and Summary, when set, take the
// place of the runner's for this job only.
type Job struct {
	Exam    string
	Year    int
	Pages   PageSource
	Store   CropStore
	Summary SummaryWriter
}

// Runner splits jobs page by page. A Runner holds no per-run state and may be
// shared across goroutines if its Store, Summary and Observer are.
type Runner struct {
	Splitter *splitter.Splitter
	Store    CropStore     // optional; crops stay in memory when nil
	Summary  SummaryWriter // optional
	Logger   observability.Logger
	Observer Observer

	now func() time.Time
}

// Run splits every page of job in order. Cancellation is honored between
// pages: the summary built so far is written with Aborted set and ctx.Err()
// is returned. The only other errors are a missing template for the exam, a
// page that cannot be read and a failed summary write.
func (r *Runner) Run(ctx context.Context, job Job) (RunSummary, error) {
	log := observability.OrNop(r.Logger)
	obs := r.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	now := r.now
	if now == nil {
		now = time.Now
	}

	tmpl, err := r.Splitter.Template(job.Exam, job.Year)
	if err != nil {
		log.Error("no template for exam", observability.String("exam", job.Exam), observability.Int("year", job.Year), observability.Error("err", err))
		return RunSummary{}, err
	}

	sum := RunSummary{
		RunID:     uuid.NewString(),
		Exam:      job.Exam,
		Year:      job.Year,
		Template:  tmpl.Version,
		Verified:  r.Splitter.Verified(),
		StartedAt: now(),
	}
	log = log.With(observability.String("run_id", sum.RunID), observability.String("exam", job.Exam), observability.Int("year", job.Year))
	if !sum.Verified {
		log.Warn("no recognizer configured, crops are not cross-checked")
	}
	log.Info("split started", observability.String("template", tmpl.Family+"/"+tmpl.Version), observability.Int("pages", job.Pages.Len()))

	var runErr error
	for n := 1; n <= job.Pages.Len(); n++ {
		if err := ctx.Err(); err != nil {
			sum.Aborted = true
			runErr = err
			log.Warn("split canceled", observability.Int("page", n))
			break
		}
		img, err := job.Pages.Page(ctx, n)
		if err != nil {
			sum.Aborted = true
			runErr = fmt.Errorf("page %d: %w", n, err)
			log.Error("read page", observability.Int("page", n), observability.Error("err", err))
			break
		}

		// a started page always completes
		pctx := context.WithoutCancel(ctx)
		split := r.Splitter.SplitWith(pctx, img, tmpl, n)
		for _, res := range split.Results {
			entry := r.store(pctx, log, job, res)
			sum.Results = append(sum.Results, entry)
			obs.OnResult(job.Exam, job.Year, entry)
		}
		sum.Pages++
		obs.OnPageDone(job.Exam, job.Year, split)
	}

	sum.FinishedAt = now()
	sum.Finalize()
	log.Info("split finished",
		observability.Int("total", sum.Total),
		observability.Int("needs_review", sum.NeedsReviewCount),
		observability.Float("mean_confidence", sum.MeanConfidence),
		observability.Bool("aborted", sum.Aborted))

	sw := r.Summary
	if job.Summary != nil {
		sw = job.Summary
	}
	if sw != nil {
		if err := sw.WriteSummary(context.WithoutCancel(ctx), sum); err != nil {
			log.Error("write summary", observability.Error("err", err))
			if runErr == nil {
				runErr = fmt.Errorf("write summary: %w", err)
			}
		}
	}
	return sum, runErr
}

func (r *Runner) store(ctx context.Context, log observability.Logger, job Job, res splitter.Result) ResultEntry {
	id := ProblemID(job.Year, job.Exam, res.Question)
	if res.Question == 0 {
		id = FallbackID(job.Year, job.Exam, res.Page)
	}
	entry := ResultEntry{
		ProblemID:   id,
		Filename:    Filename(id),
		Page:        res.Page,
		Question:    res.Question,
		Confidence:  res.Confidence,
		NeedsReview: res.NeedsReview,
		Reason:      res.Reason,
		Detected:    res.Detected,
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, res.Image); err != nil {
		entry.StoreError = "encode: " + err.Error()
		log.Error("encode crop", observability.String("problem_id", id), observability.Error("err", err))
		return entry
	}
	data := buf.Bytes()
	sumb := blake2b.Sum256(data)
	entry.Digest = hex.EncodeToString(sumb[:])

	cs := r.Store
	if job.Store != nil {
		cs = job.Store
	}
	if cs == nil {
		entry.Data = data
		return entry
	}
	if err := cs.Put(ctx, entry.Filename, data); err != nil {
		entry.StoreError = err.Error()
		entry.Data = data
		log.Warn("store crop", observability.String("problem_id", id), observability.Error("err", err))
		return entry
	}
	entry.Stored = true
	return entry
}

// RunAll runs independent exams concurrently, at most limit at a time
// (limit <= 0 means unbounded). Summaries are returned in job order. A
// failing job does not stop the others; the failures are joined into the
// returned error and each job keeps whatever summary it produced.
func RunAll(ctx context.Context, r *Runner, jobs []Job, limit int) ([]RunSummary, error) {
	out := make([]RunSummary, len(jobs))
	errs := make([]error, len(jobs))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, job := range jobs {
		g.Go(func() error {
			s, err := r.Run(ctx, job)
			out[i] = s
			if err != nil {
				errs[i] = fmt.Errorf("%d %s: %w", job.Year, job.Exam, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out, errors.Join(errs...)
}

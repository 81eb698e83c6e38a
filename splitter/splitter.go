// Package splitter cuts a rendered exam page into per-question crops using
// the page's template and, when a recognizer is configured, cross-checks each
// crop's printed question number.
package splitter

import (
	"context"
	"fmt"
	"image"

	"github.com/wudi/examkit/observability"
	"github.com/wudi/examkit/recognizer"
	"github.com/wudi/examkit/region"
	"github.com/wudi/examkit/templates"
)

// Confidence grades.
const (
	ConfidenceAgreed     = 1.0
	ConfidenceNoNumber   = 0.7
	ConfidenceMismatch   = 0.3
	ConfidenceNoTemplate = 0.0
)

// Review reasons.
const (
	ReasonNoNumber   = "recognizer found no number"
	ReasonNoTemplate = "no template for this page"
)

// MismatchReason formats the reason for a recognizer/template disagreement.
func MismatchReason(read, expected int) string {
	return fmt.Sprintf("recognizer read %d, template expected %d", read, expected)
}

// Result is the outcome for one expected region. Results are never
// modified after Split returns them.
type Result struct {
	Page        int
	Question    int // 0 for a whole-page fallback
	Image       image.Image
	Confidence  float64
	NeedsReview bool
	Reason      string
	Detected    *int // number the recognizer read, nil when none or not checked
}

// Outcome tags how a page was split.
type Outcome int

const (
	TemplateFound Outcome = iota
	NoTemplate
)

func (o Outcome) String() string {
	switch o {
	case TemplateFound:
		return "template"
	case NoTemplate:
		return "no-template"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// PageSplit is the tagged result of splitting one page.
type PageSplit struct {
	Page     int
	Outcome  Outcome
	Template string // Family/Version that supplied the layout
	Results  []Result
}

// NeedsReview counts flagged results.
func (p PageSplit) NeedsReview() int {
	n := 0
	for _, r := range p.Results {
		if r.NeedsReview {
			n++
		}
	}
	return n
}

// verifier decides confidence for one crop. The variant is fixed when the
// Splitter is built.
type verifier interface {
	verify(ctx context.Context, expected int, crop image.Image) (conf float64, review bool, reason string, detected *int)
	checked() bool
}

type templateOnly struct{}

func (templateOnly) verify(context.Context, int, image.Image) (float64, bool, string, *int) {
	return ConfidenceAgreed, false, "", nil
}

func (templateOnly) checked() bool { return false }

type crossCheck struct {
	rec recognizer.Recognizer
}

func (c crossCheck) verify(ctx context.Context, expected int, crop image.Image) (float64, bool, string, *int) {
	read, ok := c.rec.ReadNumber(ctx, crop)
	if !ok {
		return ConfidenceNoNumber, true, ReasonNoNumber, nil
	}
	if read != expected {
		return ConfidenceMismatch, true, MismatchReason(read, expected), &read
	}
	return ConfidenceAgreed, false, "", &read
}

func (crossCheck) checked() bool { return true }

// Splitter splits pages against a template registry. It holds no per-page
// state and may be shared by concurrent batches.
type Splitter struct {
	reg    *templates.Registry
	verify verifier
	log    observability.Logger
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithLogger sets the logger used for template drift warnings.
func WithLogger(l observability.Logger) Option {
	return func(s *Splitter) { s.log = observability.OrNop(l) }
}

// New returns a template-only splitter: every crop gets confidence 1.0.
func New(reg *templates.Registry, opts ...Option) *Splitter {
	return build(reg, templateOnly{}, opts)
}

// NewVerified returns a splitter that checks each crop with rec.
func NewVerified(reg *templates.Registry, rec recognizer.Recognizer, opts ...Option) *Splitter {
	if rec == nil {
		return build(reg, templateOnly{}, opts)
	}
	return build(reg, crossCheck{rec: rec}, opts)
}

func build(reg *templates.Registry, v verifier, opts []Option) *Splitter {
	s := &Splitter{reg: reg, verify: v, log: observability.NopLogger{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verified reports whether crops are cross-checked by a recognizer.
func (s *Splitter) Verified() bool { return s.verify.checked() }

// Template resolves the layout for an exam, for callers that need it before
// splitting.
func (s *Splitter) Template(exam string, year int) (templates.ExamTemplate, error) {
	return s.reg.Lookup(exam, year)
}

// Split cuts page (1-based) of the given exam. The only error is a failed
// template lookup for (exam, year); a page missing from an otherwise known
// template yields a single whole-page result tagged NoTemplate.
func (s *Splitter) Split(ctx context.Context, img image.Image, exam string, year, page int) (PageSplit, error) {
	tmpl, err := s.reg.Lookup(exam, year)
	if err != nil {
		return PageSplit{}, err
	}
	return s.SplitWith(ctx, img, tmpl, page), nil
}

// SplitWith is Split against an already resolved template.
func (s *Splitter) SplitWith(ctx context.Context, img image.Image, tmpl templates.ExamTemplate, page int) PageSplit {
	name := tmpl.Family + "/" + tmpl.Version
	pt, ok := tmpl.Page(page)
	if !ok {
		s.log.Warn("no template for page, keeping whole page",
			observability.String("template", name), observability.Int("page", page))
		return PageSplit{
			Page:     page,
			Outcome:  NoTemplate,
			Template: name,
			Results: []Result{{
				Page:        page,
				Question:    0,
				Image:       region.Crop(img, region.Full),
				Confidence:  ConfidenceNoTemplate,
				NeedsReview: true,
				Reason:      ReasonNoTemplate,
			}},
		}
	}

	results := make([]Result, 0, pt.Len())
	for i, q := range pt.Questions {
		crop := region.Crop(img, pt.Regions[i])
		conf, review, reason, detected := s.verify.verify(ctx, q, crop)
		if detected != nil && *detected != q {
			s.log.Warn("question number mismatch",
				observability.String("template", name),
				observability.Int("page", page),
				observability.Int("expected", q),
				observability.Int("detected", *detected))
		}
		results = append(results, Result{
			Page:        page,
			Question:    q,
			Image:       crop,
			Confidence:  conf,
			NeedsReview: review,
			Reason:      reason,
			Detected:    detected,
		})
	}
	return PageSplit{Page: page, Outcome: TemplateFound, Template: name, Results: results}
}

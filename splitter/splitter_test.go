package splitter

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/wudi/examkit/recognizer"
	"github.com/wudi/examkit/region"
	"github.com/wudi/examkit/templates"
)

// sequence answers ReadNumber calls in order; -1 means no number.
func sequence(reads ...int) recognizer.Recognizer {
	i := 0
	return recognizer.Func(func(context.Context, image.Image) (int, bool) {
		n := reads[i]
		i++
		return n, n >= 0
	})
}

func testRegistry(t *testing.T) *templates.Registry {
	t.Helper()
	reg, err := templates.NewRegistry(nil, templates.ExamTemplate{
		Family: "T", Version: "v1", YearMin: 2026, YearMax: 2026,
		Pages: map[int]region.PageTemplate{
			1: {Page: 1, Questions: []int{1, 2, 3, 4}, Regions: []region.Region{
				region.MustNew(0, 0.5, 0, 0.5), region.MustNew(0.5, 1, 0, 0.5),
				region.MustNew(0, 0.5, 0.5, 1), region.MustNew(0.5, 1, 0.5, 1),
			}},
			2: {Page: 2, Questions: []int{5, 6}, Regions: []region.Region{region.Rows(0, 0.5), region.Rows(0.5, 1)}},
		},
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func page() image.Image { return image.NewRGBA(image.Rect(0, 0, 200, 300)) }

func TestSplitWithoutRecognizer(t *testing.T) {
	s := New(testRegistry(t))
	if s.Verified() {
		t.Fatalf("template-only splitter reports verified")
	}
	ps, err := s.Split(context.Background(), page(), "T", 2026, 1)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if ps.Outcome != TemplateFound || len(ps.Results) != 4 {
		t.Fatalf("unexpected split: outcome=%v results=%d", ps.Outcome, len(ps.Results))
	}
	for i, r := range ps.Results {
		if r.Question != i+1 || r.Confidence != 1.0 || r.NeedsReview || r.Reason != "" || r.Detected != nil {
			t.Fatalf("result %d: %+v", i, r)
		}
		if r.Image.Bounds() != image.Rect(0, 0, 100, 150) {
			t.Fatalf("result %d: crop bounds %v", i, r.Image.Bounds())
		}
	}
}

func TestSplitRecognizerAgrees(t *testing.T) {
	s := NewVerified(testRegistry(t), sequence(1, 2, 3, 4))
	ps, _ := s.Split(context.Background(), page(), "T", 2026, 1)
	for _, r := range ps.Results {
		if r.Confidence != 1.0 || r.NeedsReview || r.Detected == nil || *r.Detected != r.Question {
			t.Fatalf("unexpected result: %+v", r)
		}
	}
	if ps.NeedsReview() != 0 {
		t.Fatalf("expected no review")
	}
}

func TestSplitMismatchIsolatedToOneRegion(t *testing.T) {
	s := NewVerified(testRegistry(t), sequence(1, 9, 3, 4))
	ps, _ := s.Split(context.Background(), page(), "T", 2026, 1)

	bad := ps.Results[1]
	if !bad.NeedsReview || bad.Confidence != 0.3 || bad.Reason != "recognizer read 9, template expected 2" || *bad.Detected != 9 {
		t.Fatalf("mismatch not flagged: %+v", bad)
	}
	for _, i := range []int{0, 2, 3} {
		if r := ps.Results[i]; r.NeedsReview || r.Confidence != 1.0 {
			t.Fatalf("sibling %d affected: %+v", i, r)
		}
	}
}

func TestSplitRecognizerFindsNothing(t *testing.T) {
	s := NewVerified(testRegistry(t), sequence(-1, 6))
	ps, _ := s.Split(context.Background(), page(), "T", 2026, 2)
	r := ps.Results[0]
	if !r.NeedsReview || r.Confidence != 0.7 || r.Reason != ReasonNoNumber || r.Detected != nil {
		t.Fatalf("null read not flagged: %+v", r)
	}
	if ps.Results[1].NeedsReview {
		t.Fatalf("sibling affected: %+v", ps.Results[1])
	}
}

func TestSplitQuestionsFiveAndSix(t *testing.T) {
	reg := testRegistry(t)

	ps, _ := NewVerified(reg, sequence(5, 6)).Split(context.Background(), page(), "T", 2026, 2)
	if len(ps.Results) != 2 || ps.Results[0].Confidence != 1 || ps.Results[1].Confidence != 1 {
		t.Fatalf("expected two agreed results: %+v", ps.Results)
	}

	ps, _ = NewVerified(reg, sequence(5, 7)).Split(context.Background(), page(), "T", 2026, 2)
	if ps.Results[0].NeedsReview {
		t.Fatalf("Q5 should not be flagged")
	}
	if !ps.Results[1].NeedsReview || ps.Results[1].Question != 6 {
		t.Fatalf("Q6 should be flagged: %+v", ps.Results[1])
	}
}

func TestSplitMissingPageKeepsWholePage(t *testing.T) {
	s := NewVerified(testRegistry(t), sequence())
	img := page()
	ps, err := s.Split(context.Background(), img, "T", 2026, 3)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if ps.Outcome != NoTemplate || len(ps.Results) != 1 {
		t.Fatalf("unexpected split: %+v", ps)
	}
	r := ps.Results[0]
	if r.Question != 0 || r.Confidence != 0 || !r.NeedsReview || r.Reason != ReasonNoTemplate {
		t.Fatalf("unexpected fallback: %+v", r)
	}
	if r.Image.Bounds().Size() != img.Bounds().Size() {
		t.Fatalf("fallback is not the whole page: %v", r.Image.Bounds())
	}
}

func TestSplitUnknownExam(t *testing.T) {
	_, err := New(testRegistry(t)).Split(context.Background(), page(), "T", 1999, 1)
	if !errors.Is(err, templates.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNewVerifiedNilRecognizer(t *testing.T) {
	if NewVerified(testRegistry(t), nil).Verified() {
		t.Fatalf("nil recognizer must produce a template-only splitter")
	}
}

func TestSplitIsReproducible(t *testing.T) {
	reg := testRegistry(t)
	a, _ := NewVerified(reg, sequence(1, 9, -1, 4)).Split(context.Background(), page(), "T", 2026, 1)
	b, _ := NewVerified(reg, sequence(1, 9, -1, 4)).Split(context.Background(), page(), "T", 2026, 1)
	for i := range a.Results {
		x, y := a.Results[i], b.Results[i]
		if x.Question != y.Question || x.Confidence != y.Confidence || x.Reason != y.Reason || x.NeedsReview != y.NeedsReview {
			t.Fatalf("result %d differs: %+v vs %+v", i, x, y)
		}
	}
}

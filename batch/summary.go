package batch

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// ResultEntry is one crop in a RunSummary.
type ResultEntry struct {
	ProblemID   string  `json:"problem_id"`
	Filename    string  `json:"filename"`
	Page        int     `json:"page"`
	Question    int     `json:"question"`
	Confidence  float64 `json:"confidence"`
	NeedsReview bool    `json:"needs_review"`
	Reason      string  `json:"reason,omitempty"`
	Detected    *int    `json:"detected,omitempty"`
	Stored      bool    `json:"stored"`
	StoreError  string  `json:"store_error,omitempty"`
	Digest      string  `json:"digest"`

	// Data holds the PNG bytes when the crop could not be stored.
	Data []byte `json:"-"`
}

// RunSummary is the single record of a batch run. It is written once, after
// the last page, and is what review tooling reads.
type RunSummary struct {
	RunID            string        `json:"run_id"`
	Exam             string        `json:"exam"`
	Year             int           `json:"year"`
	Template         string        `json:"template"`
	Verified         bool          `json:"verified"`
	Aborted          bool          `json:"aborted"`
	Pages            int           `json:"pages"`
	Total            int           `json:"total"`
	NeedsReviewCount int           `json:"needs_review_count"`
	NeedsReview      []string      `json:"needs_review"`
	MeanConfidence   float64       `json:"mean_confidence"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
	Results          []ResultEntry `json:"results"`
}

// Finalize normalizes timestamps to UTC and derives the counters from
// Results. Results keep page/region order.
func (s *RunSummary) Finalize() {
	s.StartedAt = s.StartedAt.UTC()
	s.FinishedAt = s.FinishedAt.UTC()

	s.Total = len(s.Results)
	s.NeedsReviewCount = 0
	s.NeedsReview = []string{}
	conf := make([]float64, 0, len(s.Results))
	for _, e := range s.Results {
		conf = append(conf, e.Confidence)
		if e.NeedsReview {
			s.NeedsReviewCount++
			s.NeedsReview = append(s.NeedsReview, e.ProblemID)
		}
	}
	s.MeanConfidence = 0
	if len(conf) > 0 {
		if m := stat.Mean(conf, nil); !math.IsNaN(m) {
			s.MeanConfidence = m
		}
	}
	if s.Results == nil {
		s.Results = []ResultEntry{}
	}
}

// Unstored returns the entries whose crop did not reach the store.
func (s RunSummary) Unstored() []ResultEntry {
	var out []ResultEntry
	for _, e := range s.Results {
		if !e.Stored {
			out = append(out, e)
		}
	}
	return out
}

// ProblemID is the canonical identifier "{year}_{exam}_Q{question:02d}".
func ProblemID(year int, exam string, question int) string {
	return fmt.Sprintf("%d_%s_Q%02d", year, exam, question)
}

// FallbackID names a whole-page crop. The page suffix keeps several
// template-less pages of one exam from sharing a name.
func FallbackID(year int, exam string, page int) string {
	return fmt.Sprintf("%s_p%02d", ProblemID(year, exam, 0), page)
}

// Filename is the PNG file name for a problem id.
func Filename(problemID string) string { return problemID + ".png" }

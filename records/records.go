// Package records projects answer tables and split summaries onto the flat
// problem records kept in storage.
package records

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/wudi/examkit/answerkey"
	"github.com/wudi/examkit/batch"
)

// ProblemID is the canonical identifier "{year}_{exam}_Q{question:02d}",
// shared with crop file names.
func ProblemID(year int, exam string, question int) string {
	return batch.ProblemID(year, exam, question)
}

// Filename is the crop file name for a question.
func Filename(year int, exam string, question int) string {
	return batch.Filename(ProblemID(year, exam, question))
}

var problemIDRe = regexp.MustCompile(`^(\d{4})_(.+)_Q(\d{2,})(?:_p\d+)?$`)

// ParseProblemID splits a problem id back into its parts. Whole-page ids
// ("..._Q00_p03") parse with question 0.
func ParseProblemID(id string) (year int, exam string, question int, ok bool) {
	m := problemIDRe.FindStringSubmatch(id)
	if m == nil {
		return 0, "", 0, false
	}
	year, _ = strconv.Atoi(m[1])
	question, _ = strconv.Atoi(m[3])
	return year, m[2], question, true
}

// Problem carries the answer-key facts for one question. The verified
// fields start equal to the parsed values and are corrected by reviewers.
type Problem struct {
	ProblemID      string               `json:"problem_id"`
	Year           int                  `json:"year"`
	Exam           string               `json:"exam"`
	Question       int                  `json:"question"`
	Elective       answerkey.Elective   `json:"elective,omitempty"`
	Answer         int                  `json:"answer"`
	AnswerVerified int                  `json:"answer_verified"`
	Score          int                  `json:"score"`
	ScoreVerified  int                  `json:"score_verified"`
	AnswerType     answerkey.AnswerType `json:"answer_type"`
}

// Split carries the crop facts for one question.
type Split struct {
	ProblemID   string  `json:"problem_id"`
	ImageFile   string  `json:"image_file"`
	Page        int     `json:"page"`
	Confidence  float64 `json:"confidence"`
	NeedsReview bool    `json:"needs_review"`
	Reason      string  `json:"reason,omitempty"`
	Digest      string  `json:"digest,omitempty"`
	RunID       string  `json:"run_id"`
}

// FromAnswers returns the common questions followed by the chosen
// elective's, each in question order.
func FromAnswers(t answerkey.Table, year int, exam string, elective answerkey.Elective) ([]Problem, error) {
	section, ok := t.Electives[elective]
	if !ok {
		return nil, fmt.Errorf("%w: %q", answerkey.ErrUnknownElective, elective)
	}
	out := make([]Problem, 0, len(t.Common)+len(section))
	for _, q := range answerkey.Questions(t.Common) {
		out = append(out, problem(t.Common[q], year, exam, ""))
	}
	for _, q := range answerkey.Questions(section) {
		out = append(out, problem(section[q], year, exam, elective))
	}
	return out, nil
}

func problem(e answerkey.Entry, year int, exam string, elective answerkey.Elective) Problem {
	return Problem{
		ProblemID:      ProblemID(year, exam, e.Question),
		Year:           year,
		Exam:           exam,
		Question:       e.Question,
		Elective:       elective,
		Answer:         e.Answer,
		AnswerVerified: e.Answer,
		Score:          e.Score,
		ScoreVerified:  e.Score,
		AnswerType:     answerkey.TypeOf(e.Question),
	}
}

// FromSummary returns one record per crop that reached the store. Crops
// that were not stored have no image to point at and are left out.
func FromSummary(s batch.RunSummary) []Split {
	out := make([]Split, 0, len(s.Results))
	for _, e := range s.Results {
		if !e.Stored {
			continue
		}
		out = append(out, Split{
			ProblemID:   e.ProblemID,
			ImageFile:   e.Filename,
			Page:        e.Page,
			Confidence:  e.Confidence,
			NeedsReview: e.NeedsReview,
			Reason:      e.Reason,
			Digest:      e.Digest,
			RunID:       s.RunID,
		})
	}
	return out
}

// Package answerkey rebuilds the answer table of a math exam from the flat
// text extracted from its answer-key page.
//
// The printed table has 11 rows. Rows 1-8 hold five (question, answer,
// score) cells: two common columns followed by the three electives. Rows
// 9-11 hold only the two common cells. Extracted text loses the columns, so
// the parser relies on that fixed shape.
package answerkey

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Form is the printed variant of the exam.
type Form string

const (
	FormOdd  Form = "odd"  // 홀수형
	FormEven Form = "even" // 짝수형
)

// Elective names one of the three elective sections.
type Elective string

const (
	Probability Elective = "확률과통계"
	Calculus    Elective = "미적분"
	Geometry    Elective = "기하"
)

// Electives lists the elective sections in table column order.
var Electives = []Elective{Probability, Calculus, Geometry}

// ErrUnknownElective is returned for an elective name that is not one of
// the three sections.
var ErrUnknownElective = errors.New("answerkey: unknown elective")

// ParseElective accepts the Korean names, with or without the space in
// "확률과 통계", and the English aliases probability, calculus and geometry.
func ParseElective(s string) (Elective, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "")) {
	case string(Probability), "probability", "prob", "stats":
		return Probability, nil
	case string(Calculus), "calculus", "calc":
		return Calculus, nil
	case string(Geometry), "geometry", "geo":
		return Geometry, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownElective, s)
}

// Entry is one answer cell.
type Entry struct {
	Question int `json:"question"`
	Answer   int `json:"answer"`
	Score    int `json:"score"`
}

// Table is a parsed answer key. Maps are keyed by question number.
type Table struct {
	Form      Form                       `json:"form"`
	Common    map[int]Entry              `json:"common"`
	Electives map[Elective]map[int]Entry `json:"electives"`
}

func newTable(form Form) Table {
	t := Table{Form: form, Common: map[int]Entry{}, Electives: map[Elective]map[int]Entry{}}
	for _, e := range Electives {
		t.Electives[e] = map[int]Entry{}
	}
	return t
}

// Expected question ranges.
const (
	CommonFirst   = 1
	CommonLast    = 22
	ElectiveFirst = 23
	ElectiveLast  = 30
)

// Gaps lists the questions a table is missing.
type Gaps struct {
	Common    []int
	Electives map[Elective][]int
}

// Empty reports whether nothing is missing.
func (g Gaps) Empty() bool {
	if len(g.Common) > 0 {
		return false
	}
	for _, qs := range g.Electives {
		if len(qs) > 0 {
			return false
		}
	}
	return true
}

// Missing compares the table against 1..22 for the common section and
// 23..30 for each elective.
func (t Table) Missing() Gaps {
	g := Gaps{Common: missing(t.Common, CommonFirst, CommonLast), Electives: map[Elective][]int{}}
	for _, e := range Electives {
		if qs := missing(t.Electives[e], ElectiveFirst, ElectiveLast); len(qs) > 0 {
			g.Electives[e] = qs
		}
	}
	return g
}

// Complete reports whether every expected question is present.
func (t Table) Complete() bool { return t.Missing().Empty() }

func missing(m map[int]Entry, first, last int) []int {
	var out []int
	for q := first; q <= last; q++ {
		if _, ok := m[q]; !ok {
			out = append(out, q)
		}
	}
	return out
}

// Questions returns the sorted question numbers in m.
func Questions(m map[int]Entry) []int {
	out := make([]int, 0, len(m))
	for q := range m {
		out = append(out, q)
	}
	sort.Ints(out)
	return out
}

// AnswerType classifies a question as multiple choice or short answer.
type AnswerType string

const (
	Multiple AnswerType = "multiple"
	Short    AnswerType = "short"
)

// TypeOf returns the answer type by question number: 1-15 and 23-28 are
// multiple choice, 16-22 and 29-30 short answer. Anything else defaults to
// multiple choice.
func TypeOf(q int) AnswerType {
	switch {
	case q >= 16 && q <= 22, q >= 29 && q <= 30:
		return Short
	default:
		return Multiple
	}
}

// ErrUnrecognizedShape marks text that does not look like an answer table.
var ErrUnrecognizedShape = errors.New("answerkey: unrecognized table shape")

// ShapeError reports how many cells were found when too few were.
type ShapeError struct {
	Tokens   int
	Triplets int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("answerkey: found %d cells in %d tokens, need at least %d", e.Triplets, e.Tokens, minTriplets)
}

func (e *ShapeError) Unwrap() error { return ErrUnrecognizedShape }

const minTriplets = 2

var headerSubstrings = []string{
	"학년도", "대학수학능력시험", "수학 영역", "정답표",
	"홀수", "짝수", "공통", "선택", "확률과 통계", "미적분", "기하",
	"문항", "번호", "정답", "배점",
}

var circled = map[string]int{"①": 1, "②": 2, "③": 3, "④": 4, "⑤": 5}

// short answers run up to three digits
var digitsRe = regexp.MustCompile(`^\d{1,3}$`)

// NormalizeAnswer maps ①..⑤ to 1..5 and decimal strings to their value.
// Anything else is rejected.
func NormalizeAnswer(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if n, ok := circled[raw]; ok {
		return n, true
	}
	if !digitsRe.MatchString(raw) {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isHeader(line string) bool {
	for _, h := range headerSubstrings {
		if strings.Contains(line, h) {
			return true
		}
	}
	return false
}

// Tokens returns the normalized value tokens of text: header lines are
// dropped, every other line must be a number or a circled numeral.
func Tokens(text string) []int {
	var out []int
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isHeader(line) {
			continue
		}
		if n, ok := NormalizeAnswer(line); ok {
			out = append(out, n)
		}
	}
	return out
}

// rowShape is the number of cells per table row.
var rowShape = []int{5, 5, 5, 5, 5, 5, 5, 5, 2, 2, 2}

// Parse reconstructs the table. It never panics: short or garbled text
// yields a partial table. When fewer than two cells are found the partial
// table is returned together with a *ShapeError.
func Parse(text string) (Table, error) {
	form := FormEven
	if strings.Contains(text, "홀수") {
		form = FormOdd
	}
	t := newTable(form)

	tokens := Tokens(text)
	cells := make([]Entry, 0, len(tokens)/3)
	for i := 0; i+2 < len(tokens); i += 3 {
		cells = append(cells, Entry{Question: tokens[i], Answer: tokens[i+1], Score: tokens[i+2]})
	}

	idx := 0
	for _, width := range rowShape {
		if idx+width > len(cells) {
			break
		}
		row := cells[idx : idx+width]
		idx += width
		t.Common[row[0].Question] = row[0]
		t.Common[row[1].Question] = row[1]
		for i, e := range row[2:] {
			t.Electives[Electives[i]][e.Question] = e
		}
	}

	if len(cells) < minTriplets {
		return t, &ShapeError{Tokens: len(tokens), Triplets: len(cells)}
	}
	return t, nil
}

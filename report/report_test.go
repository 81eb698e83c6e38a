package report

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/examkit/answerkey"
	"github.com/wudi/examkit/batch"
)

func summary() batch.RunSummary {
	s := batch.RunSummary{RunID: "r1", Exam: "CSAT", Year: 2026, Template: "2026-two-column", Pages: 3, Verified: true,
		Results: []batch.ResultEntry{
			{ProblemID: "2026_CSAT_Q05", Filename: "2026_CSAT_Q05.png", Page: 2, Confidence: 1, Stored: true},
			{ProblemID: "2026_CSAT_Q06", Filename: "2026_CSAT_Q06.png", Page: 2, Confidence: 0.3, NeedsReview: true,
				Reason: "recognizer read 7, template expected 6", Stored: true},
			{ProblemID: "2026_CSAT_Q00_p03", Filename: "2026_CSAT_Q00_p03.png", Page: 3, NeedsReview: true,
				Reason: "no template for this page", StoreError: "disk | full"},
		}}
	s.Finalize()
	return s
}

func TestMarkdownListsFlaggedProblems(t *testing.T) {
	md := Markdown(summary())
	want := []string{"Needs review", "2026_CSAT_Q06", "2026_CSAT_Q00_p03", "Results"}
	if diff := cmp.Diff(want, Headings(md)); diff != "" {
		t.Fatalf("headings (-want +got):\n%s", diff)
	}
	if !strings.Contains(md, "![2026_CSAT_Q06](2026_CSAT_Q06.png)") {
		t.Fatalf("stored flagged crop not linked")
	}
	if strings.Contains(md, "![2026_CSAT_Q00_p03]") {
		t.Fatalf("unstored crop must not be linked")
	}
	if !strings.Contains(md, `no: disk \| full`) {
		t.Fatalf("store error not escaped:\n%s", md)
	}
}

func TestSummaryHTMLRendersTable(t *testing.T) {
	out, err := SummaryHTML(summary())
	if err != nil {
		t.Fatalf("SummaryHTML() error = %v", err)
	}
	page := string(out)
	for _, want := range []string{"<title>2026 CSAT split review</title>", "<table>", "<td>2026_CSAT_Q06</td>", `<img src="2026_CSAT_Q06.png"`} {
		if !strings.Contains(page, want) {
			t.Fatalf("missing %q in:\n%s", want, page)
		}
	}
}

func TestHTMLEscapesTitle(t *testing.T) {
	out, err := HTML("<x>", "hi")
	if err != nil {
		t.Fatalf("HTML() error = %v", err)
	}
	if !strings.Contains(string(out), "<title>&lt;x&gt;</title>") {
		t.Fatalf("title not escaped: %s", out)
	}
}

func TestAnswersMarkdown(t *testing.T) {
	table := answerkey.Table{
		Form:   answerkey.FormOdd,
		Common: map[int]answerkey.Entry{1: {Question: 1, Answer: 3, Score: 2}},
		Electives: map[answerkey.Elective]map[int]answerkey.Entry{
			answerkey.Probability: {}, answerkey.Calculus: {}, answerkey.Geometry: {},
		},
	}
	md := AnswersMarkdown(table)
	if !strings.Contains(md, "| 1 | 3 | 2 | multiple |") {
		t.Fatalf("missing common row:\n%s", md)
	}
	if !strings.Contains(md, "- Common: 2, 3,") || !strings.Contains(md, "- 미적분: 23, 24") {
		t.Fatalf("missing gaps:\n%s", md)
	}
}

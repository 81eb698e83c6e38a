// Package report renders run summaries and answer tables for reviewers, as
// markdown and as standalone HTML.
package report

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/wudi/examkit/answerkey"
	"github.com/wudi/examkit/batch"
)

// Markdown renders a summary: header facts, the review list with inline
// crops, then every result.
func Markdown(s batch.RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %d %s split review\n\n", s.Year, s.Exam)
	fmt.Fprintf(&b, "- Run: `%s`\n", s.RunID)
	fmt.Fprintf(&b, "- Template: %s\n", s.Template)
	fmt.Fprintf(&b, "- Pages: %d\n", s.Pages)
	fmt.Fprintf(&b, "- Crops: %d, needing review: %d\n", s.Total, s.NeedsReviewCount)
	fmt.Fprintf(&b, "- Mean confidence: %.2f\n", s.MeanConfidence)
	if !s.Verified {
		b.WriteString("- Question numbers were not cross-checked\n")
	}
	if s.Aborted {
		b.WriteString("- **Run was aborted before the last page**\n")
	}

	b.WriteString("\n## Needs review\n\n")
	flagged := 0
	for _, e := range s.Results {
		if !e.NeedsReview {
			continue
		}
		flagged++
		fmt.Fprintf(&b, "### %s\n\n%s\n\n", e.ProblemID, cell(e.Reason))
		if e.Stored {
			fmt.Fprintf(&b, "![%s](%s)\n\n", e.ProblemID, e.Filename)
		}
	}
	if flagged == 0 {
		b.WriteString("Nothing to review.\n\n")
	}

	b.WriteString("## Results\n\n")
	b.WriteString("| Problem | Page | Confidence | Review | Reason | Stored |\n")
	b.WriteString("|---|---:|---:|:---:|---|:---:|\n")
	for _, e := range s.Results {
		stored := "yes"
		if !e.Stored {
			stored = "no"
			if e.StoreError != "" {
				stored = "no: " + cell(e.StoreError)
			}
		}
		fmt.Fprintf(&b, "| %s | %d | %.1f | %s | %s | %s |\n",
			e.ProblemID, e.Page, e.Confidence, mark(e.NeedsReview), cell(e.Reason), stored)
	}
	return b.String()
}

// AnswersMarkdown renders a parsed answer key, one table per section, and
// lists missing questions.
func AnswersMarkdown(t answerkey.Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Answer key (%s form)\n\n", t.Form)
	section(&b, "Common", t.Common)
	for _, e := range answerkey.Electives {
		section(&b, string(e), t.Electives[e])
	}
	gaps := t.Missing()
	if gaps.Empty() {
		return b.String()
	}
	b.WriteString("## Missing\n\n")
	if len(gaps.Common) > 0 {
		fmt.Fprintf(&b, "- Common: %s\n", ints(gaps.Common))
	}
	for _, e := range answerkey.Electives {
		if qs := gaps.Electives[e]; len(qs) > 0 {
			fmt.Fprintf(&b, "- %s: %s\n", e, ints(qs))
		}
	}
	return b.String()
}

func section(b *strings.Builder, title string, m map[int]answerkey.Entry) {
	fmt.Fprintf(b, "## %s\n\n", title)
	if len(m) == 0 {
		b.WriteString("No entries.\n\n")
		return
	}
	b.WriteString("| Question | Answer | Score | Type |\n|---:|---:|---:|---|\n")
	for _, q := range answerkey.Questions(m) {
		e := m[q]
		fmt.Fprintf(b, "| %d | %d | %d | %s |\n", q, e.Answer, e.Score, answerkey.TypeOf(q))
	}
	b.WriteString("\n")
}

func ints(qs []int) string {
	parts := make([]string, len(qs))
	for i, q := range qs {
		parts[i] = fmt.Sprint(q)
	}
	return strings.Join(parts, ", ")
}

func mark(b bool) string {
	if b {
		return "⚠"
	}
	return ""
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func newMarkdown() goldmark.Markdown {
	return goldmark.New(goldmark.WithExtensions(extension.Table))
}

// HTML converts markdown into a standalone page.
func HTML(title, markdown string) ([]byte, error) {
	var body bytes.Buffer
	if err := newMarkdown().Convert([]byte(markdown), &body); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	fmt.Fprintf(&out, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n%s</head>\n<body>\n",
		html.EscapeString(title), style)
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")
	return out.Bytes(), nil
}

// SummaryHTML is HTML over Markdown(s).
func SummaryHTML(s batch.RunSummary) ([]byte, error) {
	return HTML(fmt.Sprintf("%d %s split review", s.Year, s.Exam), Markdown(s))
}

// Headings lists the level-2 and level-3 headings of a markdown document,
// in order. Reviewers' tools use it to build an index of flagged problems.
func Headings(markdown string) []string {
	src := []byte(markdown)
	doc := newMarkdown().Parser().Parse(text.NewReader(src))
	var out []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok && h.Level >= 2 && h.Level <= 3 {
			out = append(out, headingText(h, src))
		}
	}
	return out
}

func headingText(h *ast.Heading, src []byte) string {
	var b strings.Builder
	for c := h.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(src))
		}
	}
	return b.String()
}

const style = `<style>
body { font-family: sans-serif; max-width: 60rem; margin: 2rem auto; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.2rem 0.5rem; }
img { max-width: 100%; border: 1px solid #eee; }
</style>
`

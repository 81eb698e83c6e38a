package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/wudi/examkit/answerkey"
	"github.com/wudi/examkit/config"
	"github.com/wudi/examkit/observability"
	"github.com/wudi/examkit/records"
	"github.com/wudi/examkit/report"
)

const answersUsage = `-text FILE [-exam CSAT -year 2026 -elective 미적분] [flags]

Parses the extracted text of an answer-key page ("-" reads stdin). With
-exam and -year the answers are projected to problem records and, when a
store is configured, written to it.`

func answersCmd(ctx context.Context, e *env, args []string) error {
	fs, cf := newFlagSet(e, "answers", answersUsage)
	textPath := fs.String("text", "", "answer-key text file, - for stdin")
	exam := fs.String("exam", "", "exam family")
	year := fs.Int("year", 0, "exam year")
	elective := fs.String("elective", string(answerkey.Probability), "elective section: 확률과통계, 미적분 or 기하")
	asJSON := fs.Bool("json", false, "print records as JSON instead of a markdown table")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *textPath == "" {
		return fmt.Errorf("%w: -text is required", errUsage)
	}
	if (*exam == "") != (*year == 0) {
		return fmt.Errorf("%w: -exam and -year go together", errUsage)
	}
	el, err := answerkey.ParseElective(*elective)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if err := e.setup(fs, cf, config.CLI{}); err != nil {
		return err
	}

	text, err := readText(*textPath)
	if err != nil {
		return err
	}
	table, parseErr := answerkey.Parse(text)
	var shape *answerkey.ShapeError
	if errors.As(parseErr, &shape) {
		return parseErr
	}
	if gaps := table.Missing(); !gaps.Empty() {
		e.log.Warn("answer table incomplete",
			observability.Int("common_missing", len(gaps.Common)),
			observability.Int("electives_missing", len(gaps.Electives)))
	}

	if *exam == "" {
		if *asJSON {
			return writeJSON(e.stdout, table)
		}
		_, err := io.WriteString(e.stdout, report.AnswersMarkdown(table))
		return err
	}

	probs, err := records.FromAnswers(table, *year, *exam, el)
	if err != nil {
		return err
	}
	st, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
		if err := st.UpsertAnswers(ctx, probs); err != nil {
			return err
		}
		e.log.Info("answers stored", observability.Int("records", len(probs)), observability.String("driver", st.Driver()))
	}
	if *asJSON {
		return writeJSON(e.stdout, probs)
	}
	_, err = io.WriteString(e.stdout, report.AnswersMarkdown(table))
	return err
}

func readText(path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

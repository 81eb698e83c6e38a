package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestSlogLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	log := NewSlog(base).With(String("exam", "CSAT"))

	log.Warn("region overridden", Int("page", 2), Float("confidence", 0.3), Bool("needs_review", true), Error("err", errors.New("boom")))

	out := buf.String()
	for _, want := range []string{"level=WARN", "exam=CSAT", "page=2", "confidence=0.3", "needs_review=true", "err=boom"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output %q missing %q", out, want)
		}
	}
}

func TestOrNop(t *testing.T) {
	if _, ok := OrNop(nil).(NopLogger); !ok {
		t.Fatalf("expected NopLogger for nil")
	}
	l := NewSlog(nil)
	if OrNop(l) != Logger(l) {
		t.Fatalf("expected passthrough")
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != slog.LevelDebug || ParseLevel("warning") != slog.LevelWarn || ParseLevel("") != slog.LevelInfo {
		t.Fatalf("unexpected level mapping")
	}
}

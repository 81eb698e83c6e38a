package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/examkit/region"
	"github.com/wudi/examkit/templates"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func ptr[T any](v T) *T { return &v }

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cwd := t.TempDir()
	c, err := Load(cwd, "", CLI{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Source != "" || c.Recognizer != RecognizerNone || c.Concurrency != DefaultConcurrency ||
		c.RecognizerTimeout != DefaultTimeout || c.HeaderFraction != DefaultHeaderFraction || c.GeminiAPIKeyEnv != "GEMINI_API_KEY" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.ReviewQueue != filepath.Join(DefaultOutputDir, DefaultReviewQueueFile) {
		t.Fatalf("ReviewQueue = %q", c.ReviewQueue)
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(t.TempDir(), "nope.json", CLI{})
	if Code(err) != ErrCodeNotFound {
		t.Fatalf("expected %q, got %v", ErrCodeNotFound, err)
	}
}

func TestLoadFileAndFlagPrecedence(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), `{
		"output_dir": "crops",
		"recognizer": "tesseract",
		"recognizer_timeout_ms": 1500,
		"header_fraction": 0.2,
		"store_driver": "sqlite",
		"store_dsn": "problems.db",
		"concurrency": 64,
		"log_level": "debug"
	}`)

	c, err := Load(cwd, "", CLI{Recognizer: ptr("gemini")})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Source != filepath.Join(cwd, FileName) {
		t.Fatalf("Source = %q", c.Source)
	}
	if c.Recognizer != RecognizerGemini {
		t.Fatalf("flag must win: %q", c.Recognizer)
	}
	if c.OutputDir != filepath.Join(cwd, "crops") || c.StoreDSN != filepath.Join(cwd, "problems.db") {
		t.Fatalf("relative paths not resolved: %+v", c)
	}
	if c.RecognizerTimeout != 1500*time.Millisecond || c.HeaderFraction != 0.2 || c.LogLevel != "debug" {
		t.Fatalf("file values lost: %+v", c)
	}
	if c.Concurrency != maxConcurrency {
		t.Fatalf("concurrency not clamped: %d", c.Concurrency)
	}

	c, err = Load(cwd, "", CLI{Concurrency: ptr(0), OutputDir: ptr("elsewhere")})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Concurrency != maxConcurrency {
		t.Fatalf("zero flag should fall back to file value, got %d", c.Concurrency)
	}
	if c.OutputDir != filepath.Join(cwd, "elsewhere") {
		t.Fatalf("OutputDir = %q", c.OutputDir)
	}
}

func TestLoadInvalid(t *testing.T) {
	cases := map[string]string{
		"bad json":      `{`,
		"unknown field": `{"outputdir": "x"}`,
		"recognizer":    `{"recognizer": "paddle"}`,
		"fraction":      `{"header_fraction": 1.5}`,
		"timeout":       `{"recognizer_timeout_ms": -1}`,
		"driver":        `{"store_driver": "mysql", "store_dsn": "x"}`,
		"dsn no driver": `{"store_dsn": "x"}`,
		"driver no dsn": `{"store_driver": "pgx"}`,
		"log level":     `{"log_level": "loud"}`,
		"page dpi":      `{"page_dpi": -1}`,
		"override page": `{"overrides": [{"family": "CSAT", "year": 2026, "page": 0, "index": 0, "region": {"top": 0, "bottom": 1, "left": 0, "right": 1}}]}`,
		"bad override":  `{"overrides": [{"family": "CSAT", "year": 2026, "page": 1, "index": 0, "region": {"top": 0.5, "bottom": 0.2, "left": 0, "right": 1}}]}`,
	}
	for name, body := range cases {
		cwd := t.TempDir()
		writeFile(t, filepath.Join(cwd, FileName), body)
		_, err := Load(cwd, "", CLI{})
		if Code(err) != ErrCodeInvalid {
			t.Fatalf("%s: expected %q, got %v", name, ErrCodeInvalid, err)
		}
	}
}

func TestLoadOverridesAndDPI(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), `{
		"page_dpi": 200,
		"overrides": [
			{"family": "CSAT", "year": 2026, "page": 2, "index": 1,
			 "region": {"top": 0.4, "bottom": 0.9, "left": 0, "right": 0.5}}
		]
	}`)
	c, err := Load(cwd, "", CLI{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.PageDPI != 200 {
		t.Fatalf("PageDPI = %d", c.PageDPI)
	}
	want := []templates.OverrideSpec{{
		Family: "CSAT", Year: 2026, Page: 2, Index: 1,
		Region: region.Region{Top: 0.4, Bottom: 0.9, Left: 0, Right: 0.5},
	}}
	if diff := cmp.Diff(want, c.Overrides); diff != "" {
		t.Fatalf("Overrides mismatch (-want +got):\n%s", diff)
	}
}

func TestGeminiAPIKey(t *testing.T) {
	t.Setenv("EXAMKIT_TEST_KEY", " secret ")
	c := Config{GeminiAPIKeyEnv: "EXAMKIT_TEST_KEY"}
	if c.GeminiAPIKey() != "secret" {
		t.Fatalf("GeminiAPIKey() = %q", c.GeminiAPIKey())
	}
}

// Package config merges examkit.json with command-line flags into the
// settings the CLI runs with. Precedence: flag, then file, then default.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wudi/examkit/templates"
)

// FileName is the config file looked up in the working directory.
const FileName = "examkit.json"

// Error codes.
const (
	ErrCodeNotFound = "config_not_found"
	ErrCodeInvalid  = "config_invalid"
)

// Defaults.
const (
	DefaultOutputDir       = "output"
	DefaultRecognizer      = RecognizerNone
	DefaultGeminiModel     = "gemini-2.5-flash"
	DefaultGeminiKeyEnv    = "GEMINI_API_KEY"
	DefaultTimeout         = 5 * time.Second
	DefaultHeaderFraction  = 0.15
	DefaultConcurrency     = 2
	DefaultLogLevel        = "info"
	maxConcurrency         = 16
	DefaultReviewQueueFile = "manual_review.json"
)

// Recognizer choices.
const (
	RecognizerNone      = "none"
	RecognizerTesseract = "tesseract"
	RecognizerGemini    = "gemini"
)

// Error is a configuration failure with a stable code.
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Code == ErrCodeNotFound:
		return fmt.Sprintf("%s: config file %q not found", e.Code, e.Path)
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Path, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code extracts the code of a *Error, or "".
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// File mirrors examkit.json.
type File struct {
	OutputDir           string   `json:"output_dir"`
	Recognizer          string   `json:"recognizer"`
	GeminiModel         string   `json:"gemini_model"`
	GeminiAPIKeyEnv     string   `json:"gemini_api_key_env"`
	RecognizerTimeoutMS int      `json:"recognizer_timeout_ms"`
	HeaderFraction      float64  `json:"header_fraction"`
	Languages           []string `json:"languages"`
	TemplatesFile       string   `json:"templates_file"`
	StoreDriver         string   `json:"store_driver"`
	StoreDSN            string   `json:"store_dsn"`
	ReviewQueue         string   `json:"review_queue"`
	Concurrency         int      `json:"concurrency"`
	LogLevel            string   `json:"log_level"`
	PageDPI             int      `json:"page_dpi"`

	Overrides []templates.OverrideSpec `json:"overrides"`
}

// CLI holds flag values. A nil field was not given on the command line.
type CLI struct {
	OutputDir     *string
	Recognizer    *string
	TemplatesFile *string
	StoreDriver   *string
	StoreDSN      *string
	Concurrency   *int
	LogLevel      *string
}

// Config is the merged, validated configuration.
type Config struct {
	Source string // config file used, "" when none

	OutputDir         string
	Recognizer        string
	GeminiModel       string
	GeminiAPIKeyEnv   string
	RecognizerTimeout time.Duration
	HeaderFraction    float64
	Languages         []string
	TemplatesFile     string
	StoreDriver       string
	StoreDSN          string
	ReviewQueue       string
	Concurrency       int
	LogLevel          string
	PageDPI           int // resolution pages were rasterized at, 0 if unknown
	Overrides         []templates.OverrideSpec
}

// GeminiAPIKey reads the key from the configured environment variable.
func (c Config) GeminiAPIKey() string { return strings.TrimSpace(os.Getenv(c.GeminiAPIKeyEnv)) }

// Load reads path, or <cwd>/examkit.json when path is empty, and merges cli
// over it. An explicit path must exist; the implicit one is optional.
// Relative paths in the file resolve against the file's directory.
func Load(cwd, path string, cli CLI) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = filepath.Join(cwd, FileName)
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(cwd, path)
	}

	f, exists, err := readFile(path)
	if err != nil {
		return Config{}, &Error{Code: ErrCodeInvalid, Path: path, Err: err}
	}
	if !exists {
		if explicit {
			return Config{}, &Error{Code: ErrCodeNotFound, Path: path, Err: os.ErrNotExist}
		}
		path = ""
	}
	base := cwd
	if path != "" {
		base = filepath.Dir(path)
	}
	return merge(cwd, base, path, f, cli)
}

func readFile(path string) (File, bool, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return File{}, false, nil
	}
	if err != nil {
		return File{}, false, err
	}
	var f File
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return File{}, true, err
	}
	return f, true, nil
}

func merge(cwd, base, source string, f File, cli CLI) (Config, error) {
	invalid := func(format string, args ...any) (Config, error) {
		return Config{}, &Error{Code: ErrCodeInvalid, Path: source, Err: fmt.Errorf(format, args...)}
	}

	c := Config{
		Source:            source,
		OutputDir:         pick(cli.OutputDir, resolve(base, f.OutputDir), DefaultOutputDir),
		Recognizer:        strings.ToLower(pick(cli.Recognizer, f.Recognizer, DefaultRecognizer)),
		GeminiModel:       pick(nil, f.GeminiModel, DefaultGeminiModel),
		GeminiAPIKeyEnv:   pick(nil, f.GeminiAPIKeyEnv, DefaultGeminiKeyEnv),
		RecognizerTimeout: DefaultTimeout,
		HeaderFraction:    DefaultHeaderFraction,
		Languages:         []string{"kor", "eng"},
		TemplatesFile:     pick(cli.TemplatesFile, resolve(base, f.TemplatesFile), ""),
		StoreDriver:       pick(cli.StoreDriver, f.StoreDriver, ""),
		StoreDSN:          pick(cli.StoreDSN, f.StoreDSN, ""),
		ReviewQueue:       resolve(base, f.ReviewQueue),
		Concurrency:       DefaultConcurrency,
		LogLevel:          strings.ToLower(pick(cli.LogLevel, f.LogLevel, DefaultLogLevel)),
	}
	if cli.OutputDir != nil && !filepath.IsAbs(c.OutputDir) {
		c.OutputDir = filepath.Join(cwd, c.OutputDir)
	}

	switch c.Recognizer {
	case RecognizerNone, RecognizerTesseract, RecognizerGemini:
	default:
		return invalid("recognizer must be none, tesseract or gemini, got %q", c.Recognizer)
	}
	if f.RecognizerTimeoutMS < 0 {
		return invalid("recognizer_timeout_ms must be positive, got %d", f.RecognizerTimeoutMS)
	}
	if f.RecognizerTimeoutMS > 0 {
		c.RecognizerTimeout = time.Duration(f.RecognizerTimeoutMS) * time.Millisecond
	}
	if f.HeaderFraction != 0 {
		if f.HeaderFraction < 0 || f.HeaderFraction > 1 {
			return invalid("header_fraction must be in (0,1], got %g", f.HeaderFraction)
		}
		c.HeaderFraction = f.HeaderFraction
	}
	if len(f.Languages) > 0 {
		c.Languages = append([]string(nil), f.Languages...)
	}
	if f.PageDPI < 0 {
		return invalid("page_dpi must be positive, got %d", f.PageDPI)
	}
	c.PageDPI = f.PageDPI
	for i, ov := range f.Overrides {
		if ov.Family == "" || ov.Year <= 0 || ov.Page < 1 || ov.Index < 0 {
			return invalid("overrides[%d]: family, year, page and index are required", i)
		}
		if err := ov.Region.Validate(); err != nil {
			return invalid("overrides[%d]: %v", i, err)
		}
	}
	c.Overrides = append([]templates.OverrideSpec(nil), f.Overrides...)

	switch c.StoreDriver {
	case "":
		if c.StoreDSN != "" {
			return invalid("store_dsn set without store_driver")
		}
	case "sqlite", "pgx", "postgres":
		if c.StoreDSN == "" {
			return invalid("store_driver %q needs store_dsn", c.StoreDriver)
		}
		if c.StoreDriver == "sqlite" && cli.StoreDSN == nil {
			c.StoreDSN = resolve(base, c.StoreDSN)
		}
	default:
		return invalid("store_driver must be sqlite or pgx, got %q", c.StoreDriver)
	}

	n := f.Concurrency
	if cli.Concurrency != nil && *cli.Concurrency != 0 {
		n = *cli.Concurrency
	}
	if n != 0 {
		c.Concurrency = n
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.Concurrency > maxConcurrency {
		c.Concurrency = maxConcurrency
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}

	if c.ReviewQueue == "" {
		c.ReviewQueue = filepath.Join(c.OutputDir, DefaultReviewQueueFile)
	}
	return c, nil
}

// pick returns the flag value if set, else the file value if non-empty,
// else def.
func pick(flag *string, file, def string) string {
	if flag != nil {
		return strings.TrimSpace(*flag)
	}
	if v := strings.TrimSpace(file); v != "" {
		return v
	}
	return def
}

func resolve(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

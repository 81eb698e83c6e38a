// Package fsx writes crops and run summaries to the local filesystem with
// temp-file + rename so readers never observe a partial file.
package fsx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/wudi/examkit/batch"
	"github.com/wudi/examkit/templates"
)

// File names inside an output directory.
const (
	SummaryFile   = "split_summary.json"
	OverridesFile = "template_overrides.json"
)

// swapped in tests to simulate rename failures
var renameFunc = os.Rename

// PathTypeConflictError reports a target path of the wrong kind, such as a
// directory where a file is expected.
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("path type conflict: %q (want %s, got %s)", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// WriteFileAtomic writes name under dir through a temp file in the same
// directory, replacing any existing regular file.
func WriteFileAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(dir, name)
	if fi, err := os.Lstat(dst); err == nil && fi.IsDir() {
		return &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := writeAll(tmp, data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := renameFunc(tmpName, dst); err != nil {
		return err
	}
	_ = syncDirBestEffort(dir)
	return nil
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func syncDirBestEffort(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// Dir stores crops and the run summary of one exam in a directory.
type Dir struct {
	Root string
}

// NewDir creates root if needed.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Dir{Root: root}, nil
}

// Put writes one crop. name must be a bare file name.
func (d *Dir) Put(ctx context.Context, name string, png []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("invalid crop name %q", name)
	}
	return WriteFileAtomic(d.Root, name, png)
}

// WriteSummary writes split_summary.json, replacing the previous run's.
func (d *Dir) WriteSummary(_ context.Context, s batch.RunSummary) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(d.Root, SummaryFile, append(b, '\n'))
}

// WriteOverrides records the template overrides a run was split with. An
// empty list removes a stale file from an earlier run.
func (d *Dir) WriteOverrides(ovs []templates.Override) error {
	if len(ovs) == 0 {
		err := os.Remove(d.Path(OverridesFile))
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	b, err := json.MarshalIndent(ovs, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(d.Root, OverridesFile, append(b, '\n'))
}

// Path returns the absolute location of name inside the directory.
func (d *Dir) Path(name string) string { return filepath.Join(d.Root, name) }

// ReadSummary loads a summary written by WriteSummary.
func ReadSummary(path string) (batch.RunSummary, error) {
	var s batch.RunSummary
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return s, nil
}

// Package review keeps the manual review queue: a JSON list of problems a
// person has to look at before their crops are trusted.
package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wudi/examkit/batch"
	"github.com/wudi/examkit/fsx"
	"github.com/wudi/examkit/observability"
)

// DefaultFile is the queue file name.
const DefaultFile = "manual_review.json"

// Entry statuses.
const (
	StatusPending  = "pending"
	StatusResolved = "resolved"
)

// Entry is one queued problem.
type Entry struct {
	ProblemID string    `json:"problem_id"`
	Reason    string    `json:"reason"`
	Status    string    `json:"status"`
	RunID     string    `json:"run_id,omitempty"`
	FlaggedAt time.Time `json:"flagged_at"`
}

// Queue is a review file. Methods are safe for concurrent use within one
// process.
type Queue struct {
	Path string
	Log  observability.Logger

	mu  sync.Mutex
	now func() time.Time
}

// Open returns a queue backed by path. The file is created on first write.
func Open(path string, log observability.Logger) *Queue {
	return &Queue{Path: path, Log: observability.OrNop(log), now: time.Now}
}

// Entries reads the queue. A missing file is an empty queue.
func (q *Queue) Entries() ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

func (q *Queue) load() ([]Entry, error) {
	b, err := os.ReadFile(q.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Entry
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(q.Path), err)
	}
	return out, nil
}

func (q *Queue) save(entries []Entry) error {
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomic(filepath.Dir(q.Path), filepath.Base(q.Path), append(b, '\n'))
}

// Flag queues problemID as pending. A problem already queued is updated in
// place and set back to pending instead of being added twice. It reports
// whether a new entry was added.
func (q *Queue) Flag(problemID, reason string) (bool, error) {
	n, err := q.flag([]Entry{{ProblemID: problemID, Reason: reason}})
	return n == 1, err
}

// FlagSummary queues every result of s that needs review and returns the
// number of new entries.
func (q *Queue) FlagSummary(s batch.RunSummary) (int, error) {
	var in []Entry
	for _, e := range s.Results {
		if e.NeedsReview {
			in = append(in, Entry{ProblemID: e.ProblemID, Reason: e.Reason, RunID: s.RunID})
		}
	}
	if len(in) == 0 {
		return 0, nil
	}
	return q.flag(in)
}

func (q *Queue) flag(in []Entry) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries, err := q.load()
	if err != nil {
		return 0, err
	}
	index := make(map[string]int, len(entries))
	for i, e := range entries {
		index[e.ProblemID] = i
	}
	now := q.clock()
	added := 0
	for _, e := range in {
		e.Status = StatusPending
		e.FlaggedAt = now.UTC()
		if i, ok := index[e.ProblemID]; ok {
			entries[i] = e
			continue
		}
		index[e.ProblemID] = len(entries)
		entries = append(entries, e)
		added++
		q.logger().Info("flagged for manual review", observability.String("problem_id", e.ProblemID), observability.String("reason", e.Reason))
	}
	return added, q.save(entries)
}

// Resolve marks problemID resolved. It reports whether the problem was
// queued.
func (q *Queue) Resolve(problemID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries, err := q.load()
	if err != nil {
		return false, err
	}
	for i := range entries {
		if entries[i].ProblemID == problemID {
			entries[i].Status = StatusResolved
			return true, q.save(entries)
		}
	}
	return false, nil
}

// Pending returns the entries still waiting for review.
func (q *Queue) Pending() ([]Entry, error) {
	all, err := q.Entries()
	if err != nil {
		return nil, err
	}
	out := []Entry{}
	for _, e := range all {
		if e.Status == StatusPending {
			out = append(out, e)
		}
	}
	return out, nil
}

func (q *Queue) clock() time.Time {
	if q.now == nil {
		return time.Now()
	}
	return q.now()
}

func (q *Queue) logger() observability.Logger { return observability.OrNop(q.Log) }

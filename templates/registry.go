package templates

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wudi/examkit/observability"
	"github.com/wudi/examkit/region"
)

var (
	// ErrNotFound means no registered template covers the family and year.
	ErrNotFound = errors.New("template not found")
	// ErrOutOfRange means an override addressed a page or region index that
	// does not exist.
	ErrOutOfRange = errors.New("template index out of range")
)

// LookupError carries the query that failed to resolve.
type LookupError struct {
	Family string
	Year   int
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%v: family %q year %d", ErrNotFound, e.Family, e.Year)
}

func (e *LookupError) Unwrap() error { return ErrNotFound }

// RangeError reports the page/index pair an override could not address.
type RangeError struct {
	Family string
	Page   int
	Index  int
	Len    int // regions on the page, -1 if the page is missing
}

func (e *RangeError) Error() string {
	if e.Len < 0 {
		return fmt.Sprintf("%v: %s has no page %d", ErrOutOfRange, e.Family, e.Page)
	}
	return fmt.Sprintf("%v: %s page %d has %d regions, index %d", ErrOutOfRange, e.Family, e.Page, e.Len, e.Index)
}

func (e *RangeError) Unwrap() error { return ErrOutOfRange }

// Override is the audit record of one region replacement.
type Override struct {
	Family  string        `json:"family"`
	Version string        `json:"version"`
	Page    int           `json:"page"`
	Index   int           `json:"index"`
	Old     region.Region `json:"old"`
	New     region.Region `json:"new"`
	At      time.Time     `json:"at"`
}

// Registry resolves (family, year) to an ExamTemplate. Templates are
// read-only once registered; OverrideRegion is the only mutation and takes
// the write lock.
type Registry struct {
	mu       sync.RWMutex
	byFamily map[string][]ExamTemplate
	audit    []Override
	log      observability.Logger
	now      func() time.Time
}

// NewRegistry validates and registers tmpls.
func NewRegistry(log observability.Logger, tmpls ...ExamTemplate) (*Registry, error) {
	r := &Registry{
		byFamily: make(map[string][]ExamTemplate),
		log:      observability.OrNop(log),
		now:      time.Now,
	}
	for _, t := range tmpls {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a template. A template with the same family and version
// replaces the existing one.
func (r *Registry) Register(t ExamTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t = t.clone()
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.byFamily[t.Family]
	for i := range list {
		if list[i].Version == t.Version {
			list[i] = t
			r.log.Info("template replaced", observability.String("template", t.key()))
			return nil
		}
	}
	r.byFamily[t.Family] = append(list, t)
	return nil
}

// Lookup returns the template of family that covers year. When several
// cover it, the narrowest year range wins, then the latest YearMin, then the
// lowest Version string. Registration order never matters.
func (r *Registry) Lookup(family string, year int) (ExamTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.lookupLocked(family, year)
	if !ok {
		return ExamTemplate{}, &LookupError{Family: family, Year: year}
	}
	return t, nil
}

func (r *Registry) lookupLocked(family string, year int) (ExamTemplate, bool) {
	var (
		best  ExamTemplate
		found bool
	)
	for _, t := range r.byFamily[family] {
		if !t.Contains(year) {
			continue
		}
		if !found || precedes(t, best) {
			best, found = t, true
		}
	}
	return best, found
}

// precedes orders candidate templates for the same year.
func precedes(a, b ExamTemplate) bool {
	if a.Span() != b.Span() {
		return a.Span() < b.Span()
	}
	if a.YearMin != b.YearMin {
		return a.YearMin > b.YearMin
	}
	return a.Version < b.Version
}

// OverrideRegion replaces region index on page of the template Lookup
// selects for (family, year). Other templates are untouched even when they
// were built from the same page layout.
func (r *Registry) OverrideRegion(family string, year, page, index int, next region.Region) (Override, error) {
	if err := next.Validate(); err != nil {
		return Override{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.lookupLocked(family, year)
	if !ok {
		return Override{}, &LookupError{Family: family, Year: year}
	}
	pt, ok := t.Pages[page]
	if !ok {
		return Override{}, &RangeError{Family: family, Page: page, Index: index, Len: -1}
	}
	if index < 0 || index >= len(pt.Regions) {
		return Override{}, &RangeError{Family: family, Page: page, Index: index, Len: len(pt.Regions)}
	}

	pt = pt.Clone()
	old := pt.Regions[index]
	pt.Regions[index] = next
	t.Pages = copyPages(t.Pages)
	t.Pages[page] = pt
	r.replaceLocked(t)

	ov := Override{
		Family:  t.Family,
		Version: t.Version,
		Page:    page,
		Index:   index,
		Old:     old,
		New:     next,
		At:      r.now().UTC(),
	}
	r.audit = append(r.audit, ov)
	r.log.Info("template region overridden",
		observability.String("template", t.key()),
		observability.Int("page", page),
		observability.Int("index", index),
		observability.Int("question", pt.Questions[index]),
		observability.String("old", old.String()),
		observability.String("new", next.String()),
	)
	return ov, nil
}

// OverrideSpec is a region replacement as written in configuration.
type OverrideSpec struct {
	Family string        `json:"family"`
	Year   int           `json:"year"`
	Page   int           `json:"page"`
	Index  int           `json:"index"`
	Region region.Region `json:"region"`
}

// Apply runs OverrideRegion for each spec in order and stops at the first
// failure. Overrides applied before the failure stay in place.
func (r *Registry) Apply(specs []OverrideSpec) ([]Override, error) {
	out := make([]Override, 0, len(specs))
	for i, sp := range specs {
		ov, err := r.OverrideRegion(sp.Family, sp.Year, sp.Page, sp.Index, sp.Region)
		if err != nil {
			return out, fmt.Errorf("override %d (%s %d page %d index %d): %w", i, sp.Family, sp.Year, sp.Page, sp.Index, err)
		}
		out = append(out, ov)
	}
	return out, nil
}

func (r *Registry) replaceLocked(t ExamTemplate) {
	list := r.byFamily[t.Family]
	for i := range list {
		if list[i].Version == t.Version {
			list[i] = t
			return
		}
	}
}

func copyPages(in map[int]region.PageTemplate) map[int]region.PageTemplate {
	out := make(map[int]region.PageTemplate, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Audit returns the overrides applied so far, oldest first.
func (r *Registry) Audit() []Override {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Override(nil), r.audit...)
}

// AuditFor returns the overrides applied to one template revision.
func (r *Registry) AuditFor(family, version string) []Override {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Override
	for _, ov := range r.audit {
		if ov.Family == family && ov.Version == version {
			out = append(out, ov)
		}
	}
	return out
}

// Templates lists every registered template ordered by family, then
// YearMin, then Version.
func (r *Registry) Templates() []ExamTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ExamTemplate
	for _, list := range r.byFamily {
		out = append(out, list...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Family != out[j].Family {
			return out[i].Family < out[j].Family
		}
		if out[i].YearMin != out[j].YearMin {
			return out[i].YearMin < out[j].YearMin
		}
		return out[i].Version < out[j].Version
	})
	return out
}

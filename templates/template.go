package templates

import (
	"fmt"
	"sort"

	"github.com/wudi/examkit/region"
)

// ExamTemplate is the region layout of one exam family over a range of
// years. A layout revision is a separate ExamTemplate with its own Version.
type ExamTemplate struct {
	Family  string                      `json:"family"`
	Version string                      `json:"version"`
	YearMin int                         `json:"year_min"`
	YearMax int                         `json:"year_max"`
	Pages   map[int]region.PageTemplate `json:"pages"`
}

// Contains reports whether year falls inside [YearMin, YearMax].
func (t ExamTemplate) Contains(year int) bool {
	return year >= t.YearMin && year <= t.YearMax
}

// Span is the number of years the template covers.
func (t ExamTemplate) Span() int { return t.YearMax - t.YearMin }

// Page returns the page layout, reporting whether it exists.
func (t ExamTemplate) Page(n int) (region.PageTemplate, bool) {
	p, ok := t.Pages[n]
	return p, ok
}

// PageNumbers lists defined pages in ascending order.
func (t ExamTemplate) PageNumbers() []int {
	nums := make([]int, 0, len(t.Pages))
	for n := range t.Pages {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// QuestionCount totals the expected questions over all pages.
func (t ExamTemplate) QuestionCount() int {
	n := 0
	for _, p := range t.Pages {
		n += p.Len()
	}
	return n
}

// Validate checks the year range and every page.
func (t ExamTemplate) Validate() error {
	if t.Family == "" {
		return fmt.Errorf("template has no family")
	}
	if t.YearMin > t.YearMax {
		return fmt.Errorf("%s/%s: year_min %d > year_max %d", t.Family, t.Version, t.YearMin, t.YearMax)
	}
	for n, p := range t.Pages {
		if p.Page != n {
			return fmt.Errorf("%s/%s: page key %d holds page %d", t.Family, t.Version, n, p.Page)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%s/%s: %w", t.Family, t.Version, err)
		}
	}
	return nil
}

// clone deep-copies the pages so a registered template owns its slices.
func (t ExamTemplate) clone() ExamTemplate {
	c := t
	c.Pages = make(map[int]region.PageTemplate, len(t.Pages))
	for n, p := range t.Pages {
		c.Pages[n] = p.Clone()
	}
	return c
}

func (t ExamTemplate) key() string { return t.Family + "/" + t.Version }

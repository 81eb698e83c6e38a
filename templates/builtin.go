package templates

import (
	"github.com/wudi/examkit/observability"
	"github.com/wudi/examkit/region"
)

// Exam family codes used by the built-in templates.
const (
	FamilyCSAT  = "CSAT"  // 대학수학능력시험
	FamilyKICE6 = "KICE6" // 6월 모의평가
	FamilyKICE9 = "KICE9" // 9월 모의평가
)

func page(n int, questions []int, regions ...region.Region) region.PageTemplate {
	return region.PageTemplate{Page: n, Questions: questions, Regions: regions}
}

func left(top, bottom float64) region.Region  { return region.MustNew(top, bottom, 0, 0.5) }
func right(top, bottom float64) region.Region { return region.MustNew(top, bottom, 0.5, 1) }

// twoColumnPages is the two-column math layout introduced in 2026.
// Pages 3 onwards are estimates and are expected to be tuned through
// OverrideRegion.
func twoColumnPages() map[int]region.PageTemplate {
	pages := map[int]region.PageTemplate{
		1: page(1, []int{1, 2, 3, 4},
			left(0.12, 0.52), left(0.52, 0.95), right(0.12, 0.52), right(0.52, 0.95)),
		2: page(2, []int{5, 6, 7},
			left(0.02, 0.42), left(0.42, 0.90), right(0.02, 0.90)),
	}
	q := 8
	for n := 3; n <= 9; n++ {
		pages[n] = page(n, []int{q, q + 1}, left(0.05, 0.90), right(0.05, 0.90))
		q += 2
	}
	pages[10] = page(10, []int{22}, region.MustNew(0.05, 0.90, 0, 1))
	return pages
}

// legacyPages is the single-column layout used from 2022 to 2025.
func legacyPages() map[int]region.PageTemplate {
	halves := func(n int, a, b int) region.PageTemplate {
		return page(n, []int{a, b}, region.Rows(0.05, 0.50), region.Rows(0.50, 0.95))
	}
	thirds := func(n int, a, b, c int) region.PageTemplate {
		return page(n, []int{a, b, c}, region.Rows(0.05, 0.35), region.Rows(0.35, 0.65), region.Rows(0.65, 0.95))
	}
	return map[int]region.PageTemplate{
		1:  page(1, []int{1, 2}, region.Rows(0.10, 0.52), region.Rows(0.52, 0.95)),
		2:  thirds(2, 3, 4, 5),
		3:  thirds(3, 6, 7, 8),
		4:  halves(4, 9, 10),
		5:  halves(5, 11, 12),
		6:  halves(6, 13, 14),
		7:  page(7, []int{15}, region.Rows(0.05, 0.95)),
		8:  halves(8, 16, 17),
		9:  halves(9, 18, 19),
		10: halves(10, 20, 21),
		11: page(11, []int{22}, region.Rows(0.05, 0.95)),
	}
}

// Builtin returns the shipped math templates. KICE6 and KICE9 mock exams use
// the CSAT two-column layout for every year they cover.
func Builtin() []ExamTemplate {
	return []ExamTemplate{
		{Family: FamilyCSAT, Version: "2026-two-column", YearMin: 2026, YearMax: 2030, Pages: twoColumnPages()},
		{Family: FamilyCSAT, Version: "legacy", YearMin: 2022, YearMax: 2025, Pages: legacyPages()},
		{Family: FamilyKICE6, Version: "2026-two-column", YearMin: 2022, YearMax: 2030, Pages: twoColumnPages()},
		{Family: FamilyKICE9, Version: "2026-two-column", YearMin: 2022, YearMax: 2030, Pages: twoColumnPages()},
	}
}

// NewBuiltinRegistry is NewRegistry over Builtin.
func NewBuiltinRegistry(log observability.Logger) *Registry {
	r, err := NewRegistry(log, Builtin()...)
	if err != nil {
		panic("templates: invalid builtin template: " + err.Error())
	}
	return r
}

package templates

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/wudi/examkit/region"
)

func onePage(family, version string, min, max int) ExamTemplate {
	return ExamTemplate{
		Family: family, Version: version, YearMin: min, YearMax: max,
		Pages: map[int]region.PageTemplate{
			1: {Page: 1, Questions: []int{1, 2}, Regions: []region.Region{region.Rows(0, 0.5), region.Rows(0.5, 1)}},
		},
	}
}

func TestLookupSelectsByYear(t *testing.T) {
	reg := NewBuiltinRegistry(nil)

	got, err := reg.Lookup(FamilyCSAT, 2026)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.Version != "2026-two-column" {
		t.Fatalf("2026 resolved to %q", got.Version)
	}
	got, err = reg.Lookup(FamilyCSAT, 2024)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.Version != "legacy" {
		t.Fatalf("2024 resolved to %q", got.Version)
	}
	if got.QuestionCount() != 22 {
		t.Fatalf("legacy layout has %d questions", got.QuestionCount())
	}

	_, err = reg.Lookup(FamilyCSAT, 2019)
	var le *LookupError
	if !errors.Is(err, ErrNotFound) || !errors.As(err, &le) || le.Year != 2019 {
		t.Fatalf("expected LookupError for 2019, got %v", err)
	}
	if _, err := reg.Lookup("TOEIC", 2026); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown family, got %v", err)
	}
}

func TestLookupPrecedenceIgnoresRegistrationOrder(t *testing.T) {
	wide := onePage("X", "wide", 2020, 2030)
	narrow := onePage("X", "narrow", 2025, 2026)
	sameSpanLater := onePage("X", "later", 2026, 2027)

	orders := [][]ExamTemplate{
		{wide, narrow, sameSpanLater},
		{sameSpanLater, narrow, wide},
		{narrow, wide, sameSpanLater},
	}
	for i, order := range orders {
		reg, err := NewRegistry(nil, order...)
		if err != nil {
			t.Fatalf("NewRegistry() error = %v", err)
		}
		// 2026 is covered by all three; narrow and later tie on span, later starts later.
		if got, _ := reg.Lookup("X", 2026); got.Version != "later" {
			t.Fatalf("order %d: 2026 resolved to %q", i, got.Version)
		}
		if got, _ := reg.Lookup("X", 2025); got.Version != "narrow" {
			t.Fatalf("order %d: 2025 resolved to %q", i, got.Version)
		}
		if got, _ := reg.Lookup("X", 2021); got.Version != "wide" {
			t.Fatalf("order %d: 2021 resolved to %q", i, got.Version)
		}
	}
}

func TestLookupTieBreaksOnVersion(t *testing.T) {
	reg, err := NewRegistry(nil, onePage("X", "b", 2026, 2026), onePage("X", "a", 2026, 2026))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if got, _ := reg.Lookup("X", 2026); got.Version != "a" {
		t.Fatalf("expected version a, got %q", got.Version)
	}
}

func TestOverrideRegion(t *testing.T) {
	reg := NewBuiltinRegistry(nil)
	before, _ := reg.Lookup(FamilyCSAT, 2026)
	next := region.MustNew(0.03, 0.44, 0, 0.5)

	ov, err := reg.OverrideRegion(FamilyCSAT, 2026, 2, 0, next)
	if err != nil {
		t.Fatalf("OverrideRegion() error = %v", err)
	}
	if ov.Old != before.Pages[2].Regions[0] || ov.New != next || ov.Version != "2026-two-column" {
		t.Fatalf("unexpected audit entry: %+v", ov)
	}

	after, _ := reg.Lookup(FamilyCSAT, 2026)
	if after.Pages[2].Regions[0] != next {
		t.Fatalf("override not applied: %v", after.Pages[2].Regions[0])
	}
	if after.Pages[2].Regions[1] != before.Pages[2].Regions[1] {
		t.Fatalf("sibling region changed")
	}
	// Snapshot taken before the override keeps its values.
	if before.Pages[2].Regions[0] == next {
		t.Fatalf("override leaked into an earlier lookup result")
	}
	// Templates sharing the layout are independent.
	kice, _ := reg.Lookup(FamilyKICE6, 2026)
	if kice.Pages[2].Regions[0] == next {
		t.Fatalf("override leaked into KICE6")
	}
	legacy, _ := reg.Lookup(FamilyCSAT, 2024)
	if legacy.Pages[2].Regions[0] == next {
		t.Fatalf("override leaked into legacy layout")
	}

	audit := reg.Audit()
	if len(audit) != 1 || audit[0].Page != 2 || audit[0].Index != 0 || audit[0].Family != FamilyCSAT {
		t.Fatalf("unexpected audit: %+v", audit)
	}
}

func TestApplyOverrides(t *testing.T) {
	reg := NewBuiltinRegistry(nil)
	specs := []OverrideSpec{
		{Family: FamilyCSAT, Year: 2026, Page: 1, Index: 1, Region: region.MustNew(0.05, 0.5, 0.5, 1)},
		{Family: FamilyKICE9, Year: 2025, Page: 3, Index: 0, Region: region.MustNew(0.05, 0.45, 0, 0.5)},
	}
	applied, err := reg.Apply(specs)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("expected 2 overrides, got %d", len(applied))
	}
	csat, _ := reg.Lookup(FamilyCSAT, 2026)
	if csat.Pages[1].Regions[1] != specs[0].Region {
		t.Fatalf("first override not applied")
	}

	got := reg.AuditFor(FamilyCSAT, "2026-two-column")
	if len(got) != 1 || got[0].Page != 1 || got[0].Index != 1 {
		t.Fatalf("AuditFor(CSAT) = %+v", got)
	}
	if len(reg.AuditFor(FamilyCSAT, "legacy")) != 0 {
		t.Fatalf("legacy revision has no overrides")
	}
}

func TestApplyOverridesStopsAtFailure(t *testing.T) {
	reg := NewBuiltinRegistry(nil)
	specs := []OverrideSpec{
		{Family: FamilyCSAT, Year: 2026, Page: 1, Index: 0, Region: region.MustNew(0.05, 0.5, 0, 0.5)},
		{Family: FamilyCSAT, Year: 2026, Page: 1, Index: 9, Region: region.MustNew(0.05, 0.5, 0, 0.5)},
		{Family: FamilyCSAT, Year: 2026, Page: 2, Index: 0, Region: region.MustNew(0.05, 0.5, 0, 0.5)},
	}
	applied, err := reg.Apply(specs)
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if len(applied) != 1 || len(reg.Audit()) != 1 {
		t.Fatalf("expected only the first override, got %d applied", len(applied))
	}
}

func TestOverrideRegionOutOfRange(t *testing.T) {
	reg := NewBuiltinRegistry(nil)
	r := region.Rows(0.1, 0.2)

	_, err := reg.OverrideRegion(FamilyCSAT, 2026, 42, 0, r)
	var re *RangeError
	if !errors.Is(err, ErrOutOfRange) || !errors.As(err, &re) || re.Len != -1 {
		t.Fatalf("missing page: got %v", err)
	}
	_, err = reg.OverrideRegion(FamilyCSAT, 2026, 1, 4, r)
	if !errors.As(err, &re) || re.Len != 4 || re.Index != 4 {
		t.Fatalf("bad index: got %v", err)
	}
	if _, err := reg.OverrideRegion(FamilyCSAT, 2026, 1, -1, r); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("negative index: got %v", err)
	}
	if _, err := reg.OverrideRegion(FamilyCSAT, 2026, 1, 0, region.Region{Top: 0.5, Bottom: 0.1, Right: 1}); !errors.Is(err, region.ErrInvalidRegion) {
		t.Fatalf("invalid region: got %v", err)
	}
	if len(reg.Audit()) != 0 {
		t.Fatalf("failed overrides must not be audited")
	}
}

func TestRegisterValidates(t *testing.T) {
	bad := onePage("X", "v", 2026, 2025)
	if _, err := NewRegistry(nil, bad); err == nil {
		t.Fatalf("expected year range error")
	}
	mismatch := onePage("X", "v", 2026, 2026)
	mismatch.Pages[3] = mismatch.Pages[1]
	if _, err := NewRegistry(nil, mismatch); err == nil {
		t.Fatalf("expected page key error")
	}
}

func TestEncodeDecodeTemplates(t *testing.T) {
	want := []ExamTemplate{onePage("X", "v1", 2026, 2027)}
	var buf bytes.Buffer
	if err := Encode(&buf, want); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("templates differ (-want +got):\n%s", diff)
	}

	if _, err := Decode(strings.NewReader(`{"templates":[{"family":"X","year_min":1,"year_max":2,"bogus":1}]}`)); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

package region

import "fmt"

// PageTemplate lists the expected questions on one page and where each sits.
// Questions and Regions are parallel slices in reading order.
type PageTemplate struct {
	Page      int      `json:"page"`
	Questions []int    `json:"questions"`
	Regions   []Region `json:"regions"`
}

// NewPageTemplate validates the pairing of questions and regions.
func NewPageTemplate(page int, questions []int, regions []Region) (PageTemplate, error) {
	pt := PageTemplate{
		Page:      page,
		Questions: append([]int(nil), questions...),
		Regions:   append([]Region(nil), regions...),
	}
	if err := pt.Validate(); err != nil {
		return PageTemplate{}, err
	}
	return pt, nil
}

// Validate checks the page number, slice lengths and every region.
func (p PageTemplate) Validate() error {
	if p.Page < 1 {
		return fmt.Errorf("page %d: page numbers start at 1", p.Page)
	}
	if len(p.Questions) != len(p.Regions) {
		return fmt.Errorf("page %d: %d questions but %d regions", p.Page, len(p.Questions), len(p.Regions))
	}
	for i, r := range p.Regions {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("page %d region %d (Q%d): %w", p.Page, i, p.Questions[i], err)
		}
	}
	return nil
}

// Len is the number of expected questions on the page.
func (p PageTemplate) Len() int { return len(p.Questions) }

// Clone returns a deep copy so callers can edit regions without touching
// templates that share the original slices.
func (p PageTemplate) Clone() PageTemplate {
	return PageTemplate{
		Page:      p.Page,
		Questions: append([]int(nil), p.Questions...),
		Regions:   append([]Region(nil), p.Regions...),
	}
}

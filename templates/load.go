package templates

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// templateFile is the on-disk layout: a list of templates, each page keyed
// by its number.
//
//	{"templates": [{"family": "CSAT", "version": "2027-draft",
//	  "year_min": 2027, "year_max": 2027,
//	  "pages": {"1": {"page": 1, "questions": [1, 2],
//	    "regions": [{"top": 0.1, "bottom": 0.5, "left": 0, "right": 1}, ...]}}}]}
type templateFile struct {
	Templates []ExamTemplate `json:"templates"`
}

// Decode reads templates from r and validates them.
func Decode(r io.Reader) ([]ExamTemplate, error) {
	var f templateFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode templates: %w", err)
	}
	for _, t := range f.Templates {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	return f.Templates, nil
}

// LoadFile reads templates from a JSON file.
func LoadFile(path string) ([]ExamTemplate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tmpls, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tmpls, nil
}

// Encode writes templates in the LoadFile format.
func Encode(w io.Writer, tmpls []ExamTemplate) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(templateFile{Templates: tmpls})
}

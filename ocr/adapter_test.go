package ocr

import (
	"bytes"
	"image"
	"image/png"
	"reflect"
	"testing"
)

func TestInputFromImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 3))

	in, err := InputFromImage(
		"2026_CSAT_Q05",
		img,
		WithLanguages("kor", "eng"),
		WithDPI(300),
		WithHint("question number"),
	)
	if err != nil {
		t.Fatalf("InputFromImage() error = %v", err)
	}
	if in.Format != ImageFormatPNG {
		t.Fatalf("unexpected format: %v", in.Format)
	}
	if in.ID != "2026_CSAT_Q05" || in.DPI != 300 || in.Hint != "question number" {
		t.Fatalf("unexpected input: %+v", in)
	}
	decoded, err := png.Decode(bytes.NewReader(in.Image))
	if err != nil {
		t.Fatalf("payload is not PNG: %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Fatalf("unexpected decoded bounds: %v", decoded.Bounds())
	}
	if !reflect.DeepEqual(in.Languages, []string{"kor", "eng"}) {
		t.Fatalf("unexpected languages: %+v", in.Languages)
	}
}

func TestWithLanguagesCopies(t *testing.T) {
	langs := []string{"kor"}
	var in Input
	WithLanguages(langs...)(&in)
	langs[0] = "eng"
	if in.Languages[0] != "kor" {
		t.Fatalf("languages were not copied: %+v", in.Languages)
	}
}

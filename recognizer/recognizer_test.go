package recognizer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/wudi/examkit/ocr"
)

type fakeEngine struct {
	text  string
	err   error
	delay time.Duration
	seen  []ocr.Input
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	f.seen = append(f.seen, in)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ocr.Result{}, ctx.Err()
		}
	}
	return ocr.Result{InputID: in.ID, PlainText: f.text}, f.err
}

func TestParseNumber(t *testing.T) {
	cases := []struct {
		text string
		want int
		ok   bool
	}{
		{"12. 함수 f(x)에 대하여", 12, true},
		{"  7 . 다음", 7, true},
		{"3 좌표평면", 3, true},
		{"문제 21", 21, true},
		{"첫 줄\n15. 두 번째 줄", 15, true},
		{"함수 f(x)", 0, false},
		{"", 0, false},
		{"123.", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseNumber(tc.text)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseNumber(%q) = %d,%v want %d,%v", tc.text, got, ok, tc.want, tc.ok)
		}
	}
}

func TestEngineRecognizerReadsHeaderStrip(t *testing.T) {
	eng := &fakeEngine{text: "5. 다음 식의 값은?"}
	r := FromEngine(eng, WithHeaderFraction(0.25))

	n, ok := r.ReadNumber(context.Background(), image.NewGray(image.Rect(0, 0, 400, 800)))
	if !ok || n != 5 {
		t.Fatalf("ReadNumber() = %d,%v", n, ok)
	}
	if len(eng.seen) != 1 {
		t.Fatalf("expected one OCR call, got %d", len(eng.seen))
	}
	in := eng.seen[0]
	img, err := png.Decode(bytes.NewReader(in.Image))
	if err != nil {
		t.Fatalf("decode OCR input: %v", err)
	}
	if img.Bounds().Dx() != 400 || img.Bounds().Dy() != 200 {
		t.Fatalf("expected top quarter, got %v", img.Bounds())
	}
	if in.Metadata["tessedit_pageseg_mode"] != "6" || len(in.Languages) != 2 {
		t.Fatalf("default input options missing: %+v", in)
	}
}

func TestEngineRecognizerUpscalesShortStrips(t *testing.T) {
	eng := &fakeEngine{text: "1."}
	r := FromEngine(eng)
	if _, ok := r.ReadNumber(context.Background(), image.NewGray(image.Rect(0, 0, 100, 100))); !ok {
		t.Fatalf("expected a number")
	}
	img, err := png.Decode(bytes.NewReader(eng.seen[0].Image))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 200 || img.Bounds().Dy() != 30 {
		t.Fatalf("expected 2x upscale of a 100x15 strip, got %v", img.Bounds())
	}
}

func TestEngineRecognizerFailuresAreNull(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 100, 100))

	if _, ok := FromEngine(&fakeEngine{err: errors.New("engine down")}).ReadNumber(context.Background(), img); ok {
		t.Fatalf("engine error must read as no number")
	}
	if _, ok := FromEngine(&fakeEngine{}).ReadNumber(context.Background(), img); ok {
		t.Fatalf("empty recognition must read as no number")
	}
	if _, ok := FromEngine(&fakeEngine{text: "그래프"}).ReadNumber(context.Background(), img); ok {
		t.Fatalf("text without a number must read as no number")
	}

	slow := &fakeEngine{text: "4.", delay: time.Second}
	start := time.Now()
	if _, ok := FromEngine(slow, WithTimeout(20*time.Millisecond)).ReadNumber(context.Background(), img); ok {
		t.Fatalf("timeout must read as no number")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("timeout not enforced")
	}
}

func TestEngineRecognizerScalesPageDPI(t *testing.T) {
	eng := &fakeEngine{text: "3."}
	r := FromEngine(eng, WithPageDPI(200))

	// 100x100 crop: 15px strip, upscaled 2x
	r.ReadNumber(context.Background(), image.NewGray(image.Rect(0, 0, 100, 100)))
	// 400x800 crop: 120px strip, used as is
	r.ReadNumber(context.Background(), image.NewGray(image.Rect(0, 0, 400, 800)))
	if len(eng.seen) != 2 || eng.seen[0].DPI != 400 || eng.seen[1].DPI != 200 {
		t.Fatalf("unexpected DPI per call: %+v", eng.seen)
	}

	plain := &fakeEngine{text: "3."}
	FromEngine(plain).ReadNumber(context.Background(), image.NewGray(image.Rect(0, 0, 100, 100)))
	if plain.seen[0].DPI != 0 {
		t.Fatalf("DPI must stay unknown without WithPageDPI, got %d", plain.seen[0].DPI)
	}
}

func TestFunc(t *testing.T) {
	var r Recognizer = Func(func(context.Context, image.Image) (int, bool) { return 9, true })
	if n, ok := r.ReadNumber(context.Background(), nil); n != 9 || !ok {
		t.Fatalf("Func adapter broken")
	}
}

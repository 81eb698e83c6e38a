// Package recognizer reads the printed question number from a cropped
// question image. It is the independent check the splitter runs against the
// template geometry.
package recognizer

import (
	"context"
	"image"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/image/draw"

	"github.com/wudi/examkit/observability"
	"github.com/wudi/examkit/ocr"
	"github.com/wudi/examkit/region"
)

// Recognizer returns its best guess of the question number printed on img.
// ok is false when no number could be read; implementations never fail
// otherwise.
type Recognizer interface {
	ReadNumber(ctx context.Context, img image.Image) (n int, ok bool)
}

// Func adapts a plain function to Recognizer.
type Func func(ctx context.Context, img image.Image) (int, bool)

func (f Func) ReadNumber(ctx context.Context, img image.Image) (int, bool) { return f(ctx, img) }

const (
	DefaultHeaderFraction = 0.15
	DefaultTimeout        = 5 * time.Second
	// strips shorter than this are upscaled before OCR
	minStripHeight = 64
)

// number patterns, tried in order against the OCR text
var numberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^(\d{1,2})\s*\.`),
	regexp.MustCompile(`(?m)^\s*(\d{1,2})\s+[^\d]`),
	regexp.MustCompile(`문제\s*(\d{1,2})`),
}

// ParseNumber extracts a question number from recognized text.
func ParseNumber(text string) (int, bool) {
	text = strings.TrimSpace(text)
	for _, re := range numberPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}

// Option configures an engine-backed recognizer.
type Option func(*EngineRecognizer)

// WithHeaderFraction sets the top share of the crop handed to OCR.
func WithHeaderFraction(f float64) Option {
	return func(r *EngineRecognizer) {
		if f > 0 && f <= 1 {
			r.header = f
		}
	}
}

// WithTimeout bounds each OCR call. A timeout counts as no number read.
func WithTimeout(d time.Duration) Option {
	return func(r *EngineRecognizer) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger for OCR failures.
func WithLogger(l observability.Logger) Option {
	return func(r *EngineRecognizer) { r.log = observability.OrNop(l) }
}

// WithPageDPI declares the resolution pages were rasterized at. Engines
// receive it scaled by any upscaling of the header strip.
func WithPageDPI(dpi int) Option {
	return func(r *EngineRecognizer) {
		if dpi > 0 {
			r.pageDPI = dpi
		}
	}
}

// WithInputOptions appends options applied to every OCR input.
func WithInputOptions(opts ...ocr.InputOption) Option {
	return func(r *EngineRecognizer) { r.inputOpts = append(r.inputOpts, opts...) }
}

// EngineRecognizer runs an ocr.Engine over the header strip of a crop.
type EngineRecognizer struct {
	engine    ocr.Engine
	header    float64
	timeout   time.Duration
	inputOpts []ocr.InputOption
	pageDPI   int
	log       observability.Logger
}

// FromEngine wraps engine. By default the top 15% of the crop is read with
// Korean and English hints in single-block mode, five seconds per call.
func FromEngine(engine ocr.Engine, opts ...Option) *EngineRecognizer {
	r := &EngineRecognizer{
		engine:  engine,
		header:  DefaultHeaderFraction,
		timeout: DefaultTimeout,
		inputOpts: []ocr.InputOption{
			ocr.WithLanguages("kor", "eng"),
			ocr.WithTesseractPSM(ocr.PSMSingleBlock),
			ocr.WithHint("Only the question number at the top matters."),
		},
		log: observability.NopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Engine returns the wrapped engine name.
func (r *EngineRecognizer) Engine() string { return r.engine.Name() }

func (r *EngineRecognizer) ReadNumber(ctx context.Context, img image.Image) (int, bool) {
	strip, scale := upscale(region.Crop(img, region.Header(r.header)))
	if strip.Bounds().Empty() {
		return 0, false
	}
	opts := r.inputOpts
	if r.pageDPI > 0 {
		opts = append(opts[:len(opts):len(opts)], ocr.WithDPI(r.pageDPI*scale))
	}
	in, err := ocr.InputFromImage("header", strip, opts...)
	if err != nil {
		r.log.Warn("encode header strip", observability.Error("err", err))
		return 0, false
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	type outcome struct {
		res ocr.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := r.engine.Recognize(ctx, in)
		done <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		r.log.Warn("recognizer timed out", observability.String("engine", r.engine.Name()), observability.Error("err", ctx.Err()))
		return 0, false
	case o := <-done:
		if o.err != nil {
			r.log.Warn("recognizer failed", observability.String("engine", r.engine.Name()), observability.Error("err", o.err))
			return 0, false
		}
		return ParseNumber(o.res.PlainText)
	}
}

// upscale doubles short strips with Catmull-Rom resampling and reports the
// factor applied. OCR accuracy on small digits drops sharply below a few
// dozen pixels of height.
func upscale(img image.Image) (image.Image, int) {
	b := img.Bounds()
	if b.Dy() == 0 || b.Dy() >= minStripHeight {
		return img, 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*2, b.Dy()*2))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, 2
}

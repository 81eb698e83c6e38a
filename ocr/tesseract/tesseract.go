// Package tesseract provides an ocr.Engine backed by libtesseract through
// gosseract. It requires cgo and the tesseract development libraries.
package tesseract

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/wudi/examkit/ocr"
)

// DefaultLanguages matches Korean exam print with Latin digits.
var DefaultLanguages = []string{"kor", "eng"}

// Engine implements ocr.Engine using a fresh gosseract client per call, so a
// single Engine may be shared by concurrent batches.
type Engine struct {
	clientFactory func() *gosseract.Client
	languages     []string
}

// New constructs a Tesseract-backed OCR engine. Languages set on an Input
// take precedence over langs; with neither, DefaultLanguages is used.
func New(langs ...string) *Engine {
	if len(langs) == 0 {
		langs = DefaultLanguages
	}
	return &Engine{clientFactory: gosseract.NewClient, languages: append([]string(nil), langs...)}
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize performs OCR on a single image input. libtesseract calls are not
// interruptible; ctx is checked before the call starts.
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}
	c := e.clientFactory()
	defer c.Close()
	return e.recognizeWithClient(c, in)
}

func (e *Engine) recognizeWithClient(c *gosseract.Client, in ocr.Input) (ocr.Result, error) {
	if err := c.SetImageFromBytes(in.Image); err != nil {
		return ocr.Result{}, fmt.Errorf("set image: %w", err)
	}
	langs := in.Languages
	if len(langs) == 0 {
		langs = e.languages
	}
	if err := c.SetLanguage(langs...); err != nil {
		return ocr.Result{}, fmt.Errorf("set languages: %w", err)
	}
	if in.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(in.DPI)); err != nil {
			return ocr.Result{}, fmt.Errorf("set dpi: %w", err)
		}
	}
	for k, v := range in.Metadata {
		if k == "tessedit_pageseg_mode" {
			if err := setPSM(c, v); err != nil {
				return ocr.Result{}, err
			}
			continue
		}
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return ocr.Result{}, fmt.Errorf("set variable %s: %w", k, err)
		}
	}
	text, err := c.Text()
	if err != nil {
		return ocr.Result{}, fmt.Errorf("recognize text: %w", err)
	}
	plain := strings.TrimSpace(text)

	words, avgConf := extractWords(c)
	bounds := mergeBounds(words)
	block := ocr.TextBlock{
		Text:       plain,
		Bounds:     bounds,
		Lines:      []ocr.TextLine{{Text: plain, Bounds: bounds, Words: words, Confidence: avgConf}},
		Confidence: avgConf,
	}

	return ocr.Result{
		InputID:   in.ID,
		PlainText: plain,
		Blocks:    []ocr.TextBlock{block},
		Language:  langs[0],
	}, nil
}

func setPSM(c *gosseract.Client, v string) error {
	var mode int
	if _, err := fmt.Sscan(v, &mode); err != nil {
		return fmt.Errorf("page segmentation mode %q: %w", v, err)
	}
	if err := c.SetPageSegMode(gosseract.PageSegMode(mode)); err != nil {
		return fmt.Errorf("set page segmentation mode: %w", err)
	}
	return nil
}

func extractWords(c *gosseract.Client) ([]ocr.TextWord, float64) {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return nil, 0
	}
	words := make([]ocr.TextWord, 0, len(boxes))
	var sum float64
	for _, b := range boxes {
		conf := b.Confidence / 100.0
		sum += conf
		words = append(words, ocr.TextWord{
			Text:       b.Word,
			Bounds:     ocr.Region{X: float64(b.Box.Min.X), Y: float64(b.Box.Min.Y), Width: float64(b.Box.Dx()), Height: float64(b.Box.Dy())},
			Confidence: conf,
		})
	}
	return words, sum / float64(len(words))
}

func mergeBounds(words []ocr.TextWord) ocr.Region {
	if len(words) == 0 {
		return ocr.Region{}
	}
	minX, minY := math.MaxFloat64, math.MaxFloat64
	var maxX, maxY float64
	for _, w := range words {
		minX = math.Min(minX, w.Bounds.X)
		minY = math.Min(minY, w.Bounds.Y)
		maxX = math.Max(maxX, w.Bounds.X+w.Bounds.Width)
		maxY = math.Max(maxY, w.Bounds.Y+w.Bounds.Height)
	}
	return ocr.Region{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

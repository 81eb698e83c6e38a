package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
)

// InputOption mutates an OCR input.
type InputOption func(*Input)

// WithLanguages sets language hints on the OCR input.
func WithLanguages(langs ...string) InputOption {
	return func(in *Input) { in.Languages = append([]string(nil), langs...) }
}

// WithDPI overrides the DPI value on the OCR input.
func WithDPI(dpi int) InputOption {
	return func(in *Input) { in.DPI = dpi }
}

// WithHint sets a prompt hint for prompt-driven engines.
func WithHint(hint string) InputOption {
	return func(in *Input) { in.Hint = hint }
}

// InputFromImage encodes img as PNG and wraps it in an Input.
func InputFromImage(id string, img image.Image, opts ...InputOption) (Input, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Input{}, fmt.Errorf("encode image %s: %w", id, err)
	}
	in := Input{
		ID:     id,
		Image:  buf.Bytes(),
		Format: ImageFormatPNG,
	}
	for _, opt := range opts {
		opt(&in)
	}
	return in, nil
}

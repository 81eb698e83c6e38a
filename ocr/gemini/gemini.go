// Package gemini provides an ocr.Engine backed by Google's Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/wudi/examkit/ocr"
)

// DefaultModel is used when New receives an empty model name.
const DefaultModel = "gemini-2.5-flash"

const systemPrompt = `You transcribe text from a cropped strip of a scanned Korean exam page.
Return the visible text verbatim, line by line, with no commentary.
Keep question numbers exactly as printed, including the trailing period (for example "12.").
If nothing is legible, return an empty response.`

// Engine implements ocr.Engine. A client is created per call; the engine
// holds only credentials and model name.
type Engine struct {
	APIKey string
	Model  string
}

func New(apiKey, model string) *Engine {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	return &Engine{
		APIKey: strings.TrimSpace(apiKey),
		Model:  model,
	}
}

func (e *Engine) Name() string { return "gemini" }

// Recognize sends the image with a transcription prompt. Input.Hint, when
// set, is appended to the user turn. No retries are attempted.
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	if e.APIKey == "" {
		return ocr.Result{}, errors.New("gemini: API key is empty")
	}
	if len(in.Image) == 0 {
		return ocr.Result{}, errors.New("gemini: empty image")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return ocr.Result{}, fmt.Errorf("gemini: new client: %w", err)
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.Model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(0),
	}
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}

	user := "Transcribe this image."
	if h := strings.TrimSpace(in.Hint); h != "" {
		user += " " + h
	}
	format := in.Format
	if format == "" {
		format = ocr.ImageFormatPNG
	}
	resp, err := m.GenerateContent(ctx,
		genai.Text(user),
		genai.Blob{MIMEType: string(format), Data: in.Image},
	)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("gemini: generate: %w", err)
	}
	text := stripCodeFences(strings.TrimSpace(firstText(resp)))
	return ocr.Result{
		InputID:   in.ID,
		PlainText: text,
		Blocks:    []ocr.TextBlock{{Text: text}},
	}, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		if sb.Len() > 0 {
			break
		}
	}
	return sb.String()
}

func stripCodeFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func ptrFloat32(v float32) *float32 { return &v }

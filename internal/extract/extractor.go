// Package extract turns a statement PDF into extraction output with a
// Gemini model. It only finds tables and copies cells; it never interprets
// them.
package extract

import (
	"context"
	"fmt"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"github.com/dvloznov/portfolio-tracker/internal/logger"
	"github.com/dvloznov/portfolio-tracker/internal/statement"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// Generator sends a prompt and a PDF to a model and returns its raw text.
type Generator interface {
	Generate(ctx context.Context, prompt string, pdf []byte) (string, error)
}

// Extractor produces statement documents from PDFs.
type Extractor struct {
	gen Generator
}

// New creates an extractor on top of gen.
func New(gen Generator) *Extractor {
	return &Extractor{gen: gen}
}

// NewGemini creates an extractor backed by the Gemini API. Credentials come
// from the environment, as genai.NewClient reads them.
func NewGemini(ctx context.Context, model string) (*Extractor, error) {
	g, err := NewGeminiGenerator(ctx, model)
	if err != nil {
		return nil, err
	}
	return New(g), nil
}

// Extract runs the model on pdf and returns the decoded document together
// with its canonical JSON encoding.
func (e *Extractor) Extract(ctx context.Context, pdf []byte) (*statement.Document, []byte, error) {
	log := logger.FromContext(ctx)
	if len(pdf) == 0 {
		return nil, nil, fmt.Errorf("Extract: empty PDF")
	}

	raw, err := e.gen.Generate(ctx, tablesPrompt, pdf)
	if err != nil {
		return nil, nil, fmt.Errorf("Extract: generating: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, nil, fmt.Errorf("Extract: empty response from model")
	}

	doc, err := Decode(raw)
	if err != nil {
		log.Error().Err(err).Int("response_len", len(raw)).Msg("Model output could not be decoded")
		return nil, nil, fmt.Errorf("Extract: %w", err)
	}

	data, err := doc.Encode()
	if err != nil {
		return nil, nil, fmt.Errorf("Extract: encoding document: %w", err)
	}
	log.Info().Int("pages", len(doc.Pages)).Int("tables", len(doc.Tables())).Msg("Extracted statement tables")
	return doc, data, nil
}

// Decode reads model output into a document. Code fences and surrounding
// prose are stripped first; output that is still not valid JSON gets one
// repair attempt before it is declared unreadable.
func Decode(raw string) (*statement.Document, error) {
	clean := cleanModelJSON(raw)
	doc, err := statement.Decode([]byte(clean))
	if err == nil {
		return doc, nil
	}

	repaired, rerr := jsonrepair.RepairJSON(clean)
	if rerr != nil {
		return nil, err
	}
	doc, rerr = statement.Decode([]byte(repaired))
	if rerr != nil {
		return nil, err
	}
	return doc, nil
}

// cleanModelJSON drops Markdown fences and anything outside the outermost
// JSON object or array.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSpace(s[idx+1:])
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return s
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	if end := strings.LastIndex(s, closer); end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}

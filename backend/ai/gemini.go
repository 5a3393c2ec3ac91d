// Package ai talks to the hosted language model used for compatibility
// analysis, ice breakers, bio suggestions and chat moderation.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	DefaultModel = "gemini-2.5-flash"

	defaultTemperature = float32(0.7)
	defaultMaxTokens   = int32(1000)
)

// ErrNotConfigured is returned when no API key was supplied.
var ErrNotConfigured = errors.New("ai: generator not configured")

// Usage is the token accounting reported for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the text a model produced together with its usage.
type Completion struct {
	Text  string
	Model string
	Usage Usage
}

type contentModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Generator sends single-turn prompts to Gemini and asks for JSON back.
type Generator struct {
	models      contentModels
	model       string
	temperature float32
	maxTokens   int32
	timeout     time.Duration
}

// NewGenerator creates a Generator for the Gemini API backend.
func NewGenerator(ctx context.Context, apiKey, model string) (*Generator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrNotConfigured
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newGenerator(client.Models, model), nil
}

func newGenerator(models contentModels, model string) *Generator {
	if model = strings.TrimSpace(model); model == "" {
		model = DefaultModel
	}
	return &Generator{
		models:      models,
		model:       model,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
}

// Generate runs prompt under the given system instruction.
func (g *Generator) Generate(ctx context.Context, system, prompt string) (Completion, error) {
	if g == nil || g.models == nil {
		return Completion{}, ErrNotConfigured
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Completion{}, errors.New("prompt must not be empty")
	}

	temperature := g.temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		MaxOutputTokens:  g.maxTokens,
		ResponseMIMEType: "application/json",
	}
	if system = strings.TrimSpace(system); system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return Completion{Model: g.model}, fmt.Errorf("generate content: %w", err)
	}

	out := Completion{Model: g.model}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(text)
		}
	}

	out.Text = strings.TrimSpace(b.String())
	if out.Text == "" {
		return out, errors.New("gemini api returned empty response")
	}
	return out, nil
}

// SetTimeout bounds every Generate call. Zero means no bound beyond ctx.
func (g *Generator) SetTimeout(d time.Duration) {
	g.timeout = d
}

func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

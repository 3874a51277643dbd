package assist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/codeshare/internal/config"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini answers questions with Google's Gemini models
type Gemini struct {
	apiKey string
	model  string
}

// NewGemini creates a Gemini analyzer
func NewGemini(cfg config.GeminiConfig) *Gemini {
	return &Gemini{
		apiKey: cfg.APIKey,
		model:  cfg.Model,
	}
}

func (g *Gemini) Name() string {
	return "gemini"
}

func (g *Gemini) IsConfigured() bool {
	return g.apiKey != ""
}

// Model returns the configured model or the default one
func (g *Gemini) Model() string {
	if g.model != "" {
		return g.model
	}
	return defaultGeminiModel
}

// Analyze sends the document and question to Gemini
func (g *Gemini) Analyze(ctx context.Context, req Request) (*Response, error) {
	if !g.IsConfigured() {
		return nil, ErrNotConfigured
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer client.Close()

	model := g.Model()
	generativeModel := client.GenerativeModel(model)
	var temperature float32 = 0.2
	generativeModel.Temperature = &temperature

	start := time.Now()
	resp, err := generativeModel.GenerateContent(ctx, genai.Text(BuildPrompt(req)))
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("gemini generation error: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response from gemini")
	}

	var output strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			output.WriteString(string(text))
		}
	}

	tokensUsed := 0
	if resp.UsageMetadata != nil {
		tokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}

	answer := strings.TrimSpace(output.String())
	return &Response{
		Answer:     answer,
		Snippet:    ExtractSnippet(answer),
		Model:      model,
		TokensUsed: tokensUsed,
		LatencyMs:  latency,
		Version:    req.Version,
	}, nil
}

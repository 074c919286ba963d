// Package gen is the content-generation backend: a thin, typed wrapper around
// the Gemini API with optional Google Search grounding.
package gen

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/explainbot/pkg/models"
)

// Generator produces an answer for a prompt. Implementations may fail with
// transient (rate-limit, transport) errors; callers own the retry policy.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*models.GeneratedAnswer, error)
}

// Config configures the Gemini generator.
type Config struct {
	APIKey       string  `koanf:"api_key"`
	Model        string  `koanf:"model"`
	Temperature  float64 `koanf:"temperature"`
	SystemPrompt string  `koanf:"system_prompt"`
	EnableSearch bool    `koanf:"enable_search"`
}

// GeminiGenerator implements Generator against the Gemini API.
type GeminiGenerator struct {
	client       *genai.Client
	model        string
	temperature  float64
	systemPrompt string
	enableSearch bool
	logger       zerolog.Logger
}

// New creates a GeminiGenerator.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api_key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}

	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiGenerator{
		client:       client,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		systemPrompt: cfg.SystemPrompt,
		enableSearch: cfg.EnableSearch,
		logger:       logger.With().Str("component", "gen").Str("model", cfg.Model).Logger(),
	}, nil
}

// Generate asks Gemini for an answer to the prompt and maps any search
// grounding attributions into citations.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (*models.GeneratedAnswer, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(g.temperature)),
	}

	if g.systemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(g.systemPrompt, genai.RoleUser)
	}

	if g.enableSearch {
		config.Tools = []*genai.Tool{
			{GoogleSearch: &genai.GoogleSearch{}},
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate failed: %w", err)
	}

	answer := &models.GeneratedAnswer{
		Text: strings.TrimSpace(resp.Text()),
	}

	if len(resp.Candidates) > 0 {
		answer.Citations = citationsFromMetadata(resp.Candidates[0].GroundingMetadata)
	}

	g.logger.Debug().
		Int("answer_len", len(answer.Text)).
		Int("citations", len(answer.Citations)).
		Msg("generation complete")

	return answer, nil
}

// citationsFromMetadata maps grounding attributions to citations, dropping any
// entry missing a usable title or source URL.
func citationsFromMetadata(md *genai.GroundingMetadata) []models.Citation {
	if md == nil {
		return nil
	}

	var citations []models.Citation
	for _, chunk := range md.GroundingChunks {
		if chunk == nil || chunk.Web == nil {
			continue
		}
		if chunk.Web.Title == "" || chunk.Web.URI == "" {
			continue
		}
		citations = append(citations, models.Citation{
			Title: chunk.Web.Title,
			URL:   chunk.Web.URI,
		})
	}

	return citations
}

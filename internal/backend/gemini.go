package backend

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"

	"github.com/ShayCichocki/turboswarm/pkg/models"
)

// GeminiConfig contains configuration for the Gemini backend.
type GeminiConfig struct {
	// APIKey is the Gemini API key. If empty, uses GEMINI_API_KEY env var.
	APIKey string
	// Model defaults to gemini-3-pro-preview.
	Model string
}

// Gemini executes requests with Google's Gemini models.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini backend.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrBackendUnavailable)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-3-pro-preview"
	}
	return &Gemini{client: client, model: model}, nil
}

// Name implements Backend.
func (g *Gemini) Name() string {
	return "gemini:" + g.model
}

// Execute implements Backend.
func (g *Gemini) Execute(ctx context.Context, req *Request) (*Response, error) {
	var genCfg *genai.GenerateContentConfig
	if req.System != "" {
		genCfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.Prompt), genCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	var in, out int64
	if resp.UsageMetadata != nil {
		in = int64(resp.UsageMetadata.PromptTokenCount)
		out = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return &Response{
		Text:         resp.Text(),
		InputTokens:  in,
		OutputTokens: out,
		Cost:         EstimateCost(models.ModelGemini3Pro, in, out),
	}, nil
}

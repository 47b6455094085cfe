package backend

import (
	"context"
	"fmt"
	"os"

	"github.com/sashabaranov/go-openai"

	"github.com/ShayCichocki/turboswarm/pkg/models"
)

// OpenAIConfig contains configuration for the GPT backend.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. If empty, uses OPENAI_API_KEY env var.
	APIKey string
	// Model defaults to gpt-5.1.
	Model string
	// BaseURL overrides the API endpoint for compatible servers.
	BaseURL string
}

// OpenAI executes requests with GPT models.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a GPT backend.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrBackendUnavailable)
	}

	model := cfg.Model
	if model == "" {
		model = string(models.ModelGPT51)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

// Name implements Backend.
func (o *OpenAI) Name() string {
	return "openai:" + o.model
}

// Execute implements Backend.
func (o *OpenAI) Execute(ctx context.Context, req *Request) (*Response, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, NewTransient(fmt.Errorf("openai returned no choices"))
	}

	in, out := int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens)
	return &Response{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  in,
		OutputTokens: out,
		Cost:         EstimateCost(models.ModelGPT51, in, out),
	}, nil
}

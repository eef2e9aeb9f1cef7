package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// Provider turns one string into one fixed-dimension vector
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewOpenAIClient builds a go-openai client honouring a custom base URL
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

type openAIProvider struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIProvider returns a Provider backed by the embeddings API, or nil
// when no API key is configured
func NewOpenAIProvider(cfg OpenAIConfig) Provider {
	if cfg.APIKey == "" {
		return nil
	}
	model := openai.EmbeddingModel(cfg.Model)
	if model == "" {
		model = openai.SmallEmbedding3
	}
	return &openAIProvider{
		client: NewOpenAIClient(cfg.APIKey, cfg.BaseURL),
		model:  model,
	}
}

func (p *openAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: p.model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding response contained no data")
	}
	return resp.Data[0].Embedding, nil
}

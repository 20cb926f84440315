package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/markdave123-py/kbingest/internal/core"
)

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
	dims      int
	limiter   *rate.Limiter
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string, limiter *rate.Limiter) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, core.ErrMissingCredentials
	}
	if modelName == "" {
		modelName = "gemini-embedding-001"
	}
	info, ok := LookupModel(modelName)
	if !ok || info.Provider != ProviderGemini {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, modelName)
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &GeminiEmbedder{client: cl, modelName: info.Name, dims: info.Dimensions, limiter: limiter}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiEmbedder) ModelName() string { return g.modelName }
func (g *GeminiEmbedder) Dimensions() int   { return g.dims }

// Embed sends one text. Gemini does not report usage for embeddings, so
// tokens are estimated from the input length.
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) (core.Embedding, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return core.Embedding{}, err
	}
	input := truncate(text, MaxInputChars)

	resp, err := g.client.EmbeddingModel(g.modelName).EmbedContent(ctx, genai.Text(input))
	if err != nil {
		if ctx.Err() != nil {
			return core.Embedding{}, ctx.Err()
		}
		return core.Embedding{}, fmt.Errorf("%w: gemini embed: %v", core.ErrEmbeddingAPI, err)
	}
	if resp == nil || resp.Embedding == nil {
		return core.Embedding{}, fmt.Errorf("%w: response has no embedding", core.ErrInvalidEmbedding)
	}
	if err := checkVector(resp.Embedding.Values, g.dims); err != nil {
		return core.Embedding{}, err
	}
	return core.Embedding{Vector: resp.Embedding.Values, Tokens: approxTokens(input)}, nil
}

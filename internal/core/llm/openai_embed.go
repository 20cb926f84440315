package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/kbingest/internal/core"
)

var _ core.EmbeddingProvider = (*OpenAIEmbedder)(nil)

// OpenAIEmbedder calls any OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	dims    int
	limiter *rate.Limiter
}

func NewOpenAIEmbedder(apiKey, baseURL, model string, limiter *rate.Limiter, httpClient *http.Client) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, core.ErrMissingCredentials
	}
	info, ok := LookupModel(model)
	if !ok || info.Provider != ProviderOpenAI {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}

	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(cfg),
		model:   info.Name,
		dims:    info.Dimensions,
		limiter: limiter,
	}, nil
}

func (e *OpenAIEmbedder) ModelName() string { return e.model }
func (e *OpenAIEmbedder) Dimensions() int   { return e.dims }
func (e *OpenAIEmbedder) Close() error      { return nil }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (core.Embedding, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return core.Embedding{}, err
	}
	input := truncate(text, MaxInputChars)

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{input},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return core.Embedding{}, classifyOpenAIError(err)
	}
	if len(resp.Data) == 0 {
		return core.Embedding{}, fmt.Errorf("%w: response has no data", core.ErrInvalidEmbedding)
	}

	vec := resp.Data[0].Embedding
	if err := checkVector(vec, e.dims); err != nil {
		return core.Embedding{}, err
	}

	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = resp.Usage.PromptTokens
	}
	if tokens == 0 {
		tokens = approxTokens(input)
	}
	return core.Embedding{Vector: vec, Tokens: tokens}, nil
}

func classifyOpenAIError(err error) error {
	var (
		apiErr    *openai.APIError
		reqErr    *openai.RequestError
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.As(err, &apiErr):
		return fmt.Errorf("%w: status %d: %s", core.ErrEmbeddingAPI, apiErr.HTTPStatusCode, apiErr.Message)
	case errors.As(err, &reqErr):
		return fmt.Errorf("%w: status %d: %v", core.ErrEmbeddingAPI, reqErr.HTTPStatusCode, reqErr.Err)
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %v", core.ErrInvalidEmbedding, err)
	default:
		return fmt.Errorf("%w: %v", core.ErrEmbeddingAPI, err)
	}
}

func checkVector(vec []float32, dims int) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", core.ErrInvalidEmbedding)
	}
	if len(vec) != dims {
		return fmt.Errorf("%w: got %d dimensions, want %d", core.ErrInvalidEmbedding, len(vec), dims)
	}
	return nil
}

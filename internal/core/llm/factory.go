package llm

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/markdave123-py/kbingest/internal/core"
)

// Embedder is a provider the caller must close when the job ends.
type Embedder interface {
	core.EmbeddingProvider
	Close() error
}

// Factory builds per-tenant embedders. All embedders it creates share one
// request limiter, so pacing applies to the whole process.
type Factory struct {
	defaultModel string
	baseURL      string
	limiter      *rate.Limiter
	httpClient   *http.Client
}

// NewFactory paces requests at rps per second; rps <= 0 disables pacing.
func NewFactory(defaultModel, baseURL string, rps float64, httpClient *http.Client) *Factory {
	if defaultModel == "" {
		defaultModel = DefaultModel
	}
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		if int(rps) > burst {
			burst = int(rps)
		}
	}
	return &Factory{
		defaultModel: defaultModel,
		baseURL:      baseURL,
		limiter:      rate.NewLimiter(limit, burst),
		httpClient:   httpClient,
	}
}

func (f *Factory) DefaultModel() string { return f.defaultModel }

// New returns an embedder for model, or the factory default when model is empty.
func (f *Factory) New(ctx context.Context, apiKey, model string) (Embedder, error) {
	if model == "" {
		model = f.defaultModel
	}
	info, ok := LookupModel(model)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}

	switch info.Provider {
	case ProviderGemini:
		return NewGeminiEmbedder(ctx, apiKey, model, f.limiter)
	default:
		return NewOpenAIEmbedder(apiKey, f.baseURL, model, f.limiter, f.httpClient)
	}
}

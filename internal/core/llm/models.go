package llm

import (
	"errors"
	"math"
	"unicode/utf8"
)

// MaxInputChars caps the text sent per embedding request.
const MaxInputChars = 8000

const DefaultModel = "text-embedding-3-large"

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

var ErrUnknownModel = errors.New("unknown embedding model")

// ModelInfo describes an embedding model the pipeline can bill for.
type ModelInfo struct {
	Name       string
	Provider   string
	Dimensions int
	// USDPerMillion is the list price per 1M input tokens.
	USDPerMillion float64
}

var knownModels = map[string]ModelInfo{
	"text-embedding-3-large": {Name: "text-embedding-3-large", Provider: ProviderOpenAI, Dimensions: 3072, USDPerMillion: 0.13},
	"text-embedding-3-small": {Name: "text-embedding-3-small", Provider: ProviderOpenAI, Dimensions: 1536, USDPerMillion: 0.02},
	"text-embedding-ada-002": {Name: "text-embedding-ada-002", Provider: ProviderOpenAI, Dimensions: 1536, USDPerMillion: 0.10},
	"text-embedding-004":     {Name: "text-embedding-004", Provider: ProviderGemini, Dimensions: 768, USDPerMillion: 0},
	"gemini-embedding-001":   {Name: "gemini-embedding-001", Provider: ProviderGemini, Dimensions: 3072, USDPerMillion: 0.15},
}

func LookupModel(name string) (ModelInfo, bool) {
	m, ok := knownModels[name]
	return m, ok
}

// Cost prices tokens for model in USD, rounded to 6 decimals. Unknown models cost 0.
func Cost(model string, tokens int) float64 {
	m, ok := knownModels[model]
	if !ok || tokens <= 0 {
		return 0
	}
	return round6(m.USDPerMillion * float64(tokens) / 1e6)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// approxTokens estimates ~1 token per 4 chars.
func approxTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

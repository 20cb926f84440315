package extraction

import "strings"

// Kind tags the outcome of a single extraction attempt.
type Kind int

const (
	KindEmpty Kind = iota
	KindSuccess
	KindProviderError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindProviderError:
		return "provider_error"
	default:
		return "empty"
	}
}

// Result is what one step produced. Text is set only for KindSuccess and
// Detail only for KindProviderError.
type Result struct {
	Kind   Kind
	Text   string
	Detail string
}

// Succeeded wraps extracted text. Whitespace-only text counts as empty.
func Succeeded(text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Empty()
	}
	return Result{Kind: KindSuccess, Text: text}
}

func Empty() Result { return Result{Kind: KindEmpty} }

// Failed records a provider error. A nil err is treated as empty output.
func Failed(err error) Result {
	if err == nil {
		return Empty()
	}
	return Result{Kind: KindProviderError, Detail: err.Error()}
}

// FromText adapts the usual (text, err) pair returned by parsers and providers.
func FromText(text string, err error) Result {
	if err != nil {
		return Failed(err)
	}
	return Succeeded(text)
}

package core

import (
	"errors"
	"fmt"
	"strings"
)

// Pipeline errors. Handlers map these to HTTP status codes with errors.Is.
var (
	ErrUnsupportedFormat   = errors.New("unsupported format")
	ErrNoTextExtracted     = errors.New("no text extracted")
	ErrFetch               = errors.New("fetch failed")
	ErrInsufficientContent = errors.New("insufficient content extracted")
	ErrEmbeddingAPI        = errors.New("embedding API error")
	ErrInvalidEmbedding    = errors.New("invalid embedding")
	ErrPersistence         = errors.New("persistence error")
	ErrMissingCredentials  = errors.New("missing embedding credentials")

	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrJobInProgress     = errors.New("job already in progress")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// NoTextExtractedError lists every extraction step that ran without producing text.
type NoTextExtractedError struct {
	Attempted []string
	// Details maps a step name to the provider error it reported, if any.
	Details map[string]string
}

func (e *NoTextExtractedError) Error() string {
	msg := fmt.Sprintf("no text extracted (attempted: %s)", strings.Join(e.Attempted, ", "))
	if len(e.Details) == 0 {
		return msg
	}
	parts := make([]string, 0, len(e.Details))
	for _, step := range e.Attempted {
		if d, ok := e.Details[step]; ok {
			parts = append(parts, step+": "+d)
		}
	}
	return msg + "; " + strings.Join(parts, "; ")
}

func (e *NoTextExtractedError) Unwrap() error { return ErrNoTextExtracted }

// InsufficientContentError is returned when a page yields too few words to be useful.
type InsufficientContentError struct {
	WordCount int
	Minimum   int
}

func (e *InsufficientContentError) Error() string {
	return fmt.Sprintf("insufficient content extracted: %d words (minimum %d)", e.WordCount, e.Minimum)
}

func (e *InsufficientContentError) Unwrap() error { return ErrInsufficientContent }

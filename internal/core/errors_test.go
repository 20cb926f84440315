package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrors_Distinct(t *testing.T) {
	all := []error{
		ErrUnsupportedFormat, ErrNoTextExtracted, ErrFetch, ErrInsufficientContent,
		ErrEmbeddingAPI, ErrInvalidEmbedding, ErrPersistence, ErrMissingCredentials,
		ErrNotFound, ErrInvalidInput, ErrJobInProgress, ErrInvalidTransition,
	}
	for i, a := range all {
		for j, b := range all {
			if i != j {
				assert.False(t, errors.Is(a, b), "%v should not match %v", a, b)
			}
		}
	}
}

func TestNoTextExtractedError(t *testing.T) {
	err := &NoTextExtractedError{
		Attempted: []string{"pdf-parse", "pdfjs", "cloud-ocr"},
		Details:   map[string]string{"cloud-ocr": "status 500"},
	}

	wrapped := fmt.Errorf("extract: %w", err)
	assert.ErrorIs(t, wrapped, ErrNoTextExtracted)

	var target *NoTextExtractedError
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, []string{"pdf-parse", "pdfjs", "cloud-ocr"}, target.Attempted)
	assert.Contains(t, err.Error(), "pdf-parse, pdfjs, cloud-ocr")
	assert.Contains(t, err.Error(), "cloud-ocr: status 500")
}

func TestInsufficientContentError(t *testing.T) {
	err := &InsufficientContentError{WordCount: 12, Minimum: 50}
	assert.ErrorIs(t, err, ErrInsufficientContent)
	assert.Equal(t, "insufficient content extracted: 12 words (minimum 50)", err.Error())
}

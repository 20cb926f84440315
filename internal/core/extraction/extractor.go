// Package extraction turns uploaded file bytes into plain text. PDFs run
// through an ordered chain of steps, ending in OCR providers when configured;
// DOCX, XLSX and plain text have a single parser each.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/core/ocr"
)

// Step names, also stored as the document's extraction_method.
const (
	MethodPDFParse     = "pdf-parse"
	MethodPDFJS        = "pdfjs"
	MethodCloudOCR     = "cloud-ocr"
	MethodSecondaryOCR = "secondary-ocr"
	MethodDOCX         = "docx"
	MethodXLSX         = "xlsx"
	MethodText         = "text"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Input is one file to extract.
type Input struct {
	Data        []byte
	ContentType string
	FileName    string
	// Locator identifies the blob so OCR providers can be handed a signed URL.
	Locator string
}

// Output is the extracted text and the step that produced it.
type Output struct {
	Text   string
	Method string
}

// Step is one attempt in the PDF chain.
type Step struct {
	Name string
	Run  func(ctx context.Context, in Input) Result
}

// URLSigner issues time-limited download URLs for blobs.
type URLSigner interface {
	PresignURL(ctx context.Context, locator string, ttl time.Duration) (string, error)
}

type Extractor struct {
	logger *slog.Logger

	steps []Step

	cloud     *ocr.DocumentClient
	signer    URLSigner
	signedTTL time.Duration
	secondary *ocr.BytesClient
}

type Option func(*Extractor)

func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// WithCloudOCR enables the signed-URL OCR step. A nil client leaves it off.
func WithCloudOCR(client *ocr.DocumentClient, signer URLSigner, ttl time.Duration) Option {
	return func(e *Extractor) {
		e.cloud = client
		e.signer = signer
		e.signedTTL = ttl
	}
}

// WithSecondaryOCR enables the raw-bytes OCR step. A nil client leaves it off.
func WithSecondaryOCR(client *ocr.BytesClient) Option {
	return func(e *Extractor) { e.secondary = client }
}

// WithPDFSteps replaces the PDF chain entirely.
func WithPDFSteps(steps ...Step) Option {
	return func(e *Extractor) { e.steps = steps }
}

func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{logger: slog.Default(), signedTTL: 10 * time.Minute}
	for _, opt := range opts {
		opt(e)
	}
	if e.steps == nil {
		e.steps = e.defaultSteps()
	}
	return e
}

func (e *Extractor) defaultSteps() []Step {
	steps := []Step{
		{Name: MethodPDFParse, Run: parsePDF},
		{Name: MethodPDFJS, Run: convertPDF},
	}
	if e.cloud != nil && e.signer != nil {
		steps = append(steps, Step{Name: MethodCloudOCR, Run: e.cloudOCR})
	}
	if e.secondary != nil {
		steps = append(steps, Step{Name: MethodSecondaryOCR, Run: e.secondaryOCR})
	}
	return steps
}

// StepNames lists the PDF chain in execution order.
func (e *Extractor) StepNames() []string {
	names := make([]string, len(e.steps))
	for i, s := range e.steps {
		names[i] = s.Name
	}
	return names
}

// Extract dispatches on content type. When the declared type is empty or
// generic, it is inferred from the file name extension.
func (e *Extractor) Extract(ctx context.Context, in Input) (*Output, error) {
	ct := resolveContentType(in.ContentType, in.FileName)

	switch {
	case strings.Contains(ct, "pdf"):
		return e.extractPDF(ctx, in)
	case strings.Contains(ct, "wordprocessingml"):
		return single(MethodDOCX, docxText(in.Data))
	case strings.Contains(ct, "spreadsheetml"):
		return single(MethodXLSX, xlsxText(in.Data))
	case strings.Contains(ct, "text/plain"):
		return single(MethodText, plainText(in.Data))
	default:
		if ct == "" {
			ct = "unknown"
		}
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedFormat, ct)
	}
}

func (e *Extractor) extractPDF(ctx context.Context, in Input) (*Output, error) {
	noText := &core.NoTextExtractedError{Details: map[string]string{}}

	for _, step := range e.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		started := time.Now()
		res := step.Run(ctx, in)
		log := e.logger.With("step", step.Name, "file", in.FileName, "outcome", res.Kind.String(), "duration", time.Since(started))

		switch res.Kind {
		case KindSuccess:
			log.Info("pdf extraction succeeded", "chars", len(res.Text))
			return &Output{Text: res.Text, Method: step.Name}, nil
		case KindProviderError:
			log.Warn("pdf extraction step failed", "detail", res.Detail)
			noText.Details[step.Name] = res.Detail
		default:
			log.Info("pdf extraction step returned no text")
		}
		noText.Attempted = append(noText.Attempted, step.Name)
	}

	if len(noText.Details) == 0 {
		noText.Details = nil
	}
	return nil, noText
}

func single(method string, res Result) (*Output, error) {
	if res.Kind == KindSuccess {
		return &Output{Text: res.Text, Method: method}, nil
	}
	err := &core.NoTextExtractedError{Attempted: []string{method}}
	if res.Kind == KindProviderError {
		err.Details = map[string]string{method: res.Detail}
	}
	return nil, err
}

func (e *Extractor) cloudOCR(ctx context.Context, in Input) Result {
	if in.Locator == "" {
		return Failed(errors.New("no blob locator to sign"))
	}
	signed, err := e.signer.PresignURL(ctx, in.Locator, e.signedTTL)
	if err != nil {
		return Failed(fmt.Errorf("sign url: %w", err))
	}
	return FromText(e.cloud.ExtractFromURL(ctx, signed))
}

func (e *Extractor) secondaryOCR(ctx context.Context, in Input) Result {
	name := in.FileName
	if name == "" {
		name = "document.pdf"
	}
	return FromText(e.secondary.ExtractFromBytes(ctx, in.Data, name))
}

func resolveContentType(declared, fileName string) string {
	ct := strings.ToLower(strings.TrimSpace(declared))
	if ct != "" && ct != "application/octet-stream" && ct != "binary/octet-stream" {
		return ct
	}
	switch strings.ToLower(path.Ext(fileName)) {
	case ".pdf":
		return mimePDF
	case ".docx":
		return mimeDOCX
	case ".xlsx":
		return mimeXLSX
	case ".txt":
		return "text/plain"
	}
	if byExt := mime.TypeByExtension(path.Ext(fileName)); byExt != "" {
		return strings.ToLower(byExt)
	}
	return ct
}

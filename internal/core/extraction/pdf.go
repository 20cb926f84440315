package extraction

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"
)

// parsePDF reads the text layer page by page. The parser panics on some
// malformed xref tables, so panics are reported as provider errors.
func parsePDF(ctx context.Context, in Input) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failed(fmt.Errorf("pdf parser panic: %v", r))
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(in.Data), int64(len(in.Data)))
	if err != nil {
		return Failed(fmt.Errorf("open pdf: %w", err))
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		if ctx.Err() != nil {
			return Failed(ctx.Err())
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return Succeeded(sb.String())
}

// convertPDF is the second text-layer pass, via docconv's pdftotext backend.
func convertPDF(_ context.Context, in Input) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failed(fmt.Errorf("pdf converter panic: %v", r))
		}
	}()

	text, _, err := docconv.ConvertPDF(bytes.NewReader(in.Data))
	return FromText(text, err)
}

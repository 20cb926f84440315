package chunking

import (
	"regexp"
	"strings"
)

// headerPatterns recognise column headers of price and product lists,
// in both English and Portuguese.
var headerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(c[oó]d(igo)?|code|sku|ref)\b.*\b(item|produto|product)`),
	regexp.MustCompile(`(?i)\b(descri[cç][aã]o|description)\b`),
	regexp.MustCompile(`(?i)\b(pre[cç]o|price|valor|unit[aá]rio)`),
	regexp.MustCompile(`(?i)\b(linha|line)\b.*\bsub-?(linha|line)\b`),
}

var separatorLine = regexp.MustCompile(`^[\s\-=_|+:]{3,}$`)

const detectLines = 5

func nonEmptyLines(text string) []string {
	var out []string
	for _, l := range strings.Split(normalize(text), "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, strings.TrimRight(l, " \t"))
		}
	}
	return out
}

func isHeaderLine(line string) bool {
	for _, re := range headerPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// IsProductList reports whether one of the first five non-empty lines looks
// like a product/price table header. Texts with fewer than five non-empty
// lines are never product lists.
func IsProductList(text string) bool {
	lines := nonEmptyLines(text)
	if len(lines) < detectLines {
		return false
	}
	for _, l := range lines[:detectLines] {
		if isHeaderLine(l) {
			return true
		}
	}
	return false
}

// chunkProductList keeps the header block and emits one chunk per group of
// rows, each re-prefixed with the header so it stands alone.
func (c *DocumentChunker) chunkProductList(text string) []Piece {
	lines := nonEmptyLines(text)

	headerEnd := -1
	for i, l := range lines {
		if isHeaderLine(l) || separatorLine.MatchString(l) {
			headerEnd = i
			break
		}
	}
	if headerEnd < 0 {
		return nil
	}
	// a separator directly under the column header belongs to the header
	if headerEnd+1 < len(lines) && separatorLine.MatchString(lines[headerEnd+1]) {
		headerEnd++
	}

	header := strings.Join(lines[:headerEnd+1], "\n")
	rows := lines[headerEnd+1:]
	if len(rows) == 0 {
		return nil
	}

	var out []Piece
	for start := 0; start < len(rows); start += c.groupSize {
		end := min(start+c.groupSize, len(rows))
		body := header + "\n" + strings.Join(rows[start:end], "\n")
		out = append(out, Piece{
			Text:      body,
			WordCount: CountWords(body),
			Metadata: map[string]any{
				"productCount":  end - start,
				"totalProducts": len(rows),
			},
		})
	}
	return out
}

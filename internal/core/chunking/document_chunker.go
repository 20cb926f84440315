package chunking

import (
	"regexp"
	"strings"
)

const (
	DefaultSoftLimit = 500
	DefaultHardLimit = 600
	DefaultGroupSize = 15
)

var (
	multiNewlines  = regexp.MustCompile(`\n{3,}`)
	paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)
	sentenceEnd    = regexp.MustCompile(`[.!?]\s+`)
)

// DocumentChunker chunks uploaded files.
type DocumentChunker struct {
	softLimit int
	hardLimit int
	groupSize int
}

var _ Chunker = (*DocumentChunker)(nil)

// Option configures a DocumentChunker.
type Option func(*DocumentChunker)

// WithSoftLimit sets the word budget paragraphs are accumulated under.
func WithSoftLimit(words int) Option {
	return func(c *DocumentChunker) {
		if words > 0 {
			c.softLimit = words
		}
	}
}

// WithHardLimit sets the word count above which a chunk is force-sliced.
func WithHardLimit(words int) Option {
	return func(c *DocumentChunker) {
		if words > 0 {
			c.hardLimit = words
		}
	}
}

// WithGroupSize sets how many product rows go into one tabular chunk.
func WithGroupSize(rows int) Option {
	return func(c *DocumentChunker) {
		if rows > 0 {
			c.groupSize = rows
		}
	}
}

func NewDocumentChunker(opts ...Option) *DocumentChunker {
	c := &DocumentChunker{
		softLimit: DefaultSoftLimit,
		hardLimit: DefaultHardLimit,
		groupSize: DefaultGroupSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.hardLimit < c.softLimit {
		c.hardLimit = c.softLimit
	}
	return c
}

func (c *DocumentChunker) Name() string { return "document" }

// Chunk picks grouped-table chunking for product lists and
// paragraph-aware chunking for everything else.
func (c *DocumentChunker) Chunk(text string) []Piece {
	if IsProductList(text) {
		if pieces := c.chunkProductList(text); len(pieces) > 0 {
			return renumber(pieces)
		}
	}
	return renumber(c.enforceHardLimit(c.chunkParagraphs(text)))
}

func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = multiNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func (c *DocumentChunker) chunkParagraphs(text string) []Piece {
	text = normalize(text)
	if text == "" {
		return nil
	}

	var (
		out      []Piece
		buf      []string
		bufWords int
	)

	flush := func(sep string) {
		if bufWords == 0 {
			buf = buf[:0]
			return
		}
		out = append(out, Piece{Text: strings.Join(buf, sep), WordCount: bufWords})
		buf = buf[:0]
		bufWords = 0
	}

	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		words := CountWords(para)
		if words == 0 {
			continue
		}

		if words > c.softLimit {
			flush("\n\n")
			for _, sentence := range splitSentences(para) {
				sw := CountWords(sentence)
				if bufWords > 0 && bufWords+sw > c.softLimit {
					flush(" ")
				}
				buf = append(buf, sentence)
				bufWords += sw
			}
			flush(" ")
			continue
		}

		if bufWords > 0 && bufWords+words > c.softLimit {
			flush("\n\n")
		}
		buf = append(buf, para)
		bufWords += words
	}
	flush("\n\n")

	return out
}

// splitSentences cuts after '.', '!' or '?' followed by whitespace, keeping the punctuation.
func splitSentences(para string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(para, -1) {
		s := strings.TrimSpace(para[start : loc[0]+1])
		if s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if tail := strings.TrimSpace(para[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

// enforceHardLimit slices any piece above the hard limit into soft-limit windows.
func (c *DocumentChunker) enforceHardLimit(pieces []Piece) []Piece {
	out := make([]Piece, 0, len(pieces))
	for _, p := range pieces {
		if p.WordCount <= c.hardLimit {
			out = append(out, p)
			continue
		}
		words := strings.Fields(p.Text)
		for start := 0; start < len(words); start += c.softLimit {
			end := min(start+c.softLimit, len(words))
			out = append(out, Piece{Text: strings.Join(words[start:end], " "), WordCount: end - start})
		}
	}
	return out
}

package chunking

import "strings"

const (
	DefaultWindowWords  = 500
	DefaultOverlapWords = 50
)

// WebChunker slides a fixed word window over flattened page text.
type WebChunker struct {
	window  int
	overlap int
}

var _ Chunker = (*WebChunker)(nil)

// NewWebChunker builds a sliding-window chunker. An overlap that would stall
// the window is reduced to a quarter of it.
func NewWebChunker(window, overlap int) *WebChunker {
	if window <= 0 {
		window = DefaultWindowWords
	}
	if overlap < 0 {
		overlap = DefaultOverlapWords
	}
	if overlap >= window {
		overlap = window / 4
	}
	return &WebChunker{window: window, overlap: overlap}
}

func (c *WebChunker) Name() string { return "web" }

func (c *WebChunker) Chunk(text string) []Piece {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	stride := c.window - c.overlap
	var out []Piece
	for start := 0; start < len(words); start += stride {
		end := min(start+c.window, len(words))
		out = append(out, Piece{
			Text:      strings.Join(words[start:end], " "),
			WordCount: end - start,
		})
		if end == len(words) {
			break
		}
	}
	return renumber(out)
}

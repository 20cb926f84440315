// Package chunking splits extracted text into bounded pieces ready for embedding.
//
// Two strategies exist. DocumentChunker is paragraph and sentence aware and
// switches to header-preserving row groups for price/product lists.
// WebChunker is a fixed word window with overlap for flattened page text.
// Callers pick the strategy explicitly.
package chunking

import "strings"

// Piece is one chunk of text before it is embedded.
type Piece struct {
	Index     int
	Text      string
	WordCount int
	Metadata  map[string]any
}

// Chunker splits normalized text into ordered pieces indexed from zero.
type Chunker interface {
	Chunk(text string) []Piece
	Name() string
}

// CountWords counts whitespace-separated words.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

func renumber(pieces []Piece) []Piece {
	for i := range pieces {
		pieces[i].Index = i
		if pieces[i].Metadata == nil {
			pieces[i].Metadata = make(map[string]any)
		}
		pieces[i].Metadata["chunkIndex"] = i
		pieces[i].Metadata["totalChunks"] = len(pieces)
		pieces[i].Metadata["wordCount"] = pieces[i].WordCount
	}
	return pieces
}

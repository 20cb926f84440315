package chunking

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func priceList(rows int) string {
	var b strings.Builder
	b.WriteString("ACME Distribuidora\n")
	b.WriteString("Lista de materiais 2024\n")
	b.WriteString("Código Item | Descrição | Preço\n")
	b.WriteString("------------------------------\n")
	for i := 1; i <= rows; i++ {
		fmt.Fprintf(&b, "%04d | Parafuso %d mm | R$ %d,00\n", i, i, i*2)
	}
	return b.String()
}

func TestIsProductList(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"portuguese header", priceList(10), true},
		{"english header", "Catalog\nSKU Product Name\nA1 bolt\nA2 nut\nA3 washer\nA4 screw", true},
		{"price column", "Spring list\n\nItem  Unit Price\nbolt 1.00\nnut 0.50\nwasher 0.10", true},
		{"line and sub-line", "Report\nLine Sub-line Qty\n1 1 3\n1 2 4\n2 1 9", true},
		{"fewer than five lines", "Code Item\nA1 bolt\nA2 nut", false},
		{"header after fifth line", "a\nb\nc\nd\ne\nDescription | Price\nx | 1", false},
		{"plain prose", "Once upon a time\nthere was a cat\nit slept a lot\nthe end came\nquietly", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsProductList(tt.text))
		})
	}
}

func TestIsProductList_Deterministic(t *testing.T) {
	text := priceList(3)
	first := IsProductList(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, IsProductList(text))
	}
}

func TestDocumentChunker_ProductList(t *testing.T) {
	pieces := NewDocumentChunker().Chunk(priceList(40))

	require.Len(t, pieces, 3)
	header := "ACME Distribuidora\nLista de materiais 2024\nCódigo Item | Descrição | Preço\n------------------------------"
	for _, p := range pieces {
		assert.True(t, strings.HasPrefix(p.Text, header+"\n"), "chunk %d must carry the header", p.Index)
		assert.Equal(t, 40, p.Metadata["totalProducts"])
	}
	assert.Equal(t, 15, pieces[0].Metadata["productCount"])
	assert.Equal(t, 15, pieces[1].Metadata["productCount"])
	assert.Equal(t, 10, pieces[2].Metadata["productCount"])
	assert.Contains(t, pieces[1].Text, "0016 | Parafuso 16 mm")
	assert.NotContains(t, pieces[1].Text, "0015 |")
}

func TestDocumentChunker_ProductListCustomGroup(t *testing.T) {
	pieces := NewDocumentChunker(WithGroupSize(5)).Chunk(priceList(12))
	require.Len(t, pieces, 3)
	assert.Equal(t, 2, pieces[2].Metadata["productCount"])
}

func TestDocumentChunker_ProductListWithoutRowsFallsBack(t *testing.T) {
	text := "a\nb\nc\nd\nCode Item | Description"
	pieces := NewDocumentChunker().Chunk(text)
	require.Len(t, pieces, 1)
	assert.NotContains(t, pieces[0].Metadata, "productCount")
}

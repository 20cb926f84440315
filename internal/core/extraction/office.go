package extraction

import (
	"bytes"
	"fmt"
	"strings"

	"code.sajari.com/docconv"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

func docxText(data []byte) Result {
	text, _, err := docconv.ConvertDocx(bytes.NewReader(data))
	return FromText(text, err)
}

// xlsxText renders every sheet as a delimited block:
//
//	--- Sheet1 ---
//	a | b | c
//
// Empty cells and empty rows are dropped. A sheet with no values keeps its
// delimiter line; a workbook with no values at all yields Empty.
func xlsxText(data []byte) Result {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return Failed(fmt.Errorf("open workbook: %w", err))
	}
	defer f.Close()

	var blocks []string
	hasValues := false
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return Failed(fmt.Errorf("read sheet %q: %w", sheet, err))
		}

		lines := []string{fmt.Sprintf("--- %s ---", sheet)}
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, c := range row {
				if c = strings.TrimSpace(c); c != "" {
					cells = append(cells, c)
				}
			}
			if len(cells) > 0 {
				lines = append(lines, strings.Join(cells, " | "))
				hasValues = true
			}
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}
	if !hasValues {
		return Empty()
	}
	return Succeeded(strings.Join(blocks, "\n\n"))
}

// plainText decodes UTF-8, or UTF-16 when a BOM says so.
func plainText(data []byte) Result {
	decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err != nil {
		return Failed(fmt.Errorf("decode text: %w", err))
	}
	return Succeeded(strings.ToValidUTF8(string(decoded), "�"))
}

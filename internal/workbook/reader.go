// Package workbook reads price histories from spreadsheet files.
package workbook

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mtlprog/seasonal/internal/domain"
)

// ReadFile opens an .xlsx file and reads its first sheet.
func ReadFile(path string) ([]domain.PriceRecord, error) {
	f, err := excelize.OpenFile(path, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("opening workbook %s: %w", path, err)
	}
	defer f.Close()
	return readFirstSheet(f)
}

// Read reads the first sheet of an .xlsx stream.
func Read(r io.Reader) ([]domain.PriceRecord, error) {
	f, err := excelize.OpenReader(r, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()
	return readFirstSheet(f)
}

// readFirstSheet turns the first sheet into records keyed by the header row.
// Cells are read raw, so date cells arrive as serial numbers. Numeric cells
// become float64, empty cells are omitted and rows without values are skipped.
func readFirstSheet(f *excelize.File) ([]domain.PriceRecord, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return []domain.PriceRecord{}, nil
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}

	records := make([]domain.PriceRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(domain.PriceRecord, len(headers))
		for i, cell := range row {
			if i >= len(headers) || headers[i] == "" || cell == "" {
				continue
			}
			rec[headers[i]] = cellValue(cell)
		}
		if len(rec) > 0 {
			records = append(records, rec)
		}
	}
	return records, nil
}

func cellValue(cell string) any {
	if domain.IsNumeric(cell) {
		if f, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err == nil {
			return f
		}
	}
	return cell
}

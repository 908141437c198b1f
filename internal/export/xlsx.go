package export

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// XLSXWriter implements SheetWriter by streaming an .xlsx workbook to out.
type XLSXWriter struct {
	out io.Writer
}

// NewXLSXWriter creates a writer that emits a workbook to out on every Write.
func NewXLSXWriter(out io.Writer) *XLSXWriter {
	return &XLSXWriter{out: out}
}

// Write builds a workbook with one sheet per asset. A single asset goes to
// the Processed_Data sheet; several assets get their own sheets plus a summary.
func (w *XLSXWriter) Write(_ context.Context, sheets []Sheet) error {
	f := excelize.NewFile()
	defer f.Close()

	first := f.GetSheetName(0)
	if len(sheets) == 1 {
		if err := f.SetSheetName(first, ProcessedSheet); err != nil {
			return fmt.Errorf("naming sheet: %w", err)
		}
		if err := writeRows(f, ProcessedSheet, buildTable(sheets[0].Records)); err != nil {
			return err
		}
	} else {
		if err := f.SetSheetName(first, SummarySheet); err != nil {
			return fmt.Errorf("naming sheet: %w", err)
		}
		if err := writeRows(f, SummarySheet, buildSummary(sheets)); err != nil {
			return err
		}
		names := sheetNames(sheets)
		for i, sh := range sheets {
			name := names[i]
			if _, err := f.NewSheet(name); err != nil {
				return fmt.Errorf("creating sheet %s: %w", name, err)
			}
			if err := writeRows(f, name, buildTable(sh.Records)); err != nil {
				return err
			}
		}
	}

	if _, err := f.WriteTo(w.out); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("writing row %d of %s: %w", i+1, sheet, err)
		}
	}
	return nil
}

package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet written by WriteXLSX.
const SheetName = "Onaylanan Faturalar"

// Content types for the export formats.
const (
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypeCSV  = "text/csv; charset=utf-8"
)

// WriteXLSX writes t as a single-sheet workbook.
func WriteXLSX(w io.Writer, t Table) error {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(SheetName)
	if err != nil {
		return fmt.Errorf("xlsx sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("xlsx sheet: %w", err)
	}

	widths := make([]int, len(t.Columns))
	if err := setRow(f, 1, t.Header(), widths); err != nil {
		return err
	}
	for r, row := range t.Rows {
		if err := setRow(f, r+2, row, widths); err != nil {
			return err
		}
	}
	if err := layout(f, len(t.Columns), widths); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

// setRow writes one row starting at column A and widens widths to fit it.
func setRow(f *excelize.File, rowNum int, values []string, widths []int) error {
	for c, v := range values {
		cell, err := excelize.CoordinatesToCellName(c+1, rowNum)
		if err != nil {
			return fmt.Errorf("xlsx cell: %w", err)
		}
		if err := f.SetCellValue(SheetName, cell, v); err != nil {
			return fmt.Errorf("xlsx cell %s: %w", cell, err)
		}
		widths[c] = max(widths[c], utf8.RuneCountInString(v))
	}
	return nil
}

// layout bolds and freezes the header row and sizes every column.
func layout(f *excelize.File, cols int, widths []int) error {
	if cols == 0 {
		return nil
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("xlsx style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(cols, 1)
	if err != nil {
		return fmt.Errorf("xlsx cell: %w", err)
	}
	if err := f.SetCellStyle(SheetName, "A1", last, bold); err != nil {
		return fmt.Errorf("xlsx style: %w", err)
	}
	for i, wd := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("xlsx column: %w", err)
		}
		if err := f.SetColWidth(SheetName, col, col, float64(min(wd, 60)+2)); err != nil {
			return fmt.Errorf("xlsx column %s: %w", col, err)
		}
	}
	err = f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
	if err != nil {
		return fmt.Errorf("xlsx panes: %w", err)
	}
	return nil
}

// WriteCSV writes t as semicolon-separated UTF-8 with a byte order mark so
// spreadsheet applications pick the right encoding.
func WriteCSV(w io.Writer, t Table) error {
	if _, err := io.WriteString(w, "\uFEFF"); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	cw.UseCRLF = true
	if err := cw.Write(t.Header()); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("csv write: %w", err)
	}
	return nil
}

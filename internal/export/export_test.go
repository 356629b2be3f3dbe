package export

import (
	"bytes"
	"encoding/csv"
	"slices"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kalambet/fatrocu/internal/invoice"
)

func reviewedJob(id, cfg string, data invoice.Fields, lines ...invoice.Fields) invoice.Job {
	return invoice.Job{
		ID:            id,
		FileName:      id + ".pdf",
		Status:        invoice.StatusSuccess,
		ReviewStatus:  invoice.ReviewReviewed,
		ConfigID:      cfg,
		ExtractedData: data,
		LineItems:     lines,
	}
}

var testConfig = invoice.Config{
	ID:   "c1",
	Name: "Fatura",
	Fields: []invoice.FieldConfig{
		{Key: "no", Label: "No"},
		{Key: "total", Label: "Toplam"},
	},
	LineItemFields: []invoice.FieldConfig{
		{Key: "rate", Label: "Oran"},
	},
}

func TestFlattenRowPerLineItem(t *testing.T) {
	jobs := []invoice.Job{
		reviewedJob("a", "c1",
			invoice.Fields{"no": {Value: "A1"}, "total": {Value: "120"}},
			invoice.Fields{"rate": {Value: "10"}},
			invoice.Fields{"rate": {Value: "20"}},
		),
		reviewedJob("b", "c1", invoice.Fields{"no": {Value: "B1"}}),
	}
	tbl := Flatten(jobs, []invoice.Config{testConfig})

	wantHeader := []string{"Dosya", "Belge Türü", "No", "Toplam", "Oran"}
	if got := tbl.Header(); !slices.Equal(got, wantHeader) {
		t.Fatalf("Header = %v, want %v", got, wantHeader)
	}
	want := [][]string{
		{"a.pdf", "Fatura", "A1", "120", "10"},
		{"a.pdf", "Fatura", "A1", "120", "20"},
		{"b.pdf", "Fatura", "B1", "", ""},
	}
	if len(tbl.Rows) != len(want) {
		t.Fatalf("rows = %d, want %d", len(tbl.Rows), len(want))
	}
	for i := range want {
		if !slices.Equal(tbl.Rows[i], want[i]) {
			t.Errorf("row %d = %v, want %v", i, tbl.Rows[i], want[i])
		}
	}
}

func TestFlattenCustomFieldsAndMissingConfig(t *testing.T) {
	a := reviewedJob("a", "c1", invoice.Fields{"no": {Value: "A1"}, "siparis": {Value: "S-9"}})
	a.CustomFields = []invoice.FieldConfig{{Key: "siparis", Label: "Sipariş"}}
	orphan := reviewedJob("b", "gone", invoice.Fields{"zeta": {Value: "z"}, "alpha": {Value: "x"}})

	tbl := Flatten([]invoice.Job{a, orphan}, []invoice.Config{testConfig})
	wantHeader := []string{"Dosya", "Belge Türü", "No", "Toplam", "Sipariş", "alpha", "zeta", "Oran"}
	if got := tbl.Header(); !slices.Equal(got, wantHeader) {
		t.Fatalf("Header = %v, want %v", got, wantHeader)
	}
	if got := tbl.Rows[0][4]; got != "S-9" {
		t.Errorf("custom field cell = %q", got)
	}
	if got := tbl.Rows[1]; got[1] != "" || got[5] != "x" || got[6] != "z" {
		t.Errorf("orphan row = %v", got)
	}
}

func TestFlattenEmpty(t *testing.T) {
	tbl := Flatten(nil, nil)
	if len(tbl.Rows) != 0 || len(tbl.Header()) != len(metaColumns) {
		t.Errorf("table = %+v", tbl)
	}
}

func TestWriteCSV(t *testing.T) {
	tbl := Flatten([]invoice.Job{
		reviewedJob("a", "c1", invoice.Fields{"no": {Value: "A;1"}, "total": {Value: "1.234,56"}}),
	}, []invoice.Config{testConfig})

	var buf bytes.Buffer
	if err := WriteCSV(&buf, tbl); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "\uFEFF") {
		t.Error("missing byte order mark")
	}
	if !strings.Contains(out, "\r\n") {
		t.Error("rows not CRLF terminated")
	}

	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(out, "\uFEFF")))
	r.Comma = ';'
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[1][2] != "A;1" || records[1][3] != "1.234,56" {
		t.Errorf("row = %v", records[1])
	}
}

func TestWriteXLSX(t *testing.T) {
	tbl := Flatten([]invoice.Job{
		reviewedJob("a", "c1",
			invoice.Fields{"no": {Value: "A1"}, "total": {Value: "120"}},
			invoice.Fields{"rate": {Value: "10"}},
			invoice.Fields{"rate": {Value: "20"}},
		),
	}, []invoice.Config{testConfig})

	var buf bytes.Buffer
	if err := WriteXLSX(&buf, tbl); err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	if sheets := f.GetSheetList(); !slices.Equal(sheets, []string{SheetName}) {
		t.Errorf("sheets = %v", sheets)
	}
	rows, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if !slices.Equal(rows[0], tbl.Header()) {
		t.Errorf("header = %v", rows[0])
	}
	if rows[2][4] != "20" {
		t.Errorf("second line item rate = %q", rows[2][4])
	}
}

func TestWriteXLSXReportsSheetErrors(t *testing.T) {
	cols := make([]Column, excelize.MaxColumns+1)
	for i := range cols {
		cols[i] = Column{Key: "k", Label: "k"}
	}
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, Table{Columns: cols}); err == nil {
		t.Fatal("WriteXLSX accepted more columns than a sheet holds")
	}
	if buf.Len() != 0 {
		t.Errorf("wrote %d bytes for a failed workbook", buf.Len())
	}
}

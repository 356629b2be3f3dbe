// Package export flattens reviewed jobs into a row-per-line-item table and
// writes it as XLSX or CSV.
package export

import (
	"maps"
	"slices"

	"github.com/kalambet/fatrocu/internal/invoice"
)

// Column is one exported column. Meta columns describe the job itself
// rather than an extracted field.
type Column struct {
	Key      string
	Label    string
	LineItem bool
	meta     func(invoice.Job, string) string
}

// Table is the flattened export: one row per line item, or exactly one row
// for a job without line items.
type Table struct {
	Columns []Column
	Rows    [][]string
}

// Header returns the column labels.
func (t Table) Header() []string {
	h := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		h[i] = c.Label
	}
	return h
}

var metaColumns = []Column{
	{Key: "fileName", Label: "Dosya", meta: func(j invoice.Job, _ string) string { return j.FileName }},
	{Key: "configName", Label: "Belge Türü", meta: func(_ invoice.Job, cfgName string) string { return cfgName }},
}

// Flatten builds the export table for jobs. Columns are the union of every
// job's effective fields in first-seen order; a job contributes empty cells
// for columns it does not have.
func Flatten(jobs []invoice.Job, configs []invoice.Config) Table {
	byID := make(map[string]invoice.Config, len(configs))
	for _, c := range configs {
		byID[c.ID] = c
	}

	type colKey struct {
		key      string
		lineItem bool
	}
	var main, lines []Column
	seen := make(map[colKey]bool)
	add := func(dst *[]Column, f invoice.FieldConfig, lineItem bool) {
		k := colKey{f.Key, lineItem}
		if seen[k] {
			return
		}
		seen[k] = true
		*dst = append(*dst, Column{Key: f.Key, Label: f.Label, LineItem: lineItem})
	}

	type entry struct {
		job     invoice.Job
		cfgName string
	}
	entries := make([]entry, 0, len(jobs))
	for _, j := range jobs {
		cfg, ok := byID[j.ConfigID]
		var fields, lineFields []invoice.FieldConfig
		if ok {
			fields, lineFields = invoice.EffectiveFields(cfg, j)
		} else {
			fields, lineFields = fieldsFromData(j)
		}
		for _, f := range fields {
			add(&main, f, false)
		}
		for _, f := range lineFields {
			add(&lines, f, true)
		}
		entries = append(entries, entry{job: j, cfgName: cfg.Name})
	}

	t := Table{Columns: slices.Concat(metaColumns, main, lines)}
	for _, e := range entries {
		if len(e.job.LineItems) == 0 {
			t.Rows = append(t.Rows, row(t.Columns, e.job, e.cfgName, nil))
			continue
		}
		for _, li := range e.job.LineItems {
			t.Rows = append(t.Rows, row(t.Columns, e.job, e.cfgName, li))
		}
	}
	return t
}

func row(cols []Column, j invoice.Job, cfgName string, li invoice.Fields) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		switch {
		case c.meta != nil:
			out[i] = c.meta(j, cfgName)
		case c.LineItem:
			out[i] = li.Get(c.Key).Value
		default:
			out[i] = j.ExtractedData.Get(c.Key).Value
		}
	}
	return out
}

// fieldsFromData recovers a field list for a job whose config is gone.
func fieldsFromData(j invoice.Job) (fields, lineFields []invoice.FieldConfig) {
	for _, k := range slices.Sorted(maps.Keys(j.ExtractedData)) {
		fields = append(fields, invoice.FieldConfig{Key: k, Label: k})
	}
	keys := make(map[string]bool)
	for _, li := range j.LineItems {
		for k := range li {
			keys[k] = true
		}
	}
	for _, k := range slices.Sorted(maps.Keys(keys)) {
		lineFields = append(lineFields, invoice.FieldConfig{Key: k, Label: k})
	}
	return invoice.EffectiveFields(invoice.Config{Fields: fields, LineItemFields: lineFields}, j)
}

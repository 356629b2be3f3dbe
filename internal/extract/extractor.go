// Package extract turns document bytes into grounded field values, either
// through a remote model service or locally for structured formats.
package extract

import (
	"context"

	"github.com/kalambet/fatrocu/internal/invoice"
)

// Request is one extraction call.
type Request struct {
	FileName string
	MIMEType string
	Data     []byte
	Config   invoice.Config
}

// Result holds the extracted main fields and line item rows.
type Result struct {
	Fields    invoice.Fields
	LineItems []invoice.Fields
}

// Extractor extracts structured data from a document.
type Extractor interface {
	Extract(ctx context.Context, req Request) (Result, error)
}

// Func adapts a function to the Extractor interface.
type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Extract(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Normalize restricts res to the keys declared by cfg. Every declared key is
// present in the output; absent ones get an empty value.
func Normalize(cfg invoice.Config, res Result) Result {
	out := Result{Fields: make(invoice.Fields, len(cfg.Fields))}
	for _, f := range cfg.Fields {
		out.Fields[f.Key] = res.Fields.Get(f.Key)
	}
	if len(cfg.LineItemFields) == 0 {
		return out
	}
	for _, row := range res.LineItems {
		r := make(invoice.Fields, len(cfg.LineItemFields))
		for _, f := range cfg.LineItemFields {
			r[f.Key] = row.Get(f.Key)
		}
		out.LineItems = append(out.LineItems, r)
	}
	return out
}

// Manual is used for configs that declare no fields: the reviewer enters
// everything by hand.
type Manual struct{}

func (Manual) Extract(_ context.Context, req Request) (Result, error) {
	return Normalize(req.Config, Result{}), nil
}

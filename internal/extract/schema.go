package extract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kalambet/fatrocu/internal/invoice"
)

// lineItemsKey is the response property holding line item rows.
const lineItemsKey = "lineItems"

// ResponseSchema builds the structured-output schema sent to the model
// service. Types use the service's upper-case OpenAPI names.
func ResponseSchema(cfg invoice.Config) map[string]any {
	props := map[string]any{}
	for _, f := range cfg.Fields {
		props[f.Key] = groundedSchema(fmt.Sprintf("The '%s' value read from the document.", f.Label))
	}
	if len(cfg.LineItemFields) > 0 {
		row := map[string]any{}
		for _, f := range cfg.LineItemFields {
			row[f.Key] = groundedSchema(fmt.Sprintf("The '%s' value of this line item.", f.Label))
		}
		props[lineItemsKey] = map[string]any{
			"type":        "ARRAY",
			"description": "Every line item (tax breakdown rows and similar) on the document.",
			"items": map[string]any{
				"type":       "OBJECT",
				"properties": row,
			},
		}
	}
	return map[string]any{
		"type":       "OBJECT",
		"properties": props,
	}
}

func groundedSchema(description string) map[string]any {
	return map[string]any{
		"type":        "OBJECT",
		"description": description,
		"properties": map[string]any{
			"value": map[string]any{"type": "STRING", "description": "The extracted text value."},
			"boundingPoly": map[string]any{
				"type":        "ARRAY",
				"description": "Normalized vertices [{x, y}, ...] of the polygon enclosing the value. (0,0) is the top-left corner and (1,1) the bottom-right.",
				"items": map[string]any{
					"type": "OBJECT",
					"properties": map[string]any{
						"x": map[string]any{"type": "NUMBER"},
						"y": map[string]any{"type": "NUMBER"},
					},
					"required": []string{"x", "y"},
				},
			},
		},
	}
}

// validationSchema is the JSON Schema the service's reply must satisfy.
// It is looser than ResponseSchema: nulls and numeric values are tolerated.
func validationSchema(cfg invoice.Config) map[string]any {
	grounded := map[string]any{
		"type": []string{"object", "null"},
		"properties": map[string]any{
			"value": map[string]any{"type": []string{"string", "number", "null"}},
			"boundingPoly": map[string]any{
				"type": []string{"array", "null"},
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"x": map[string]any{"type": "number"},
						"y": map[string]any{"type": "number"},
					},
					"required": []string{"x", "y"},
				},
			},
		},
	}
	props := map[string]any{}
	for _, f := range cfg.Fields {
		props[f.Key] = grounded
	}
	if len(cfg.LineItemFields) > 0 {
		row := map[string]any{}
		for _, f := range cfg.LineItemFields {
			row[f.Key] = grounded
		}
		props[lineItemsKey] = map[string]any{
			"type":  []string{"array", "null"},
			"items": map[string]any{"type": "object", "properties": row},
		}
	}
	return map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"properties": props,
	}
}

// validateResponse checks data against the validation schema for cfg.
func validateResponse(cfg invoice.Config, data []byte) error {
	b, err := json.Marshal(validationSchema(cfg))
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("response.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

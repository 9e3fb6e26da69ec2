package llm

// BuildInvoiceJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// It is sent to the model as a structured output constraint and used locally to validate.
func BuildInvoiceJSONSchema() map[string]any {
	item := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"item":        map[string]any{"type": "string", "minLength": 1},
			"wholesale":   decimalProp(),
			"qty_ordered": map[string]any{"type": "integer", "minimum": 0},
		},
		"required": []string{"item"},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"order_date":     map[string]any{"type": "string"},
			"vendor":         map[string]any{"type": "string"},
			"invoice_number": map[string]any{"type": "string"},
			"line_items":     map[string]any{"type": "array", "items": item},
		},
		"required": []string{"order_date", "vendor", "invoice_number", "line_items"},
	}
}

func decimalProp() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `^\d+(\.\d{1,4})?$`,
	}
}

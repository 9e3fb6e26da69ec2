package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	invoiceSchemaOnce sync.Once
	invoiceSchema     *jsonschema.Schema
	invoiceSchemaErr  error
)

// CompileSchema compiles a schema built as a map.
func CompileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("invoice.schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	s, err := c.Compile("invoice.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return s, nil
}

// ValidateJSONAgainstSchema validates data against an uncompiled schema.
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	s, err := CompileSchema(schemaMap)
	if err != nil {
		return err
	}
	return validate(s, data)
}

// ValidateInvoiceJSON validates data against the invoice contract, compiled once per process.
func ValidateInvoiceJSON(data []byte) error {
	invoiceSchemaOnce.Do(func() {
		invoiceSchema, invoiceSchemaErr = CompileSchema(BuildInvoiceJSONSchema())
	})
	if invoiceSchemaErr != nil {
		return invoiceSchemaErr
	}
	return validate(invoiceSchema, data)
}

func validate(s *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

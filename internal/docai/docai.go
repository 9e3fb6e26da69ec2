// Package docai wraps the structured OCR/entity service used by the entity
// and table tiers. Entities and tables are fetched by two independent calls.
package docai

import "context"

// Entity is one typed span recognized by the service, e.g. a "line_item"
// with "line_item/quantity" properties.
type Entity struct {
	Type       string
	Text       string
	Confidence float32
	Properties []Entity
}

// Table is one detected table. Header and Body are rows of cell text.
type Table struct {
	Page   int
	Header [][]string
	Body   [][]string
}

// Service is the interface the structured tiers depend on.
type Service interface {
	Entities(ctx context.Context, content []byte, mimeType string) ([]Entity, error)
	Tables(ctx context.Context, content []byte, mimeType string) ([]Table, error)
}

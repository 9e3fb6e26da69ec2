// Package llm defines the generative invoice-parser contract shared by the
// OpenAI and Vertex AI clients: request/response shapes, prompts, the JSON
// schema and the lenient decoding of model output.
package llm

import "context"

// LineItemFields is one entry of the parser's line_items array.
type LineItemFields struct {
	Item       string `json:"item"`                  // product code and description
	Wholesale  string `json:"wholesale,omitempty"`   // decimal unit price
	QtyOrdered *int   `json:"qty_ordered,omitempty"` // whole units
}

// InvoiceFields is the normalized shape we want from the model.
type InvoiceFields struct {
	OrderDate     string           `json:"order_date"`
	Vendor        string           `json:"vendor"`
	InvoiceNumber string           `json:"invoice_number"`
	LineItems     []LineItemFields `json:"line_items"`
}

type ParseRequest struct {
	Document     []byte // original bytes; attached when the provider accepts the MIME type
	MIMEType     string
	Text         string // transcript, possibly one chunk of it
	FilenameHint string
	VendorHint   string
	ChunkLabel   string // e.g. "pages 5-8 of 12" in chunked mode
}

// DocumentParser is the interface the generative tier depends on.
type DocumentParser interface {
	ParseInvoice(ctx context.Context, req ParseRequest) (InvoiceFields, []byte /*rawJSON*/, error)
}

package entity

// RowWidth is the contracted field count of an output row.
const RowWidth = 6

// RowHeaders names the output columns in order.
var RowHeaders = [RowWidth]string{"Date", "Vendor", "Invoice #", "Description", "Unit Price", "Quantity"}

// Row is one output line: date, vendor, invoice number, description, unit price, quantity.
type Row []string

// InvoiceResult is the reconciled output of one document.
type InvoiceResult struct {
	RequestID     string              `json:"request_id"`
	Source        string              `json:"source"`
	OrderDate     string              `json:"order_date"`
	Vendor        string              `json:"vendor"`
	VendorTag     string              `json:"vendor_tag"`
	InvoiceNumber string              `json:"invoice_number"`
	Items         []LineItem          `json:"items"`
	Rows          []Row               `json:"rows"`
	SourceTier    string              `json:"source_tier"`
	LowConfidence bool                `json:"low_confidence"`
	Flags         []string            `json:"flags,omitempty"`
	Outcomes      []ExtractionOutcome `json:"outcomes,omitempty"`
}

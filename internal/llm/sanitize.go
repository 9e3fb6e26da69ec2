package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	reDecimal = regexp.MustCompile(`^\d+(\.\d{1,4})?$`)

	headerSynonyms = map[string]string{
		"date":           "order_date",
		"invoice_date":   "order_date",
		"orderDate":      "order_date",
		"supplier":       "vendor",
		"supplier_name":  "vendor",
		"vendor_name":    "vendor",
		"invoice_no":     "invoice_number",
		"invoice_id":     "invoice_number",
		"invoiceNumber":  "invoice_number",
		"items":          "line_items",
		"lineItems":      "line_items",
		"line_item_list": "line_items",
	}
	itemSynonyms = map[string]string{
		"description":  "item",
		"product":      "item",
		"name":         "item",
		"unit_price":   "wholesale",
		"price":        "wholesale",
		"unitPrice":    "wholesale",
		"quantity":     "qty_ordered",
		"qty":          "qty_ordered",
		"qtyOrdered":   "qty_ordered",
		"qty_shipped":  "qty_ordered",
		"quantity_ord": "qty_ordered",
	}
	headerKeys = []string{"order_date", "vendor", "invoice_number"}
)

// NormalizeAndSanitizeJSON
// - Renames known synonyms (invoice_date -> order_date, unit_price -> wholesale)
// - Coerces numeric money to decimal strings and quantities to integers
// - Fills missing/null header strings with ""
// - Drops line items without an item, and unknown keys
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 8)
	renameAll(m, headerSynonyms, "", &dropped)

	for _, k := range headerKeys {
		switch v := m[k].(type) {
		case string:
			m[k] = strings.TrimSpace(v)
		case float64:
			m[k] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			if _, ok := m[k]; ok {
				dropped = append(dropped, k+"(type)")
			}
			m[k] = ""
		}
	}

	rawItems, ok := m["line_items"].([]any)
	if !ok {
		return nil, dropped, fmt.Errorf("sanitize: line_items missing or not an array")
	}
	items := make([]any, 0, len(rawItems))
	for i, ri := range rawItems {
		it, ok := ri.(map[string]any)
		if !ok {
			dropped = append(dropped, fmt.Sprintf("line_items[%d](type)", i))
			continue
		}
		prefix := fmt.Sprintf("line_items[%d].", i)
		renameAll(it, itemSynonyms, prefix, &dropped)

		name, _ := it["item"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			dropped = append(dropped, prefix+"item(empty)")
			continue
		}
		it["item"] = name
		coerceMoney(it, "wholesale", prefix, &dropped)
		coerceQty(it, "qty_ordered", prefix, &dropped)

		for k := range maps.Clone(it) {
			if k != "item" && k != "wholesale" && k != "qty_ordered" {
				delete(it, k)
				dropped = append(dropped, prefix+k+"(unknown)")
			}
		}
		items = append(items, it)
	}
	m["line_items"] = items

	for k := range maps.Clone(m) {
		switch k {
		case "order_date", "vendor", "invoice_number", "line_items":
		default:
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm.parse.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

func renameAll(m map[string]any, synonyms map[string]string, prefix string, dropped *[]string) {
	for from, to := range synonyms {
		v, ok := m[from]
		if !ok {
			continue
		}
		// don't overwrite an existing value
		if _, exists := m[to]; !exists {
			m[to] = v
		}
		delete(m, from)
		*dropped = append(*dropped, prefix+from+"->"+to)
	}
}

func coerceMoney(m map[string]any, k, prefix string, dropped *[]string) {
	v, ok := m[k]
	if !ok {
		return
	}
	switch t := v.(type) {
	case float64:
		if t < 0 || math.IsNaN(t) {
			delete(m, k)
			*dropped = append(*dropped, prefix+k+"(negative)")
			return
		}
		m[k] = strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		s := strings.TrimSpace(t)
		s = strings.ReplaceAll(strings.TrimPrefix(s, "$"), ",", "")
		f, err := strconv.ParseFloat(s, 64)
		if s == "" || err != nil || f < 0 {
			delete(m, k)
			*dropped = append(*dropped, prefix+k+"(invalid)")
			return
		}
		if !reDecimal.MatchString(s) {
			s = strconv.FormatFloat(f, 'f', -1, 64)
		}
		m[k] = s
	default:
		delete(m, k)
		*dropped = append(*dropped, prefix+k+"(type)")
	}
}

func coerceQty(m map[string]any, k, prefix string, dropped *[]string) {
	v, ok := m[k]
	if !ok {
		return
	}
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(t, ",", "")), 64)
		if err != nil {
			delete(m, k)
			*dropped = append(*dropped, prefix+k+"(invalid)")
			return
		}
		f = p
	default:
		delete(m, k)
		*dropped = append(*dropped, prefix+k+"(type)")
		return
	}
	if f < 0 || f != math.Trunc(f) {
		delete(m, k)
		*dropped = append(*dropped, prefix+k+"(not whole)")
		return
	}
	m[k] = int(f)
}

package llm

import (
	"encoding/base64"
	"strings"
)

// MaxAttachmentBytes is the largest document sent inline to a model.
const MaxAttachmentBytes = 15 << 20

// ShouldAttach reports whether the request's document can be sent inline to
// a provider that accepts the given MIME prefixes.
func ShouldAttach(req ParseRequest, accepted ...string) bool {
	if len(req.Document) == 0 || len(req.Document) > MaxAttachmentBytes || req.MIMEType == "" {
		return false
	}
	for _, p := range accepted {
		if strings.HasPrefix(req.MIMEType, p) {
			return true
		}
	}
	return false
}

// DataURL encodes a document as a data: URL.
func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

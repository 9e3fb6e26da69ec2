// Package document holds the immutable raw invoice document and the analyzer
// that decides which extraction strategy to try first.
package document

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/ocr"
)

// RawDocument is the original document bytes plus the derived plain-text
// transcript. It is never modified after construction.
type RawDocument struct {
	name       string
	ext        string
	data       []byte
	text       string
	pages      int
	method     string
	confidence float32
}

// New builds a RawDocument. The transcript may be empty.
func New(name string, data []byte, text string) *RawDocument {
	buf := make([]byte, len(data))
	copy(buf, data)
	pages := 0
	if text != "" {
		pages = 1 + strings.Count(text, "\f")
	}
	return &RawDocument{
		name:  name,
		ext:   constants.NormalizeExt(filepath.Ext(name)),
		data:  buf,
		text:  text,
		pages: pages,
	}
}

func (d *RawDocument) Name() string { return d.name }
func (d *RawDocument) Ext() string  { return d.ext }
func (d *RawDocument) Size() int64  { return int64(len(d.data)) }
func (d *RawDocument) Text() string { return d.text }

// Bytes returns a copy of the document content.
func (d *RawDocument) Bytes() []byte {
	out := make([]byte, len(d.data))
	copy(out, d.data)
	return out
}

// MIMEType is the content type sent to external document services.
func (d *RawDocument) MIMEType() string { return constants.MIMEType(d.ext) }

// TranscriptPages is the number of \f separated pages in the transcript.
func (d *RawDocument) TranscriptPages() int { return d.pages }

// TranscriptMethod names how the transcript was produced ("pdf-text", "image-ocr", ...).
func (d *RawDocument) TranscriptMethod() string { return d.method }

// TranscriptConfidence is the extractor's confidence in the transcript, 0..1.
func (d *RawDocument) TranscriptConfidence() float32 { return d.confidence }

// PageTexts splits the transcript into pages.
func (d *RawDocument) PageTexts() []string {
	if d.text == "" {
		return nil
	}
	return strings.Split(d.text, "\f")
}

// Transcriber produces the plain-text transcript of a file on disk.
type Transcriber interface {
	Extract(ctx context.Context, path string) (ocr.ExtractionResult, error)
}

// Loader reads a document from disk and attaches its transcript.
type Loader struct {
	transcriber Transcriber
	logger      *slog.Logger
}

func NewLoader(t Transcriber, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{transcriber: t, logger: logger}
}

// Load reads path and transcribes it. A failed transcript is not fatal: the
// document is returned with an empty transcript so that external tiers can
// still work from the bytes.
func (l *Loader) Load(ctx context.Context, path string) (*RawDocument, error) {
	start := time.Now()
	ext := constants.NormalizeExt(filepath.Ext(path))
	if _, ok := constants.AllowedExtensions[ext]; !ok {
		return nil, common.NewAppError(common.CodeUnsupportedFormat,
			fmt.Sprintf("unsupported extension: %q", ext), common.ErrInvalidInput)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	doc := New(filepath.Base(path), data, "")
	if l.transcriber == nil {
		return doc, nil
	}
	res, err := l.transcriber.Extract(ctx, path)
	if err != nil {
		l.logger.Warn("document.transcript.failed", "path", path, "error", err)
		return doc, nil
	}
	doc = New(filepath.Base(path), data, res.Text)
	doc.method = res.Method
	doc.confidence = res.Confidence
	if res.Pages > doc.pages {
		doc.pages = res.Pages
	}
	l.logger.Debug("document.load.ok",
		"path", path,
		"size_bytes", doc.Size(),
		"pages", doc.pages,
		"method", doc.method,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return doc, nil
}

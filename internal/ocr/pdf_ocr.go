package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/joseph-ayodele/invoice-extractor/constants"
)

// minTextLayer is the number of non-space characters below which a PDF is
// treated as scanned and sent through OCR.
const minTextLayer = 40

func (e *Extractor) extractPDF(ctx context.Context, path string) (ExtractionResult, error) {
	res := ExtractionResult{SourceType: constants.PDF, Method: "pdf-text"}

	text, pages, warns, err := e.pdfToText(ctx, path)
	res.Warnings = append(res.Warnings, warns...)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		e.logger.Warn("ocr.pdftotext.unavailable", "path", path, "error", err)
		res.Method = "pdf-reader"
		text, pages, err = readPDFText(path)
		if err != nil {
			res.Warnings = append(res.Warnings, err.Error())
			text = ""
		}
	}

	if textLayerChars(text) < minTextLayer {
		e.logger.Debug("ocr.pdf.scanned", "path", path, "text_chars", textLayerChars(text))
		ocrText, ocrPages, w, ocrErr := e.pdfToOCR(ctx, path)
		res.Warnings = append(res.Warnings, w...)
		if ocrErr != nil {
			if text == "" {
				return res, ocrErr
			}
			res.Warnings = append(res.Warnings, ocrErr.Error())
		} else {
			res.Method = "pdf-ocr"
			res.Language = e.cfg.TesseractLang
			text, pages = ocrText, ocrPages
		}
	}

	res.Text = Normalize(text)
	res.Pages = pages
	res.Confidence = heuristicConfidence(res.Text)
	if res.Method != "pdf-ocr" && res.Text != "" {
		// a real text layer is exact; the heuristic only reflects content
		res.Confidence = max(res.Confidence, 0.9)
	}
	return res, nil
}

func (e *Extractor) pdfToText(ctx context.Context, path string) (text string, pages int, warnings []string, err error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	args := []string{"-layout", "-enc", "UTF-8", "-eol", "unix"}
	if e.cfg.MaxPages > 0 {
		args = append(args, "-l", fmt.Sprintf("%d", e.cfg.MaxPages))
	}
	args = append(args, path, "-")
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, args...)
	if err != nil {
		return "", 0, []string{string(errb)}, err
	}
	text = strings.TrimRight(string(out), "\f")
	return text, pageCount(text), nil, nil
}

// readPDFText reads the text layer in-process. It is used when pdftotext is
// not installed.
func readPDFText(path string) (string, int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	n := r.NumPage()
	pages := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		txt, err := p.GetPlainText(nil)
		if err != nil {
			return "", 0, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, txt)
	}
	return strings.Join(pages, "\f"), n, nil
}

func (e *Extractor) pdfToOCR(ctx context.Context, path string) (text string, pages int, warnings []string, err error) {
	tmpDir, err := os.MkdirTemp("", "inv-pp-*")
	if err != nil {
		return "", 0, nil, err
	}
	defer func(path string) {
		if err := os.RemoveAll(path); err != nil {
			e.logger.Warn("ocr.tmp.cleanup_failed", "dir", path, "error", err)
		}
	}(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	args := []string{"-r", fmt.Sprintf("%d", e.cfg.DPI), "-png"}
	if e.cfg.MaxPages > 0 {
		args = append(args, "-l", fmt.Sprintf("%d", e.cfg.MaxPages))
	}
	args = append(args, path, prefix)
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, args...)
	if err != nil {
		return "", 0, []string{string(errb)}, err
	}

	// prefix-1.png, prefix-2.png, ...
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if e.cfg.MaxPages > 0 && len(matches) > e.cfg.MaxPages {
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return "", 0, []string{"pdftoppm produced no images"}, errors.New("no pages rendered")
	}

	texts := make([]string, 0, len(matches))
	var warns []string
	for _, img := range matches {
		txt, w, err := e.tesseractOCR(ctx, img)
		warns = append(warns, w...)
		if err != nil {
			if ctx.Err() != nil {
				return "", 0, warns, ctx.Err()
			}
			warns = append(warns, err.Error())
			txt = ""
		}
		texts = append(texts, txt)
	}
	return strings.Join(texts, "\f"), len(matches), warns, nil
}

func pageCount(text string) int {
	if text == "" {
		return 0
	}
	return 1 + strings.Count(text, "\f")
}

func textLayerChars(text string) int {
	n := 0
	for _, r := range text {
		if r != ' ' && r != '\n' && r != '\t' && r != '\f' && r != '\r' {
			n++
		}
	}
	return n
}

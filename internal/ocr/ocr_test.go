package ocr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	outputs map[string]string
	fail    map[string]bool
	calls   []call
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if f.fail[name] {
		return nil, []byte(name + " exploded"), errors.New("exit status 1")
	}
	if name == "pdftoppm" {
		prefix := args[len(args)-1]
		for _, p := range []string{"-1.png", "-2.png"} {
			if err := os.WriteFile(prefix+p, []byte("png"), 0o600); err != nil {
				return nil, nil, err
			}
		}
	}
	return []byte(f.outputs[name]), nil, nil
}

func (f *fakeRunner) count(name string) int {
	n := 0
	for _, c := range f.calls {
		if c.name == name {
			n++
		}
	}
	return n
}

const layoutText = "INVOICE #A-1009        Date: 01/17/2025\n" +
	"DF6802  Planter Box  8  0  lo each  $12.50  $100.00\n\f" +
	"XS9826A Vase 24 0 0 24 each 2.00 1.60 38.40\n\f"

func touch(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestExtractPDFTextLayer(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{outputs: map[string]string{"pdftotext": layoutText}}
	e := NewExtractorWithRunner(Config{}, r, nil)

	res, err := e.Extract(context.Background(), touch(t, "inv.pdf", "%PDF-1.4"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Method != "pdf-text" {
		t.Errorf("method = %q, want pdf-text", res.Method)
	}
	if res.Pages != 2 {
		t.Errorf("pages = %d, want 2", res.Pages)
	}
	if !strings.Contains(res.Text, "DF6802 Planter Box 8 0 lo each $12.50 $100.00") {
		t.Errorf("text not normalized: %q", res.Text)
	}
	if r.count("pdftoppm") != 0 {
		t.Errorf("scanned fallback ran for a PDF with a text layer")
	}
}

func TestExtractPDFScannedFallsBackToOCR(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{outputs: map[string]string{
		"pdftotext": "\f",
		"tesseract": "DF6802 Planter Box 8 0 each 12.50 100.00",
	}}
	e := NewExtractorWithRunner(Config{MaxPages: 1}, r, nil)

	res, err := e.Extract(context.Background(), touch(t, "scan.pdf", "%PDF-1.4"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Method != "pdf-ocr" {
		t.Fatalf("method = %q, want pdf-ocr", res.Method)
	}
	if res.Pages != 1 {
		t.Errorf("pages = %d, want 1 (MaxPages)", res.Pages)
	}
	if got := r.count("tesseract"); got != 1 {
		t.Errorf("tesseract calls = %d, want 1", got)
	}
	if !strings.Contains(res.Text, "DF6802") {
		t.Errorf("ocr text missing: %q", res.Text)
	}
}

func TestExtractPDFAllStrategiesFail(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{fail: map[string]bool{"pdftotext": true, "pdftoppm": true}}
	e := NewExtractorWithRunner(Config{}, r, nil)

	_, err := e.Extract(context.Background(), touch(t, "broken.pdf", "not a pdf"))
	if err == nil {
		t.Fatal("expected error")
	}
	var appErr *common.AppError
	if !errors.As(err, &appErr) || appErr.Code != common.CodeTranscriptFailure {
		t.Errorf("err = %v, want %s", err, common.CodeTranscriptFailure)
	}
}

func TestExtractImageAndPlainText(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{outputs: map[string]string{"tesseract": "Invoice 01/17/2025\n-----\nTotal $38.40\n"}}
	e := NewExtractorWithRunner(Config{}, r, nil)

	img, err := e.Extract(context.Background(), touch(t, "photo.PNG", "png"))
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	if img.Method != "image-ocr" || img.Pages != 1 {
		t.Errorf("image result = %+v", img)
	}
	if strings.Contains(img.Text, "-----") {
		t.Errorf("box noise not removed: %q", img.Text)
	}

	txt, err := e.Extract(context.Background(), touch(t, "inv.txt", "a\r\nb\tc\n\n\n\nd\fe"))
	if err != nil {
		t.Fatalf("txt: %v", err)
	}
	if txt.Text != "a\nb c\n\nd\fe" {
		t.Errorf("plain text = %q", txt.Text)
	}
	if txt.Pages != 2 {
		t.Errorf("plain pages = %d, want 2", txt.Pages)
	}
}

func TestExtractUnsupported(t *testing.T) {
	t.Parallel()
	e := NewExtractorWithRunner(Config{}, &fakeRunner{}, nil)
	_, err := e.Extract(context.Background(), "sheet.docx")
	var appErr *common.AppError
	if !errors.As(err, &appErr) || appErr.Code != common.CodeUnsupportedFormat {
		t.Fatalf("err = %v, want %s", err, common.CodeUnsupportedFormat)
	}
}

func TestNormalizeKeepsDigits(t *testing.T) {
	t.Parallel()
	in := "Qty 08  Price 01.50"
	if got := Normalize(in); got != "Qty 08 Price 01.50" {
		t.Errorf("Normalize(%q) = %q", in, got)
	}
}

func TestMeanTSVConfidence(t *testing.T) {
	tsv := "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
		"1\t1\t0\t0\t0\t0\t0\t0\t100\t100\t-1\t\n" +
		"5\t1\t1\t1\t1\t1\t10\t10\t40\t12\t90\tDF6802\n" +
		"5\t1\t1\t1\t1\t2\t60\t10\t40\t12\t70\t12.50\n"
	if got := meanTSVConfidence(tsv); got < 0.79 || got > 0.81 {
		t.Fatalf("confidence = %v, want 0.80", got)
	}
	if got := meanTSVConfidence("no header"); got != 0 {
		t.Fatalf("headerless = %v", got)
	}
}

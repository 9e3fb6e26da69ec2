package ocr

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/invoice-extractor/constants"
)

const ImageConfidenceThreshold = 0.6

func (e *Extractor) extractImage(ctx context.Context, path string) (ExtractionResult, error) {
	txt, warn, err := e.tesseractOCR(ctx, path)
	if err != nil {
		return ExtractionResult{SourceType: constants.IMAGE, Method: "image-ocr", Warnings: warn}, err
	}
	txt = Normalize(txt)

	var ocrConf float32
	if e.cfg.EnableTSVConfidence {
		if c, w, err2 := e.tesseractTSVConfidence(ctx, path); err2 == nil {
			ocrConf = c
			warn = append(warn, w...)
		} else {
			warn = append(warn, err2.Error())
		}
	}
	conf := heuristicConfidence(txt)
	if ocrConf > 0 {
		conf = min(0.7*ocrConf+0.3*conf, 1.0)
	}
	if conf < ImageConfidenceThreshold {
		e.logger.Warn("ocr.image.low_confidence", "path", path, "confidence", conf)
	}

	return ExtractionResult{
		Text:       txt,
		Pages:      1,
		SourceType: constants.IMAGE,
		Method:     "image-ocr",
		Language:   e.cfg.TesseractLang,
		Warnings:   warn,
		Confidence: conf,
	}, nil
}

func (e *Extractor) tesseractArgs(path string) []string {
	args := []string{path, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	return args
}

func (e *Extractor) tesseractOCR(ctx context.Context, path string) (string, []string, error) {
	// tesseract <file> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, e.tesseractArgs(path)...)
	if err != nil {
		return "", []string{string(errb)}, fmt.Errorf("tesseract: %w", err)
	}
	return reBoxNoise.ReplaceAllString(string(out), ""), nil, nil
}

// tesseractTSVConfidence returns tesseract's mean word confidence in 0..1.
// Rows with conf -1 are layout blocks, not words.
func (e *Extractor) tesseractTSVConfidence(ctx context.Context, path string) (float32, []string, error) {
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, append(e.tesseractArgs(path), "tsv")...)
	if err != nil {
		return 0, []string{string(errb)}, fmt.Errorf("tesseract tsv: %w", err)
	}
	return meanTSVConfidence(string(out)), nil, nil
}

func meanTSVConfidence(tsv string) float32 {
	lines := strings.Split(tsv, "\n")
	if len(lines) < 2 {
		return 0
	}
	confCol := -1
	for i, h := range strings.Split(lines[0], "\t") {
		if strings.TrimSpace(h) == "conf" {
			confCol = i
		}
	}
	if confCol < 0 {
		return 0
	}
	var sum float64
	var words int
	for _, ln := range lines[1:] {
		cols := strings.Split(ln, "\t")
		if len(cols) <= confCol {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(cols[confCol]), 64)
		if err != nil || v < 0 {
			continue
		}
		sum += v
		words++
	}
	if words == 0 {
		return 0
	}
	return float32(sum / float64(words) / 100)
}

// Package ingest discovers invoice documents on the local filesystem.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joseph-ayodele/invoice-extractor/constants"
)

// Document is one file accepted for extraction.
type Document struct {
	Path    string
	Ext     string
	Size    int64
	HashHex string
}

// DirStats summarizes a directory scan.
type DirStats struct {
	Scanned    int
	Matched    int
	Duplicates int
	Failed     int
}

// AllowedExt checks if a file extension is in the allowed set.
func AllowedExt(ext string) bool {
	_, ok := constants.AllowedExtensions[constants.NormalizeExt(ext)]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// ScanDirectory walks root and returns supported documents sorted by path.
// Files with identical content are returned once; the first path in walk
// order wins.
func ScanDirectory(ctx context.Context, root string, skipHidden bool, logger *slog.Logger) ([]Document, DirStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var stats DirStats
	if strings.TrimSpace(root) == "" {
		return nil, stats, errors.New("root path is required")
	}

	var docs []Document
	seen := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			logger.Warn("ingest.walk.failed", "path", path, "error", walkErr)
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := constants.NormalizeExt(filepath.Ext(path))
		if !AllowedExt(ext) {
			return nil
		}
		stats.Matched++

		sum, size, err := hashFile(path)
		if err != nil {
			logger.Warn("ingest.hash.failed", "path", path, "error", err)
			stats.Failed++
			return nil
		}
		if first, dup := seen[sum]; dup {
			logger.Info("ingest.duplicate", "path", path, "same_as", first)
			stats.Duplicates++
			return nil
		}
		seen[sum] = path
		docs = append(docs, Document{Path: path, Ext: ext, Size: size, HashHex: sum})
		return nil
	})
	if err != nil {
		return docs, stats, fmt.Errorf("walk: %w", err)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	logger.Info("ingest.scan.ok", "root", root, "matched", stats.Matched, "documents", len(docs), "duplicates", stats.Duplicates)
	return docs, stats, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

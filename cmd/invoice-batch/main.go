package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/invoice-extractor/internal/async"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/export"
	"github.com/joseph-ayodele/invoice-extractor/internal/ingest"
	"github.com/joseph-ayodele/invoice-extractor/internal/outcome"
	"github.com/joseph-ayodele/invoice-extractor/internal/pipeline"
	"github.com/joseph-ayodele/invoice-extractor/internal/repository"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir     = flag.String("dir", "", "directory of invoices to process (required)")
		out     = flag.String("out", "", "output XLSX file path (defaults to <dir>/../invoices.xlsx)")
		envFile = flag.String("env", ".env", "optional .env file")
		inmem   = flag.Bool("inmem", false, "use an in-memory SQLite outcome store")
		workers = flag.Int("workers", 0, "concurrent documents (defaults to EXTRACT_WORKERS)")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(filepath.Clean(*dir)), "invoices.xlsx")
	}
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		printError("Error: loading %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg := common.LoadConfig()
	if *inmem {
		cfg.Database.Driver = repository.DriverSQLite
		cfg.Database.DSN = ":memory:"
	}
	if *workers > 0 {
		cfg.Extraction.Workers = *workers
	}
	logger := common.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	docs, scan, err := ingest.ScanDirectory(ctx, *dir, true, logger)
	if err != nil {
		logger.Error("failed to scan directory", "dir", *dir, "error", err)
		os.Exit(1)
	}
	if len(docs) == 0 {
		logger.Warn("no supported documents found", "dir", *dir)
		return
	}

	db, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open outcome store", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to migrate outcome store", "error", err)
		os.Exit(1)
	}
	outcomes := repository.NewOutcomeRepository(db, logger)
	stats := outcome.NewStats()

	proc, closeFn, err := pipeline.Build(ctx, cfg, outcome.MultiSink{stats, outcomes, outcome.LogSink{Logger: logger}}, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeFn(); err != nil {
			logger.Warn("closing service clients", "error", err)
		}
	}()

	var (
		mu      sync.Mutex
		results []*entity.InvoiceResult
		failed  []string
	)
	q := async.NewQueue(proc, logger,
		async.WithWorkers(cfg.Extraction.Workers),
		async.WithJobTimeout(cfg.Extraction.Budget),
		async.WithResultHandler(func(r async.Result) {
			mu.Lock()
			defer mu.Unlock()
			if r.Err != nil {
				failed = append(failed, fmt.Sprintf("%s: %v", filepath.Base(r.Job.Path), r.Err))
				return
			}
			results = append(results, r.Invoice)
		}),
	)

	start := time.Now()
	for _, d := range docs {
		if _, err := q.Enqueue(ctx, async.Job{Path: d.Path}); err != nil {
			logger.Error("failed to enqueue", "path", d.Path, "error", err)
			break
		}
	}
	if err := q.Shutdown(ctx); err != nil {
		logger.Warn("batch interrupted", "error", err)
	}

	mu.Lock()
	sort.Slice(results, func(i, j int) bool { return results[i].Source < results[j].Source })
	done := append([]*entity.InvoiceResult(nil), results...)
	mu.Unlock()

	if err := export.NewService(logger).AppendXLSX(ctx, *out, done); err != nil {
		logger.Error("failed to write workbook", "path", *out, "error", err)
		os.Exit(1)
	}

	requests, exhausted, flagged := stats.Totals()
	logger.Info("batch.done",
		"documents", len(docs),
		"duplicates", scan.Duplicates,
		"extracted", len(done),
		"failed", len(failed),
		"requests", requests,
		"exhausted", exhausted,
		"low_confidence", flagged,
		"out", *out,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	for _, f := range failed {
		printError("FAILED %s\n", f)
	}

	summary, err := outcomes.TierSummary(ctx)
	if err != nil {
		logger.Warn("tier summary unavailable", "error", err)
		return
	}
	for _, s := range summary {
		fmt.Printf("%-16s attempts=%-4d success=%-4d timeout=%-4d avg_ms=%.0f\n",
			s.Tier, s.Attempts, s.Successes, s.Timeouts, s.AvgElapsedMS)
	}
}

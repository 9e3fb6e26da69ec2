package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/export"
	"github.com/joseph-ayodele/invoice-extractor/internal/orchestrator"
	"github.com/joseph-ayodele/invoice-extractor/internal/outcome"
	"github.com/joseph-ayodele/invoice-extractor/internal/pipeline"
	"github.com/joseph-ayodele/invoice-extractor/internal/repository"
)

const (
	exitFailure    = 1
	exitExhausted  = 2
	exitValidation = 3
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		file    = flag.String("file", "", "invoice document to extract (pdf, png, jpg, txt) (required)")
		envFile = flag.String("env", ".env", "optional .env file")
		timeout = flag.Duration("timeout", 0, "per-document deadline (defaults to EXTRACT_BUDGET)")
		xlsx    = flag.String("xlsx", "", "append rows to this XLSX workbook")
		store   = flag.Bool("store", false, "persist the outcome report to the configured database")
	)
	flag.Parse()

	if *file == "" {
		printError("Error: --file is required\n")
		os.Exit(exitFailure)
	}
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		printError("Error: loading %s: %v\n", *envFile, err)
		os.Exit(exitFailure)
	}

	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(exitFailure)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sinks := outcome.MultiSink{outcome.LogSink{Logger: logger}}
	if *store {
		db, err := repository.Open(ctx, cfg.Database, logger)
		if err != nil {
			logger.Error("failed to open outcome store", "error", err)
			os.Exit(exitFailure)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to migrate outcome store", "error", err)
			os.Exit(exitFailure)
		}
		sinks = append(sinks, repository.NewOutcomeRepository(db, logger))
	}

	proc, closeFn, err := pipeline.Build(ctx, cfg, sinks, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(exitFailure)
	}
	defer func() {
		if err := closeFn(); err != nil {
			logger.Warn("closing service clients", "error", err)
		}
	}()

	budget := *timeout
	if budget <= 0 {
		budget = cfg.Extraction.Budget
	}
	jobCtx, cancel := context.WithTimeout(ctx, budget)
	start := time.Now()
	res, err := proc.ProcessFile(jobCtx, *file)
	cancel()
	if err != nil {
		os.Exit(exitCode(logger, err))
	}

	if *xlsx != "" {
		if err := export.NewService(logger).AppendXLSX(ctx, *xlsx, []*entity.InvoiceResult{res}); err != nil {
			logger.Error("failed to write workbook", "path", *xlsx, "error", err)
			os.Exit(exitFailure)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		logger.Error("failed to encode result", "error", err)
		os.Exit(exitFailure)
	}
	logger.Info("extract.done", "file", *file, "rows", len(res.Rows), "elapsed_ms", time.Since(start).Milliseconds())
}

func exitCode(logger *slog.Logger, err error) int {
	if ex, ok := orchestrator.IsExhausted(err); ok {
		for _, o := range ex.Outcomes {
			logger.Error("extract.attempt", "tier", o.Tier, "status", o.Status, "reason", o.Reason)
		}
		printError("No line items extracted: %v\n", err)
		return exitExhausted
	}
	if errors.Is(err, common.ErrValidation) {
		printError("Invalid output: %v\n", err)
		return exitValidation
	}
	printError("Error: %v\n", err)
	return exitFailure
}

package ocr

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"time"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

// Runner executes an external tool. Tests swap in a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

const maxLoggedStderr = 4 << 10

type execRunner struct {
	logger *slog.Logger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	logger := r.logger
	if logger == nil {
		logger = slog.Default()
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	began := time.Now()
	err := cmd.Run()
	attrs := append(common.LogFields(ctx), "tool", name, "elapsed_ms", time.Since(began).Milliseconds())
	if err != nil {
		msg := stderr.String()
		if len(msg) > maxLoggedStderr {
			msg = msg[:maxLoggedStderr]
		}
		logger.Warn("ocr.tool.failed", append(attrs, "args", args, "error", err, "stderr", msg)...)
	} else {
		logger.Debug("ocr.tool.ok", append(attrs, "stdout_bytes", stdout.Len())...)
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

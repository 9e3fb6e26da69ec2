package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

const maxResponseBytes = 16 << 20

// SendJSON POSTs body as JSON to url and returns the raw response body and
// status. Provider specifics (auth headers, paths) stay with the caller.
// 408 and 504 map to tier timeouts; any other non-2xx is a service error.
func SendJSON(ctx context.Context, client *http.Client, url string, body any, headers map[string]string, logger *slog.Logger) ([]byte, int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}
	rid := common.RequestIDFromContext(ctx)
	if rid == "" {
		rid = uuid.NewString()
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("encode json: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", rid)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	began := time.Now()
	logger.Debug("llm.http.request", "req_id", rid, "url", url, "content_length", len(payload))
	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("llm.http.send_error", "req_id", rid, "error", err, "elapsed_ms", time.Since(began).Milliseconds())
		return nil, 0, err
	}
	defer func(Body io.ReadCloser) {
		if cerr := Body.Close(); cerr != nil {
			logger.Warn("llm.http.close_error", "req_id", rid, "error", cerr)
		}
	}(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, common.ServiceErrorf(err, "read response")
	}
	logger.Info("llm.http.response",
		"req_id", rid,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(began).Milliseconds(),
	)

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return raw, code, nil
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return raw, code, common.NewAppError(common.CodeTierTimeout,
			fmt.Sprintf("upstream status %d", code), common.ErrTierTimeout)
	default:
		return raw, code, common.NewAppError(common.CodeTierService,
			fmt.Sprintf("upstream status %d", code), common.ErrTierService)
	}
}

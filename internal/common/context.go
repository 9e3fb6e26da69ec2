package common

import (
	"context"
	"time"
)

type ctxKey int

const (
	keyRequestID ctxKey = iota
	keyDocument
)

// WithRequestID tags ctx with the id that correlates every log line and
// outcome row of one extraction request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(keyRequestID).(string)
	return id
}

func WithDocumentName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, keyDocument, name)
}

func DocumentNameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(keyDocument).(string)
	return name
}

// LogFields returns the request-scoped slog attributes carried by ctx.
func LogFields(ctx context.Context) []any {
	var out []any
	if id := RequestIDFromContext(ctx); id != "" {
		out = append(out, "req_id", id)
	}
	if name := DocumentNameFromContext(ctx); name != "" {
		out = append(out, "document", name)
	}
	return out
}

// Remaining returns the time left before ctx's deadline, or fallback when ctx has none.
func Remaining(ctx context.Context, fallback time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl)
	}
	return fallback
}

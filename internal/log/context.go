package log

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey struct{}

// NewContext returns a copy of ctx carrying extra log attributes, appended to
// any already present.
func NewContext(ctx context.Context, args ...any) context.Context {
	prev, _ := ctx.Value(contextKey{}).([]any)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(append(merged, prev...), args...)
	return context.WithValue(ctx, contextKey{}, merged)
}

// FromContext returns logger enriched with the attributes stored in ctx.
// A nil logger means slog.Default.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if args, ok := ctx.Value(contextKey{}).([]any); ok && len(args) > 0 {
		return logger.With(args...)
	}
	return logger
}

// Fields returns the attributes stored in ctx as a map, for records that
// leave the logger such as error log rows.
func Fields(ctx context.Context) map[string]any {
	args, _ := ctx.Value(contextKey{}).([]any)
	out := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		if k, ok := args[i].(string); ok {
			out[k] = args[i+1]
		}
	}
	return out
}

// Middleware tags the request context with the id requestID reads back, so
// every component logging through FromContext carries it. Must run inside
// whatever assigns that id.
func Middleware(requestID func(context.Context) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := requestID(r.Context()); id != "" {
				r = r.WithContext(NewContext(r.Context(), FieldRequestID, id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/displaynode/internal/logging"
)

// requestLevel picks the log level for a finished request. Preflights and
// read-only polling of pipe status stay at debug so dashboards do not flood
// the journal.
func requestLevel(method, path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case method == http.MethodOptions:
		return slog.LevelDebug
	case method == http.MethodGet && strings.HasPrefix(path, "/api/pipes"):
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// HTTPLoggingMiddleware logs each request once it has been served.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	next(ctx)

	u := ctx.URL()
	method := ctx.Method()
	status := ctx.Status()

	attrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", u.Path),
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if u.RawQuery != "" && !strings.Contains(u.RawQuery, "auth=") {
		attrs = append(attrs, slog.String("query", u.RawQuery))
	}
	if op := ctx.Operation(); op != nil && op.OperationID != "" {
		attrs = append(attrs, slog.String("operation", op.OperationID))
	}

	logging.GetLogger("http").LogAttrs(ctx.Context(), requestLevel(method, u.Path, status), "HTTP request completed", attrs...)
}

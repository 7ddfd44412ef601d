package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowOrigin  string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       int
}

// DefaultCORSConfig allows any origin. Panels on the local network talk to the
// API from ad-hoc dashboards.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigin:  "*",
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Authorization", "Accept", "Origin", "Last-Event-ID"},
		MaxAge:       86400,
	}
}

// corsHeaders is a CORSConfig rendered to header values once.
type corsHeaders [][2]string

func (c CORSConfig) headers() corsHeaders {
	origin := c.AllowOrigin
	if origin == "" {
		origin = "*"
	}
	return corsHeaders{
		{"Access-Control-Allow-Origin", origin},
		{"Access-Control-Allow-Methods", strings.Join(c.AllowMethods, ", ")},
		{"Access-Control-Allow-Headers", strings.Join(c.AllowHeaders, ", ")},
		{"Access-Control-Max-Age", strconv.Itoa(c.MaxAge)},
	}
}

func (h corsHeaders) apply(set func(name, value string)) {
	for _, kv := range h {
		set(kv[0], kv[1])
	}
}

// NewCORSMiddleware sets CORS headers on every Huma response and answers
// preflight requests that reach a registered operation.
func NewCORSMiddleware(config CORSConfig) func(huma.Context, func(huma.Context)) {
	h := config.headers()
	return func(ctx huma.Context, next func(huma.Context)) {
		h.apply(ctx.SetHeader)
		if ctx.Method() == http.MethodOptions {
			ctx.SetStatus(http.StatusNoContent)
			return
		}
		next(ctx)
	}
}

// AddCORSHandler answers OPTIONS for every path. Huma routes by method, so
// preflights would otherwise 405 before any middleware runs.
func AddCORSHandler(mux *http.ServeMux, config CORSConfig) {
	h := config.headers()
	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, _ *http.Request) {
		h.apply(w.Header().Set)
		w.WriteHeader(http.StatusNoContent)
	})
}

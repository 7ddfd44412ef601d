package api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/displaynode/internal/api/models"
	"github.com/smazurov/displaynode/internal/display"
	"github.com/smazurov/displaynode/internal/events"
	"github.com/smazurov/displaynode/internal/logging"
	"github.com/smazurov/displaynode/internal/sim"
	"github.com/smazurov/displaynode/internal/updater"
	"github.com/smazurov/displaynode/internal/version"
)

// Server is the HTTP control surface of the display subsystem.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	display    display.Service
	eventBus   *events.Bus
	options    *Options
	logger     *slog.Logger
}

// basicAuthMiddleware creates middleware for HTTP basic authentication
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		// Skip auth for operations without security requirements
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		authHeader := ctx.Header("Authorization")
		var credentials string

		if authHeader != "" {
			const prefix = "Basic "
			if !strings.HasPrefix(authHeader, prefix) {
				ctx.SetHeader("WWW-Authenticate", `Basic realm="DisplayNode API"`)
				huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Invalid authentication type")
				return
			}

			decoded, err := base64.StdEncoding.DecodeString(authHeader[len(prefix):])
			if err != nil {
				ctx.SetHeader("WWW-Authenticate", `Basic realm="DisplayNode API"`)
				huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Invalid credentials format", err)
				return
			}
			credentials = string(decoded)
		} else if queryAuth := ctx.Query("auth"); queryAuth != "" {
			// EventSource clients cannot set headers
			decoded, err := base64.StdEncoding.DecodeString(queryAuth)
			if err != nil {
				ctx.SetHeader("WWW-Authenticate", `Basic realm="DisplayNode API"`)
				huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Invalid credentials format", err)
				return
			}
			credentials = string(decoded)
		}

		if credentials == "" {
			ctx.SetHeader("WWW-Authenticate", `Basic realm="DisplayNode API"`)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Authentication required")
			return
		}

		user, pass, ok := strings.Cut(credentials, ":")
		if !ok || user != username || pass != password {
			ctx.SetHeader("WWW-Authenticate", `Basic realm="DisplayNode API"`)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Invalid credentials")
			return
		}

		next(ctx)
	}
}

// Options configures the API server.
type Options struct {
	AuthUsername      string
	AuthPassword      string
	CORSOrigin        string
	Display           display.Service
	EventBus          *events.Bus
	PrometheusHandler http.Handler    // Optional Prometheus metrics handler
	UpdateService     updater.Service // Optional self-update service
	Sim               *sim.Hardware   // Simulated hardware, nil on real boards
}

// NewServer creates a new API server with Huma v2 using Go 1.22+ native routing
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	if opts.CORSOrigin != "" {
		corsConfig.AllowOrigin = opts.CORSOrigin
	}
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("DisplayNode API", "1.0.0")
	config.Info.Description = "Display pipeline control: modes, power, layers and hotplug"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	bus := opts.EventBus
	if bus == nil {
		bus = events.New()
	}

	server := &Server{
		api:      api,
		mux:      mux,
		display:  opts.Display,
		eventBus: bus,
		options:  opts,
		logger:   logging.GetLogger("api"),
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	server.registerMetricsRoutes()
	server.registerRoutes()

	return server
}

// GetMux returns the underlying HTTP ServeMux for additional setup
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves the API on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting DisplayNode API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down without waiting for SSE clients.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// registerRoutes sets up all API endpoints
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{}, // Empty security = no auth required
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.VersionResponse, error) {
		v := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   v.Version,
				GitCommit: v.GitCommit,
				BuildDate: v.BuildDate,
				Modified:  v.Modified,
				GoVersion: v.GoVersion,
				Platform:  v.Platform,
			},
		}, nil
	})

	s.registerPipeRoutes()
	s.registerLayerRoutes()
	s.registerSSERoutes()
	s.registerLogRoutes()
	s.registerUpdateRoutes()
	s.registerSimRoutes()
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}

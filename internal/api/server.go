// Package api exposes the camnode registry and capture streams over a
// Huma v2 HTTP API.
package api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/camnode/internal/api/models"
	"github.com/smazurov/camnode/internal/events"
	"github.com/smazurov/camnode/internal/host"
	"github.com/smazurov/camnode/internal/logging"
	"github.com/smazurov/camnode/internal/version"
)

const authRealm = `Basic realm="camnode API"`

// Options wires the server to the rest of the application.
type Options struct {
	AuthUsername      string
	AuthPassword      string
	Host              *host.Host
	EventBus          *events.Bus
	PrometheusHandler http.Handler // optional, served at /metrics without auth
}

// Server is the Huma v2 API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	host       *host.Host
	eventBus   *events.Bus
	options    *Options
	logger     *slog.Logger
}

// basicAuthMiddleware checks HTTP basic credentials on operations that
// declare a security requirement. SSE and websocket clients may pass the
// base64 credentials in the auth query parameter instead.
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		user, pass, err := credentials(ctx.Header("Authorization"), ctx.Query("auth"))
		if err != nil {
			ctx.SetHeader("WWW-Authenticate", authRealm)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, err.Error())
			return
		}
		if user != username || pass != password {
			ctx.SetHeader("WWW-Authenticate", authRealm)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Invalid credentials")
			return
		}

		next(ctx)
	}
}

type authError string

func (e authError) Error() string { return string(e) }

// credentials extracts user and password from an Authorization header or,
// failing that, from a base64 query value.
func credentials(header, query string) (string, string, error) {
	var encoded string
	switch {
	case header != "":
		const prefix = "Basic "
		if !strings.HasPrefix(header, prefix) {
			return "", "", authError("Invalid authentication type")
		}
		encoded = header[len(prefix):]
	case query != "":
		encoded = query
	default:
		return "", "", authError("Authentication required")
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", authError("Invalid credentials format")
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", authError("Invalid credentials format")
	}
	return user, pass, nil
}

// NewServer creates the API server using Go 1.22+ native routing.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("camnode API", "1.0.0")
	config.Info.Description = "Camera capture adapter: device registry, capture streams and live frames"
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	server := &Server{
		api:      humago.New(mux, config),
		mux:      mux,
		host:     opts.Host,
		eventBus: opts.EventBus,
		options:  opts,
		logger:   logging.GetLogger("api"),
	}

	server.api.UseMiddleware(NewCORSMiddleware(corsConfig))
	server.api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		server.api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}
	mux.HandleFunc("GET /ws/frames", server.handleFrames)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/docs", http.StatusFound)
	})

	server.registerRoutes()
	return server
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// GetAPI returns the Huma API instance.
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves HTTP on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting camnode API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and every open connection.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// registerRoutes sets up all API endpoints.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
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
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		info := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   info.Version,
				Driver:    info.DriverVersion,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				BuildID:   info.BuildID,
				GoVersion: info.GoVersion,
				Compiler:  info.Compiler,
				Platform:  info.Platform,
			},
		}, nil
	})

	s.registerDeviceRoutes()
	s.registerStreamRoutes()
	s.registerSSERoutes()
	s.registerMetricsRoutes()
	s.registerLogRoutes()
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}

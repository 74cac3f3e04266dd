// Package app runs the HTTP transport: MCP endpoint, probes, info and metrics.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codex-k8s/compute-mcp-server/internal/constants"
	"github.com/codex-k8s/compute-mcp-server/internal/health"
	"github.com/codex-k8s/compute-mcp-server/internal/security"
	"github.com/codex-k8s/compute-mcp-server/internal/telemetry"
)

// Info is the static payload of GET /info.
type Info struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Transport string            `json:"transport"`
	Endpoints map[string]string `json:"endpoints"`
	Auth      string            `json:"auth"`
	Tools     []string          `json:"tools"`
}

// Options configures the HTTP transport.
type Options struct {
	// Addr is the listen address.
	Addr string
	// MCPPath is where MCPHandler is mounted.
	MCPPath string
	// MCPHandler serves the MCP streamable HTTP protocol. When nil, MCPPath
	// answers 503 until Mount is called.
	MCPHandler http.Handler
	// APIKey enables bearer authentication on MCPPath when set.
	APIKey string
	// Health is marked transport-connected once the listener is bound and
	// the MCP handler is mounted.
	Health  *health.State
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
	// Name, Version and Tools are reported by /info.
	Name    string
	Version string
	Tools   []string
	Logger  *slog.Logger

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// App controls the HTTP server lifecycle.
type App struct {
	baseCtx         context.Context
	server          *http.Server
	health          *health.State
	logger          *slog.Logger
	shutdownTimeout time.Duration

	mcp   atomic.Pointer[mounted]
	mu    sync.Mutex
	bound bool
}

type mounted struct {
	handler http.Handler
	tools   []string
}

// New initializes the HTTP server and its routes.
func New(baseCtx context.Context, opts Options) (*App, error) {
	if opts.Health == nil {
		return nil, fmt.Errorf("health state is nil")
	}
	if baseCtx == nil {
		return nil, fmt.Errorf("base context is nil")
	}
	if opts.MCPPath == "" {
		opts.MCPPath = "/mcp"
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 15 * time.Second
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	a := &App{
		baseCtx:         baseCtx,
		health:          opts.Health,
		logger:          opts.Logger,
		shutdownTimeout: opts.ShutdownTimeout,
	}
	if opts.MCPHandler != nil {
		a.mcp.Store(&mounted{handler: opts.MCPHandler, tools: opts.Tools})
	}
	a.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           a.routes(opts),
		ReadHeaderTimeout: opts.ReadTimeout,
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       opts.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	return a, nil
}

// Mount installs the MCP handler and the tool names reported by /info.
func (a *App) Mount(handler http.Handler, tools []string) {
	a.mcp.Store(&mounted{handler: handler, tools: tools})
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bound {
		a.health.MarkTransportConnected()
	}
}

func (a *App) serveMCP(w http.ResponseWriter, r *http.Request) {
	m := a.mcp.Load()
	if m == nil {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "server is starting", "status": string(a.health.Status())})
		return
	}
	m.handler.ServeHTTP(w, r)
}

func (a *App) routes(opts Options) http.Handler {
	probes := health.NewHandler(opts.Health)
	auth := "none"
	if opts.APIKey != "" {
		auth = "bearer"
	}
	info := Info{
		Name:      opts.Name,
		Version:   opts.Version,
		Transport: constants.TransportHTTP,
		Endpoints: map[string]string{
			"mcp":     opts.MCPPath,
			"health":  constants.PathHealth,
			"healthz": constants.PathHealthz,
			"readyz":  constants.PathReadyz,
			"info":    constants.PathInfo,
			"metrics": constants.PathMetrics,
		},
		Auth: auth,
	}

	mux := http.NewServeMux()
	mux.Handle(opts.MCPPath, security.Gate(opts.APIKey, opts.Logger, opts.Metrics, http.HandlerFunc(a.serveMCP)))
	mux.HandleFunc("GET "+constants.PathHealth, probes.Health)
	mux.HandleFunc("GET "+constants.PathHealthz, probes.Healthz)
	mux.HandleFunc("GET "+constants.PathReadyz, probes.Readyz)
	mux.HandleFunc("GET "+constants.PathInfo, func(w http.ResponseWriter, _ *http.Request) {
		current := info
		if m := a.mcp.Load(); m != nil {
			current.Tools = m.tools
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(current)
	})
	mux.Handle("GET "+constants.PathMetrics, opts.Metrics.Handler())

	return opts.Tracer.HTTPHandler(opts.Metrics.Middleware(opts.MCPPath, mux), "compute-mcp-server")
}

// Handler returns the routed handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Listen binds the configured address.
func (a *App) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	return ln, nil
}

// Serve serves on ln until ctx is done. Health routes answer immediately; the
// transport is reported connected once the MCP handler is mounted too.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	a.mu.Lock()
	a.bound = true
	if a.mcp.Load() != nil {
		a.health.MarkTransportConnected()
	}
	a.mu.Unlock()
	a.logger.Info("http server started", "addr", ln.Addr().String())
	go func() {
		errCh <- a.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown requested")
		return a.shutdown()
	case err := <-errCh:
		a.health.Shutdown()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		a.logger.Error("http server error", "error", err)
		return err
	}
}

func (a *App) shutdown() error {
	a.health.Shutdown()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(a.baseCtx), a.shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/codex-k8s/compute-mcp-server/configs"
	"github.com/codex-k8s/compute-mcp-server/internal/app"
	"github.com/codex-k8s/compute-mcp-server/internal/audit"
	"github.com/codex-k8s/compute-mcp-server/internal/config"
	"github.com/codex-k8s/compute-mcp-server/internal/constants"
	"github.com/codex-k8s/compute-mcp-server/internal/dispatch"
	"github.com/codex-k8s/compute-mcp-server/internal/engine"
	"github.com/codex-k8s/compute-mcp-server/internal/health"
	"github.com/codex-k8s/compute-mcp-server/internal/idempotency"
	"github.com/codex-k8s/compute-mcp-server/internal/log"
	"github.com/codex-k8s/compute-mcp-server/internal/profile"
	"github.com/codex-k8s/compute-mcp-server/internal/render"
	"github.com/codex-k8s/compute-mcp-server/internal/runtime"
	"github.com/codex-k8s/compute-mcp-server/internal/startup"
	"github.com/codex-k8s/compute-mcp-server/internal/telemetry"
)

func run(ctx context.Context, cmd *cobra.Command, f flags) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := log.New(cfg.LogLevel)

	prof, profileName, err := loadProfile(cfg.ProfilePath, f.embeddedProfile)
	if err != nil {
		logger.Error("load profile failed", "error", err)
		return err
	}

	metrics := telemetry.NewMetrics()
	tracer, err := telemetry.NewTracer(ctx, telemetry.TracingConfig{
		Enabled:        cfg.TracingEnabled,
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: prof.Server.Version,
	})
	if err != nil {
		logger.Error("tracing setup failed", "error", err)
		return err
	}
	defer func() {
		if err := tracer.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	state := health.New(metrics)
	state.MarkStarted()

	// The HTTP listener is bound before startup so /health reports progress.
	var (
		application *app.App
		served      errgroup.Group
	)
	serveCtx, stopServe := context.WithCancel(ctx)
	defer func() {
		stopServe()
		_ = served.Wait()
	}()
	if cfg.Transport != constants.TransportStdio {
		var ln net.Listener
		application, ln, err = listenHTTP(ctx, cfg, prof, state, metrics, tracer, logger)
		if err != nil {
			logger.Error("http listen failed", "error", err)
			return err
		}
		served.Go(func() error { return application.Serve(serveCtx, ln) })
	}

	runner, err := engine.NewRunner(prof.Engine.RunnerConfig(cfg.EnginePath, cfg.KillGrace, cfg.MaxConcurrent), logger, metrics, tracer)
	if err != nil {
		logger.Error("engine setup failed", "error", err)
		return err
	}

	err = startup.Sequence{
		Engine:        runner,
		State:         state,
		Logger:        logger,
		WarmupCode:    prof.Engine.WarmupCode,
		WarmupTimeout: cfg.WarmupTimeout,
		EngineEnv:     prof.Engine.Env,
	}.Run(ctx)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}

	dispatcher, err := dispatch.New(dispatch.Options{
		Executor: runner,
		Status:   state,
		Limits: dispatch.Limits{
			DefaultTimeout:  cfg.DefaultTimeout,
			MaxTimeout:      cfg.MaxTimeout,
			MaxOutputLength: cfg.MaxOutputLength,
			MaxCodeLength:   cfg.MaxCodeLength,
		},
		Engine:       dispatch.EngineInfo{Path: runner.Path(), Profile: profileName},
		PackagesCode: prof.Engine.PackagesCode,
		Logger:       logger,
		Audit:        audit.New(logger),
		Metrics:      metrics,
		Cache:        idempotency.NewCache(cfg.CacheTTL, cfg.CacheMaxEntries),
		Limiter:      newLimiter(cfg.RatePerMinute),
	})
	if err != nil {
		logger.Error("dispatcher setup failed", "error", err)
		return err
	}

	server, err := runtime.Builder{
		Logger:     logger,
		Dispatcher: dispatcher,
		Server:     prof.Server,
		Resources:  prof.Resources,
	}.Build()
	if err != nil {
		logger.Error("build server failed", "error", err)
		return err
	}
	state.MarkDispatchConnected()

	switch cfg.Transport {
	case constants.TransportStdio:
		err = runStdio(ctx, server, state, logger)
	default:
		application.Mount(mcpHandler(cfg, server), dispatcher.ToolNames())
		err = served.Wait()
	}
	if err != nil {
		logger.Error("runtime error", "error", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}

func loadConfig(cmd *cobra.Command, f flags) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("transport") {
		cfg.Transport = f.transport
	}
	if cmd.Flags().Changed("profile") {
		cfg.ProfilePath = f.profile
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	return cfg, cfg.Validate()
}

// loadProfile renders and parses the profile, preferring an explicit embedded
// name, then a path, then the embedded default.
func loadProfile(path, embedded string) (*profile.Profile, string, error) {
	var (
		rendered []byte
		name     string
		err      error
	)
	switch {
	case embedded != "" || path == "":
		name = embedded
		if name == "" {
			name = configs.DefaultProfile
		}
		raw, loadErr := configs.Load(name)
		if loadErr != nil {
			return nil, "", loadErr
		}
		rendered, err = render.RenderBytes(name, raw, os.LookupEnv)
		name = "embedded:" + name
	default:
		name = path
		rendered, err = render.RenderFile(path)
	}
	if err != nil {
		return nil, "", fmt.Errorf("render profile %s: %w", name, err)
	}
	prof, err := profile.Load(rendered)
	if err != nil {
		return nil, "", fmt.Errorf("profile %s: %w", name, err)
	}
	return prof, name, nil
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute)
}

func runStdio(ctx context.Context, server *mcp.Server, state *health.State, logger *slog.Logger) error {
	state.MarkTransportConnected()
	defer state.Shutdown()
	logger.Info("serving mcp over stdio")
	err := server.Run(ctx, &mcp.StdioTransport{})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// listenHTTP binds the HTTP transport. The MCP endpoint answers 503 until a
// handler is mounted.
func listenHTTP(
	ctx context.Context,
	cfg config.Config,
	prof *profile.Profile,
	state *health.State,
	metrics *telemetry.Metrics,
	tracer *telemetry.Tracer,
	logger *slog.Logger,
) (*app.App, net.Listener, error) {
	if !cfg.AuthEnabled() {
		logger.Warn("authentication disabled: COMPUTE_MCP_API_KEY is not set")
	}
	application, err := app.New(ctx, app.Options{
		Addr:            cfg.ListenAddr(),
		MCPPath:         cfg.HTTPPath,
		APIKey:          cfg.APIKey,
		Health:          state,
		Metrics:         metrics,
		Tracer:          tracer,
		Name:            prof.Server.Name,
		Version:         prof.Server.Version,
		Logger:          logger,
		WriteTimeout:    cfg.WriteTimeout(),
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	ln, err := application.Listen()
	if err != nil {
		return nil, nil, err
	}
	return application, ln, nil
}

func mcpHandler(cfg config.Config, server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, &mcp.StreamableHTTPOptions{
		Stateless: cfg.HTTPStateless,
	})
}

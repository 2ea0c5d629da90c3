// Command mcp-host runs an MCP server over stdio or streaming HTTP,
// configured entirely through the environment. It registers a small set of
// built-in capabilities (echo tool, background job tool, host info resource)
// and, when MCP_RESOURCE_DIR is set, publishes that directory as live
// resources.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/hostbridge/mcp-host-go/auth"
	"github.com/hostbridge/mcp-host-go/registry"
	"github.com/hostbridge/mcp-host-go/server"
	"github.com/hostbridge/mcp-host-go/stdio"
	"github.com/hostbridge/mcp-host-go/streaminghttp"
	"github.com/hostbridge/mcp-host-go/tasks"
	"github.com/hostbridge/mcp-host-go/tasks/redistasks"
)

type config struct {
	Transport string `env:"MCP_TRANSPORT,default=stdio"` // stdio or http
	LogLevel  string `env:"MCP_LOG_LEVEL,default=info"`

	ServerName    string `env:"MCP_SERVER_NAME,default=mcp-host"`
	ServerVersion string `env:"MCP_SERVER_VERSION,default=dev"`
	Instructions  string `env:"MCP_INSTRUCTIONS,default="`
	ResourceDir   string `env:"MCP_RESOURCE_DIR,default="`

	HTTPAddr       string        `env:"MCP_HTTP_ADDR,default=127.0.0.1:8080"`
	HTTPEndpoint   string        `env:"MCP_HTTP_ENDPOINT,default=/mcp"`
	AllowedOrigins string        `env:"MCP_ALLOWED_ORIGINS,default="`
	SessionTTL     time.Duration `env:"MCP_SESSION_TTL,default=30m"`
	KeepAlive      time.Duration `env:"MCP_SSE_KEEPALIVE,default=15s"`

	JWTIssuer      string `env:"MCP_JWT_ISSUER,default="`
	JWTAudiences   string `env:"MCP_JWT_AUDIENCES,default="`
	JWKSURI        string `env:"MCP_JWKS_URI,default="`
	RequiredScopes string `env:"MCP_REQUIRED_SCOPES,default="`

	TaskStore string `env:"MCP_TASK_STORE,default=memory"` // memory or redis
}

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "mcp-host:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLevel(cfg.LogLevel))
	// Protocol traffic owns stdout on the stdio transport, so diagnostics
	// always go to stderr.
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))

	store, err := newTaskStore(cfg, log)
	if err != nil {
		return err
	}
	mgr := tasks.NewManager(store, tasks.WithLogger(log))

	opts := []server.Option{
		server.WithLogger(log),
		server.WithLogLevelVar(levelVar),
		server.WithTaskManager(mgr),
	}
	if cfg.Instructions != "" {
		opts = append(opts, server.WithInstructions(cfg.Instructions))
	}
	srv := server.New(cfg.ServerName, cfg.ServerVersion, opts...)

	registerBuiltins(srv)

	if cfg.ResourceDir != "" {
		if _, err := registry.NewDirResources(ctx, srv.Resources(), cfg.ResourceDir, registry.WithDirLogger(log)); err != nil {
			return fmt.Errorf("publish resource dir %q: %w", cfg.ResourceDir, err)
		}
	}

	switch cfg.Transport {
	case "stdio":
		return stdio.NewHandler(srv, stdio.WithLogger(log)).Serve(ctx)
	case "http":
		return serveHTTP(ctx, cfg, srv, log)
	default:
		return fmt.Errorf("unknown transport %q (want stdio or http)", cfg.Transport)
	}
}

func serveHTTP(ctx context.Context, cfg config, srv *server.Server, log *slog.Logger) error {
	opts := []streaminghttp.Option{
		streaminghttp.WithLogger(log),
		streaminghttp.WithEndpoint(cfg.HTTPEndpoint),
		streaminghttp.WithSessionTTL(cfg.SessionTTL),
		streaminghttp.WithKeepAliveInterval(cfg.KeepAlive),
		streaminghttp.WithLoopbackBind(isLoopbackAddr(cfg.HTTPAddr)),
	}
	if origins := splitList(cfg.AllowedOrigins); len(origins) > 0 {
		opts = append(opts, streaminghttp.WithAllowedOrigins(origins...))
	}
	if cfg.JWTIssuer != "" {
		authn, err := newAuthenticator(ctx, cfg)
		if err != nil {
			return fmt.Errorf("configure auth: %w", err)
		}
		opts = append(opts, streaminghttp.WithAuthenticator(authn))
	}

	handler := streaminghttp.NewHandler(ctx, srv, opts...)
	hs := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "http.listen", slog.String("addr", cfg.HTTPAddr), slog.String("endpoint", cfg.HTTPEndpoint))
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func newTaskStore(cfg config, log *slog.Logger) (tasks.Store, error) {
	switch cfg.TaskStore {
	case "memory":
		return tasks.NewMemoryStore(), nil
	case "redis":
		store, err := redistasks.NewFromEnv()
		if err != nil {
			return nil, fmt.Errorf("redis task store: %w", err)
		}
		log.Info("tasks.store.redis")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown task store %q (want memory or redis)", cfg.TaskStore)
	}
}

func newAuthenticator(ctx context.Context, cfg config) (auth.Authenticator, error) {
	audiences := splitList(cfg.JWTAudiences)
	if len(audiences) == 0 {
		return nil, errors.New("MCP_JWT_AUDIENCES required when MCP_JWT_ISSUER is set")
	}
	if cfg.JWKSURI == "" {
		return nil, errors.New("MCP_JWKS_URI required when MCP_JWT_ISSUER is set")
	}
	jwtCfg := auth.DefaultJWTConfig()
	jwtCfg.Issuer = cfg.JWTIssuer
	jwtCfg.ExpectedAudiences = audiences
	jwtCfg.RequiredScopes = splitList(cfg.RequiredScopes)
	return auth.NewJWT(ctx, jwtCfg, cfg.JWKSURI)
}

type echoArgs struct {
	Message string `json:"message" jsonschema:"description=Text to echo back"`
}

type backgroundJobArgs struct {
	Duration string `json:"duration,omitempty" jsonschema:"description=How long the job runs (Go duration, default 2s)"`
}

func registerBuiltins(srv *server.Server) {
	srv.Tools().RegisterDefinition(registry.NewTool("echo", func(ctx context.Context, args echoArgs) (any, error) {
		if args.Message == "" {
			return nil, errors.New("message is required")
		}
		return args.Message, nil
	}, registry.WithDescription("Echo a message back to the caller."), registry.WithCategory("diagnostics")))

	srv.Tools().RegisterDefinition(registry.NewTool("background_job", func(ctx context.Context, args backgroundJobArgs) (any, error) {
		d := 2 * time.Second
		if args.Duration != "" {
			parsed, err := time.ParseDuration(args.Duration)
			if err != nil {
				return nil, fmt.Errorf("invalid duration: %w", err)
			}
			d = parsed
		}
		info, err := srv.TaskManager().Run(ctx, "tools/call", "", func(ctx context.Context, report tasks.ProgressFunc) (any, error) {
			const steps = 10
			for i := 1; i <= steps; i++ {
				select {
				case <-ctx.Done():
					return nil, context.Cause(ctx)
				case <-time.After(d / steps):
				}
				report(float64(i), steps, fmt.Sprintf("step %d of %d", i, steps))
			}
			return "job finished", nil
		})
		if err != nil {
			return nil, err
		}
		return info, nil
	}, registry.WithDescription("Start a cancellable background job tracked as a task."), registry.WithCategory("diagnostics")))

	srv.Resources().Register("host://info", func(ctx context.Context) (any, error) {
		return fmt.Sprintf("%s %s", srv.Name(), srv.Version()), nil
	}, registry.WithResourceName("Host info"), registry.WithMimeType("text/plain"),
		registry.WithResourceDescription("Name and version of this host process."))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// isLoopbackAddr reports whether the bind address only accepts local
// connections, which relaxes the Origin policy to allow localhost pages.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

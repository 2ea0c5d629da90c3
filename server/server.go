package server

import (
	"log/slog"

	"github.com/hostbridge/mcp-host-go/mcp"
	"github.com/hostbridge/mcp-host-go/registry"
	"github.com/hostbridge/mcp-host-go/tasks"
)

// Server owns the capability registries, the task manager and the process
// logging level. It is shared by every connection; per-connection handshake
// state lives on Conn.
type Server struct {
	name         string
	version      string
	title        string
	instructions string

	log      *slog.Logger
	logLevel *slog.LevelVar

	tools     *registry.Tools
	resources *registry.Resources
	prompts   *registry.Prompts
	taskMgr   *tasks.Manager
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the slog logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithLogLevelVar wires the LevelVar that logging/setLevel adjusts. When the
// process handler is built over the same var, protocol-driven verbosity
// changes take effect immediately.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(s *Server) {
		if v != nil {
			s.logLevel = v
		}
	}
}

// WithInstructions sets the instructions string returned from initialize.
func WithInstructions(instructions string) Option {
	return func(s *Server) { s.instructions = instructions }
}

// WithTitle sets the display title advertised in serverInfo.
func WithTitle(title string) Option {
	return func(s *Server) { s.title = title }
}

// WithTaskManager replaces the default in-memory task manager.
func WithTaskManager(m *tasks.Manager) Option {
	return func(s *Server) {
		if m != nil {
			s.taskMgr = m
		}
	}
}

// New constructs a Server with empty registries. Register capabilities via
// Tools(), Resources() and Prompts() before serving.
func New(name, version string, opts ...Option) *Server {
	s := &Server{
		name:      name,
		version:   version,
		log:       slog.Default(),
		logLevel:  new(slog.LevelVar),
		tools:     registry.NewTools(),
		resources: registry.NewResources(),
		prompts:   registry.NewPrompts(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.taskMgr == nil {
		s.taskMgr = tasks.NewManager(nil, tasks.WithLogger(s.log))
	}
	return s
}

// Tools returns the tool registry.
func (s *Server) Tools() *registry.Tools { return s.tools }

// Resources returns the resource registry.
func (s *Server) Resources() *registry.Resources { return s.resources }

// Prompts returns the prompt registry.
func (s *Server) Prompts() *registry.Prompts { return s.prompts }

// TaskManager returns the task manager.
func (s *Server) TaskManager() *tasks.Manager { return s.taskMgr }

// Name returns the server identity name.
func (s *Server) Name() string { return s.name }

// Version returns the server identity version.
func (s *Server) Version() string { return s.version }

// LogLevel returns the LevelVar adjusted by logging/setLevel.
func (s *Server) LogLevel() *slog.LevelVar { return s.logLevel }

func (s *Server) capabilities() mcp.ServerCapabilities {
	return mcp.ServerCapabilities{
		Logging: &struct{}{},
		Tools: &struct {
			ListChanged bool `json:"listChanged"`
		}{ListChanged: true},
		Resources: &struct {
			ListChanged bool `json:"listChanged"`
		}{ListChanged: true},
		Prompts: &struct {
			ListChanged bool `json:"listChanged"`
		}{ListChanged: true},
		Experimental: map[string]struct{}{
			"toolSearch": {},
			"tasks":      {},
		},
	}
}

func (s *Server) serverInfo() mcp.ImplementationInfo {
	return mcp.ImplementationInfo{Name: s.name, Version: s.version, Title: s.title}
}

// slogLevel maps an MCP logging level onto slog's coarser scale. Unknown
// levels map to info so a misbehaving client can only ever make the server
// chattier, not mute it.
func slogLevel(l mcp.LoggingLevel) slog.Level {
	switch l {
	case mcp.LoggingLevelDebug:
		return slog.LevelDebug
	case mcp.LoggingLevelInfo, mcp.LoggingLevelNotice:
		return slog.LevelInfo
	case mcp.LoggingLevelWarning:
		return slog.LevelWarn
	case mcp.LoggingLevelError, mcp.LoggingLevelCritical, mcp.LoggingLevelAlert, mcp.LoggingLevelEmergency:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Package mcp exposes SDK operations over the Model Context Protocol so
// MCP-capable agents can run quick commands and chat through the platform.
package mcp

import (
	"context"
	"net"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/stackspot/stkai-go/agent"
	"github.com/stackspot/stkai-go/internal/config"
	"github.com/stackspot/stkai-go/rqc"
)

// Executor runs quick commands and fetches execution results.
type Executor interface {
	Execute(ctx context.Context, slug string, req *rqc.Request) *rqc.Response
	Result(ctx context.Context, executionID string) *rqc.Response
}

// Chatter sends chat messages to platform agents.
type Chatter interface {
	Chat(ctx context.Context, agentID string, req *agent.ChatRequest) *agent.ChatResponse
}

// ConfigReader reports the resolved configuration.
type ConfigReader interface {
	Explain() []config.Field
}

// ServerConfig holds the MCP server settings.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	// APIKey, when set, requires a matching bearer token on every request.
	APIKey string
}

// ServerDeps are the capabilities the server exposes as tools. Nil deps
// disable the corresponding tools with a clear error instead of panicking.
type ServerDeps struct {
	Executor Executor
	Chatter  Chatter
	Config   ConfigReader
}

// Server wraps an MCP server exposing the SDK as tools and resources.
type Server struct {
	cfg  ServerConfig
	deps ServerDeps

	mcpServer  *mcpserver.MCPServer
	httpServer *http.Server
	listener   net.Listener
	tools      map[string]mcpserver.ServerTool
}

// NewServer builds the server and registers all tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:   cfg,
		deps:  deps,
		tools: make(map[string]mcpserver.ServerTool),
	}
	s.mcpServer = mcpserver.NewMCPServer(cfg.Name, cfg.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithRecovery(),
	)
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Tools returns the registered tools keyed by name.
func (s *Server) Tools() map[string]mcpserver.ServerTool { return s.tools }

func (s *Server) addTool(tool mcpserver.ServerTool) {
	s.tools[tool.Tool.Name] = tool
	s.mcpServer.AddTools(tool)
}

// Start binds the listen address and serves the MCP protocol over
// streamable HTTP in the background. Bind errors surface synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	var handler http.Handler = mcpserver.NewStreamableHTTPServer(s.mcpServer)
	handler = AuthMiddleware(s.cfg.APIKey, handler)
	s.httpServer = &http.Server{Handler: handler}

	go func() { _ = s.httpServer.Serve(ln) }()
	return nil
}

// Addr reports the bound listen address. Empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

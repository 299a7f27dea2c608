// Package mcpbridge adapts tools exposed by an MCP server (via
// mark3labs/mcp-go) into this codebase's tool.Tool interface, the same
// way an in-process tool is composed, so the executor and pipeline
// machinery never need to know a tool call actually crosses a subprocess
// boundary.
package mcpbridge

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"codey/internal/codey/jsonutil"
	"codey/internal/codey/logging"
	"codey/internal/codey/pipeline"
	"codey/internal/codey/tool"
)

var log = logging.For("mcpbridge")

// ServerConfig is one entry of a Claude-Desktop-style mcp.json file: a
// stdio server names a subprocess to launch, an sse server names an
// HTTP SSE endpoint to dial.
type ServerConfig struct {
	Transport string   `json:"transport,omitempty"`
	Command   string   `json:"command,omitempty"`
	Args      []string `json:"args,omitempty"`
	Env       []string `json:"env,omitempty"`
	URL       string   `json:"url,omitempty"`
}

// Config is the top-level mcp.json shape: a map of server name to
// ServerConfig under the "mcpServers" key.
type Config struct {
	Servers map[string]*ServerConfig `json:"mcpServers"`
}

// LoadConfig reads an mcp.json file. A missing file is not an error: it
// yields an empty Config, since MCP tools are entirely optional.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Servers: map[string]*ServerConfig{}}, nil
		}
		return nil, fmt.Errorf("read mcp config %q: %w", path, err)
	}
	cfg := &Config{}
	if err := jsonutil.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse mcp config %q: %w", path, err)
	}
	if cfg.Servers == nil {
		cfg.Servers = map[string]*ServerConfig{}
	}
	return cfg, nil
}

// newClient builds the transport-specific mcp-go client for one server
// entry.
func newClient(cfg *ServerConfig) (*client.Client, error) {
	switch cfg.Transport {
	case "", "stdio":
		return client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	case "sse":
		return client.NewSSEMCPClient(cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported mcp transport %q", cfg.Transport)
	}
}

// ConnectAll dials every server in cfg and returns the tools each one
// exposes, each named "mcp_" plus the tool's own name (the server name
// is not part of it). A single server
// failing to connect is logged and skipped rather than aborting the
// whole set, so one misconfigured MCP entry doesn't take down the
// session's other tools.
func ConnectAll(ctx context.Context, cfg *Config) ([]tool.Tool, []*Server, error) {
	var tools []tool.Tool
	var servers []*Server
	for name, sc := range cfg.Servers {
		c, err := newClient(sc)
		if err != nil {
			log.Errorf("mcp server %q: %v", name, err)
			continue
		}
		srv, err := Connect(ctx, name, c)
		if err != nil {
			log.Errorf("mcp server %q: %v", name, err)
			continue
		}
		srvTools, err := srv.Tools(ctx)
		if err != nil {
			log.Errorf("mcp server %q: list tools: %v", name, err)
			srv.Close()
			continue
		}
		tools = append(tools, srvTools...)
		servers = append(servers, srv)
	}
	return tools, servers, nil
}

// Server wraps one connected MCP client and exposes its tools.
type Server struct {
	Name   string
	client *client.Client
}

func Connect(ctx context.Context, name string, c *client.Client) (*Server, error) {
	if _, err := c.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
		return nil, fmt.Errorf("mcp server %q: initialize: %w", name, err)
	}
	return &Server{Name: name, client: c}, nil
}

// Tools lists every tool.Tool this server currently exposes, freshly
// queried — MCP servers can add/remove tools at runtime, so callers
// should re-list rather than cache indefinitely.
func (s *Server) Tools(ctx context.Context) ([]tool.Tool, error) {
	resp, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp server %q: list tools: %w", s.Name, err)
	}
	tools := make([]tool.Tool, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		tools = append(tools, &bridgedTool{server: s, def: t})
	}
	return tools, nil
}

func (s *Server) Close() error {
	return s.client.Close()
}

// bridgedTool adapts one remote MCP tool definition into a local
// tool.Tool: composing it produces a single-stage pipeline that calls
// through to the MCP server and surfaces its text content as output.
type bridgedTool struct {
	server *Server
	def    mcp.Tool
}

func (b *bridgedTool) Definition() tool.Definition {
	schema := map[string]any{"type": "object"}
	if b.def.InputSchema.Properties != nil {
		schema["properties"] = b.def.InputSchema.Properties
	}
	if len(b.def.InputSchema.Required) > 0 {
		schema["required"] = b.def.InputSchema.Required
	}
	return tool.Definition{
		Name:        "mcp_" + b.def.Name,
		Description: b.def.Description,
		Schema:      schema,
	}
}

func (b *bridgedTool) Compose(params map[string]any) *pipeline.Pipeline {
	return pipeline.New().Then(pipeline.HandlerFunc(func(ctx context.Context, _ *pipeline.Context) pipeline.Step {
		req := mcp.CallToolRequest{}
		req.Params.Name = b.def.Name
		req.Params.Arguments = params

		result, err := b.server.client.CallTool(ctx, req)
		if err != nil {
			log.Errorf("mcp tool %s failed: %v", b.def.Name, err)
			return pipeline.Error(err.Error())
		}
		text := renderContent(result)
		if result.IsError {
			return pipeline.OutputError(text)
		}
		return pipeline.Output(text)
	}))
}

func renderContent(result *mcp.CallToolResult) string {
	out := ""
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			out += tc.Text
		}
	}
	return out
}

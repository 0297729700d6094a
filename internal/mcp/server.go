package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/pycontext-mcp/internal/app"
	"github.com/dshills/pycontext-mcp/internal/indexer"
	"github.com/dshills/pycontext-mcp/internal/searcher"
)

const (
	// ServerName is the MCP server name
	ServerName = "pycontext-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Backend runs the operations exposed as tools
type Backend interface {
	Index(ctx context.Context, root string, reindex bool) (*indexer.Statistics, error)
	Search(ctx context.Context, query string, topK int) (*searcher.Result, error)
	Status(ctx context.Context) (*app.Status, error)
	TopK() int
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp     *server.MCPServer
	backend Backend
}

// NewServer creates a new MCP server instance
func NewServer(backend Backend, version string) *Server {
	if version == "" {
		version = ServerVersion
	}

	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			version,
			server.WithToolCapabilities(false),
		),
		backend: backend,
	}
	s.registerTools()
	return s
}

// Serve runs the MCP server on stdio and blocks until stdin closes or
// ctx is cancelled
func (s *Server) Serve(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.ServeStdio(s.mcp)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return nil
	}
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexCodebaseTool(), s.handleIndexCodebase)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}

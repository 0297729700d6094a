package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/pycontext-mcp/internal/indexer"
	"github.com/dshills/pycontext-mcp/internal/searcher"
	"github.com/dshills/pycontext-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeProjectNotFound    = -32001 // Specified path does not exist
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

// handleIndexCodebase handles the index_codebase tool invocation
func (s *Server) handleIndexCodebase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if err := validatePath(path); err != nil {
		return nil, pathError(err)
	}

	reindex := getBoolDefault(args, "reindex", false)

	stats, err := s.backend.Index(ctx, path, reindex)
	if errors.Is(err, indexer.ErrIndexingInProgress) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", nil)
	}
	if stats == nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": errorString(err),
		})
	}

	partitions := make(map[string]interface{}, len(stats.Pipelines))
	for _, p := range stats.Pipelines {
		partitions[string(p.Partition)] = map[string]interface{}{
			"units":       p.Units,
			"deleted":     p.Deleted,
			"written":     p.Written,
			"duration_ms": p.Duration.Milliseconds(),
		}
	}

	response := map[string]interface{}{
		"indexed":     err == nil,
		"root":        stats.Root,
		"files":       stats.Files,
		"written":     stats.Written(),
		"partitions":  partitions,
		"duration_ms": stats.Duration.Milliseconds(),
	}
	if err != nil {
		// Some pipelines failed, the others were written
		response["failed"] = stats.Failed
		response["error"] = err.Error()
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	path := getStringDefault(args, "path", "")
	if path != "" {
		if err := validatePath(path); err != nil {
			return nil, pathError(err)
		}
	}

	topK := s.backend.TopK()
	fetch := topK
	if path != "" {
		fetch = max(topK, min(topK*pathOverfetch, maxPathFetch))
	}

	result, err := s.backend.Search(ctx, query, fetch)
	if err != nil && !errors.Is(err, searcher.ErrIncompleteResults) {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if path != "" {
		filterByPath(result, path, topK)
	}

	data, merr := json.MarshalIndent(result, "", "  ")
	if merr != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to encode results", map[string]interface{}{
			"error": merr.Error(),
		})
	}
	return mcp.NewToolResultText(string(data)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.backend.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to encode status", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(string(data)), nil
}

// Path-scoped searches rank a wider window so filtering still leaves
// up to top-k matches per partition
const (
	pathOverfetch = 10
	maxPathFetch  = 200
)

// filterByPath keeps at most limit documents per partition whose source
// file lies under root, preserving rank order
func filterByPath(result *searcher.Result, root string, limit int) {
	root = filepath.Clean(root)
	for p, docs := range result.Partitions {
		kept := docs[:0:0]
		for _, doc := range docs {
			if limit > 0 && len(kept) == limit {
				break
			}
			if underRoot(doc.Meta.String(types.MetaPath), root) {
				kept = append(kept, doc)
			}
		}
		result.Partitions[p] = kept
	}
}

func underRoot(path, root string) bool {
	rel, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func pathError(err error) error {
	code := ErrorCodeInvalidParams
	if errors.Is(err, ErrPathNotFound) {
		code = ErrorCodeProjectNotFound
	}
	return newMCPError(code, "invalid path", map[string]interface{}{
		"param":  "path",
		"reason": err.Error(),
	})
}

// validatePath checks if a path exists and is a readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)

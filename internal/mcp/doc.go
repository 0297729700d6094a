// Package mcp implements the Model Context Protocol (MCP) server for
// pycontext.
//
// The server exposes three tools over stdio:
//   - index_codebase: summarize and store a Python project
//   - search_code: retrieve files, classes and functions for a question
//   - get_status: report partition sizes and the last indexing run
//
// # Tool: index_codebase
//
//	Request:
//	{"name": "index_codebase", "arguments": {"path": "/abs/project", "reindex": false}}
//
//	Response:
//	{
//	  "indexed": true,
//	  "root": "/abs/project",
//	  "files": 12,
//	  "written": 57,
//	  "partitions": {
//	    "code_file": {"units": 12, "deleted": 0, "written": 12, "duration_ms": 4100},
//	    "code_class": {...},
//	    "code_function": {...}
//	  },
//	  "duration_ms": 4350
//	}
//
// When a pipeline fails the others are still written; "indexed" is false
// and "failed" lists the failed partitions.
//
// # Tool: search_code
//
//	Request:
//	{"name": "search_code", "arguments": {"query": "where is the session refreshed?"}}
//
//	Response:
//	{
//	  "query": "where is the session refreshed?",
//	  "complete": true,
//	  "code_file_retrieval": [{"id": "...", "content": "summary", "meta": {...}, "score": 0.82}],
//	  "code_class_retrieval": [...],
//	  "code_function_retrieval": [...]
//	}
//
// An optional "path" restricts results to files under that directory.
// If a partition cannot be searched, "complete" is false and "errors" names
// it; the other partitions are still returned.
//
// # Error Codes
//
//	-32602: Invalid parameters
//	-32603: Internal error
//	-32001: Path not found
//	-32002: Indexing already in progress
//	-32004: Empty query
//
// Logs go to stderr; stdout carries the protocol.
package mcp

// Package main provides the MCP server implementation for recur.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/danblack/recur/internal/version"
	"github.com/danblack/recur/pkg/analyzer"
	"github.com/danblack/recur/pkg/config"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// mcpLog logs to stderr (stdout is reserved for MCP JSON-RPC protocol).
var mcpLog = log.New(os.Stderr, "[recur-mcp] ", log.Ltime)

// MCPServer wraps the recurrence analyzer for MCP tool access.
type MCPServer struct {
	analyzer *analyzer.Analyzer
	server   *mcp.Server
}

// AnalyzeRecurrenceInput is the input schema for the analyze_recurrence tool.
type AnalyzeRecurrenceInput struct {
	Language string `json:"language" jsonschema:"Source language of the code. Only \"c\" is currently supported; other values return an empty result."`
	Code     string `json:"code" jsonschema:"Source code to parse and analyze for recursive functions and their recurrence relations."`
}

// cmdMCP starts the MCP server over stdio.
func cmdMCP(projectRoot string, args []string) error {
	if os.Getenv("RECUR_PPROF_ENABLE") == "1" {
		initPprof()
		defer stopPprof()
	}

	cfg, err := config.Load(projectRoot)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	loader := newGrammarLoader(cfg, mcpLog)
	mcpServer := &MCPServer{analyzer: analyzer.New(loader)}

	mcpLog.Printf("MCP server ready, listening on stdio")
	return mcpServer.Run()
}

// Run starts the MCP server and registers its tools.
func (s *MCPServer) Run() error {
	srv := mcp.NewServer(
		&mcp.Implementation{
			Name:    "recur",
			Version: version.Short(),
		},
		nil, // use default capabilities
	)
	s.server = srv

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "analyze_recurrence",
		Description: `Parse a snippet of C source and infer the recurrence relation T(n) = a*T(n/b) + f(n) or T(n) = a*T(n-c) + f(n) for each recursive function it contains.

Returns the same JSON shape as POST /parse: an AST summary plus, per function, whether it is recursive, its call/loop counts, and an inferred recurrence (when one can be determined from the function's structure).

**When to use:** When you want to understand the asymptotic behaviour of a recursive C function without hand-deriving its recurrence relation.`,
	}, s.handleAnalyzeRecurrence)

	return srv.Run(context.Background(), &mcp.StdioTransport{})
}

func (s *MCPServer) handleAnalyzeRecurrence(ctx context.Context, _ *mcp.CallToolRequest, input AnalyzeRecurrenceInput) (*mcp.CallToolResult, any, error) {
	mcpLog.Printf("tool: analyze_recurrence language=%q bytes=%d", input.Language, len(input.Code))

	result, err := s.analyzer.Analyze(ctx, input.Language, []byte(input.Code))
	if err != nil {
		mcpLog.Printf("  error: %v", err)
		return errorResult(fmt.Sprintf("analysis failed: %v", err)), nil, nil
	}

	mcpLog.Printf("  functions: %d, recurrences: %d", len(result.Summary.Functions), len(result.Summary.Recurrences))
	return nil, result, nil
}

// errorResult builds a tool result marked as an error for the caller.
func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: "Error: " + message}},
	}
}

// Package mcp exposes the core lookup operations as Model Context Protocol
// tools over a JSON-RPC-over-stdio transport: initialize, tools/list, and
// tools/call, served over stdin/stdout.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"codeintel/internal/analyzer"
	"codeintel/internal/layers"
	"codeintel/internal/protocol"
)

// mcpRequest is a JSON-RPC 2.0 request.
type mcpRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// mcpResponse is a JSON-RPC 2.0 response.
type mcpResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *mcpError       `json:"error,omitempty"`
}

// mcpError is a JSON-RPC 2.0 error object.
type mcpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolSchema is the subset of an MCP tool descriptor clients need to invoke
// a tool: name, one-line description, and its JSON Schema input shape.
type toolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Server exposes the analyzer core's lookup operations as MCP tools.
type Server struct {
	Analyzer *analyzer.Core
	Index    *layers.Index

	tools map[string]toolHandler
}

type toolHandler func(ctx context.Context, s *Server, params json.RawMessage) (any, error)

// New creates a Server and registers its fixed tool set.
func New(core *analyzer.Core, idx *layers.Index) *Server {
	s := &Server{Analyzer: core, Index: idx}
	s.tools = map[string]toolHandler{
		"find_definition":     toolFindDefinition,
		"find_references":     toolFindReferences,
		"suggest_refactoring": toolSuggestRefactoring,
		"rename":              toolRename,
		"completion":          toolCompletion,
	}
	return s
}

var toolDescriptions = map[string]string{
	"find_definition":     "Find the declaration of an identifier at a position",
	"find_references":     "Find every reference to an identifier, optionally including its declaration",
	"suggest_refactoring": "Suggest refactorings applicable to a file",
	"rename":              "Compute the edits needed to rename an identifier everywhere it is used",
	"completion":          "List completion candidates for a prefix at a position",
}

// Serve runs the JSON-RPC-over-stdio loop until r is exhausted or ctx is
// canceled: one newline-delimited JSON request in, one newline-delimited
// JSON response out, matching the line-framing transport_stdio.go uses on
// the client side.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var writeMu sync.Mutex
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req mcpRequest
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}

		resp := s.handle(ctx, req)
		writeMu.Lock()
		err := writeResponse(w, resp)
		writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("mcp: write response: %w", err)
		}
	}
	return scanner.Err()
}

func writeResponse(w io.Writer, resp mcpResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

func (s *Server) handle(ctx context.Context, req mcpRequest) mcpResponse {
	resp := mcpResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		result, _ := json.Marshal(map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": true},
			"serverInfo":      map[string]string{"name": "codeintel", "version": "1.0.0"},
		})
		resp.Result = result
	case "tools/list":
		resp.Result = s.listToolsResult()
	case "tools/call":
		result, err := s.callTool(ctx, req.Params)
		if err != nil {
			resp.Error = &mcpError{Code: -32000, Message: err.Error()}
			return resp
		}
		resp.Result = result
	default:
		resp.Error = &mcpError{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
	return resp
}

func (s *Server) listToolsResult() json.RawMessage {
	schemas := make([]toolSchema, 0, len(s.tools))
	for name := range s.tools {
		schemas = append(schemas, toolSchema{
			Name:        name,
			Description: toolDescriptions[name],
			InputSchema: json.RawMessage(`{"type":"object"}`),
		})
	}
	result, _ := json.Marshal(map[string]any{"tools": schemas})
	return result
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var call callToolParams
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, fmt.Errorf("decode tools/call params: %w", err)
	}
	handler, ok := s.tools[call.Name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}
	out, err := handler(ctx, s, call.Arguments)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func toolFindDefinition(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	var req protocol.DefinitionRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}
	return s.Analyzer.FindDefinition(ctx, req), nil
}

func toolFindReferences(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	var req protocol.ReferencesRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}
	return s.Analyzer.FindReferences(ctx, req), nil
}

func toolSuggestRefactoring(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	var req protocol.RefactoringRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}
	return s.Analyzer.SuggestRefactoring(ctx, req), nil
}

func toolRename(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	var req protocol.RenameRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}
	return s.Analyzer.Rename(ctx, req), nil
}

func toolCompletion(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	var req protocol.CompletionRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}
	return s.Analyzer.Completion(ctx, s.Index, req), nil
}

// Package lsp exposes the core lookup operations over the Language Server
// Protocol's Content-Length-framed JSON-RPC transport.
package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"codeintel/internal/analyzer"
	"codeintel/internal/layers"
	"codeintel/internal/parsing"
	"codeintel/internal/protocol"
)

// request is an LSP JSON-RPC request.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// response is an LSP JSON-RPC response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Server bridges textDocument/* requests onto the analyzer core, keeping
// the layer index in sync as documents are opened and changed. It keeps its
// own copy of each open document's text since the layer index only stores
// parsed symbols, not source text, and finding the identifier under a
// cursor needs the raw line.
type Server struct {
	Analyzer *analyzer.Core
	Index    *layers.Index
	Parser   *parsing.Service

	mu        sync.Mutex
	documents map[string][]string
}

// New creates a Server over an already-constructed analyzer core and index.
func New(core *analyzer.Core, idx *layers.Index, parser *parsing.Service) *Server {
	return &Server{Analyzer: core, Index: idx, Parser: parser, documents: make(map[string][]string)}
}

// Serve runs the Content-Length-framed read/handle/write loop over r/w
// until r is exhausted, ctx is canceled, or an exit notification is
// received. A shutdown request is answered and the loop keeps reading.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)
	var writeMu sync.Mutex

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		contentLength, err := readHeader(reader)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		body := make([]byte, contentLength)
		if _, err := io.ReadFull(reader, body); err != nil {
			return fmt.Errorf("lsp: read body: %w", err)
		}

		var req request
		if err := json.Unmarshal(body, &req); err != nil {
			continue
		}

		if req.Method == "exit" {
			return nil
		}

		resp := s.handle(ctx, req)
		if resp == nil {
			continue
		}

		writeMu.Lock()
		err = writeFramed(w, *resp)
		writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("lsp: write response: %w", err)
		}
	}
}

// readHeader consumes LSP header lines up to and including the blank line
// separator, returning the announced Content-Length.
func readHeader(reader *bufio.Reader) (int, error) {
	contentLength := -1
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return 0, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if name, value, ok := strings.Cut(line, ":"); ok && strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return 0, fmt.Errorf("lsp: bad Content-Length header %q: %w", line, err)
			}
			contentLength = n
		}
	}
	if contentLength < 0 {
		return 0, fmt.Errorf("lsp: missing Content-Length header")
	}
	return contentLength, nil
}

func writeFramed(w io.Writer, resp response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(body)); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func (s *Server) handle(ctx context.Context, req request) *response {
	resp := &response{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = mustMarshal(map[string]any{
			"capabilities": map[string]any{
				"textDocumentSync":    1,
				"definitionProvider":  true,
				"referencesProvider":  true,
				"renameProvider":      true,
				"completionProvider":  map[string]any{"triggerCharacters": []string{"."}},
				"codeActionProvider":  true,
			},
		})
	case "textDocument/didOpen":
		s.handleDidOpen(ctx, req.Params)
		return nil
	case "textDocument/didChange":
		s.handleDidChange(ctx, req.Params)
		return nil
	case "textDocument/definition":
		s.handleDefinition(ctx, req.Params, resp)
	case "textDocument/references":
		s.handleReferences(ctx, req.Params, resp)
	case "textDocument/rename":
		s.handleRename(ctx, req.Params, resp)
	case "textDocument/completion":
		s.handleCompletion(ctx, req.Params, resp)
	case "textDocument/codeAction":
		s.handleCodeAction(ctx, req.Params, resp)
	case "shutdown":
		resp.Result = json.RawMessage("null")
	default:
		resp.Error = &rpcError{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
	return resp
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

type textDocumentIdentifier struct {
	URI string `json:"uri"`
}

type textDocumentItem struct {
	URI     string `json:"uri"`
	Text    string `json:"text"`
	Version int    `json:"version"`
}

func (s *Server) handleDidOpen(ctx context.Context, params json.RawMessage) {
	var p struct {
		TextDocument textDocumentItem `json:"textDocument"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}
	s.reindex(ctx, p.TextDocument.URI, []byte(p.TextDocument.Text))
}

func (s *Server) handleDidChange(ctx context.Context, params json.RawMessage) {
	var p struct {
		TextDocument   textDocumentIdentifier `json:"textDocument"`
		ContentChanges []struct {
			Text string `json:"text"`
		} `json:"contentChanges"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}
	if len(p.ContentChanges) == 0 {
		return
	}
	s.reindex(ctx, p.TextDocument.URI, []byte(p.ContentChanges[len(p.ContentChanges)-1].Text))
}

// reindex re-parses a document's full text into the shared layer index and
// keeps the document's lines for identifier-at-position lookups. Serialized
// with a mutex since the tree-sitter parser held by this Server is not safe
// for concurrent Parse calls.
func (s *Server) reindex(ctx context.Context, uri string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[uri] = strings.Split(string(content), "\n")
	_ = s.Index.IndexFile(ctx, s.Parser, uri, content)
}

// identifierAt returns the word under a cursor position, or "" if the
// document is unknown or the position falls outside its text.
func (s *Server) identifierAt(uri string, pos protocol.Position) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines, ok := s.documents[uri]
	if !ok || pos.Line < 0 || pos.Line >= len(lines) {
		return ""
	}
	return wordAt(lines[pos.Line], pos.Character)
}

// wordPrefixAt returns the identifier characters immediately before a
// cursor position, used as the completion filter prefix.
func (s *Server) wordPrefixAt(uri string, pos protocol.Position) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines, ok := s.documents[uri]
	if !ok || pos.Line < 0 || pos.Line >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := pos.Character
	if col > len(line) {
		col = len(line)
	}
	start := col
	for start > 0 && isIdentChar(line[start-1]) {
		start--
	}
	return line[start:col]
}

func wordAt(line string, col int) string {
	if col < 0 || col > len(line) {
		return ""
	}
	start := col
	for start > 0 && isIdentChar(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isIdentChar(line[end]) {
		end++
	}
	return line[start:end]
}

func isIdentChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') || c == '_'
}

type positionParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
	Position     protocol.Position      `json:"position"`
}

func (s *Server) handleDefinition(ctx context.Context, params json.RawMessage, resp *response) {
	var p positionParams
	if err := json.Unmarshal(params, &p); err != nil {
		resp.Error = &rpcError{Code: -32602, Message: err.Error()}
		return
	}
	identifier := s.identifierAt(p.TextDocument.URI, p.Position)
	out := s.Analyzer.FindDefinition(ctx, protocol.DefinitionRequest{
		Identifier: identifier,
		URI:        p.TextDocument.URI,
		Position:   p.Position,
	})
	resp.Result = mustMarshal(locationsToLSP(out.Data))
}

func (s *Server) handleReferences(ctx context.Context, params json.RawMessage, resp *response) {
	var p struct {
		positionParams
		Context struct {
			IncludeDeclaration bool `json:"includeDeclaration"`
		} `json:"context"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		resp.Error = &rpcError{Code: -32602, Message: err.Error()}
		return
	}
	identifier := s.identifierAt(p.TextDocument.URI, p.Position)
	out := s.Analyzer.FindReferences(ctx, protocol.ReferencesRequest{
		Identifier:         identifier,
		URI:                p.TextDocument.URI,
		Position:           p.Position,
		IncludeDeclaration: p.Context.IncludeDeclaration,
	})
	resp.Result = mustMarshal(locationsToLSP(out.Data))
}

func (s *Server) handleRename(ctx context.Context, params json.RawMessage, resp *response) {
	var p struct {
		positionParams
		NewName string `json:"newName"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		resp.Error = &rpcError{Code: -32602, Message: err.Error()}
		return
	}
	identifier := s.identifierAt(p.TextDocument.URI, p.Position)
	out := s.Analyzer.Rename(ctx, protocol.RenameRequest{
		Identifier: identifier,
		URI:        p.TextDocument.URI,
		Position:   p.Position,
		NewName:    p.NewName,
	})
	resp.Result = mustMarshal(workspaceEdit(out.Changes))
}

func (s *Server) handleCompletion(ctx context.Context, params json.RawMessage, resp *response) {
	var p positionParams
	if err := json.Unmarshal(params, &p); err != nil {
		resp.Error = &rpcError{Code: -32602, Message: err.Error()}
		return
	}
	prefix := s.wordPrefixAt(p.TextDocument.URI, p.Position)
	out := s.Analyzer.Completion(ctx, s.Index, protocol.CompletionRequest{
		URI:      p.TextDocument.URI,
		Position: p.Position,
		Prefix:   prefix,
	})
	items := make([]map[string]any, 0, len(out.Items))
	for _, item := range out.Items {
		items = append(items, map[string]any{
			"label":  item.Label,
			"detail": item.Detail,
			"kind":   3,
		})
	}
	resp.Result = mustMarshal(map[string]any{"isIncomplete": false, "items": items})
}

func (s *Server) handleCodeAction(ctx context.Context, params json.RawMessage, resp *response) {
	var p struct {
		TextDocument textDocumentIdentifier `json:"textDocument"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		resp.Error = &rpcError{Code: -32602, Message: err.Error()}
		return
	}
	out := s.Analyzer.SuggestRefactoring(ctx, protocol.RefactoringRequest{URI: p.TextDocument.URI})
	actions := make([]map[string]any, 0, len(out.Suggestions))
	for _, sug := range out.Suggestions {
		actions = append(actions, map[string]any{
			"title": sug.Title,
			"kind":  "refactor",
			"edit":  map[string]any{"changes": editsByURI(sug.Edits)},
		})
	}
	resp.Result = mustMarshal(actions)
}

func locationsToLSP(locs []protocol.Location) []map[string]any {
	out := make([]map[string]any, 0, len(locs))
	for _, l := range locs {
		out = append(out, map[string]any{
			"uri":   l.URI,
			"range": rangeToLSP(l.Range),
		})
	}
	return out
}

func rangeToLSP(r protocol.Range) map[string]any {
	return map[string]any{
		"start": map[string]int{"line": r.Start.Line, "character": r.Start.Character},
		"end":   map[string]int{"line": r.End.Line, "character": r.End.Character},
	}
}

func workspaceEdit(edits []protocol.Edit) map[string]any {
	return map[string]any{"changes": editsByURI(edits)}
}

func editsByURI(edits []protocol.Edit) map[string][]map[string]any {
	byURI := map[string][]map[string]any{}
	for _, e := range edits {
		byURI[e.URI] = append(byURI[e.URI], map[string]any{
			"range":   rangeToLSP(e.Range),
			"newText": e.NewText,
		})
	}
	return byURI
}

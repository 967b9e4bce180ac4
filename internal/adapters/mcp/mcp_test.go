package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"codeintel/internal/analyzer"
	"codeintel/internal/cache"
	"codeintel/internal/eventbus"
	"codeintel/internal/layers"
	"codeintel/internal/monitoring"
	"codeintel/internal/parsing"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	parser := parsing.New()
	t.Cleanup(func() { parser.Close() })

	idx := layers.NewIndex()
	if err := idx.IndexFile(context.Background(), parser, "file:///widget.go", []byte("package main\n\nfunc Widget() {}\n")); err != nil {
		t.Fatalf("IndexFile: %v", err)
	}

	bus := eventbus.New()
	mgr := layers.NewLayerManager(idx)
	mon := monitoring.New(bus)
	cacheSvc, err := cache.New[any](cache.Config{Strategy: cache.StrategyMemory, MaxEntries: 100, Bus: bus})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	core := analyzer.New(cacheSvc, mgr, mon, bus)
	return New(core, idx)
}

func TestServeListsToolsAndCallsFindDefinition(t *testing.T) {
	s := newTestServer(t)

	requests := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"find_definition","arguments":{"identifier":"Widget","uri":"file:///widget.go"}}}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := s.Serve(context.Background(), strings.NewReader(requests), &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	scanner := bufio.NewScanner(&out)
	var responses []mcpResponse
	for scanner.Scan() {
		var resp mcpResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		responses = append(responses, resp)
	}
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}

	var toolsResult struct {
		Tools []toolSchema `json:"tools"`
	}
	if err := json.Unmarshal(responses[0].Result, &toolsResult); err != nil {
		t.Fatalf("unmarshal tools/list result: %v", err)
	}
	if len(toolsResult.Tools) != 5 {
		t.Errorf("expected 5 registered tools, got %d", len(toolsResult.Tools))
	}

	if responses[1].Error != nil {
		t.Fatalf("find_definition call returned error: %v", responses[1].Error)
	}
	var defResult struct {
		Data []struct {
			URI string `json:"uri"`
		} `json:"data"`
	}
	if err := json.Unmarshal(responses[1].Result, &defResult); err != nil {
		t.Fatalf("unmarshal find_definition result: %v", err)
	}
	if len(defResult.Data) != 1 {
		t.Fatalf("expected one location for Widget, got %d", len(defResult.Data))
	}
}

func TestServeReturnsErrorForUnknownTool(t *testing.T) {
	s := newTestServer(t)
	req := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nonexistent","arguments":{}}}` + "\n"

	var out bytes.Buffer
	if err := s.Serve(context.Background(), strings.NewReader(req), &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	var resp mcpResponse
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("expected an error for an unknown tool")
	}
}

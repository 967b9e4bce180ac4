// Package parsing wraps tree-sitter grammars behind a single language-agnostic
// entry point: per-language sitter.Parser instances are created lazily and
// dispatched by file extension, and each parse extracts declaration and
// reference symbols for the layer pipeline.
package parsing

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"codeintel/internal/protocol"
)

// SymbolKind classifies one extracted Symbol.
type SymbolKind string

const (
	SymbolFunction  SymbolKind = "function"
	SymbolMethod    SymbolKind = "method"
	SymbolType      SymbolKind = "type"
	SymbolVariable  SymbolKind = "variable"
	SymbolImport    SymbolKind = "import"
	SymbolReference SymbolKind = "reference"
)

// Symbol is one structural element extracted from a parse tree.
type Symbol struct {
	Name      string
	Kind      SymbolKind
	Signature string
	Range     protocol.Range
	Receiver  string // non-empty for Kind == SymbolMethod
}

// ParseResult holds every Symbol extracted from one file.
type ParseResult struct {
	Path     string
	Language string
	Symbols  []Symbol
}

// languageByExt maps a lowercase, dot-prefixed extension to a tree-sitter
// grammar and a name, mirroring parser_factory.go's extension table.
var languageByExt = map[string]struct {
	name string
	lang func() *sitter.Language
}{
	".go":  {"go", golang.GetLanguage},
	".py":  {"python", python.GetLanguage},
	".js":  {"javascript", javascript.GetLanguage},
	".jsx": {"javascript", javascript.GetLanguage},
	".ts":  {"typescript", typescript.GetLanguage},
	".rs":  {"rust", rust.GetLanguage},
}

// Service owns one sitter.Parser per language, lazily configured, guarded by
// a mutex since tree-sitter parsers are not safe for concurrent Parse calls.
type Service struct {
	mu      sync.Mutex
	parsers map[string]*sitter.Parser
}

// New creates an empty Service; parsers are created on first use per language.
func New() *Service {
	return &Service{parsers: make(map[string]*sitter.Parser)}
}

// Close releases every underlying sitter.Parser.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.parsers {
		p.Close()
	}
	s.parsers = make(map[string]*sitter.Parser)
}

// SupportsPath reports whether Parse has a grammar for path's extension.
func (s *Service) SupportsPath(path string) bool {
	_, ok := languageByExt[normalizeExt(path)]
	return ok
}

func normalizeExt(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// Parse extracts Symbols from content using the grammar selected by path's
// extension. Returns an error if no grammar is registered for that extension.
func (s *Service) Parse(ctx context.Context, path string, content []byte) (*ParseResult, error) {
	ext := normalizeExt(path)
	entry, ok := languageByExt[ext]
	if !ok {
		return nil, fmt.Errorf("parsing: no grammar registered for extension %q", ext)
	}

	s.mu.Lock()
	parser, ok := s.parsers[entry.name]
	if !ok {
		parser = sitter.NewParser()
		parser.SetLanguage(entry.lang())
		s.parsers[entry.name] = parser
	}
	tree, err := parser.ParseCtx(ctx, nil, content)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("parsing: parse %s: %w", path, err)
	}
	defer tree.Close()

	var symbols []Symbol
	switch entry.name {
	case "go":
		symbols = extractGo(tree.RootNode(), content)
	default:
		symbols = extractGeneric(tree.RootNode(), content)
	}

	return &ParseResult{Path: path, Language: entry.name, Symbols: symbols}, nil
}

func nodeRange(n *sitter.Node) protocol.Range {
	start := n.StartPoint()
	end := n.EndPoint()
	return protocol.Range{
		Start: protocol.Position{Line: int(start.Row), Character: int(start.Column)},
		End:   protocol.Position{Line: int(end.Row), Character: int(end.Column)},
	}
}

// extractGo walks a Go parse tree collecting function/method/type declarations,
// mirroring the node-type switch in ast_treesitter.go's extractGoSymbols.
func extractGo(root *sitter.Node, content []byte) []Symbol {
	var symbols []Symbol
	text := func(n *sitter.Node) string { return n.Content(content) }

	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "function_declaration":
			if name := n.ChildByFieldName("name"); name != nil {
				symbols = append(symbols, Symbol{
					Name:      text(name),
					Kind:      SymbolFunction,
					Signature: signatureOf(n, text, text(name)),
					Range:     nodeRange(n),
				})
			}
		case "method_declaration":
			name := n.ChildByFieldName("name")
			receiver := n.ChildByFieldName("receiver")
			if name != nil && receiver != nil {
				symbols = append(symbols, Symbol{
					Name:      text(name),
					Kind:      SymbolMethod,
					Signature: signatureOf(n, text, text(name)),
					Range:     nodeRange(n),
					Receiver:  text(receiver),
				})
			}
		case "type_spec":
			if name := n.ChildByFieldName("name"); name != nil {
				symbols = append(symbols, Symbol{
					Name:  text(name),
					Kind:  SymbolType,
					Range: nodeRange(n),
				})
			}
		case "import_spec":
			if path := n.ChildByFieldName("path"); path != nil {
				symbols = append(symbols, Symbol{
					Name:  strings.Trim(text(path), `"`),
					Kind:  SymbolImport,
					Range: nodeRange(n),
				})
			}
		case "identifier":
			symbols = append(symbols, Symbol{
				Name:  text(n),
				Kind:  SymbolReference,
				Range: nodeRange(n),
			})
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return symbols
}

func signatureOf(n *sitter.Node, text func(*sitter.Node) string, name string) string {
	sig := "func " + name
	if params := n.ChildByFieldName("parameters"); params != nil {
		sig = "func " + name + text(params)
	}
	if result := n.ChildByFieldName("result"); result != nil {
		sig += " " + text(result)
	}
	return sig
}

// extractGeneric handles the non-Go grammars with a coarse, language-neutral
// walk: function-like nodes by common tree-sitter node-type naming, plus
// identifiers as references. Enough for L2/L5 to locate and cross-reference
// declarations without a bespoke extractor per language.
func extractGeneric(root *sitter.Node, content []byte) []Symbol {
	var symbols []Symbol
	text := func(n *sitter.Node) string { return n.Content(content) }

	functionNodeTypes := map[string]bool{
		"function_declaration":  true,
		"function_definition":   true,
		"method_definition":     true,
		"function_item":         true,
		"class_declaration":     true,
		"struct_item":           true,
	}

	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if functionNodeTypes[n.Type()] {
			name := n.ChildByFieldName("name")
			if name != nil {
				symbols = append(symbols, Symbol{
					Name:  text(name),
					Kind:  SymbolFunction,
					Range: nodeRange(n),
				})
			}
		}
		if n.Type() == "identifier" {
			symbols = append(symbols, Symbol{Name: text(n), Kind: SymbolReference, Range: nodeRange(n)})
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return symbols
}

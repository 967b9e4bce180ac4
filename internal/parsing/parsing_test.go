package parsing

import (
	"context"
	"testing"
)

func TestParseGoExtractsFunctionsAndTypes(t *testing.T) {
	src := []byte(`package sample

type Widget struct {
	Name string
}

func NewWidget(name string) *Widget {
	return &Widget{Name: name}
}

func (w *Widget) String() string {
	return w.Name
}
`)
	svc := New()
	defer svc.Close()

	result, err := svc.Parse(context.Background(), "widget.go", src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.Language != "go" {
		t.Fatalf("expected language go, got %s", result.Language)
	}

	var sawFunc, sawMethod, sawType bool
	for _, sym := range result.Symbols {
		switch {
		case sym.Kind == SymbolFunction && sym.Name == "NewWidget":
			sawFunc = true
		case sym.Kind == SymbolMethod && sym.Name == "String":
			sawMethod = true
		case sym.Kind == SymbolType && sym.Name == "Widget":
			sawType = true
		}
	}
	if !sawFunc || !sawMethod || !sawType {
		t.Errorf("expected to find NewWidget func, String method, Widget type; got func=%v method=%v type=%v", sawFunc, sawMethod, sawType)
	}
}

func TestParseUnsupportedExtension(t *testing.T) {
	svc := New()
	defer svc.Close()
	if svc.SupportsPath("README.md") {
		t.Fatalf("expected .md to be unsupported")
	}
	if _, err := svc.Parse(context.Background(), "README.md", []byte("# hi")); err == nil {
		t.Fatalf("expected an error for an unsupported extension")
	}
}

func TestParseReusesParserAcrossCalls(t *testing.T) {
	svc := New()
	defer svc.Close()
	ctx := context.Background()

	if _, err := svc.Parse(ctx, "a.go", []byte("package a\nfunc A() {}\n")); err != nil {
		t.Fatalf("first Parse: %v", err)
	}
	if _, err := svc.Parse(ctx, "b.go", []byte("package a\nfunc B() {}\n")); err != nil {
		t.Fatalf("second Parse: %v", err)
	}
	if len(svc.parsers) != 1 {
		t.Errorf("expected exactly one cached parser for go, got %d", len(svc.parsers))
	}
}

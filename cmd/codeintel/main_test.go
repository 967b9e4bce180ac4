package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/fsnotify/fsnotify"

	"codeintel/internal/coreerr"
)

func TestExitCodeMapsInvalidInputToOne(t *testing.T) {
	err := coreerr.New(coreerr.InvalidInput, "cmd", "op", nil)
	if got := exitCode(err); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
}

func TestExitCodeMapsOtherKindsToTwo(t *testing.T) {
	err := coreerr.New(coreerr.PersistentIO, "cmd", "op", nil)
	if got := exitCode(err); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
}

func TestExitCodeSuccessIsZero(t *testing.T) {
	if got := exitCode(nil); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestQueryDefinitionCLIPrintsJSON(t *testing.T) {
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "codeintel.db")
	defer func() { dbPath = "" }()

	var out bytes.Buffer
	old := cliOut
	cliOut = &out
	defer func() { cliOut = old }()

	queryIdentifier = "Widget"
	queryURI = "file:///missing.go"
	queryLine, queryCharacter = 0, 0
	defer func() { queryIdentifier, queryURI = "", "" }()

	if err := queryDefinitionCmd.RunE(queryDefinitionCmd, nil); err != nil {
		t.Fatalf("query definition: %v", err)
	}
	if out.Len() == 0 {
		t.Errorf("expected JSON output, got none")
	}
}

func TestFsEventToChangeTypeMapsKnownOps(t *testing.T) {
	tests := map[fsnotify.Op]string{
		fsnotify.Create: "created",
		fsnotify.Write:  "modified",
		fsnotify.Remove: "deleted",
		fsnotify.Rename: "renamed",
	}
	for op, want := range tests {
		if got := fsEventToChangeType(op); string(got) != want {
			t.Errorf("fsEventToChangeType(%v) = %q, want %q", op, got, want)
		}
	}
	if got := fsEventToChangeType(fsnotify.Chmod); got != "" {
		t.Errorf("expected empty for Chmod, got %q", got)
	}
}

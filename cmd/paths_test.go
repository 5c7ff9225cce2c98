package cmd

import (
	"os"
	"strings"
	"testing"

	"github.com/iksnae/querychat/internal"
)

func TestPathsCommand(t *testing.T) {
	isolateEnv(t)

	paths, err := internal.DetectPaths()
	if err != nil {
		t.Fatalf("DetectPaths() error = %v", err)
	}

	out, err := execute(t, "", "paths")
	if err != nil {
		t.Fatalf("paths error = %v", err)
	}
	for _, want := range []string{paths.BaseDir, paths.ConfigFile, paths.HistoryDB, paths.ExportDir, "Does not exist", "created on the first question"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if err := paths.EnsureBaseDir(); err != nil {
		t.Fatalf("EnsureBaseDir() error = %v", err)
	}
	if err := os.WriteFile(paths.HistoryDB, nil, 0644); err != nil {
		t.Fatalf("write history: %v", err)
	}

	out, err = execute(t, "", "paths")
	if err != nil {
		t.Fatalf("paths error = %v", err)
	}
	for _, want := range []string{"Directory exists", "File exists", "Chat history is available"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

package cmd

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/iksnae/querychat/testutil"
)

func TestHealthcheckCommand(t *testing.T) {
	// Test that the command exists and can be called
	out, err := execute(t, "", "healthcheck", "--help")
	if err != nil {
		t.Fatalf("healthcheck command failed: %v", err)
	}
	if out == "" {
		t.Error("healthcheck --help should produce output")
	}
}

func TestHealthcheckVerboseFlag(t *testing.T) {
	healthcheckCmd, _, err := rootCmd.Find([]string{"healthcheck"})
	if err != nil {
		t.Fatalf("healthcheck command not found: %v", err)
	}

	if healthcheckCmd.Flag("verbose") == nil {
		t.Error("healthcheck command should have --verbose flag")
	}
	if healthcheckCmd.Flags().ShorthandLookup("v") == nil {
		t.Error("healthcheck command should have -v flag")
	}
}

func TestHealthcheck_Passes(t *testing.T) {
	dbPath := fixtureHistory(t)
	srv := testutil.NewQueryServer(t)

	out, err := execute(t, "", "healthcheck", "--verbose", "--backend", srv.URL, "--history", dbPath)
	if err != nil {
		t.Fatalf("healthcheck error = %v\n%s", err, out)
	}
	for _, want := range []string{"Configuration loaded", "Found 2 saved chat(s)", "Query service reachable", "Version: test", "Health check passed!"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if got := srv.Requests(); len(got) != 1 || got[0] != "GET /health" {
		t.Errorf("requests = %v", got)
	}
}

func TestHealthcheck_NoBackend(t *testing.T) {
	home := isolateEnv(t)

	out, err := execute(t, "", "healthcheck", "--history", filepath.Join(home, "h.db"))
	if err == nil {
		t.Fatal("healthcheck should fail without a query service")
	}
	if !strings.Contains(out, "No query service configured") || !strings.Contains(out, "Health check failed") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestHealthcheck_Unreachable(t *testing.T) {
	home := isolateEnv(t)

	_, err := execute(t, "", "healthcheck", "--backend", "http://127.0.0.1:1", "--history", filepath.Join(home, "h.db"))
	if err == nil {
		t.Fatal("healthcheck should fail when the query service is down")
	}
}

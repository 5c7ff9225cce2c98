package cmd

import (
	"strings"
	"testing"
)

func TestRootCommand(t *testing.T) {
	isolateEnv(t)

	tests := []struct {
		name    string
		args    []string
		wantErr bool
		want    string
	}{
		{
			name:    "version flag",
			args:    []string{"--version"},
			wantErr: false,
			want:    "commit:",
		},
		{
			name:    "help flag",
			args:    []string{"--help"},
			wantErr: false,
			want:    "querychat ask",
		},
		{
			name:    "unknown command",
			args:    []string{"nonexistent-command"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "", tt.args...)
			if (err != nil) != tt.wantErr {
				t.Errorf("rootCmd.Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.want != "" && !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
		})
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	want := []string{"ask", "history", "export", "heal", "validate", "inspect", "paths", "healthcheck"}
	registered := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
	}
	for _, name := range want {
		if !registered[name] {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	dir := isolateEnv(t)
	t.Setenv("QUERYCHAT_BACKEND_URL", "http://from-env:8000")
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	backendURL = "http://from-flag:9000/ "
	dbType = " Postgres "
	historyPath = dir + "/h.db"

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.BackendURL != "http://from-flag:9000" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.DatabaseType != "postgres" {
		t.Errorf("DatabaseType = %q", cfg.DatabaseType)
	}
	if cfg.HistoryPath != dir+"/h.db" {
		t.Errorf("HistoryPath = %q", cfg.HistoryPath)
	}
}

func TestLoadConfig_InvalidDatabaseType(t *testing.T) {
	isolateEnv(t)
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	dbType = "cobol"
	if _, err := loadConfig(); err == nil {
		t.Error("loadConfig() should reject an unsupported database type")
	}
}

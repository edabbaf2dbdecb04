// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers TOML and YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "bridge.toml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
[matrix]
homeserver = "https://matrix.example.org"
username = "@coven:example.org"
password = "secret"
allowed_users = ["@you:example.org"]
allowed_rooms = ["!room:example.org"]

[agents]
command = ["kiro-cli", "acp", "--verbose"]
default_agent = "default"
default_dir = "/tmp/work"
pass_agent_flag = true
request_timeout = "120s"

[bridge]
command_prefix = "!"
typing_indicator = true
state_path = "/tmp/state.json"

[database]
path = "/tmp/ledger.db"

[logging]
level = "debug"
format = "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Matrix.Homeserver != "https://matrix.example.org" {
		t.Errorf("Matrix.Homeserver = %q, want %q", cfg.Matrix.Homeserver, "https://matrix.example.org")
	}
	if len(cfg.Matrix.AllowedUsers) != 1 || cfg.Matrix.AllowedUsers[0] != "@you:example.org" {
		t.Errorf("Matrix.AllowedUsers = %v, want [@you:example.org]", cfg.Matrix.AllowedUsers)
	}
	if len(cfg.Agents.Command) != 3 || cfg.Agents.Command[0] != "kiro-cli" {
		t.Errorf("Agents.Command = %v, want [kiro-cli acp --verbose]", cfg.Agents.Command)
	}
	if cfg.Agents.RequestTimeout != 120*time.Second {
		t.Errorf("Agents.RequestTimeout = %v, want 120s", cfg.Agents.RequestTimeout)
	}
	if !cfg.Agents.PassAgentFlag {
		t.Error("Agents.PassAgentFlag = false, want true")
	}
	if cfg.Bridge.CommandPrefix != "!" {
		t.Errorf("Bridge.CommandPrefix = %q, want %q", cfg.Bridge.CommandPrefix, "!")
	}
	if cfg.Database.Path != "/tmp/ledger.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/ledger.db")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_MATRIX_PASSWORD", "hunter2")

	configPath := writeConfig(t, `
[matrix]
homeserver = "https://matrix.example.org"
username = "@coven:example.org"
password = "${TEST_MATRIX_PASSWORD}"

[agents]
command = ["kiro-cli", "acp"]
default_agent = "default"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Matrix.Password != "hunter2" {
		t.Errorf("Matrix.Password = %q, want %q", cfg.Matrix.Password, "hunter2")
	}
}

func TestLoad_MissingRequiredField(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing homeserver",
			content: `
[matrix]
username = "@coven:example.org"
password = "secret"
[agents]
command = ["kiro-cli", "acp"]
default_agent = "default"
`,
			wantErr: "matrix.homeserver is required",
		},
		{
			name: "missing command",
			content: `
[matrix]
homeserver = "https://matrix.example.org"
username = "@coven:example.org"
password = "secret"
[agents]
default_agent = "default"
`,
			wantErr: "agents.command is required",
		},
		{
			name: "missing default agent",
			content: `
[matrix]
homeserver = "https://matrix.example.org"
username = "@coven:example.org"
password = "secret"
[agents]
command = ["kiro-cli", "acp"]
`,
			wantErr: "agents.default_agent is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.content)
			_, err := Load(configPath)
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
[matrix]
homeserver = "https://matrix.example.org"
username = "@coven:example.org"
password = "secret"

[agents]
command = ["kiro-cli", "acp"]
default_agent = "default"
request_timeout = "not-a-duration"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "request_timeout") {
		t.Errorf("Load() error = %v, want mention of request_timeout", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/bridge.toml")
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoadAgents_ValidFile(t *testing.T) {
	t.Setenv("TEST_AGENTS_HOME", "/home/test")

	agentsPath := filepath.Join(t.TempDir(), "agents.yaml")
	content := `
agents:
  web:
    working_directory: "${TEST_AGENTS_HOME}/src/web"
    description: "Frontend project"
  infra:
    working_directory: "/opt/infra"
`
	if err := os.WriteFile(agentsPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write agents file: %v", err)
	}

	af, err := LoadAgents(agentsPath)
	if err != nil {
		t.Fatalf("LoadAgents() error = %v", err)
	}

	if got := af.WorkingDir("web"); got != "/home/test/src/web" {
		t.Errorf("WorkingDir(web) = %q, want %q", got, "/home/test/src/web")
	}
	if got := af.WorkingDir("infra"); got != "/opt/infra" {
		t.Errorf("WorkingDir(infra) = %q, want %q", got, "/opt/infra")
	}
	if got := af.WorkingDir("unknown"); got != "" {
		t.Errorf("WorkingDir(unknown) = %q, want empty", got)
	}
	if af.Agents["web"].Description != "Frontend project" {
		t.Errorf("web description = %q, want %q", af.Agents["web"].Description, "Frontend project")
	}
}

func TestLoadAgents_MissingFile(t *testing.T) {
	af, err := LoadAgents(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadAgents() error = %v, want nil for missing file", err)
	}
	if len(af.Agents) != 0 {
		t.Errorf("Agents = %v, want empty table", af.Agents)
	}
}

func TestLoadAgents_InvalidYAML(t *testing.T) {
	agentsPath := filepath.Join(t.TempDir(), "agents.yaml")
	if err := os.WriteFile(agentsPath, []byte("agents: [not a map"), 0644); err != nil {
		t.Fatalf("failed to write agents file: %v", err)
	}

	_, err := LoadAgents(agentsPath)
	if err == nil {
		t.Fatal("LoadAgents() expected error for invalid YAML, got nil")
	}
}

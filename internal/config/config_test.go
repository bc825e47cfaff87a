package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "databricks" {
		t.Errorf("provider = %q", cfg.Provider)
	}
	if cfg.Port != 8080 {
		t.Errorf("port = %d", cfg.Port)
	}
	if !cfg.Cache.Enabled || cfg.Cache.MaxEntries != 64 || cfg.Cache.TTL != 300*time.Second {
		t.Errorf("cache defaults = %+v", cfg.Cache)
	}
	if cfg.Policy.MaxSteps != 8 || cfg.Policy.MaxToolCalls != 12 {
		t.Errorf("policy defaults = %+v", cfg.Policy)
	}
	if cfg.SessionDB != "data/sessions.db" {
		t.Errorf("session db = %q", cfg.SessionDB)
	}
	if cfg.Azure.APIVersion != "2023-06-01" {
		t.Errorf("azure version = %q", cfg.Azure.APIVersion)
	}
	if len(cfg.MCP.ManifestDirs) != 1 || cfg.MCP.ManifestDirs[0] != "~/.claude/mcp" {
		t.Errorf("manifest dirs = %v", cfg.MCP.ManifestDirs)
	}
	if cfg.WebSearch.Endpoint != "http://localhost:8888/search" {
		t.Errorf("web search endpoint = %q", cfg.WebSearch.Endpoint)
	}
}

func TestEnvOverridesFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	yamlBody := `
provider: azure
port: 9000
policy:
  max_steps: 3
  git:
    allow_push: true
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PORT", "9999")
	t.Setenv("POLICY_MAX_TOOL_CALLS", "5")
	t.Setenv("POLICY_DISALLOWED_TOOLS", "shell, python_exec")
	t.Setenv("AZURE_ANTHROPIC_ENDPOINT", "https://az.example/v1/messages")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// File overrides defaults.
	if cfg.Provider != "azure" {
		t.Errorf("provider = %q, want azure from file", cfg.Provider)
	}
	if cfg.Policy.MaxSteps != 3 || !cfg.Policy.Git.AllowPush {
		t.Errorf("file policy not applied: %+v", cfg.Policy)
	}
	// Env overrides file.
	if cfg.Port != 9999 {
		t.Errorf("port = %d, want env override 9999", cfg.Port)
	}
	if cfg.Policy.MaxToolCalls != 5 {
		t.Errorf("max tool calls = %d", cfg.Policy.MaxToolCalls)
	}
	if len(cfg.Policy.DisallowedTools) != 2 || cfg.Policy.DisallowedTools[1] != "python_exec" {
		t.Errorf("disallowed tools = %v", cfg.Policy.DisallowedTools)
	}
	if cfg.Azure.Endpoint != "https://az.example/v1/messages" {
		t.Errorf("azure endpoint = %q", cfg.Azure.Endpoint)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "openai")
	if _, err := Load(""); err == nil {
		t.Error("unknown provider accepted")
	}
	t.Setenv("MODEL_PROVIDER", "databricks")
	t.Setenv("PORT", "-1")
	if _, err := Load(""); err == nil {
		t.Error("negative port accepted")
	}
}

func TestMissingFileIsNotFatal(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing config file should be skipped: %v", err)
	}
}

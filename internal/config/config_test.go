package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.LLM.Model != "claude-sonnet-4-5" {
		t.Errorf("expected default model claude-sonnet-4-5, got %s", cfg.LLM.Model)
	}
	if cfg.LLM.RouterModel != "claude-haiku-4-5" {
		t.Errorf("expected default router model claude-haiku-4-5, got %s", cfg.LLM.RouterModel)
	}
	if cfg.NATS.Port != 4222 {
		t.Errorf("expected nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Store.Path != "data/navigator.db" {
		t.Errorf("expected store path data/navigator.db, got %s", cfg.Store.Path)
	}
	if cfg.Memory.TTL != 30*time.Minute {
		t.Errorf("expected memory ttl 30m, got %v", cfg.Memory.TTL)
	}
	if cfg.Engine.TurnTimeout != 120*time.Second {
		t.Errorf("expected turn_timeout 120s, got %v", cfg.Engine.TurnTimeout)
	}
	if cfg.Engine.NodeTimeout != 30*time.Second {
		t.Errorf("expected node_timeout 30s, got %v", cfg.Engine.NodeTimeout)
	}
	if cfg.Engine.MaxToolIterations != 5 {
		t.Errorf("expected max_tool_iterations 5, got %d", cfg.Engine.MaxToolIterations)
	}
	if !cfg.Web.Enabled {
		t.Error("expected web enabled by default")
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected web port 8080, got %d", cfg.Web.Port)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	// Point config to a non-existent file so we use defaults
	t.Setenv("NAVIGATOR_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("NAVIGATOR_TELEGRAM_TOKEN", "test-token-123")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")
	t.Setenv("NAVIGATOR_WEB_PASSWORD", "secret")
	t.Setenv("NAVIGATOR_WEB_PORT", "9090")
	t.Setenv("NAVIGATOR_MEMORY_TTL", "1h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.Token != "test-token-123" {
		t.Errorf("expected telegram token test-token-123, got %s", cfg.Telegram.Token)
	}
	if cfg.LLM.APIKey != "sk-test-key" {
		t.Errorf("expected api key sk-test-key, got %s", cfg.LLM.APIKey)
	}
	if cfg.Web.Auth != "secret" {
		t.Errorf("expected web auth secret, got %s", cfg.Web.Auth)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Memory.TTL != time.Hour {
		t.Errorf("expected memory ttl 1h, got %v", cfg.Memory.TTL)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
telegram:
  token: "yaml-token"
  allow_from: [123, 456]
llm:
  model: "claude-opus-4-6"
  max_tokens: 4096
engine:
  turn_timeout: 90s
  max_tool_iterations: 3
tools:
  mcp_servers:
    mail:
      type: http
      url: "http://localhost:9400/mcp"
      headers:
        Authorization: "secret:mail_api_key"
web:
  port: 3000
  enabled: false
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("NAVIGATOR_CONFIG", cfgPath)
	// Clear any env overrides
	t.Setenv("NAVIGATOR_TELEGRAM_TOKEN", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.Token != "yaml-token" {
		t.Errorf("expected yaml-token, got %s", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AllowFrom) != 2 {
		t.Errorf("expected 2 allow_from entries, got %d", len(cfg.Telegram.AllowFrom))
	}
	if cfg.LLM.Model != "claude-opus-4-6" {
		t.Errorf("expected claude-opus-4-6, got %s", cfg.LLM.Model)
	}
	if cfg.LLM.MaxTokens != 4096 {
		t.Errorf("expected max_tokens 4096, got %d", cfg.LLM.MaxTokens)
	}
	if cfg.Engine.TurnTimeout != 90*time.Second {
		t.Errorf("expected turn_timeout 90s, got %v", cfg.Engine.TurnTimeout)
	}
	if cfg.Engine.MaxToolIterations != 3 {
		t.Errorf("expected max_tool_iterations 3, got %d", cfg.Engine.MaxToolIterations)
	}
	srv, ok := cfg.Tools.MCPServers["mail"]
	if !ok {
		t.Fatal("expected mail mcp server")
	}
	if srv.Type != "http" || srv.URL != "http://localhost:9400/mcp" {
		t.Errorf("unexpected mcp server: %+v", srv)
	}
	if srv.Headers["Authorization"] != "secret:mail_api_key" {
		t.Errorf("expected secret ref preserved, got %s", srv.Headers["Authorization"])
	}
	if cfg.Web.Port != 3000 {
		t.Errorf("expected web port 3000, got %d", cfg.Web.Port)
	}
	if cfg.Web.Enabled {
		t.Error("expected web disabled")
	}
	// Engine fields not set in YAML keep their defaults
	if cfg.Engine.NodeTimeout != 30*time.Second {
		t.Errorf("expected default node_timeout 30s, got %v", cfg.Engine.NodeTimeout)
	}
}

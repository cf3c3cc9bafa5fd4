package main

import (
	"os"
	"path/filepath"
	"testing"
)

func isolateConfig(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "xdg"))
	for _, key := range []string{
		"LCM_COMPRESS_AGENTS_DIR", "LCM_COMPRESS_STATE_DB", "LCM_COMPRESS_LOG_FILE",
		"LCM_COMPRESS_LOG_LEVEL", "LCM_COMPRESS_PROMPT_DIR", "LCM_COMPRESS_MODEL",
		"LCM_COMPRESS_TARGET_RATIO", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL",
	} {
		t.Setenv(key, "")
	}
	return home
}

func TestLoadConfigDefaults(t *testing.T) {
	home := isolateConfig(t)

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.AgentsDir != filepath.Join(home, ".openclaw", "agents") {
		t.Fatalf("unexpected agents dir %q", cfg.AgentsDir)
	}
	if cfg.StateDB != filepath.Join(home, "xdg", "lcm-compress", "state.db") {
		t.Fatalf("unexpected state db %q", cfg.StateDB)
	}
	if cfg.Rewrite.Model != defaultRewriteModel || cfg.Rewrite.TargetRatio != defaultRewriteTargetRatio {
		t.Fatalf("unexpected rewrite defaults %+v", cfg.Rewrite)
	}
	if cfg.Rewrite.TimeoutSecs != int(defaultHTTPTimeout.Seconds()) {
		t.Fatalf("unexpected timeout %d", cfg.Rewrite.TimeoutSecs)
	}
}

func TestLoadConfigFileAndEnvOverrides(t *testing.T) {
	home := isolateConfig(t)

	dir := filepath.Join(home, "xdg", "lcm-compress")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	file := `
agents_dir: ~/agents
log_level: debug
rewrite:
  model: claude-sonnet-4-5
  target_ratio: 3.5
  max_tokens: 512
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(file), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LCM_COMPRESS_STATE_DB", ":memory:")
	t.Setenv("LCM_COMPRESS_MODEL", "claude-haiku-4-5")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.AgentsDir != filepath.Join(home, "agents") {
		t.Fatalf("expected ~ expanded, got %q", cfg.AgentsDir)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level from file, got %q", cfg.LogLevel)
	}
	if cfg.StateDB != ":memory:" {
		t.Fatalf("expected env state db, got %q", cfg.StateDB)
	}
	if cfg.Rewrite.Model != "claude-haiku-4-5" {
		t.Fatalf("expected env model to win over file, got %q", cfg.Rewrite.Model)
	}
	if cfg.Rewrite.MaxTokens != 512 {
		t.Fatalf("expected max tokens from file, got %d", cfg.Rewrite.MaxTokens)
	}
	if cfg.Rewrite.TargetRatio != defaultRewriteTargetRatio {
		t.Fatalf("expected out-of-range ratio reset, got %v", cfg.Rewrite.TargetRatio)
	}
	if cfg.Rewrite.APIKey != "sk-test" {
		t.Fatalf("expected API key from env, got %q", cfg.Rewrite.APIKey)
	}
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	home := isolateConfig(t)

	dir := filepath.Join(home, "xdg", "lcm-compress")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("rewrite: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadConfig(); err == nil {
		t.Fatal("expected parse error")
	}
}

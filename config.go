package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultRewriteModel       = "claude-haiku-4-5"
	defaultRewriteTargetRatio = 0.35
	defaultRewriteMaxTokens   = 2048
	defaultLogLevel           = "info"
)

// appConfig is the on-disk configuration at ~/.config/lcm-compress/config.yaml.
// Every field has a default, so the file is optional.
type appConfig struct {
	AgentsDir string        `yaml:"agents_dir"`
	StateDB   string        `yaml:"state_db"`
	LogFile   string        `yaml:"log_file"`
	LogLevel  string        `yaml:"log_level"`
	PromptDir string        `yaml:"prompt_dir"`
	Rewrite   rewriteConfig `yaml:"rewrite"`
}

type rewriteConfig struct {
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	TargetRatio float64 `yaml:"target_ratio"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutSecs int     `yaml:"timeout_seconds"`
}

func configDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); dir != "" {
		return filepath.Join(dir, "lcm-compress"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", "lcm-compress"), nil
}

func defaultConfig() (appConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return appConfig{}, fmt.Errorf("resolve home dir: %w", err)
	}
	dir, err := configDir()
	if err != nil {
		return appConfig{}, err
	}
	return appConfig{
		AgentsDir: filepath.Join(home, ".openclaw", "agents"),
		StateDB:   filepath.Join(dir, "state.db"),
		LogFile:   filepath.Join(dir, "lcm-compress.log"),
		LogLevel:  defaultLogLevel,
		PromptDir: filepath.Join(dir, "prompts"),
		Rewrite: rewriteConfig{
			Model:       defaultRewriteModel,
			TargetRatio: defaultRewriteTargetRatio,
			MaxTokens:   defaultRewriteMaxTokens,
			TimeoutSecs: int(defaultHTTPTimeout.Seconds()),
		},
	}, nil
}

// loadConfig reads the config file over the defaults and then applies
// environment overrides. A missing file is not an error.
func loadConfig() (appConfig, error) {
	cfg, err := defaultConfig()
	if err != nil {
		return appConfig{}, err
	}
	dir, err := configDir()
	if err != nil {
		return appConfig{}, err
	}
	if err := mergeConfigFile(&cfg, filepath.Join(dir, "config.yaml")); err != nil {
		return appConfig{}, err
	}
	applyEnvOverrides(&cfg)
	cfg.normalize()
	return cfg, nil
}

func mergeConfigFile(cfg *appConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *appConfig) {
	if v := strings.TrimSpace(os.Getenv("LCM_COMPRESS_AGENTS_DIR")); v != "" {
		cfg.AgentsDir = v
	}
	if v := strings.TrimSpace(os.Getenv("LCM_COMPRESS_STATE_DB")); v != "" {
		cfg.StateDB = v
	}
	if v := strings.TrimSpace(os.Getenv("LCM_COMPRESS_LOG_FILE")); v != "" {
		cfg.LogFile = v
	}
	if v := strings.TrimSpace(os.Getenv("LCM_COMPRESS_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("LCM_COMPRESS_PROMPT_DIR")); v != "" {
		cfg.PromptDir = v
	}
	if v := strings.TrimSpace(os.Getenv("LCM_COMPRESS_MODEL")); v != "" {
		cfg.Rewrite.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("LCM_COMPRESS_TARGET_RATIO")); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Rewrite.TargetRatio = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" && cfg.Rewrite.APIKey == "" {
		cfg.Rewrite.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")); v != "" && cfg.Rewrite.BaseURL == "" {
		cfg.Rewrite.BaseURL = v
	}
}

func (c *appConfig) normalize() {
	c.AgentsDir = expandHome(c.AgentsDir)
	c.StateDB = expandHome(c.StateDB)
	c.LogFile = expandHome(c.LogFile)
	c.PromptDir = expandHome(c.PromptDir)
	if c.Rewrite.TargetRatio <= 0 || c.Rewrite.TargetRatio > 1 {
		c.Rewrite.TargetRatio = defaultRewriteTargetRatio
	}
	if c.Rewrite.MaxTokens <= 0 {
		c.Rewrite.MaxTokens = defaultRewriteMaxTokens
	}
	if c.Rewrite.TimeoutSecs <= 0 {
		c.Rewrite.TimeoutSecs = int(defaultHTTPTimeout.Seconds())
	}
	if strings.TrimSpace(c.Rewrite.Model) == "" {
		c.Rewrite.Model = defaultRewriteModel
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

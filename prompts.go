package main

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
)

const (
	messagePromptName    = "message.tmpl"
	toolOutputPromptName = "tool-output.tmpl"
)

var promptTemplateNames = []string{
	messagePromptName,
	toolOutputPromptName,
}

// defaultPromptFS stores the built-in prompt templates.
//
//go:embed prompts/*.tmpl
var defaultPromptFS embed.FS

// PromptVars is the template data passed into rewrite prompt templates.
type PromptVars struct {
	Role           string
	ToolName       string
	Timestamp      string
	OriginalTokens int
	TargetTokens   int
	SourceText     string
}

type promptSource struct {
	name string
	kind string // "filesystem" or "embedded"
	path string
}

type promptsOptions struct {
	list         bool
	exportDir    string
	showName     string
	diffName     string
	renderName   string
	targetTokens int
	role         string
	sourceText   string
	promptDir    string
}

// runPromptsCommand executes prompt template maintenance commands.
func runPromptsCommand(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts, err := parsePromptsArgs(args, cfg.PromptDir)
	if err != nil {
		return err
	}

	actions := 0
	for _, set := range []bool{opts.list, opts.exportDir != "", opts.showName != "", opts.diffName != "", opts.renderName != ""} {
		if set {
			actions++
		}
	}
	if actions == 0 {
		return fmt.Errorf("one action is required\n%s", promptsUsageText())
	}
	if actions > 1 {
		return fmt.Errorf("only one action can be used at a time\n%s", promptsUsageText())
	}

	switch {
	case opts.list:
		return listPromptSources(opts.promptDir)
	case opts.exportDir != "":
		return exportPromptDefaults(opts.exportDir)
	case opts.showName != "":
		return showActivePrompt(opts.showName, opts.promptDir)
	case opts.diffName != "":
		return diffPromptTemplate(opts.diffName, opts.promptDir)
	default:
		return renderPromptTemplate(opts)
	}
}

func parsePromptsArgs(args []string, defaultDir string) (promptsOptions, error) {
	opts := promptsOptions{
		targetTokens: 120,
		role:         "assistant",
		sourceText:   "I looked through the repository and found that the failing test comes from a stale fixture. I updated the fixture and re-ran the suite; everything passes now.",
		promptDir:    defaultDir,
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		nextValue := func(flagName string) (string, error) {
			if i+1 >= len(args) {
				return "", fmt.Errorf("missing value for %s", flagName)
			}
			i++
			return args[i], nil
		}
		var err error

		switch {
		case arg == "--list":
			opts.list = true
		case arg == "--export":
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
				i++
				opts.exportDir = args[i]
			} else {
				opts.exportDir = defaultDir
			}
		case strings.HasPrefix(arg, "--export="):
			opts.exportDir = strings.TrimSpace(strings.TrimPrefix(arg, "--export="))
			if opts.exportDir == "" {
				opts.exportDir = defaultDir
			}
		case arg == "--show":
			opts.showName, err = nextValue(arg)
		case strings.HasPrefix(arg, "--show="):
			opts.showName = strings.TrimSpace(strings.TrimPrefix(arg, "--show="))
		case arg == "--diff":
			opts.diffName, err = nextValue(arg)
		case strings.HasPrefix(arg, "--diff="):
			opts.diffName = strings.TrimSpace(strings.TrimPrefix(arg, "--diff="))
		case arg == "--render":
			opts.renderName, err = nextValue(arg)
		case strings.HasPrefix(arg, "--render="):
			opts.renderName = strings.TrimSpace(strings.TrimPrefix(arg, "--render="))
		case arg == "--target-tokens", strings.HasPrefix(arg, "--target-tokens="):
			value := strings.TrimPrefix(arg, "--target-tokens=")
			if arg == "--target-tokens" {
				if value, err = nextValue(arg); err != nil {
					break
				}
			}
			opts.targetTokens, err = strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				err = fmt.Errorf("parse --target-tokens: %w", err)
			}
		case arg == "--role":
			opts.role, err = nextValue(arg)
		case strings.HasPrefix(arg, "--role="):
			opts.role = strings.TrimSpace(strings.TrimPrefix(arg, "--role="))
		case arg == "--source-text":
			opts.sourceText, err = nextValue(arg)
		case strings.HasPrefix(arg, "--source-text="):
			opts.sourceText = strings.TrimPrefix(arg, "--source-text=")
		case arg == "--prompt-dir":
			opts.promptDir, err = nextValue(arg)
		case strings.HasPrefix(arg, "--prompt-dir="):
			opts.promptDir = strings.TrimSpace(strings.TrimPrefix(arg, "--prompt-dir="))
		case arg == "-h" || arg == "--help":
			return promptsOptions{}, errors.New(promptsUsageText())
		default:
			return promptsOptions{}, fmt.Errorf("unknown argument %q\n%s", arg, promptsUsageText())
		}
		if err != nil {
			return promptsOptions{}, err
		}
	}

	if opts.targetTokens <= 0 {
		return promptsOptions{}, fmt.Errorf("--target-tokens must be > 0\n%s", promptsUsageText())
	}
	opts.exportDir = expandHome(opts.exportDir)
	opts.promptDir = expandHome(opts.promptDir)
	return opts, nil
}

func promptsUsageText() string {
	return strings.TrimSpace(`Usage:
  lcm-compress prompts --list [--prompt-dir <dir>]
  lcm-compress prompts --export [dir]
  lcm-compress prompts --show <name> [--prompt-dir <dir>]
  lcm-compress prompts --diff <name> [--prompt-dir <dir>]
  lcm-compress prompts --render <name> [--target-tokens <n>] [--role <role>] [--source-text <text>]
`)
}

func listPromptSources(overrideDir string) error {
	for _, name := range promptTemplateNames {
		source, err := resolvePromptSource(name, overrideDir)
		if err != nil {
			return err
		}
		if source.kind == "filesystem" {
			fmt.Printf("%-18s %s (override)\n", name, source.path)
			continue
		}
		fmt.Printf("%-18s embedded (no override)\n", name)
	}
	return nil
}

func exportPromptDefaults(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create prompt export dir %q: %w", dir, err)
	}
	for _, name := range promptTemplateNames {
		content, err := readEmbeddedPromptTemplate(name)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	fmt.Printf("Exported %d prompt templates to %s\n", len(promptTemplateNames), dir)
	return nil
}

func showActivePrompt(name, overrideDir string) error {
	normalized, err := normalizePromptTemplateName(name)
	if err != nil {
		return err
	}
	content, source, err := loadPromptTemplateContent(normalized, overrideDir)
	if err != nil {
		return err
	}
	if source.kind == "filesystem" {
		fmt.Printf("# Source: %s\n\n", source.path)
	} else {
		fmt.Printf("# Source: embedded (%s)\n\n", normalized)
	}
	printWithNewline(content)
	return nil
}

func diffPromptTemplate(name, overrideDir string) error {
	normalized, err := normalizePromptTemplateName(name)
	if err != nil {
		return err
	}
	overridePath, overrideContent, found, err := loadPromptOverrideContent(normalized, overrideDir)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no override found for %s in %s", normalized, overrideDir)
	}
	embedded, err := readEmbeddedPromptTemplate(normalized)
	if err != nil {
		return err
	}
	printWithNewline(buildUnifiedDiff("embedded/"+normalized, overridePath, embedded, overrideContent))
	return nil
}

func renderPromptTemplate(opts promptsOptions) error {
	normalized, err := normalizePromptTemplateName(opts.renderName)
	if err != nil {
		return err
	}
	prompt, err := renderPromptByName(normalized, PromptVars{
		Role:           opts.role,
		OriginalTokens: estimateTokenCount(opts.sourceText),
		TargetTokens:   opts.targetTokens,
		SourceText:     opts.sourceText,
	}, opts.promptDir)
	if err != nil {
		return err
	}
	printWithNewline(prompt)
	return nil
}

func printWithNewline(text string) {
	fmt.Print(text)
	if !strings.HasSuffix(text, "\n") {
		fmt.Println()
	}
}

// loadPromptTemplate resolves prompt source and parses a template.
func loadPromptTemplate(name, overrideDir string) (*template.Template, error) {
	normalized, err := normalizePromptTemplateName(name)
	if err != nil {
		return nil, err
	}
	content, _, err := loadPromptTemplateContent(normalized, overrideDir)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New(normalized).Option("missingkey=error").Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", normalized, err)
	}
	return tmpl, nil
}

func renderPromptByName(name string, vars PromptVars, overrideDir string) (string, error) {
	tmpl, err := loadPromptTemplate(name, overrideDir)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("execute prompt template %s: %w", name, err)
	}
	return buf.String(), nil
}

func resolvePromptSource(name, overrideDir string) (promptSource, error) {
	_, source, err := loadPromptTemplateContent(name, overrideDir)
	if err != nil {
		return promptSource{}, err
	}
	return source, nil
}

func loadPromptTemplateContent(name, overrideDir string) (string, promptSource, error) {
	path, content, found, err := loadPromptOverrideContent(name, overrideDir)
	if err != nil {
		return "", promptSource{}, err
	}
	if found {
		return content, promptSource{name: name, kind: "filesystem", path: path}, nil
	}
	content, err = readEmbeddedPromptTemplate(name)
	if err != nil {
		return "", promptSource{}, err
	}
	return content, promptSource{name: name, kind: "embedded", path: "prompts/" + name}, nil
}

func loadPromptOverrideContent(name, overrideDir string) (path, content string, found bool, err error) {
	if strings.TrimSpace(overrideDir) == "" {
		return "", "", false, nil
	}
	candidate := filepath.Join(overrideDir, name)
	data, readErr := os.ReadFile(candidate)
	if readErr == nil {
		return candidate, string(data), true, nil
	}
	if !errors.Is(readErr, os.ErrNotExist) {
		return "", "", false, fmt.Errorf("read prompt override %s: %w", candidate, readErr)
	}
	return "", "", false, nil
}

func readEmbeddedPromptTemplate(name string) (string, error) {
	normalized, err := normalizePromptTemplateName(name)
	if err != nil {
		return "", err
	}
	data, err := defaultPromptFS.ReadFile("prompts/" + normalized)
	if err != nil {
		return "", fmt.Errorf("read embedded prompt template %s: %w", normalized, err)
	}
	return string(data), nil
}

func normalizePromptTemplateName(name string) (string, error) {
	trimmed := strings.TrimSpace(strings.ToLower(name))
	if trimmed == "" {
		return "", fmt.Errorf("template name is required")
	}
	if !strings.HasSuffix(trimmed, ".tmpl") {
		trimmed += ".tmpl"
	}
	for _, candidate := range promptTemplateNames {
		if candidate == trimmed {
			return trimmed, nil
		}
	}
	return "", fmt.Errorf("unknown prompt template %q", name)
}

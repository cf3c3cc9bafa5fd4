package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Martian-Engineering/lcm-compress/compress"
)

const (
	defaultHTTPTimeout = 180 * time.Second
	minRewriteTokens   = 32
	maxRewriteTokens   = 1200
)

var errMissingAPIKey = errors.New("missing Anthropic API key (set ANTHROPIC_API_KEY or rewrite.api_key)")

// messageRewriter turns a rendered prompt into replacement message text.
type messageRewriter interface {
	Rewrite(ctx context.Context, prompt string, targetTokens int) (string, error)
}

type anthropicRewriter struct {
	client    anthropic.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

func newAnthropicRewriter(cfg rewriteConfig, httpClient *http.Client, logger *slog.Logger, extra ...option.RequestOption) (*anthropicRewriter, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errMissingAPIKey
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(cfg.TimeoutSecs) * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	opts = append(opts, extra...)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultRewriteMaxTokens
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultRewriteModel
	}
	return &anthropicRewriter{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		logger:    logger,
	}, nil
}

func (r *anthropicRewriter) Rewrite(ctx context.Context, prompt string, targetTokens int) (string, error) {
	// Leave headroom over the target; the prompt asks for brevity.
	limit := targetTokens * 2
	if limit <= 0 || limit > r.maxTokens {
		limit = r.maxTokens
	}

	start := time.Now()
	msg, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: int64(limit),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("Anthropic API %d: %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("call Anthropic API: %w", err)
	}

	var chunks []string
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			chunks = append(chunks, text.Text)
		}
	}
	result := strings.TrimSpace(strings.Join(chunks, "\n"))
	if result == "" {
		return "", errors.New("Anthropic response did not include text content")
	}

	r.logger.Debug("rewrite complete",
		"model", r.model,
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return result, nil
}

// rewriteTargetTokens picks the token budget for a rewritten message.
func rewriteTargetTokens(original int, ratio float64) int {
	target := int(float64(original) * ratio)
	if target < minRewriteTokens {
		target = minRewriteTokens
	}
	if target > maxRewriteTokens {
		target = maxRewriteTokens
	}
	return target
}

// promptNameForMessage selects the template for a message: tool output is
// condensed differently from conversational turns.
func promptNameForMessage(msg compress.Message) string {
	switch strings.ToLower(msg.Role) {
	case "toolresult", "tool_result", "tool":
		return toolOutputPromptName
	}
	if len(msg.Blocks) > 0 {
		allResults := true
		for _, block := range msg.Blocks {
			if block.Type != compress.BlockToolResult {
				allResults = false
				break
			}
		}
		if allResults {
			return toolOutputPromptName
		}
	}
	return messagePromptName
}

// buildRewritePrompt renders the rewrite prompt for msg and returns it with
// the token budget it asks for.
func buildRewritePrompt(msg compress.Message, ratio float64, promptDir string) (string, int, error) {
	source := compress.DisplayText(msg)
	original := estimateTokenCount(source)
	target := rewriteTargetTokens(original, ratio)

	vars := PromptVars{
		Role:           msg.Role,
		Timestamp:      msg.Timestamp,
		OriginalTokens: original,
		TargetTokens:   target,
		SourceText:     source,
	}
	for _, block := range msg.Blocks {
		if block.ToolName != "" {
			vars.ToolName = block.ToolName
			break
		}
	}
	prompt, err := renderPromptByName(promptNameForMessage(msg), vars, promptDir)
	if err != nil {
		return "", 0, err
	}
	return prompt, target, nil
}

func estimateTokenCount(s string) int {
	return compress.EstimateTokens(s)
}

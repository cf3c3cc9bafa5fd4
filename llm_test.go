package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tidwall/gjson"

	"github.com/Martian-Engineering/lcm-compress/compress"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (fn roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return fn(req)
}

func jsonResponse(statusCode int, body string) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: statusCode,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestRewriter(t *testing.T, fn roundTripFunc) *anthropicRewriter {
	t.Helper()
	rewriter, err := newAnthropicRewriter(
		rewriteConfig{APIKey: "test-key", Model: "claude-test", MaxTokens: 1024},
		&http.Client{Transport: fn},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		option.WithMaxRetries(0),
	)
	if err != nil {
		t.Fatalf("new rewriter: %v", err)
	}
	return rewriter
}

func TestAnthropicRewriterReturnsText(t *testing.T) {
	t.Parallel()

	var gotBody []byte
	var gotKey, gotPath string
	rewriter := newTestRewriter(t, func(req *http.Request) (*http.Response, error) {
		gotPath = req.URL.Path
		gotKey = req.Header.Get("X-Api-Key")
		gotBody, _ = io.ReadAll(req.Body)
		return jsonResponse(http.StatusOK, `{
			"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"  Fixed the stale fixture.  "}],
			"stop_reason":"end_turn","stop_sequence":null,
			"usage":{"input_tokens":40,"output_tokens":6}
		}`), nil
	})

	text, err := rewriter.Rewrite(context.Background(), "condense this", 100)
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if text != "Fixed the stale fixture." {
		t.Fatalf("unexpected text %q", text)
	}
	if gotPath != "/v1/messages" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Fatalf("unexpected api key header %q", gotKey)
	}
	if got := gjson.GetBytes(gotBody, "model").String(); got != "claude-test" {
		t.Fatalf("unexpected model %q", got)
	}
	if got := gjson.GetBytes(gotBody, "max_tokens").Int(); got != 200 {
		t.Fatalf("expected max_tokens 200, got %d", got)
	}
	if got := gjson.GetBytes(gotBody, "messages.0.content.0.text").String(); got != "condense this" {
		t.Fatalf("unexpected prompt %q", got)
	}
}

func TestAnthropicRewriterCapsMaxTokens(t *testing.T) {
	t.Parallel()

	var maxTokens int64
	rewriter := newTestRewriter(t, func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		maxTokens = gjson.GetBytes(body, "max_tokens").Int()
		return jsonResponse(http.StatusOK, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`), nil
	})
	if _, err := rewriter.Rewrite(context.Background(), "p", 5000); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if maxTokens != 1024 {
		t.Fatalf("expected max_tokens capped at 1024, got %d", maxTokens)
	}
}

func TestAnthropicRewriterErrors(t *testing.T) {
	t.Parallel()

	rewriter := newTestRewriter(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadRequest, `{"type":"error","error":{"type":"invalid_request_error","message":"bad model"}}`), nil
	})
	_, err := rewriter.Rewrite(context.Background(), "p", 10)
	if err == nil || !strings.Contains(err.Error(), "Anthropic API 400") {
		t.Fatalf("expected API 400 error, got %v", err)
	}

	empty := newTestRewriter(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":0}}`), nil
	})
	if _, err := empty.Rewrite(context.Background(), "p", 10); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestNewAnthropicRewriterRequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := newAnthropicRewriter(rewriteConfig{}, nil, nil); err != errMissingAPIKey {
		t.Fatalf("expected errMissingAPIKey, got %v", err)
	}
}

func TestRewriteTargetTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		original int
		ratio    float64
		want     int
	}{
		{0, 0.35, minRewriteTokens},
		{50, 0.35, minRewriteTokens},
		{1000, 0.35, 350},
		{100000, 0.35, maxRewriteTokens},
	}
	for _, tc := range tests {
		if got := rewriteTargetTokens(tc.original, tc.ratio); got != tc.want {
			t.Fatalf("rewriteTargetTokens(%d, %v) = %d, want %d", tc.original, tc.ratio, got, tc.want)
		}
	}
}

func TestPromptNameForMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  compress.Message
		want string
	}{
		{"assistant", compress.NewTextMessage("a", "assistant", "hi"), messagePromptName},
		{"tool result role", compress.NewTextMessage("b", "toolResult", "out"), toolOutputPromptName},
		{"tool result blocks", compress.Message{ID: "c", Role: "user", Blocks: []compress.ContentBlock{
			{Type: compress.BlockToolResult, Text: "out"},
		}}, toolOutputPromptName},
		{"mixed blocks", compress.Message{ID: "d", Role: "user", Blocks: []compress.ContentBlock{
			{Type: compress.BlockToolResult, Text: "out"},
			{Type: compress.BlockText, Text: "and a note"},
		}}, messagePromptName},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := promptNameForMessage(tc.msg); got != tc.want {
				t.Fatalf("promptNameForMessage = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBuildRewritePrompt(t *testing.T) {
	t.Parallel()

	msg := compress.Message{
		ID:        "m3",
		Role:      "toolResult",
		Timestamp: "2026-01-02T10:00:03Z",
		Blocks: []compress.ContentBlock{
			{Type: compress.BlockToolResult, Text: strings.Repeat("line of output\n", 200)},
		},
	}
	msg.Blocks[0].ToolName = "bash"

	prompt, target, err := buildRewritePrompt(msg, 0.35, "")
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}
	original := estimateTokenCount(compress.DisplayText(msg))
	if target != rewriteTargetTokens(original, 0.35) {
		t.Fatalf("unexpected target %d for %d tokens", target, original)
	}
	for _, want := range []string{`tool="bash"`, "line of output", "at most"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("expected %q in prompt:\n%s", want, prompt)
		}
	}
}

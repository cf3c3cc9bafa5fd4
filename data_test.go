package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Martian-Engineering/lcm-compress/compress"
)

var sampleSessionLines = []string{
	`{"type":"session","id":"sess-1","timestamp":"2026-01-02T10:00:00Z","cwd":"/work"}`,
	`{"type":"model_change","id":"mc-1","provider":"anthropic","modelId":"claude-sonnet-4-5"}`,
	`{"type":"message","id":"m1","parentId":null,"timestamp":"2026-01-02T10:00:01Z","message":{"role":"user","content":[{"type":"text","text":"Please fix the failing test in parser_test.go"}]}}`,
	`{"type":"message","id":"m2","parentId":"m1","timestamp":"2026-01-02T10:00:02Z","message":{"role":"assistant","content":[{"type":"text","text":"Looking at it now."},{"type":"toolCall","name":"read","arguments":{"path":"parser_test.go"}}],"usage":{"input":10,"output":5}}}`,
	`{"type":"message","id":"m3","parentId":"m2","timestamp":"2026-01-02T10:00:03Z","message":{"role":"toolResult","content":[{"type":"text","text":"package parser\n\nfunc TestParse(t *testing.T) {}"}]}}`,
	`{"type":"custom","id":"c-1","note":"ignored after messages start"}`,
	`{"type":"message","id":"m4","parentId":"m3","timestamp":"2026-01-02T10:00:04Z","message":{"role":"assistant","content":"Fixed: the fixture was stale."}}`,
}

func writeSessionFile(t *testing.T, dir, name string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write session file: %v", err)
	}
	return path
}

func TestLoadSessionTranscript(t *testing.T) {
	t.Parallel()

	path := writeSessionFile(t, t.TempDir(), "sess-1.jsonl", sampleSessionLines)
	transcript, err := loadSessionTranscript(path)
	if err != nil {
		t.Fatalf("load transcript: %v", err)
	}

	if transcript.sessionID != "sess-1" {
		t.Fatalf("expected session id sess-1, got %q", transcript.sessionID)
	}
	if len(transcript.preamble) != 2 {
		t.Fatalf("expected 2 preamble rows, got %d", len(transcript.preamble))
	}
	if len(transcript.messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(transcript.messages))
	}

	wantIDs := []string{"m1", "m2", "m3", "m4"}
	for i, msg := range transcript.messages {
		if msg.ID != wantIDs[i] {
			t.Fatalf("message %d: expected id %q, got %q", i, wantIDs[i], msg.ID)
		}
		if string(msg.Raw) != sampleSessionLines[i+2+boolToInt(i == 3)] {
			t.Fatalf("message %d: raw line not preserved: %s", i, msg.Raw)
		}
	}

	assistant := transcript.messages[1]
	if len(assistant.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(assistant.Blocks))
	}
	if assistant.Blocks[1].Type != compress.BlockToolUse || assistant.Blocks[1].ToolName != "read" {
		t.Fatalf("expected read tool_use block, got %+v", assistant.Blocks[1])
	}
	if got := compress.DisplayText(assistant); got != "Looking at it now.\n[read] path=parser_test.go" {
		t.Fatalf("unexpected display text %q", got)
	}
	if got := compress.DisplayText(transcript.messages[3]); got != "Fixed: the fixture was stale." {
		t.Fatalf("expected string content as text, got %q", got)
	}
	if transcript.messages[0].Timestamp != "2026-01-02T10:00:01Z" {
		t.Fatalf("unexpected timestamp %q", transcript.messages[0].Timestamp)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestLoadSessionTranscriptFallbackIDs(t *testing.T) {
	t.Parallel()

	path := writeSessionFile(t, t.TempDir(), "anon.jsonl", []string{
		`{"type":"message","message":{"role":"user","content":"one","timestamp":1767348000000}}`,
		`not json`,
		`{"type":"message","message":{"content":"two"}}`,
	})
	transcript, err := loadSessionTranscript(path)
	if err != nil {
		t.Fatalf("load transcript: %v", err)
	}
	if len(transcript.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(transcript.messages))
	}
	if transcript.messages[0].ID != "line-0" || transcript.messages[1].ID != "line-1" {
		t.Fatalf("unexpected fallback ids %q, %q", transcript.messages[0].ID, transcript.messages[1].ID)
	}
	if transcript.messages[1].Role != "unknown" {
		t.Fatalf("expected unknown role, got %q", transcript.messages[1].Role)
	}
	if transcript.messages[0].Timestamp != "2026-01-02T10:00:00Z" {
		t.Fatalf("expected epoch millis converted, got %q", transcript.messages[0].Timestamp)
	}
}

func TestConvertContentBlockTypes(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`[
		{"type":"thinking","thinking":"consider options"},
		{"type":"toolResult","content":[{"type":"text","text":"ok"}]},
		{"type":"image","source":{"media_type":"image/png"}},
		{"type":"diff","patch":"-a\n+b"},
		{"type":"reference","path":"main.go","symbol":"main","text":"func main() {}"},
		{"type":"mystery"}
	]`)
	blocks := convertContent(raw)
	if len(blocks) != 6 {
		t.Fatalf("expected 6 blocks, got %d", len(blocks))
	}

	tests := []struct {
		typ  compress.BlockType
		text string
	}{
		{compress.BlockThinking, "consider options"},
		{compress.BlockToolResult, "ok"},
		{compress.BlockImage, compress.ImagePlaceholder},
		{compress.BlockCodeDiff, "-a\n+b"},
		{compress.BlockReference, "main.go#main\nfunc main() {}"},
		{compress.BlockText, "[mystery]"},
	}
	for i, tc := range tests {
		if blocks[i].Type != tc.typ {
			t.Fatalf("block %d: expected type %q, got %q", i, tc.typ, blocks[i].Type)
		}
		got := compress.DisplayText(compress.Message{Blocks: blocks[i : i+1]})
		if got != tc.text {
			t.Fatalf("block %d: expected display %q, got %q", i, tc.text, got)
		}
	}
	if blocks[2].MediaType != "image/png" {
		t.Fatalf("expected media type image/png, got %q", blocks[2].MediaType)
	}
}

func TestSummarizeArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", ``, ""},
		{"null", `null`, ""},
		{"object", `{"path":"a.go","limit":20}`, "path=a.go limit=20"},
		{"array", `[1, 2]`, "[1, 2]"},
		{"multiline value", `{"cmd":"go test\n./..."}`, "cmd=go test ./..."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := summarizeArgs(json.RawMessage(tc.raw)); got != tc.want {
				t.Fatalf("summarizeArgs(%s) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}

	long := `{"text":"` + strings.Repeat("x", 400) + `"}`
	if got := summarizeArgs(json.RawMessage(long)); len(got) != maxArgsSummary || !strings.HasSuffix(got, "...") {
		t.Fatalf("expected truncated summary of %d bytes, got %d", maxArgsSummary, len(got))
	}
}

func TestResolveSessionPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := writeSessionFile(t, root, filepath.Join("main", "sessions", "abc.jsonl"), []string{`{}`})

	for _, session := range []string{"abc", "abc.jsonl"} {
		got, err := resolveSessionPath(root, "main", session)
		if err != nil {
			t.Fatalf("resolve %q: %v", session, err)
		}
		if got != path {
			t.Fatalf("resolve %q: expected %q, got %q", session, path, got)
		}
	}
	if _, err := resolveSessionPath(root, "main", "missing"); err == nil {
		t.Fatal("expected error for missing session")
	}
}

func TestSanitizeForTerminal(t *testing.T) {
	t.Parallel()

	if got := sanitizeForTerminal("hello\x07 world\n"); got != "hello world\n" {
		t.Fatalf("expected control chars stripped, got %q", got)
	}
	binary := string([]byte{0, 1, 2, 3, 4, 5, 'a'})
	if got := sanitizeForTerminal(binary); !strings.HasPrefix(got, "[binary content") {
		t.Fatalf("expected binary placeholder, got %q", got)
	}
}

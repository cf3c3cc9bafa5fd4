package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/Martian-Engineering/lcm-compress/compress"
)

func loadSampleTranscript(t *testing.T) sessionTranscript {
	t.Helper()
	path := writeSessionFile(t, t.TempDir(), "sess-1.jsonl", sampleSessionLines)
	transcript, err := loadSessionTranscript(path)
	if err != nil {
		t.Fatalf("load transcript: %v", err)
	}
	return transcript
}

func splitLines(t *testing.T, out string) []string {
	t.Helper()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	for i, line := range lines {
		if !gjson.Valid(line) {
			t.Fatalf("line %d is not valid JSON: %s", i, line)
		}
	}
	return lines
}

func TestWriteCompressedSessionWithoutEdits(t *testing.T) {
	t.Parallel()

	transcript := loadSampleTranscript(t)
	editor := compress.NewEditor(transcript.sessionID, transcript.messages)

	var buf bytes.Buffer
	result, err := writeCompressedSession(&buf, transcript, editor)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if result.lines != 6 || result.messages != 4 {
		t.Fatalf("expected 6 lines and 4 messages, got %d and %d", result.lines, result.messages)
	}

	lines := splitLines(t, buf.String())
	if lines[0] != sampleSessionLines[0] || lines[1] != sampleSessionLines[1] {
		t.Fatalf("preamble not written verbatim:\n%s\n%s", lines[0], lines[1])
	}
	// parentId already chains, so kept rows keep their content.
	for i, want := range []string{"m1", "m2", "m3", "m4"} {
		line := lines[i+2]
		if got := gjson.Get(line, "id").String(); got != want {
			t.Fatalf("line %d: expected id %q, got %q", i+2, want, got)
		}
	}
	if gjson.Get(lines[2], "parentId").Type != gjson.Null {
		t.Fatalf("expected first message to keep a null parentId, got %s", lines[2])
	}
	if got := gjson.Get(lines[3], "message.usage.input").Int(); got != 10 {
		t.Fatalf("expected kept message usage to survive, got %d", got)
	}
	if result.stats.Tokens.SavedTokens != 0 {
		t.Fatalf("expected no savings, got %d", result.stats.Tokens.SavedTokens)
	}
}

func TestWriteCompressedSessionAppliesEdits(t *testing.T) {
	t.Parallel()

	transcript := loadSampleTranscript(t)
	editor := compress.NewEditor(transcript.sessionID, transcript.messages)
	editor.ToggleDelete(2)                       // drop the tool result
	editor.ModifyAt(1, "Reading parser_test.go.") // shorten the assistant turn
	inserted := editor.InsertText(1, "user", "Note: the tool output was removed.")

	var buf bytes.Buffer
	result, err := writeCompressedSession(&buf, transcript, editor)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	lines := splitLines(t, buf.String())
	if len(lines) != 6 || result.messages != 4 {
		t.Fatalf("expected 2 preamble + 4 messages, got %d lines, %d messages", len(lines), result.messages)
	}

	messages := lines[2:]
	wantIDs := []string{"m1", "m2", inserted.ID, "m4"}
	parent := ""
	for i, line := range messages {
		if got := gjson.Get(line, "id").String(); got != wantIDs[i] {
			t.Fatalf("message %d: expected id %q, got %q", i, wantIDs[i], got)
		}
		if i > 0 {
			if got := gjson.Get(line, "parentId").String(); got != parent {
				t.Fatalf("message %d: expected parentId %q, got %q", i, parent, got)
			}
		}
		parent = wantIDs[i]
	}

	modified := messages[1]
	if got := gjson.Get(modified, "message.content.0.text").String(); got != "Reading parser_test.go." {
		t.Fatalf("expected replaced content, got %q", got)
	}
	if gjson.Get(modified, "message.content.#").Int() != 1 {
		t.Fatalf("expected a single content block, got %s", modified)
	}
	if gjson.Get(modified, "message.usage").Exists() {
		t.Fatalf("expected usage to be dropped from modified message: %s", modified)
	}
	if got := gjson.Get(modified, "timestamp").String(); got != "2026-01-02T10:00:02Z" {
		t.Fatalf("expected original timestamp kept, got %q", got)
	}

	synthetic := messages[2]
	if got := gjson.Get(synthetic, "message.role").String(); got != "user" {
		t.Fatalf("expected user role, got %q", got)
	}
	if got := gjson.Get(synthetic, "type").String(); got != "message" {
		t.Fatalf("expected message type, got %q", got)
	}

	// The last kept message is verbatim apart from its re-chained parent.
	if got := gjson.Get(messages[3], "message.content").String(); got != "Fixed: the fixture was stale." {
		t.Fatalf("expected kept content unchanged, got %q", got)
	}
	if got := gjson.Get(messages[3], "parentId").String(); got != inserted.ID {
		t.Fatalf("expected parentId %q, got %q", inserted.ID, got)
	}

	if result.stats.Changes.Deleted != 1 || result.stats.Changes.Modified != 1 || result.stats.Changes.Inserted != 1 {
		t.Fatalf("unexpected change stats %+v", result.stats.Changes)
	}
}

func TestExportToFileReplacesAtomically(t *testing.T) {
	t.Parallel()

	transcript := loadSampleTranscript(t)
	editor := compress.NewEditor(transcript.sessionID, transcript.messages)
	editor.ToggleDelete(0)

	dir := t.TempDir()
	out := filepath.Join(dir, "out.jsonl")
	if err := os.WriteFile(out, []byte("stale\n"), 0o644); err != nil {
		t.Fatalf("seed output: %v", err)
	}
	result, err := exportToFile(out, transcript, editor)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if result.messages != 3 {
		t.Fatalf("expected 3 messages, got %d", result.messages)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if strings.Contains(string(data), "stale") {
		t.Fatalf("expected output replaced, got %q", data)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp file cleaned up, found %d entries", len(entries))
	}
}

func TestParseExportArgs(t *testing.T) {
	t.Parallel()

	opts, err := parseExportArgs([]string{"main", "sess-1", "--out", "/tmp/x.jsonl", "--dry-run"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.agent != "main" || opts.session != "sess-1" || opts.out != "/tmp/x.jsonl" || !opts.dryRun {
		t.Fatalf("unexpected options %+v", opts)
	}

	if _, err := parseExportArgs([]string{"main"}); err == nil {
		t.Fatal("expected error for missing session")
	}
	if _, err := parseExportArgs([]string{"main", "sess-1", "--out"}); err == nil {
		t.Fatal("expected error for missing --out value")
	}
}

func TestPrintStats(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printStats(&buf, compress.Stats{
		Tokens:  compress.TokenStats{OriginalTotal: 12345, CompressedTotal: 10000, SavedTokens: 2345, SavedPercentage: 19.0},
		Changes: compress.ChangeStats{Deleted: 2, Modified: 1},
	})
	out := buf.String()
	for _, want := range []string{"12,345 tokens", "10,000 tokens", "2,345 tokens (19.0%)", "2 deleted, 1 modified, 0 inserted"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

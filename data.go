package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/gjson"

	"github.com/Martian-Engineering/lcm-compress/compress"
)

// agentEntry describes one agent directory under the agents root.
type agentEntry struct {
	name string
	path string
}

// sessionEntry describes one JSONL session file.
type sessionEntry struct {
	id              string
	filename        string
	path            string
	updatedAt       time.Time
	messageCount    int
	estimatedTokens int
	hasEdits        bool
}

// sessionFileEntry stores lightweight metadata used for incremental loading.
type sessionFileEntry struct {
	filename  string
	path      string
	updatedAt time.Time
	byteSize  int64
}

// sessionTranscript is a parsed session file. preamble holds the non-message
// rows that precede the first message (session header, model selection) so
// exports can reproduce them.
type sessionTranscript struct {
	sessionID string
	path      string
	preamble  []json.RawMessage
	messages  []compress.Message
}

// contentBlock supports the JSONL message content block format.
type contentBlock struct {
	Type        string          `json:"type"`
	Text        string          `json:"text"`
	Thinking    string          `json:"thinking"`
	Reasoning   string          `json:"reasoning"`
	Name        string          `json:"name"`
	Arguments   json.RawMessage `json:"arguments"`
	Input       json.RawMessage `json:"input"`
	Content     json.RawMessage `json:"content"`
	DisplayText string          `json:"displayText"`
	Diff        string          `json:"diff"`
	Patch       string          `json:"patch"`
	Path        string          `json:"path"`
	Symbol      string          `json:"symbol"`
	MimeType    string          `json:"mimeType"`
	Source      struct {
		MediaType string `json:"media_type"`
	} `json:"source"`
}

// sessionLine is the top-level JSON object in each JSONL row.
type sessionLine struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	ParentID  string          `json:"parentId"`
	Timestamp string          `json:"timestamp"`
	Message   json.RawMessage `json:"message"`
}

// lineMessage is the nested message payload within a session line.
type lineMessage struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Timestamp any             `json:"timestamp"`
}

func loadAgents(agentsDir string) ([]agentEntry, error) {
	entries, err := os.ReadDir(agentsDir)
	if err != nil {
		return nil, fmt.Errorf("read agents dir %q: %w", agentsDir, err)
	}

	agents := make([]agentEntry, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		agents = append(agents, agentEntry{
			name: entry.Name(),
			path: filepath.Join(agentsDir, entry.Name()),
		})
	}

	sort.Slice(agents, func(i, j int) bool {
		return strings.ToLower(agents[i].name) < strings.ToLower(agents[j].name)
	})
	return agents, nil
}

func discoverSessionFiles(agent agentEntry) ([]sessionFileEntry, error) {
	sessionsDir := filepath.Join(agent.path, "sessions")
	paths, err := filepath.Glob(filepath.Join(sessionsDir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("glob sessions for agent %q: %w", agent.name, err)
	}

	sessions := make([]sessionFileEntry, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		sessions = append(sessions, sessionFileEntry{
			filename:  filepath.Base(path),
			path:      path,
			updatedAt: info.ModTime(),
			byteSize:  info.Size(),
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].updatedAt.After(sessions[j].updatedAt)
	})
	return sessions, nil
}

// resolveSessionPath finds <agentsDir>/<agent>/sessions/<session>.jsonl. The
// session may be given with or without the extension.
func resolveSessionPath(agentsDir, agent, session string) (string, error) {
	agent = strings.TrimSpace(agent)
	session = strings.TrimSuffix(strings.TrimSpace(session), ".jsonl")
	if agent == "" || session == "" {
		return "", fmt.Errorf("agent and session are required")
	}
	path := filepath.Join(agentsDir, agent, "sessions", session+".jsonl")
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("session %q for agent %q: %w", session, agent, err)
	}
	return path, nil
}

func sessionIDFromFilename(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

func loadSessionBatch(files []sessionFileEntry, offset, limit int) ([]sessionEntry, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return nil, offset, nil
	}
	if offset >= len(files) {
		return nil, len(files), nil
	}

	end := offset + limit
	if end > len(files) {
		end = len(files)
	}

	sessions := make([]sessionEntry, 0, end-offset)
	for _, file := range files[offset:end] {
		messageCount, err := countMessages(file.path)
		if err != nil {
			messageCount = -1
		}
		sessions = append(sessions, sessionEntry{
			id:              sessionIDFromFilename(file.filename),
			filename:        file.filename,
			path:            file.path,
			updatedAt:       file.updatedAt,
			messageCount:    messageCount,
			estimatedTokens: estimateTokenCountFromBytes(file.byteSize),
		})
	}
	return sessions, end, nil
}

// estimateTokenCountFromBytes sizes a whole session file without parsing it.
func estimateTokenCountFromBytes(size int64) int {
	if size <= 0 {
		return 0
	}
	return int(size / 4)
}

func newSessionScanner(file *os.File) *bufio.Scanner {
	scanner := bufio.NewScanner(file)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)
	return scanner
}

func countMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open session %q: %w", path, err)
	}
	defer file.Close()

	scanner := newSessionScanner(file)
	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !gjson.ValidBytes(line) {
			continue
		}
		if gjson.GetBytes(line, "type").String() == "message" {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan session %q: %w", path, err)
	}
	return count, nil
}

func loadSessionTranscript(path string) (sessionTranscript, error) {
	file, err := os.Open(path)
	if err != nil {
		return sessionTranscript{}, fmt.Errorf("open session %q: %w", path, err)
	}
	defer file.Close()

	transcript := sessionTranscript{
		sessionID: sessionIDFromFilename(filepath.Base(path)),
		path:      path,
		messages:  make([]compress.Message, 0, 256),
	}
	scanner := newSessionScanner(file)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var item sessionLine
		if err := json.Unmarshal(line, &item); err != nil {
			continue
		}
		if item.Type != "message" {
			if len(transcript.messages) == 0 {
				transcript.preamble = append(transcript.preamble, append(json.RawMessage(nil), line...))
			}
			continue
		}

		var msg lineMessage
		if err := json.Unmarshal(item.Message, &msg); err != nil {
			continue
		}
		role := msg.Role
		if role == "" {
			role = "unknown"
		}
		id := item.ID
		if id == "" {
			id = fmt.Sprintf("line-%d", len(transcript.messages))
		}
		transcript.messages = append(transcript.messages, compress.Message{
			ID:        id,
			Role:      role,
			Timestamp: pickTimestamp(item.Timestamp, msg.Timestamp),
			Blocks:    convertContent(msg.Content),
			Raw:       append(json.RawMessage(nil), line...),
		})
	}
	if err := scanner.Err(); err != nil {
		return sessionTranscript{}, fmt.Errorf("scan session %q: %w", path, err)
	}
	return transcript, nil
}

func pickTimestamp(primary string, fallback any) string {
	if strings.TrimSpace(primary) != "" {
		return primary
	}
	switch v := fallback.(type) {
	case string:
		return v
	case float64:
		// JSON numbers decode as float64; the source uses epoch milliseconds.
		ms := int64(v)
		if ms <= 0 {
			return ""
		}
		return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// convertContent maps a message's content (a string or an array of blocks)
// onto compress blocks.
func convertContent(raw json.RawMessage) []compress.ContentBlock {
	if len(raw) == 0 {
		return nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if strings.TrimSpace(asString) == "" {
			return nil
		}
		return []compress.ContentBlock{{Type: compress.BlockText, Text: asString}}
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		out := make([]compress.ContentBlock, 0, len(blocks))
		for _, block := range blocks {
			out = append(out, convertBlock(block))
		}
		return out
	}

	return []compress.ContentBlock{{Type: compress.BlockText, Text: strings.TrimSpace(string(raw))}}
}

func convertBlock(block contentBlock) compress.ContentBlock {
	switch block.Type {
	case "text":
		return compress.ContentBlock{Type: compress.BlockText, Text: block.Text}
	case "thinking", "reasoning":
		text := firstNonEmpty(block.Thinking, block.Text, block.Reasoning)
		return compress.ContentBlock{Type: compress.BlockThinking, Text: text}
	case "toolCall", "tool_use":
		args := block.Arguments
		if len(args) == 0 {
			args = block.Input
		}
		return compress.ContentBlock{
			Type:        compress.BlockToolUse,
			ToolName:    strings.TrimSpace(block.Name),
			ArgsSummary: summarizeArgs(args),
		}
	case "toolResult", "tool_result":
		text := block.Text
		if strings.TrimSpace(text) == "" && len(block.Content) > 0 {
			text = flattenContent(block.Content)
		}
		return compress.ContentBlock{
			Type:        compress.BlockToolResult,
			Text:        text,
			DisplayText: block.DisplayText,
		}
	case "image":
		return compress.ContentBlock{
			Type:      compress.BlockImage,
			MediaType: firstNonEmpty(block.MimeType, block.Source.MediaType),
		}
	case "diff":
		return compress.ContentBlock{Type: compress.BlockCodeDiff, Payload: firstNonEmpty(block.Diff, block.Patch, block.Text)}
	case "suggestion":
		return compress.ContentBlock{Type: compress.BlockCodeSuggestion, Payload: firstNonEmpty(block.Text, block.Diff)}
	case "reference":
		return compress.ContentBlock{
			Type:     compress.BlockReference,
			FilePath: block.Path,
			Symbol:   block.Symbol,
			Content:  firstNonEmpty(block.Text, flattenContent(block.Content)),
		}
	default:
		text := strings.TrimSpace(block.Text)
		if text == "" && len(block.Content) > 0 {
			text = flattenContent(block.Content)
		}
		if text == "" && block.Type != "" {
			text = "[" + block.Type + "]"
		}
		return compress.ContentBlock{Type: compress.BlockText, Text: text}
	}
}

// flattenContent renders nested content (tool results carry their own
// content arrays) as plain text.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	msg := compress.Message{Blocks: convertContent(raw)}
	return compress.DisplayText(msg)
}

const maxArgsSummary = 160

// summarizeArgs collapses tool arguments into one short line: "k=v k=v" for
// objects, compact JSON otherwise.
func summarizeArgs(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	parsed := gjson.Parse(trimmed)
	if !parsed.IsObject() {
		return truncateString(oneLine(trimmed), maxArgsSummary)
	}
	parts := make([]string, 0, 4)
	parsed.ForEach(func(key, value gjson.Result) bool {
		parts = append(parts, key.String()+"="+oneLine(value.String()))
		return true
	})
	return truncateString(strings.Join(parts, " "), maxArgsSummary)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

const maxDisplayBytes = 100_000 // truncate very long text content for display

// sanitizeForTerminal strips non-printable characters that corrupt terminal output.
// If more than 10% of the content is non-printable, it's treated as binary and replaced
// with a placeholder showing the byte count. Very long text is truncated.
func sanitizeForTerminal(s string) string {
	if len(s) == 0 {
		return s
	}
	nonPrintable := 0
	total := 0
	for _, r := range s {
		total++
		if r != '\n' && r != '\r' && r != '\t' && (r < 32 || r == 127 || (r >= 0x80 && r <= 0x9F)) {
			nonPrintable++
		}
	}
	if total > 0 && nonPrintable*10 > total {
		return fmt.Sprintf("[binary content, %s]", humanize.IBytes(uint64(len(s))))
	}

	fullSize := len(s)
	truncated := false
	if len(s) > maxDisplayBytes {
		for i := range s {
			if i >= maxDisplayBytes {
				s = s[:i]
				truncated = true
				break
			}
		}
	}

	result := s
	if nonPrintable > 0 {
		var b strings.Builder
		b.Grow(len(s))
		for _, r := range s {
			if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127 && !(r >= 0x80 && r <= 0x9F)) {
				b.WriteRune(r)
			}
		}
		result = b.String()
	}
	if truncated {
		result += fmt.Sprintf("\n\n[truncated, full content is %s]", humanize.IBytes(uint64(fullSize)))
	}
	return result
}

func formatTimeForList(ts time.Time) string {
	return ts.Local().Format("2006-01-02 15:04:05")
}

func formatTimestamp(ts string) string {
	trimmed := strings.TrimSpace(ts)
	if trimmed == "" {
		return ""
	}
	if parsed, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return parsed.Local().Format("2006-01-02 15:04:05")
	}
	return trimmed
}

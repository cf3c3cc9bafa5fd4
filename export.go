package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/Martian-Engineering/lcm-compress/compress"
)

type exportOptions struct {
	agent   string
	session string
	out     string
	dryRun  bool
}

type exportResult struct {
	lines    int
	messages int
	stats    compress.Stats
}

// runExportCommand writes the compressed version of a session as JSONL.
func runExportCommand(args []string) error {
	opts, err := parseExportArgs(args)
	if err != nil {
		return err
	}
	env, err := openAppEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	transcript, editor, err := loadSessionEdits(env, opts.agent, opts.session)
	if err != nil {
		return err
	}
	if opts.out == "" {
		opts.out = transcript.sessionID + ".compressed.jsonl"
	}

	if opts.dryRun {
		result, err := writeCompressedSession(io.Discard, transcript, editor)
		if err != nil {
			return err
		}
		fmt.Printf("Would write %d messages (%d lines) to %s\n", result.messages, result.lines, opts.out)
		printStats(os.Stdout, result.stats)
		return nil
	}

	result, err := exportToFile(opts.out, transcript, editor)
	if err != nil {
		return err
	}
	env.logger.Info("exported session", "session_id", transcript.sessionID, "out", opts.out, "messages", result.messages)
	fmt.Printf("Wrote %d messages to %s\n", result.messages, opts.out)
	printStats(os.Stdout, result.stats)
	return nil
}

// exportToFile writes through a temp file in the target directory so a failed
// export never leaves a truncated file behind.
func exportToFile(path string, transcript sessionTranscript, editor *compress.Editor) (exportResult, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".lcm-compress-*.jsonl")
	if err != nil {
		return exportResult{}, fmt.Errorf("create temp file in %q: %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	result, err := writeCompressedSession(tmp, transcript, editor)
	if err != nil {
		tmp.Close()
		return exportResult{}, err
	}
	if err := tmp.Close(); err != nil {
		return exportResult{}, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return exportResult{}, fmt.Errorf("move export into place at %q: %w", path, err)
	}
	return result, nil
}

// writeCompressedSession emits the preamble rows followed by the compressed
// messages. Kept messages are written from their source record; modified and
// inserted ones become single-text-block messages. parentId is re-chained so
// each message points at the one emitted before it.
func writeCompressedSession(w io.Writer, transcript sessionTranscript, editor *compress.Editor) (exportResult, error) {
	bw := bufio.NewWriter(w)
	result := exportResult{stats: editor.Stats()}

	for _, line := range transcript.preamble {
		if err := writeLine(bw, line); err != nil {
			return exportResult{}, err
		}
		result.lines++
	}

	var parent any
	if len(transcript.messages) > 0 {
		if first := gjson.GetBytes(transcript.messages[0].Raw, "parentId"); first.Exists() && first.Type != gjson.Null {
			parent = first.String()
		}
	}

	for _, entry := range editor.Preview().Entries {
		var (
			line []byte
			err  error
		)
		switch entry.Kind {
		case compress.EntryDelete:
			continue
		case compress.EntryKeep:
			line, err = keptLine(entry.Message, parent)
		case compress.EntryModify:
			line, err = modifiedLine(entry.Message, entry.Original, parent)
		case compress.EntryInsert:
			line, err = syntheticLine(entry.Message, parent)
		}
		if err != nil {
			return exportResult{}, fmt.Errorf("encode message %s: %w", entry.Message.ID, err)
		}
		if err := writeLine(bw, line); err != nil {
			return exportResult{}, err
		}
		parent = entry.Message.ID
		result.lines++
		result.messages++
	}

	if err := bw.Flush(); err != nil {
		return exportResult{}, fmt.Errorf("flush export: %w", err)
	}
	return result, nil
}

func writeLine(w *bufio.Writer, line []byte) error {
	if _, err := w.Write(line); err != nil {
		return fmt.Errorf("write export line: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write export line: %w", err)
	}
	return nil
}

func keptLine(msg compress.Message, parent any) ([]byte, error) {
	if len(msg.Raw) == 0 {
		return syntheticLine(msg, parent)
	}
	return sjson.SetBytes(append([]byte(nil), msg.Raw...), "parentId", parent)
}

// modifiedLine keeps the source record's envelope (role, timestamp, model)
// and swaps in the replacement content. Usage figures no longer apply.
func modifiedLine(msg compress.Message, original *compress.Message, parent any) ([]byte, error) {
	if original == nil || len(original.Raw) == 0 {
		return syntheticLine(msg, parent)
	}
	line := append([]byte(nil), original.Raw...)
	line, err := sjson.SetBytes(line, "message.content", textContent(msg))
	if err != nil {
		return nil, err
	}
	if gjson.GetBytes(line, "message.usage").Exists() {
		if line, err = sjson.DeleteBytes(line, "message.usage"); err != nil {
			return nil, err
		}
	}
	return sjson.SetBytes(line, "parentId", parent)
}

type exportLine struct {
	Type      string        `json:"type"`
	ID        string        `json:"id"`
	ParentID  any           `json:"parentId"`
	Timestamp string        `json:"timestamp,omitempty"`
	Message   exportMessage `json:"message"`
}

type exportMessage struct {
	Role    string              `json:"role"`
	Content []map[string]string `json:"content"`
}

func syntheticLine(msg compress.Message, parent any) ([]byte, error) {
	return json.Marshal(exportLine{
		Type:      "message",
		ID:        msg.ID,
		ParentID:  parent,
		Timestamp: msg.Timestamp,
		Message: exportMessage{
			Role:    msg.Role,
			Content: textContent(msg),
		},
	})
}

func textContent(msg compress.Message) []map[string]string {
	return []map[string]string{{"type": "text", "text": compress.DisplayText(msg)}}
}

func parseExportArgs(args []string) (exportOptions, error) {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	out := fs.String("out", "", "output JSONL path (default: <session>.compressed.jsonl)")
	dryRun := fs.Bool("dry-run", false, "print what would be written")

	normalized, err := normalizeArgs(args, map[string]bool{"--out": true})
	if err != nil {
		return exportOptions{}, fmt.Errorf("%w\n%s", err, exportUsageText())
	}
	if err := fs.Parse(normalized); err != nil {
		return exportOptions{}, fmt.Errorf("%w\n%s", err, exportUsageText())
	}
	if fs.NArg() != 2 {
		return exportOptions{}, fmt.Errorf("agent and session are required\n%s", exportUsageText())
	}
	return exportOptions{
		agent:   fs.Arg(0),
		session: fs.Arg(1),
		out:     expandHome(strings.TrimSpace(*out)),
		dryRun:  *dryRun,
	}, nil
}

func exportUsageText() string {
	return strings.TrimSpace(`Usage:
  lcm-compress export <agent> <session> [--out <path>] [--dry-run]

Flags:
  --out <path>  output JSONL path (default: <session>.compressed.jsonl)
  --dry-run     report what would be written without writing
`)
}

// runStatsCommand prints token statistics for a session's saved edits.
func runStatsCommand(args []string) error {
	normalized, err := normalizeArgs(args, nil)
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(normalized); err != nil {
		return fmt.Errorf("%w\n%s", err, statsUsageText())
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("agent and session are required\n%s", statsUsageText())
	}

	env, err := openAppEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	_, editor, err := loadSessionEdits(env, fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}
	fmt.Printf("Session: %s (%d messages)\n", editor.SessionID(), editor.Len())
	printStats(os.Stdout, editor.Stats())
	return nil
}

func statsUsageText() string {
	return strings.TrimSpace(`Usage:
  lcm-compress stats <agent> <session>
`)
}

func printStats(w io.Writer, stats compress.Stats) {
	t := stats.Tokens
	fmt.Fprintf(w, "Original:   %s tokens\n", humanize.Comma(int64(t.OriginalTotal)))
	fmt.Fprintf(w, "Compressed: %s tokens\n", humanize.Comma(int64(t.CompressedTotal)))
	fmt.Fprintf(w, "Saved:      %s tokens (%.1f%%)\n", humanize.Comma(int64(t.SavedTokens)), t.SavedPercentage)
	fmt.Fprintf(w, "Changes:    %d deleted, %d modified, %d inserted\n",
		stats.Changes.Deleted, stats.Changes.Modified, stats.Changes.Inserted)
}

// normalizeArgs moves flags ahead of positionals so flags may follow them on
// the command line. valueFlags lists the flags that consume the next arg.
func normalizeArgs(args []string, valueFlags map[string]bool) ([]string, error) {
	flags := make([]string, 0, len(args))
	positionals := make([]string, 0, 2)

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case valueFlags[arg]:
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for %s", arg)
			}
			flags = append(flags, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--"):
			flags = append(flags, arg)
		default:
			positionals = append(positionals, arg)
		}
	}
	return append(flags, positionals...), nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Martian-Engineering/lcm-compress/compress"
)

type rewritePhase int

const (
	rewritePreview rewritePhase = iota
	rewriteInflight
	rewriteReview
)

// rewriteState is an LLM rewrite suggestion for one message. Nothing is
// written to the registry until the user applies it in review.
type rewriteState struct {
	messageID    string
	index        int
	role         string
	oldContent   string
	oldTokens    int
	prompt       string
	targetTokens int
	model        string
	phase        rewritePhase
	newContent   string
	newTokens    int
	diffView     bool
	scrollOffset int
	err          error
}

type rewriteResultMsg struct {
	messageID string
	content   string
	tokens    int
	err       error
}

func (m *model) startPendingRewrite() {
	entry, ok := m.currentEntry()
	if !ok {
		m.status = "No message selected"
		return
	}
	if entry.Kind == compress.EntryInsert || entry.OriginalIndex < 0 {
		m.status = "Inserted messages cannot be rewritten; edit them with e"
		return
	}
	if entry.Kind == compress.EntryDelete {
		m.status = "Message is deleted; restore it before rewriting"
		return
	}
	if m.newRewriter == nil {
		m.status = "Rewrite is not configured"
		return
	}

	msg := entry.Message
	prompt, target, err := buildRewritePrompt(msg, m.cfg.Rewrite.TargetRatio, m.cfg.PromptDir)
	if err != nil {
		m.status = "Error: " + err.Error()
		return
	}
	content := compress.DisplayText(msg)
	m.pendingRewrite = &rewriteState{
		messageID:    msg.ID,
		index:        entry.OriginalIndex,
		role:         msg.Role,
		oldContent:   content,
		oldTokens:    entry.Tokens,
		prompt:       prompt,
		targetTokens: target,
		model:        m.cfg.Rewrite.Model,
		phase:        rewritePreview,
	}
	m.status = fmt.Sprintf("Ready to rewrite message %d", entry.OriginalIndex+1)
}

func (m model) startPendingRewriteAPI() tea.Cmd {
	if m.pendingRewrite == nil || m.newRewriter == nil {
		return nil
	}
	pending := *m.pendingRewrite
	newRewriter := m.newRewriter
	timeout := time.Duration(m.cfg.Rewrite.TimeoutSecs) * time.Second
	return func() tea.Msg {
		rewriter, err := newRewriter()
		if err != nil {
			return rewriteResultMsg{messageID: pending.messageID, err: err}
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		content, err := rewriter.Rewrite(ctx, pending.prompt, pending.targetTokens)
		if err != nil {
			return rewriteResultMsg{messageID: pending.messageID, err: err}
		}
		return rewriteResultMsg{
			messageID: pending.messageID,
			content:   content,
			tokens:    estimateTokenCount(content),
		}
	}
}

func (m model) handleRewriteResult(msg rewriteResultMsg) (tea.Model, tea.Cmd) {
	if m.pendingRewrite == nil || m.pendingRewrite.messageID != msg.messageID || m.pendingRewrite.phase != rewriteInflight {
		return m, nil
	}
	m.pendingRewrite.phase = rewriteReview
	if msg.err != nil {
		m.pendingRewrite.err = msg.err
		m.status = fmt.Sprintf("Rewrite failed: %v", msg.err)
		m.env.logger.Warn("rewrite failed", "message_id", msg.messageID, "error", msg.err)
		return m, nil
	}
	m.pendingRewrite.newContent = msg.content
	m.pendingRewrite.newTokens = msg.tokens
	m.status = fmt.Sprintf("Rewrite ready: %dt -> %dt (%+dt)",
		m.pendingRewrite.oldTokens, msg.tokens, msg.tokens-m.pendingRewrite.oldTokens)
	return m, nil
}

func (m model) handleRewriteKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	rw := m.pendingRewrite
	switch rw.phase {
	case rewritePreview:
		switch msg.String() {
		case "enter":
			rw.phase = rewriteInflight
			m.status = "Waiting for rewrite..."
			return m, tea.Batch(m.startPendingRewriteAPI(), m.spinner.Tick)
		case "esc", "n":
			m.pendingRewrite = nil
			m.status = "Rewrite cancelled"
		}
	case rewriteInflight:
		if msg.String() == "esc" {
			m.pendingRewrite = nil
			m.status = "Rewrite dismissed"
		}
	case rewriteReview:
		if rw.err != nil {
			switch msg.String() {
			case "enter", "esc":
				m.pendingRewrite = nil
			}
			return m, nil
		}
		switch msg.String() {
		case "y", "enter":
			m.confirmPendingRewrite()
		case "n", "esc":
			m.pendingRewrite = nil
			m.status = "Rewrite discarded"
		case "d", "D":
			rw.diffView = !rw.diffView
			rw.scrollOffset = 0
		case "j", "down":
			rw.scrollOffset++
		case "k", "up":
			rw.scrollOffset = max(0, rw.scrollOffset-1)
		}
	}
	return m, nil
}

// confirmPendingRewrite applies the reviewed text as a modify operation so
// it is undoable like a manual edit.
func (m *model) confirmPendingRewrite() {
	rw := m.pendingRewrite
	if rw == nil || rw.phase != rewriteReview || rw.err != nil {
		return
	}
	m.pendingRewrite = nil
	if m.editor == nil || !m.editor.ModifyAt(rw.index, rw.newContent) {
		m.status = "Rewrite target is no longer available"
		return
	}
	m.refreshPreview()
	m.status = fmt.Sprintf("Rewrote message %d: %dt -> %dt (%+dt)",
		rw.index+1, rw.oldTokens, rw.newTokens, rw.newTokens-rw.oldTokens)
}

func (m model) renderRewriteOverlay() string {
	rw := m.pendingRewrite
	if rw == nil {
		return "No rewrite pending"
	}
	width := max(20, m.width-4)

	switch rw.phase {
	case rewritePreview:
		lines := []string{
			fmt.Sprintf("Rewrite message %d (%s)", rw.index+1, rw.role),
			fmt.Sprintf("Tokens: %d now, target %d", rw.oldTokens, rw.targetTokens),
			"",
			"Prompt preview:",
		}
		maxPromptLines := max(6, m.height-len(lines)-6)
		wrapped := strings.Split(wrapText(rw.prompt, width), "\n")
		for idx := 0; idx < min(len(wrapped), maxPromptLines); idx++ {
			lines = append(lines, "  "+wrapped[idx])
		}
		if len(wrapped) > maxPromptLines {
			lines = append(lines, fmt.Sprintf("  ... %d more lines", len(wrapped)-maxPromptLines))
		}
		lines = append(lines, "", fmt.Sprintf("Press Enter to rewrite with %s. Press Esc to cancel.", rw.model))
		return strings.Join(lines, "\n")
	case rewriteInflight:
		return strings.Join([]string{
			fmt.Sprintf("%s Rewriting message %d...", m.spinner.View(), rw.index+1),
			fmt.Sprintf("Target: %d tokens", rw.targetTokens),
			"",
			"Press Esc to dismiss.",
		}, "\n")
	case rewriteReview:
		if rw.err != nil {
			return fmt.Sprintf("Rewrite failed for message %d:\n\n%v\n\nPress Enter or Esc to close.", rw.index+1, rw.err)
		}
		lines := []string{
			fmt.Sprintf("Rewrite review: message %d (%s)", rw.index+1, rw.role),
			fmt.Sprintf("Δ tokens: %+d (%d -> %d)", rw.newTokens-rw.oldTokens, rw.oldTokens, rw.newTokens),
			"",
		}
		var content []string
		if rw.diffView {
			diff := buildUnifiedDiff("old/"+rw.messageID, "new/"+rw.messageID, rw.oldContent, rw.newContent)
			for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
				content = append(content, colorizeDiffLine(line))
			}
		} else {
			content = append(content, fmt.Sprintf("OLD (%dt):", rw.oldTokens))
			content = append(content, strings.Split(indentLines(wrapText(rw.oldContent, width), "  "), "\n")...)
			content = append(content, "", fmt.Sprintf("NEW (%dt):", rw.newTokens))
			content = append(content, strings.Split(indentLines(wrapText(rw.newContent, width), "  "), "\n")...)
		}

		viewHeight := max(4, m.height-len(lines)-6)
		offset := clamp(rw.scrollOffset, 0, max(0, len(content)-viewHeight))
		end := min(offset+viewHeight, len(content))
		lines = append(lines, content[offset:end]...)
		if len(content) > viewHeight {
			lines = append(lines, helpStyle.Render(fmt.Sprintf("  [%d/%d lines, j/k to scroll]", end, len(content))))
		}
		lines = append(lines, "", "y/enter: apply | n/esc: discard | d: toggle diff | j/k: scroll")
		return strings.Join(lines, "\n")
	default:
		return "Unknown rewrite state"
	}
}

type rewriteOptions struct {
	agent      string
	session    string
	index      int
	apply      bool
	showPrompt bool
	diff       bool
}

// runRewriteCommand asks the model for a rewrite of one message and prints
// it. With --apply the result is recorded as a modify operation and saved.
func runRewriteCommand(args []string) error {
	opts, err := parseRewriteArgs(args)
	if err != nil {
		return err
	}
	env, err := openAppEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	_, editor, _, err := openSessionEditor(env, opts.agent, opts.session)
	if err != nil {
		return err
	}
	msg, ok := editor.Message(opts.index - 1)
	if !ok {
		return fmt.Errorf("message %d out of range (session has %d messages)", opts.index, editor.Len())
	}
	prompt, target, err := buildRewritePrompt(msg, env.cfg.Rewrite.TargetRatio, env.cfg.PromptDir)
	if err != nil {
		return err
	}
	if opts.showPrompt {
		printWithNewline(prompt)
		return nil
	}

	rewriter, err := newAnthropicRewriter(env.cfg.Rewrite, nil, env.logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(env.cfg.Rewrite.TimeoutSecs)*time.Second)
	defer cancel()
	content, err := rewriter.Rewrite(ctx, prompt, target)
	if err != nil {
		return err
	}

	oldContent := compress.DisplayText(msg)
	printRewriteReport(os.Stdout, opts, msg, oldContent, content, editor.Counter().Message(msg), estimateTokenCount(content))

	if !opts.apply {
		fmt.Println("Dry run: pass --apply to record this rewrite.")
		return nil
	}
	editor.ModifyAt(opts.index-1, content)
	if !editor.Save() {
		return errors.New("rewrite applied but saving edits failed")
	}
	env.logger.Info("applied rewrite", "session_id", editor.SessionID(), "message_id", msg.ID)
	fmt.Printf("Applied rewrite to message %d.\n", opts.index)
	return nil
}

func printRewriteReport(w io.Writer, opts rewriteOptions, msg compress.Message, oldContent, newContent string, oldTokens, newTokens int) {
	fmt.Fprintf(w, "━━━ message %d (%s, %s) ━━━\n", opts.index, msg.Role, msg.ID)
	if opts.diff {
		diff := buildUnifiedDiff("old/"+msg.ID, "new/"+msg.ID, oldContent, newContent)
		for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
			fmt.Fprintln(w, colorizeDiffLineCLI(line))
		}
		added, removed := diffLineCounts(diff)
		fmt.Fprintf(w, "\n%d lines added, %d removed\n", added, removed)
	} else {
		fmt.Fprintf(w, "OLD (%d tokens):\n%s\n\n", oldTokens, strings.TrimSpace(oldContent))
		fmt.Fprintf(w, "NEW (%d tokens):\n%s\n\n", newTokens, strings.TrimSpace(newContent))
	}
	fmt.Fprintf(w, "Δ tokens: %+d (%d -> %d)\n", newTokens-oldTokens, oldTokens, newTokens)
}

func colorizeDiffLineCLI(line string) string {
	switch {
	case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		return "\033[1m" + line + "\033[0m"
	case strings.HasPrefix(line, "@@"):
		return "\033[36m" + line + "\033[0m"
	case strings.HasPrefix(line, "+"):
		return "\033[32m" + line + "\033[0m"
	case strings.HasPrefix(line, "-"):
		return "\033[31m" + line + "\033[0m"
	default:
		return line
	}
}

func parseRewriteArgs(args []string) (rewriteOptions, error) {
	fs := flag.NewFlagSet("rewrite", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	index := fs.String("index", "", "1-based message position to rewrite")
	apply := fs.Bool("apply", false, "record the rewrite as a modify operation")
	showPrompt := fs.Bool("show-prompt", false, "print the rendered prompt and exit")
	diff := fs.Bool("diff", false, "print a unified diff instead of old/new text")

	normalized, err := normalizeArgs(args, map[string]bool{"--index": true})
	if err != nil {
		return rewriteOptions{}, fmt.Errorf("%w\n%s", err, rewriteUsageText())
	}
	if err := fs.Parse(normalized); err != nil {
		return rewriteOptions{}, fmt.Errorf("%w\n%s", err, rewriteUsageText())
	}
	if fs.NArg() != 2 {
		return rewriteOptions{}, fmt.Errorf("agent and session are required\n%s", rewriteUsageText())
	}
	n, err := strconv.Atoi(strings.TrimSpace(*index))
	if err != nil || n <= 0 {
		return rewriteOptions{}, fmt.Errorf("--index must be a positive message number\n%s", rewriteUsageText())
	}
	if *apply && *showPrompt {
		return rewriteOptions{}, fmt.Errorf("--apply and --show-prompt are mutually exclusive")
	}
	return rewriteOptions{
		agent:      fs.Arg(0),
		session:    fs.Arg(1),
		index:      n,
		apply:      *apply,
		showPrompt: *showPrompt,
		diff:       *diff,
	}, nil
}

func rewriteUsageText() string {
	return strings.TrimSpace(`Usage:
  lcm-compress rewrite <agent> <session> --index <n> [--apply] [--diff]
  lcm-compress rewrite <agent> <session> --index <n> --show-prompt

Flags:
  --index <n>     1-based message position
  --apply         record the rewrite as an edit and save it
  --diff          show a unified diff of the rewrite
  --show-prompt   print the rendered prompt without calling the API
`)
}

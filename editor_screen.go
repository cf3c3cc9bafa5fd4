package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/Martian-Engineering/lcm-compress/compress"
)

type inputMode int

const (
	inputNone inputMode = iota
	inputModify
	inputInsert
)

const insertedRole = "user"

func (m model) handleEditorKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.editor == nil {
		m.screen = screenSessions
		return m, nil
	}
	if m.pendingRewrite != nil {
		return m.handleRewriteKey(msg)
	}
	if m.confirmReset {
		switch msg.String() {
		case "y", "enter":
			m.editor.Registry().ResetAll()
			m.confirmReset = false
			m.refreshPreview()
			m.status = "Reset all edits"
		case "n", "esc":
			m.confirmReset = false
			m.status = "Reset cancelled"
		}
		return m, nil
	}

	registry := m.editor.Registry()
	switch msg.String() {
	case "up", "k":
		m.moveCursor(m.entryCursor - 1)
	case "down", "j":
		m.moveCursor(m.entryCursor + 1)
	case "g":
		m.moveCursor(0)
	case "G":
		m.moveCursor(len(m.preview.Entries) - 1)
	case "J":
		m.detail.LineDown(3)
	case "K":
		m.detail.LineUp(3)
	case "D":
		m.diffView = !m.diffView
		m.refreshDetail()
	case "d":
		m.toggleDeleteCurrent()
	case "e":
		return m, m.beginEdit()
	case "i":
		return m, m.beginInsert(m.insertSlotAfterCursor())
	case "I":
		return m, m.beginInsert(-1)
	case "x":
		m.clearCurrent()
	case "u":
		if registry.Undo() {
			m.refreshPreview()
			m.status = "Undo"
		} else {
			m.status = "Nothing to undo"
		}
	case "ctrl+r":
		if registry.Redo() {
			m.refreshPreview()
			m.status = "Redo"
		} else {
			m.status = "Nothing to redo"
		}
	case "R":
		if !registry.HasAnyChanges() {
			m.status = "No edits to reset"
			return m, nil
		}
		m.confirmReset = true
	case "w":
		m.startPendingRewrite()
	case "s":
		m.saveEditor()
	case "E":
		m.exportCurrent()
	case "b", "backspace":
		m.saveEditor()
		m.markSessionsWithEdits()
		m.screen = screenSessions
	}
	return m, nil
}

func (m *model) moveCursor(to int) {
	m.entryCursor = clamp(to, 0, len(m.preview.Entries)-1)
	m.refreshDetail()
}

func (m model) currentEntry() (compress.Entry, bool) {
	if m.entryCursor < 0 || m.entryCursor >= len(m.preview.Entries) {
		return compress.Entry{}, false
	}
	return m.preview.Entries[m.entryCursor], true
}

func (m *model) toggleDeleteCurrent() {
	entry, ok := m.currentEntry()
	if !ok {
		return
	}
	if entry.Kind == compress.EntryInsert {
		m.editor.Registry().RemoveInsertion(entry.InsertAfter)
		m.refreshPreview()
		m.status = "Removed inserted message"
		return
	}
	m.editor.ToggleDelete(entry.OriginalIndex)
	m.refreshPreview()
	if current, ok := m.currentEntry(); ok && current.Kind == compress.EntryDelete {
		m.status = fmt.Sprintf("Deleted message %d (%dt)", entry.OriginalIndex+1, entry.OriginalTokens)
	} else {
		m.status = fmt.Sprintf("Restored message %d", entry.OriginalIndex+1)
	}
}

func (m *model) clearCurrent() {
	entry, ok := m.currentEntry()
	if !ok {
		return
	}
	registry := m.editor.Registry()
	switch entry.Kind {
	case compress.EntryInsert:
		registry.RemoveInsertion(entry.InsertAfter)
		m.status = "Removed inserted message"
	case compress.EntryKeep:
		m.status = "Message has no edit"
		return
	default:
		registry.RemoveOperation(entry.Message.ID)
		m.status = fmt.Sprintf("Cleared %s on message %d", entry.Kind, entry.OriginalIndex+1)
	}
	m.refreshPreview()
}

// insertSlotAfterCursor is the insertion slot for "add after the selected
// row". An inserted row reuses its own slot.
func (m model) insertSlotAfterCursor() int {
	entry, ok := m.currentEntry()
	if !ok {
		return -1
	}
	if entry.Kind == compress.EntryInsert {
		return entry.InsertAfter
	}
	return entry.OriginalIndex
}

func (m *model) beginEdit() tea.Cmd {
	entry, ok := m.currentEntry()
	if !ok {
		return nil
	}
	if entry.Kind == compress.EntryInsert {
		return m.beginInsert(entry.InsertAfter)
	}
	if entry.Kind == compress.EntryDelete {
		m.status = "Message is deleted; restore it before editing"
		return nil
	}
	m.inputMode = inputModify
	m.inputTarget = entry.OriginalIndex
	m.input.SetValue(compress.DisplayText(entry.Message))
	m.status = fmt.Sprintf("Editing message %d", entry.OriginalIndex+1)
	return m.input.Focus()
}

func (m *model) beginInsert(slot int) tea.Cmd {
	m.inputMode = inputInsert
	m.inputTarget = slot
	m.input.SetValue("")
	if existing, ok := m.editor.Registry().Insertion(slot); ok {
		m.input.SetValue(compress.DisplayText(existing.Message))
	}
	if slot < 0 {
		m.status = "Inserting before the first message"
	} else {
		m.status = fmt.Sprintf("Inserting after message %d", slot+1)
	}
	return m.input.Focus()
}

func (m model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.inputMode = inputNone
		m.input.Blur()
		m.status = "Edit cancelled"
		return m, nil
	case "ctrl+s":
		m.commitInput()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) commitInput() {
	text := strings.TrimSpace(m.input.Value())
	mode, target := m.inputMode, m.inputTarget
	m.inputMode = inputNone
	m.input.Blur()
	if text == "" {
		m.status = "Empty text; nothing changed"
		return
	}

	switch mode {
	case inputModify:
		if !m.editor.ModifyAt(target, text) {
			m.status = "Message is no longer available"
			return
		}
		m.status = fmt.Sprintf("Modified message %d", target+1)
	case inputInsert:
		role := insertedRole
		if existing, ok := m.editor.Registry().Insertion(target); ok && existing.Message.Role != "" {
			role = existing.Message.Role
		}
		m.editor.InsertText(target, role, text)
		m.status = "Inserted message"
	}
	m.refreshPreview()
}

func (m *model) saveEditor() {
	if m.editor == nil {
		return
	}
	if !m.editor.Save() {
		m.status = "Save failed; edits are kept in memory"
		return
	}
	if m.env.persister.Degraded() {
		m.status = "Saved to memory only (state database unavailable)"
		return
	}
	m.status = "Saved edits"
}

func (m *model) exportCurrent() {
	if m.editor == nil {
		return
	}
	m.saveEditor()
	path := m.transcript.sessionID + ".compressed.jsonl"
	result, err := exportToFile(path, m.transcript, m.editor)
	if err != nil {
		m.status = "Export failed: " + err.Error()
		return
	}
	m.env.logger.Info("exported session", "session_id", m.transcript.sessionID, "out", path, "messages", result.messages)
	m.status = fmt.Sprintf("Exported %d messages to %s", result.messages, path)
}

// refreshPreview recomposes the preview after any registry change.
func (m *model) refreshPreview() {
	if m.editor == nil {
		m.preview = compress.Preview{}
		m.stats = compress.Stats{}
		return
	}
	m.preview = m.editor.Preview()
	m.stats = m.editor.Stats()
	m.entryCursor = clamp(m.entryCursor, 0, len(m.preview.Entries)-1)
	m.refreshDetail()
}

func (m *model) refreshDetail() {
	if m.detail.Width <= 0 || m.detail.Height <= 0 {
		return
	}
	entry, ok := m.currentEntry()
	if !ok {
		m.detail.SetContent("No messages in this session")
		m.detail.GotoTop()
		return
	}
	m.detail.SetContent(renderEntryDetail(entry, m.diffView, m.detail.Width))
	m.detail.GotoTop()
}

func renderEntryDetail(entry compress.Entry, diffView bool, width int) string {
	maxWidth := max(20, width-2)
	msg := entry.Message
	header := strings.TrimSpace(fmt.Sprintf("%s  %s  %s", formatTimestamp(msg.Timestamp), strings.ToUpper(msg.Role), msg.ID))

	var status string
	switch entry.Kind {
	case compress.EntryDelete:
		status = deletedStyle.Render(fmt.Sprintf("deleted (-%dt)", entry.OriginalTokens))
	case compress.EntryModify:
		status = modifiedStyle.Render(fmt.Sprintf("modified %dt -> %dt (%+dt)", entry.OriginalTokens, entry.Tokens, entry.TokenDelta))
	case compress.EntryInsert:
		where := "before the first message"
		if entry.InsertAfter >= 0 {
			where = fmt.Sprintf("after message %d", entry.InsertAfter+1)
		}
		status = insertedStyle.Render(fmt.Sprintf("inserted %s (+%dt)", where, entry.Tokens))
	default:
		status = helpStyle.Render(fmt.Sprintf("%dt", entry.Tokens))
	}

	lines := []string{roleStyle(msg.Role).Bold(true).Render(header) + "  " + status, ""}
	if entry.Kind == compress.EntryModify && entry.Original != nil && diffView {
		diff := buildUnifiedDiff("original", "modified", compress.DisplayText(*entry.Original), compress.DisplayText(msg))
		for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
			lines = append(lines, colorizeDiffLine(line))
		}
		return strings.Join(lines, "\n")
	}

	body := sanitizeForTerminal(compress.DisplayText(msg))
	if strings.TrimSpace(body) == "" {
		body = "(no text content)"
	}
	lines = append(lines, indentLines(wrapText(body, maxWidth), "  "))
	if entry.Kind == compress.EntryModify && entry.Original != nil {
		lines = append(lines, "", helpStyle.Render("Original:"))
		lines = append(lines, helpStyle.Render(indentLines(wrapText(sanitizeForTerminal(compress.DisplayText(*entry.Original)), maxWidth), "  ")))
	}
	return strings.Join(lines, "\n")
}

// listHeight and detailHeight split the body between the preview list and
// the detail pane.
func (m model) listHeight() int {
	return max(3, (m.height-6)/2)
}

func (m model) detailHeight() int {
	return max(3, m.height-6-m.listHeight()-1)
}

func (m model) renderEditor() string {
	if m.pendingRewrite != nil {
		return m.renderRewriteOverlay()
	}
	if len(m.preview.Entries) == 0 {
		return "No messages in this session"
	}

	visible := m.listHeight()
	offset := listOffset(m.entryCursor, len(m.preview.Entries), visible)
	lines := make([]string, 0, visible+m.detailHeight()+1)
	for idx := offset; idx < min(len(m.preview.Entries), offset+visible); idx++ {
		lines = append(lines, m.renderEntryRow(idx))
	}
	lines = padLines(lines, visible)
	lines = append(lines, helpStyle.Render(strings.Repeat("─", max(10, m.width-2))))

	if m.inputMode != inputNone {
		lines = append(lines, m.input.View())
	} else {
		lines = append(lines, m.detail.View())
	}
	return strings.Join(lines, "\n")
}

func (m model) renderEntryRow(idx int) string {
	entry := m.preview.Entries[idx]
	position := "   +"
	if entry.Kind != compress.EntryInsert {
		position = fmt.Sprintf("%4d", entry.OriginalIndex+1)
	}

	marker, delta := " ", ""
	switch entry.Kind {
	case compress.EntryDelete:
		marker = "D"
		delta = fmt.Sprintf(" (%+d)", entry.TokenDelta)
	case compress.EntryModify:
		marker = "M"
		delta = fmt.Sprintf(" (%+d)", entry.TokenDelta)
	case compress.EntryInsert:
		marker = "I"
		delta = fmt.Sprintf(" (%+d)", entry.TokenDelta)
	}

	tokens := entry.Tokens
	if entry.Kind == compress.EntryDelete {
		tokens = entry.OriginalTokens
	}
	prefix := fmt.Sprintf("%s %s %-10s %6dt%-8s ", marker, position, truncateString(entry.Message.Role, 10), tokens, delta)
	width := max(10, m.width-len(prefix)-4)
	text := prefix + truncateString(oneLine(compress.DisplayText(entry.Message)), width)

	if idx == m.entryCursor {
		return selectedStyle.Render("> " + text)
	}
	switch entry.Kind {
	case compress.EntryDelete:
		return "  " + deletedStyle.Render(text)
	case compress.EntryModify:
		return "  " + modifiedStyle.Render(text)
	case compress.EntryInsert:
		return "  " + insertedStyle.Render(text)
	default:
		return "  " + text
	}
}

func (m model) renderStatsLine() string {
	t := m.stats.Tokens
	c := m.stats.Changes
	line := fmt.Sprintf("%s -> %s tokens | saved %s (%.1f%%) | del:%d mod:%d ins:%d",
		humanize.Comma(int64(t.OriginalTotal)),
		humanize.Comma(int64(t.CompressedTotal)),
		humanize.Comma(int64(t.SavedTokens)),
		t.SavedPercentage,
		c.Deleted, c.Modified, c.Inserted)
	if m.editor != nil {
		history := m.editor.Registry().History()
		line += fmt.Sprintf(" | undo:%d redo:%d", history.UndoDepth(), history.RedoDepth())
	}
	return line
}

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/Martian-Engineering/lcm-compress/compress"
)

type screen int

const (
	screenAgents screen = iota
	screenSessions
	screenEditor
)

const (
	sessionInitialLoadSize = 50
	sessionBatchLoadSize   = 50
)

var subcommands = map[string]func([]string) error{
	"export":  runExportCommand,
	"stats":   runStatsCommand,
	"state":   runStateCommand,
	"rewrite": runRewriteCommand,
	"prompts": runPromptsCommand,
}

// model tracks TUI state across all navigation levels.
type model struct {
	screen screen
	env    *appEnv
	cfg    appConfig

	agents            []agentEntry
	sessionFiles      []sessionFileEntry
	sessionFileCursor int
	sessions          []sessionEntry
	agentCursor       int
	sessionCursor     int

	workspace  *compress.Workspace
	editor     *compress.Editor
	transcript sessionTranscript
	preview    compress.Preview
	stats      compress.Stats

	entryCursor  int
	diffView     bool
	detail       viewport.Model
	input        textarea.Model
	inputMode    inputMode
	inputTarget  int
	confirmReset bool

	pendingRewrite *rewriteState
	spinner        spinner.Model
	newRewriter    func() (messageRewriter, error)

	width  int
	height int

	status string
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	statsStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("150"))

	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62"))
	deletedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Strikethrough(true)
	modifiedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	insertedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	editsStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)

	roleUserStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	roleAssistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	roleSystemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	roleToolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	diffAddStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	diffRemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	diffHunkStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))  // blue
	diffHeaderStyle = lipgloss.NewStyle().Bold(true)
)

func main() {
	if len(os.Args) > 1 {
		if run, ok := subcommands[os.Args[1]]; ok {
			if err := run(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "lcm-compress %s failed: %v\n", os.Args[1], err)
				os.Exit(1)
			}
			return
		}
	}

	env, err := openAppEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lcm-compress failed: %v\n", err)
		os.Exit(1)
	}
	defer env.Close()

	m := newModel(env)
	program := tea.NewProgram(m, tea.WithAltScreen())
	_, runErr := program.Run()
	// ctrl+c and q both end up here; persist whatever is open.
	m.workspace.Close()
	if runErr != nil {
		env.logger.Error("tui exited", "error", runErr)
		fmt.Fprintf(os.Stderr, "lcm-compress failed: %v\n", runErr)
		env.Close()
		os.Exit(1)
	}
}

func newModel(env *appEnv) model {
	input := textarea.New()
	input.Placeholder = "Replacement text..."
	input.ShowLineNumbers = false
	input.CharLimit = 0

	spin := spinner.New()
	spin.Spinner = spinner.Line

	m := model{
		screen:    screenAgents,
		env:       env,
		cfg:       env.cfg,
		workspace: compress.NewWorkspace(env.editorOptions()...),
		input:     input,
		spinner:   spin,
	}
	m.newRewriter = func() (messageRewriter, error) {
		return newAnthropicRewriter(env.cfg.Rewrite, nil, env.logger)
	}
	if env.persister.Degraded() {
		m.status = "Warning: state database unavailable; edits will not survive restart"
	}

	agents, err := loadAgents(env.cfg.AgentsDir)
	if err != nil {
		m.status = "Error: " + err.Error()
		return m
	}
	m.agents = agents
	if m.status == "" {
		m.status = fmt.Sprintf("Loaded %d agents from %s", len(agents), env.cfg.AgentsDir)
	}
	return m
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()
		m.refreshDetail()
		return m, nil
	case rewriteResultMsg:
		return m.handleRewriteResult(msg)
	case spinner.TickMsg:
		if m.pendingRewrite == nil || m.pendingRewrite.phase != rewriteInflight {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.workspace.Close()
			return m, tea.Quit
		}
		if m.inputMode != inputNone {
			return m.handleInputKey(msg)
		}
		if msg.String() == "q" && m.pendingRewrite == nil {
			m.workspace.Close()
			return m, tea.Quit
		}
		return m.handleKey(msg)
	}
	if m.inputMode != inputNone {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.screen {
	case screenAgents:
		return m.handleAgentsKey(msg)
	case screenSessions:
		return m.handleSessionsKey(msg)
	case screenEditor:
		return m.handleEditorKey(msg)
	default:
		return m, nil
	}
}

func (m model) handleAgentsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		m.agentCursor = clamp(m.agentCursor-1, 0, len(m.agents)-1)
	case "down", "j":
		m.agentCursor = clamp(m.agentCursor+1, 0, len(m.agents)-1)
	case "enter":
		if len(m.agents) == 0 {
			m.status = "No agents found"
			return m, nil
		}
		agent := m.agents[m.agentCursor]
		if err := m.loadInitialSessions(agent); err != nil {
			m.status = "Error: " + err.Error()
			return m, nil
		}
		m.sessionCursor = 0
		m.screen = screenSessions
		m.status = fmt.Sprintf("Loaded %d of %d sessions for agent %s", len(m.sessions), len(m.sessionFiles), agent.name)
	case "r":
		agents, err := loadAgents(m.cfg.AgentsDir)
		if err != nil {
			m.status = "Error: " + err.Error()
			return m, nil
		}
		m.agents = agents
		m.agentCursor = clamp(m.agentCursor, 0, len(m.agents)-1)
		m.status = fmt.Sprintf("Reloaded %d agents", len(agents))
	}
	return m, nil
}

func (m model) handleSessionsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		m.sessionCursor = clamp(m.sessionCursor-1, 0, len(m.sessions)-1)
	case "down", "j":
		previousLoaded := len(m.sessions)
		m.sessionCursor = clamp(m.sessionCursor+1, 0, len(m.sessions)-1)
		loaded := m.maybeLoadMoreSessions()
		if loaded > 0 && m.sessionCursor == previousLoaded-1 {
			m.sessionCursor = clamp(m.sessionCursor+1, 0, len(m.sessions)-1)
		}
	case "enter":
		session, ok := m.currentSession()
		if !ok {
			m.status = "No session selected"
			return m, nil
		}
		if err := m.openSession(session); err != nil {
			m.status = "Error: " + err.Error()
			return m, nil
		}
	case "b", "backspace":
		m.screen = screenAgents
		m.sessionFiles = nil
		m.sessionFileCursor = 0
		m.sessions = nil
		m.sessionCursor = 0
		m.status = "Back to agents"
	case "r":
		agent, ok := m.currentAgent()
		if !ok {
			m.status = "No agent selected"
			return m, nil
		}
		if err := m.loadInitialSessions(agent); err != nil {
			m.status = "Error: " + err.Error()
			return m, nil
		}
		m.sessionCursor = clamp(m.sessionCursor, 0, len(m.sessions)-1)
		m.status = fmt.Sprintf("Reloaded %d of %d sessions", len(m.sessions), len(m.sessionFiles))
	}
	return m, nil
}

// openSession loads a session into the workspace. Reopening the session that
// is already open keeps its edits and undo history.
func (m *model) openSession(session sessionEntry) error {
	if m.editor != nil && m.editor.SessionID() == session.id {
		m.editor = m.workspace.Open(session.id, m.transcript.messages)
	} else {
		transcript, err := loadSessionTranscript(session.path)
		if err != nil {
			return err
		}
		m.transcript = transcript
		m.editor = m.workspace.Open(transcript.sessionID, transcript.messages)
		m.entryCursor = 0
	}
	m.screen = screenEditor
	m.diffView = false
	m.confirmReset = false
	m.refreshPreview()
	m.markSessionsWithEdits()

	m.env.logger.Info("opened session", "session_id", m.editor.SessionID(), "messages", m.editor.Len())
	if m.editor.Registry().HasAnyChanges() {
		m.status = fmt.Sprintf("Loaded %d messages from %s with saved edits", m.editor.Len(), session.filename)
	} else {
		m.status = fmt.Sprintf("Loaded %d messages from %s", m.editor.Len(), session.filename)
	}
	return nil
}

func (m model) View() string {
	if m.width <= 0 || m.height <= 0 {
		return "Initializing lcm-compress..."
	}

	header := m.renderHeader()
	body := m.renderBody()
	footer := helpStyle.Render(m.renderStatus())
	return header + "\n" + body + "\n" + footer
}

func (m model) renderHeader() string {
	title := "lcm-compress"
	switch m.screen {
	case screenAgents:
		title += " | Agents"
	case screenSessions:
		agentName := ""
		if agent, ok := m.currentAgent(); ok {
			agentName = " | " + agent.name
		}
		title += " | Sessions" + agentName
	case screenEditor:
		if m.editor != nil {
			title += " | " + m.editor.SessionID()
		}
		help := m.renderHelp()
		return titleStyle.Render(title) + "\n" + statsStyle.Render(m.renderStatsLine()) + "\n" + helpStyle.Render(help)
	}

	help := m.renderHelp()
	return titleStyle.Render(title) + "\n" + helpStyle.Render(help)
}

func (m model) renderHelp() string {
	switch m.screen {
	case screenAgents:
		return "up/down: move | enter: open agent sessions | r: reload | q: quit"
	case screenSessions:
		return "up/down: move | enter: edit session | b: back | r: reload | q: quit"
	case screenEditor:
		if m.inputMode != inputNone {
			return "ctrl+s: save | esc: cancel"
		}
		if m.confirmReset {
			return "Reset all edits? y: confirm | n/esc: cancel"
		}
		if m.pendingRewrite != nil {
			switch m.pendingRewrite.phase {
			case rewritePreview:
				return "Rewrite preview | enter: send to API | esc: cancel"
			case rewriteInflight:
				return "Rewrite in progress | esc: dismiss"
			case rewriteReview:
				if m.pendingRewrite.err != nil {
					return "Rewrite failed | enter/esc: close"
				}
				return "Rewrite review | y/enter: apply | n/esc: discard | d: toggle diff | j/k: scroll"
			}
		}
		nav := "j/k: move  g/G: top/bottom  J/K: scroll detail  D: diff"
		actions := "d: delete  e: edit  i/I: insert  x: clear  w: rewrite  u/ctrl+r: undo/redo  R: reset  s: save  E: export  b: back  q: quit"
		return nav + "\n" + actions
	default:
		return "q: quit"
	}
}

func (m model) renderBody() string {
	switch m.screen {
	case screenAgents:
		return m.renderAgents()
	case screenSessions:
		return m.renderSessions()
	case screenEditor:
		return m.renderEditor()
	default:
		return "Unknown screen"
	}
}

func (m model) renderStatus() string {
	if m.screen != screenSessions {
		return m.status
	}
	total := len(m.sessionFiles)
	showing := len(m.sessions)
	if m.status == "" {
		return fmt.Sprintf("showing %d of %d", showing, total)
	}
	return fmt.Sprintf("showing %d of %d | %s", showing, total, m.status)
}

func (m model) renderAgents() string {
	if len(m.agents) == 0 {
		return "No agents found under " + m.cfg.AgentsDir
	}
	visible := max(1, m.height-4)
	offset := listOffset(m.agentCursor, len(m.agents), visible)

	lines := make([]string, 0, visible)
	for idx := offset; idx < min(len(m.agents), offset+visible); idx++ {
		line := fmt.Sprintf("  %s", m.agents[idx].name)
		if idx == m.agentCursor {
			line = selectedStyle.Render("> " + m.agents[idx].name)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m model) renderSessions() string {
	if len(m.sessions) == 0 {
		return "No session JSONL files found for this agent"
	}
	visible := max(1, m.height-4)
	offset := listOffset(m.sessionCursor, len(m.sessions), visible)

	lines := make([]string, 0, visible)
	for idx := offset; idx < min(len(m.sessions), offset+visible); idx++ {
		session := m.sessions[idx]
		text := fmt.Sprintf("%s  %s  msgs:%s  est:%dt", session.filename, formatTimeForList(session.updatedAt),
			formatMessageCount(session.messageCount), session.estimatedTokens)
		if idx == m.sessionCursor {
			line := selectedStyle.Render("> " + text)
			if session.hasEdits {
				line += " " + editsStyle.Render("[edits]")
			}
			lines = append(lines, line)
			continue
		}
		line := "  " + text
		if session.hasEdits {
			line += " " + editsStyle.Render("[edits]")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m *model) resizeViewport() {
	width := max(20, m.width-2)
	height := m.detailHeight()
	if m.detail.Width == 0 {
		m.detail = viewport.New(width, height)
	} else {
		m.detail.Width = width
		m.detail.Height = height
	}
	m.input.SetWidth(width)
	m.input.SetHeight(max(3, height))
}

func colorizeDiffLine(line string) string {
	switch {
	case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		return diffHeaderStyle.Render(line)
	case strings.HasPrefix(line, "@@"):
		return diffHunkStyle.Render(line)
	case strings.HasPrefix(line, "+"):
		return diffAddStyle.Render(line)
	case strings.HasPrefix(line, "-"):
		return diffRemStyle.Render(line)
	default:
		return line
	}
}

func wrapText(text string, width int) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	wrapped := wordwrap.String(trimmed, width)
	return strings.ReplaceAll(wrapped, "\r", "")
}

func indentLines(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for idx := range lines {
		lines[idx] = prefix + lines[idx]
	}
	return strings.Join(lines, "\n")
}

func roleStyle(role string) lipgloss.Style {
	switch strings.ToLower(role) {
	case "user":
		return roleUserStyle
	case "assistant":
		return roleAssistantStyle
	case "system":
		return roleSystemStyle
	default:
		return roleToolStyle
	}
}

func formatMessageCount(count int) string {
	if count < 0 {
		return "?"
	}
	return fmt.Sprintf("%d", count)
}

func (m model) currentAgent() (agentEntry, bool) {
	if len(m.agents) == 0 || m.agentCursor < 0 || m.agentCursor >= len(m.agents) {
		return agentEntry{}, false
	}
	return m.agents[m.agentCursor], true
}

func (m model) currentSession() (sessionEntry, bool) {
	if len(m.sessions) == 0 || m.sessionCursor < 0 || m.sessionCursor >= len(m.sessions) {
		return sessionEntry{}, false
	}
	return m.sessions[m.sessionCursor], true
}

func listOffset(cursor, total, visible int) int {
	if total <= visible {
		return 0
	}
	offset := cursor - visible/2
	maxOffset := total - visible
	return clamp(offset, 0, maxOffset)
}

func oneLine(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	fields := strings.Fields(trimmed)
	return strings.Join(fields, " ")
}

func truncateString(text string, width int) string {
	if width <= 0 {
		return ""
	}
	if lipgloss.Width(text) <= width {
		return text
	}
	if width <= 3 {
		return truncate.String(text, uint(width))
	}
	return truncate.StringWithTail(text, uint(width), "...")
}

func padLines(lines []string, minHeight int) []string {
	for len(lines) < minHeight {
		lines = append(lines, "")
	}
	return lines
}

func clamp(value, low, high int) int {
	if high < low {
		return low
	}
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

func (m *model) loadInitialSessions(agent agentEntry) error {
	files, err := discoverSessionFiles(agent)
	if err != nil {
		return err
	}
	m.sessionFiles = files
	m.sessionFileCursor = 0
	m.sessions = nil
	loaded, err := m.appendSessionBatch(sessionInitialLoadSize)
	if err != nil {
		return err
	}
	m.sessionCursor = clamp(m.sessionCursor, 0, max(0, loaded-1))
	return nil
}

func (m *model) appendSessionBatch(limit int) (int, error) {
	batch, nextCursor, err := loadSessionBatch(m.sessionFiles, m.sessionFileCursor, limit)
	if err != nil {
		return 0, err
	}
	m.sessionFileCursor = nextCursor
	m.sessions = append(m.sessions, batch...)
	m.markSessionsWithEdits()
	return len(batch), nil
}

// markSessionsWithEdits flags the session that owns the persisted slot.
func (m *model) markSessionsWithEdits() {
	owner := ""
	if m.env != nil && m.env.persister != nil {
		owner, _ = m.env.persister.StoredSessionID()
	}
	for i := range m.sessions {
		m.sessions[i].hasEdits = owner != "" && m.sessions[i].id == owner
	}
}

func (m *model) maybeLoadMoreSessions() int {
	if len(m.sessions)-m.sessionCursor > 3 {
		return 0
	}
	if m.sessionFileCursor >= len(m.sessionFiles) {
		return 0
	}
	loaded, err := m.appendSessionBatch(sessionBatchLoadSize)
	if err != nil {
		m.status = "Error: " + err.Error()
		return 0
	}
	if loaded > 0 {
		m.status = fmt.Sprintf("Loaded %d of %d sessions", len(m.sessions), len(m.sessionFiles))
	}
	return loaded
}

package compress

import (
	"log/slog"

	"github.com/google/uuid"
)

// Editor is the editing context for one session: the original messages, the
// registry that records edits against them, and the shared token cache.
// Components that need the registry get it from the Editor; there is no
// process-wide registry.
type Editor struct {
	sessionID string
	messages  []Message
	registry  *Registry
	counter   *TokenCounter
	persister *Persister
	logger    *slog.Logger
}

// NewEditor clones messages and starts with an empty registry. Call Restore
// to resume persisted edits.
func NewEditor(sessionID string, messages []Message, opts ...Option) *Editor {
	cfg := newOptions(opts)
	return &Editor{
		sessionID: sessionID,
		messages:  cloneMessages(messages),
		registry:  NewRegistry(opts...),
		counter:   NewTokenCounter(cfg.estimate, cfg.display),
		persister: cfg.persister,
		logger:    cfg.logger.With("session_id", sessionID),
	}
}

func (e *Editor) SessionID() string { return e.sessionID }

func (e *Editor) Registry() *Registry { return e.registry }

func (e *Editor) Counter() *TokenCounter { return e.counter }

// Messages returns a copy of the original sequence.
func (e *Editor) Messages() []Message { return cloneMessages(e.messages) }

// Len is the number of original messages.
func (e *Editor) Len() int { return len(e.messages) }

// Message returns the original message at index.
func (e *Editor) Message(index int) (Message, bool) {
	if index < 0 || index >= len(e.messages) {
		return Message{}, false
	}
	return e.messages[index].Clone(), true
}

func (e *Editor) Preview() Preview {
	return Compose(e.messages, e.registry, e.counter)
}

func (e *Editor) Stats() Stats {
	return ComputeStats(e.messages, e.registry, e.counter)
}

// Compressed is the edited conversation with deletions removed.
func (e *Editor) Compressed() []Message {
	return e.Preview().Messages()
}

// ToggleDelete flips the message at index between delete and keep. A
// modified message becomes deleted.
func (e *Editor) ToggleDelete(index int) bool {
	msg, ok := e.Message(index)
	if !ok {
		return false
	}
	if op, ok := e.registry.Operation(msg.ID); ok && op.Kind == KindDelete {
		e.registry.RemoveOperation(msg.ID)
		return true
	}
	e.registry.SetOperation(msg.ID, Delete(msg))
	return true
}

// ModifyAt replaces the content of the message at index with text.
func (e *Editor) ModifyAt(index int, text string) bool {
	msg, ok := e.Message(index)
	if !ok {
		return false
	}
	e.registry.SetOperation(msg.ID, Modify(text))
	return true
}

// InsertText adds a synthetic text message after afterIndex and returns it.
func (e *Editor) InsertText(afterIndex int, role, text string) Message {
	msg := NewTextMessage("synthetic-"+uuid.NewString(), role, text)
	if afterIndex >= 0 && afterIndex < len(e.messages) {
		msg.Timestamp = e.messages[afterIndex].Timestamp
	} else if len(e.messages) > 0 {
		msg.Timestamp = e.messages[0].Timestamp
	}
	e.registry.AddInsertion(afterIndex, msg)
	stored, _ := e.registry.Insertion(afterIndex)
	return stored.Message
}

// Save persists the registry. With no edits, a slot owned by this session is
// cleared instead so another session's edits are not overwritten with
// nothing.
func (e *Editor) Save() bool {
	if e.persister == nil {
		return false
	}
	if !e.registry.HasAnyChanges() {
		if owner, ok := e.persister.StoredSessionID(); ok && owner == e.sessionID {
			e.persister.ClearState()
		}
		return true
	}
	return e.persister.SaveState(e.sessionID, e.registry.Snapshot())
}

// Restore loads persisted edits for this session, replacing the registry
// contents and clearing its history. It reports whether state was found.
func (e *Editor) Restore() bool {
	if e.persister == nil {
		return false
	}
	snapshot, ok := e.persister.LoadState(e.sessionID)
	if !ok {
		return false
	}
	e.registry.Restore(snapshot)
	e.logger.Info("restored editor state",
		"operations", len(snapshot.Operations), "insertions", len(snapshot.Insertions))
	return true
}

// Workspace holds at most one open Editor and persists it when the user
// switches to another session.
type Workspace struct {
	opts    []Option
	current *Editor
}

func NewWorkspace(opts ...Option) *Workspace {
	return &Workspace{opts: opts}
}

// Current returns the open editor, or nil.
func (w *Workspace) Current() *Editor { return w.current }

// Open returns an editor for sessionID. Reopening the current session keeps
// its registry and history; opening a different one saves and discards the
// current editor and restores persisted state for the new one.
func (w *Workspace) Open(sessionID string, messages []Message) *Editor {
	if w.current != nil {
		if w.current.sessionID == sessionID {
			return w.current
		}
		w.current.Save()
	}
	editor := NewEditor(sessionID, messages, w.opts...)
	editor.Restore()
	w.current = editor
	return editor
}

// Close saves and drops the open editor.
func (w *Workspace) Close() {
	if w.current == nil {
		return
	}
	w.current.Save()
	w.current = nil
}

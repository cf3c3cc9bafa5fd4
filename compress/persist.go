package compress

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// StorageKey is the single slot the Persister writes. Only one session's
// edits are retained at a time.
const StorageKey = "lcm-compress/editor-state"

const (
	stateVersion = 1
	probeKey     = "lcm-compress/probe"
)

var errCorruptState = errors.New("corrupt editor state")

// Persister saves and restores registry snapshots keyed by session id.
// Every method is best-effort: failures are logged and reported as false or
// "no state", never returned.
type Persister struct {
	store    Storage
	logger   *slog.Logger
	degraded bool
	now      func() time.Time
}

// NewPersister probes store once. A nil store or one that fails the probe is
// replaced by a MemoryStorage so that the rest of the editor keeps working
// without durability.
func NewPersister(store Storage, opts ...Option) *Persister {
	cfg := newOptions(opts)
	p := &Persister{store: store, logger: cfg.logger, now: time.Now}
	if store == nil {
		p.logger.Warn("no state storage configured; edits will not survive restart")
		p.store = NewMemoryStorage()
		p.degraded = true
		return p
	}
	if err := probe(store); err != nil {
		p.logger.Warn("state storage unavailable; falling back to memory", "error", err)
		p.store = NewMemoryStorage()
		p.degraded = true
	}
	return p
}

func probe(store Storage) error {
	if err := store.Set(probeKey, "1"); err != nil {
		return fmt.Errorf("write probe: %w", err)
	}
	if _, _, err := store.Get(probeKey); err != nil {
		return fmt.Errorf("read probe: %w", err)
	}
	if err := store.Remove(probeKey); err != nil {
		return fmt.Errorf("remove probe: %w", err)
	}
	return nil
}

// Degraded reports whether the persister fell back to memory.
func (p *Persister) Degraded() bool { return p.degraded }

// SaveState overwrites the slot with snapshot for sessionID.
func (p *Persister) SaveState(sessionID string, snapshot Snapshot) bool {
	doc := encodeState(sessionID, snapshot, p.now())
	payload, err := json.Marshal(doc)
	if err != nil {
		p.logger.Error("encode editor state", "session_id", sessionID, "error", err)
		return false
	}
	if err := p.store.Set(StorageKey, string(payload)); err != nil {
		p.logger.Error("save editor state", "session_id", sessionID, "error", err)
		return false
	}
	p.logger.Debug("saved editor state", "session_id", sessionID,
		"operations", len(doc.Operations), "insertions", len(doc.Insertions))
	return true
}

// LoadState returns the stored snapshot when it belongs to sessionID. A
// corrupted slot is cleared and reported as no state.
func (p *Persister) LoadState(sessionID string) (Snapshot, bool) {
	doc, ok := p.read()
	if !ok || doc.SessionID != sessionID {
		return Snapshot{}, false
	}
	snapshot, err := doc.decode()
	if err != nil {
		p.heal(err)
		return Snapshot{}, false
	}
	return snapshot, true
}

// HasState reports whether the slot holds state for sessionID.
func (p *Persister) HasState(sessionID string) bool {
	_, ok := p.LoadState(sessionID)
	return ok
}

// StoredSessionID returns the owner of the slot, if any.
func (p *Persister) StoredSessionID() (string, bool) {
	doc, ok := p.read()
	if !ok {
		return "", false
	}
	return doc.SessionID, true
}

// ClearState empties the slot.
func (p *Persister) ClearState() {
	if err := p.store.Remove(StorageKey); err != nil {
		p.logger.Error("clear editor state", "error", err)
	}
}

func (p *Persister) read() (stateDocument, bool) {
	raw, ok, err := p.store.Get(StorageKey)
	if err != nil {
		p.logger.Error("read editor state", "error", err)
		return stateDocument{}, false
	}
	if !ok || raw == "" {
		return stateDocument{}, false
	}
	var doc stateDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		p.heal(fmt.Errorf("%w: %v", errCorruptState, err))
		return stateDocument{}, false
	}
	if doc.Version != stateVersion || doc.SessionID == "" {
		p.heal(fmt.Errorf("%w: version %d session %q", errCorruptState, doc.Version, doc.SessionID))
		return stateDocument{}, false
	}
	return doc, true
}

func (p *Persister) heal(cause error) {
	p.logger.Warn("discarding unreadable editor state", "error", cause)
	p.ClearState()
}

type stateDocument struct {
	Version    int             `json:"version"`
	SessionID  string          `json:"sessionId"`
	SavedAt    string          `json:"savedAt"`
	Operations []operationPair `json:"operations"`
	Insertions []insertionPair `json:"insertions"`
}

type operationPair struct {
	MessageID string        `json:"messageId"`
	Operation wireOperation `json:"operation"`
}

type insertionPair struct {
	AfterIndex int           `json:"afterIndex"`
	Operation  wireOperation `json:"operation"`
}

type wireOperation struct {
	Kind       string   `json:"kind"`
	Original   *Message `json:"original,omitempty"`
	Text       string   `json:"text,omitempty"`
	Message    *Message `json:"message,omitempty"`
	AfterIndex int      `json:"afterIndex,omitempty"`
}

func encodeState(sessionID string, s Snapshot, now time.Time) stateDocument {
	doc := stateDocument{
		Version:    stateVersion,
		SessionID:  sessionID,
		SavedAt:    now.UTC().Format(time.RFC3339),
		Operations: make([]operationPair, 0, len(s.Operations)),
		Insertions: make([]insertionPair, 0, len(s.Insertions)),
	}
	for _, id := range s.operationIDs() {
		doc.Operations = append(doc.Operations, operationPair{
			MessageID: id,
			Operation: toWire(s.Operations[id]),
		})
	}
	for _, idx := range s.InsertionIndexes() {
		doc.Insertions = append(doc.Insertions, insertionPair{
			AfterIndex: idx,
			Operation:  toWire(s.Insertions[idx]),
		})
	}
	return doc
}

func toWire(op Operation) wireOperation {
	w := wireOperation{Kind: string(op.Kind)}
	switch op.Kind {
	case KindDelete:
		original := op.Original.Clone()
		w.Original = &original
	case KindModify:
		w.Text = op.Text
	case KindInsert:
		msg := op.Message.Clone()
		w.Message = &msg
		w.AfterIndex = op.AfterIndex
	}
	return w
}

func (d stateDocument) decode() (Snapshot, error) {
	s := NewSnapshot()
	for _, pair := range d.Operations {
		op, err := pair.Operation.decode()
		if err != nil {
			return Snapshot{}, fmt.Errorf("operation %q: %w", pair.MessageID, err)
		}
		if op.Kind != KindDelete && op.Kind != KindModify {
			return Snapshot{}, fmt.Errorf("%w: %s operation keyed by message id %q", errCorruptState, op.Kind, pair.MessageID)
		}
		s.Operations[pair.MessageID] = op
	}
	for _, pair := range d.Insertions {
		op, err := pair.Operation.decode()
		if err != nil {
			return Snapshot{}, fmt.Errorf("insertion %d: %w", pair.AfterIndex, err)
		}
		if op.Kind != KindInsert {
			return Snapshot{}, fmt.Errorf("%w: %s operation keyed by insertion index %d", errCorruptState, op.Kind, pair.AfterIndex)
		}
		op.AfterIndex = pair.AfterIndex
		s.Insertions[pair.AfterIndex] = op
	}
	return s, nil
}

func (w wireOperation) decode() (Operation, error) {
	kind, err := ParseKind(w.Kind)
	if err != nil {
		return Operation{}, err
	}
	switch kind {
	case KindDelete:
		if w.Original == nil {
			return Operation{}, fmt.Errorf("%w: delete without original", errCorruptState)
		}
		return Delete(*w.Original), nil
	case KindModify:
		return Modify(w.Text), nil
	case KindInsert:
		if w.Message == nil {
			return Operation{}, fmt.Errorf("%w: insert without message", errCorruptState)
		}
		return Insert(w.AfterIndex, *w.Message), nil
	default:
		return Keep(), nil
	}
}

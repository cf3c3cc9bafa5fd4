package compress

import (
	"log/slog"
	"sort"
)

// Registry is the live set of edit intentions for one editing session:
// message id → delete/modify, and insertion slot → insert.
//
// Every mutator except Undo, Redo, ResetAll and Restore checkpoints the
// pre-mutation state first, so each user action can be undone.
type Registry struct {
	operations map[string]Operation
	insertions map[int]Operation
	history    *History
	logger     *slog.Logger
}

// NewRegistry returns an empty registry with a history capped at MaxHistory.
func NewRegistry(opts ...Option) *Registry {
	cfg := newOptions(opts)
	return &Registry{
		operations: make(map[string]Operation),
		insertions: make(map[int]Operation),
		history:    newHistory(cfg.historyLimit),
		logger:     cfg.logger,
	}
}

// SetOperation stores op for messageID, replacing any previous operation.
// A keep operation clears the entry since keep is implicit. Insert
// operations belong to AddInsertion and are ignored here.
func (r *Registry) SetOperation(messageID string, op Operation) {
	if op.Kind == KindInsert {
		r.logger.Debug("ignoring insert operation keyed by message id", "message_id", messageID)
		return
	}
	if err := op.validate(); err != nil {
		r.logger.Debug("ignoring invalid operation", "message_id", messageID, "error", err)
		return
	}
	r.checkpoint()
	if op.Kind == KindKeep {
		delete(r.operations, messageID)
		return
	}
	r.operations[messageID] = op.Clone()
}

// RemoveOperation restores the implicit keep for messageID. Removing an
// absent id is allowed and still records a checkpoint.
func (r *Registry) RemoveOperation(messageID string) {
	r.checkpoint()
	delete(r.operations, messageID)
}

// AddInsertion stores msg as a synthetic message after afterIndex. An
// existing insertion at the same slot is overwritten.
func (r *Registry) AddInsertion(afterIndex int, msg Message) {
	r.checkpoint()
	r.insertions[afterIndex] = Insert(afterIndex, msg)
}

// RemoveInsertion deletes the insertion at afterIndex.
func (r *Registry) RemoveInsertion(afterIndex int) {
	r.checkpoint()
	delete(r.insertions, afterIndex)
}

// ResetAll empties both collections and wipes the history. This is a hard
// reset and cannot be undone.
func (r *Registry) ResetAll() {
	r.operations = make(map[string]Operation)
	r.insertions = make(map[int]Operation)
	r.history.clear()
}

// Undo restores the most recent checkpoint. It reports whether anything
// changed.
func (r *Registry) Undo() bool {
	prev, ok := r.history.popUndo()
	if !ok {
		return false
	}
	r.history.pushRedo(r.Snapshot())
	r.replace(prev)
	return true
}

// Redo reapplies the most recently undone state.
func (r *Registry) Redo() bool {
	next, ok := r.history.popRedo()
	if !ok {
		return false
	}
	r.history.pushUndo(r.Snapshot())
	r.replace(next)
	return true
}

// Restore replaces the live state with s and clears the history. Used when
// an editing session resumes from persisted state.
func (r *Registry) Restore(s Snapshot) {
	r.replace(s.Clone())
	r.history.clear()
}

// Snapshot returns a deep copy of the live state.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{Operations: r.operations, Insertions: r.insertions}.Clone()
}

func (r *Registry) CanUndo() bool { return r.history.CanUndo() }

func (r *Registry) CanRedo() bool { return r.history.CanRedo() }

// HasAnyChanges reports whether any operation or insertion is stored.
func (r *Registry) HasAnyChanges() bool {
	return len(r.operations) > 0 || len(r.insertions) > 0
}

// History exposes stack depths for display.
func (r *Registry) History() *History { return r.history }

func (r *Registry) Operation(messageID string) (Operation, bool) {
	op, ok := r.operations[messageID]
	if !ok {
		return Operation{}, false
	}
	return op.Clone(), true
}

func (r *Registry) Insertion(afterIndex int) (Operation, bool) {
	op, ok := r.insertions[afterIndex]
	if !ok {
		return Operation{}, false
	}
	return op.Clone(), true
}

func (r *Registry) InsertionIndexes() []int {
	indexes := make([]int, 0, len(r.insertions))
	for idx := range r.insertions {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	return indexes
}

func (r *Registry) OperationCount(kind Kind) int {
	if kind == KindInsert {
		return len(r.insertions)
	}
	count := 0
	for _, op := range r.operations {
		if op.Kind == kind {
			count++
		}
	}
	return count
}

// Operations returns a copy of the message-id collection.
func (r *Registry) Operations() map[string]Operation {
	return r.Snapshot().Operations
}

// Insertions returns a copy of the insertion collection.
func (r *Registry) Insertions() map[int]Operation {
	return r.Snapshot().Insertions
}

func (r *Registry) checkpoint() {
	r.history.checkpoint(r.Snapshot())
}

// replace installs s as the live state. Callers pass snapshots they own.
func (r *Registry) replace(s Snapshot) {
	if s.Operations == nil {
		s.Operations = make(map[string]Operation)
	}
	if s.Insertions == nil {
		s.Insertions = make(map[int]Operation)
	}
	r.operations = s.Operations
	r.insertions = s.Insertions
}

// Len is the number of stored operations and insertions.
func (r *Registry) Len() int {
	return len(r.operations) + len(r.insertions)
}

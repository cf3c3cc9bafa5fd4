package compress

// MaxHistory caps each of the undo and redo stacks.
const MaxHistory = 50

// History is a pair of bounded snapshot stacks. Full snapshots are stored
// rather than reversible deltas; the cap keeps memory bounded.
type History struct {
	limit int
	undo  []Snapshot
	redo  []Snapshot
}

func newHistory(limit int) *History {
	if limit <= 0 {
		limit = MaxHistory
	}
	return &History{limit: limit}
}

// CanUndo reports whether Undo would change state.
func (h *History) CanUndo() bool { return len(h.undo) > 0 }

// CanRedo reports whether Redo would change state.
func (h *History) CanRedo() bool { return len(h.redo) > 0 }

// UndoDepth is the number of available undo steps.
func (h *History) UndoDepth() int { return len(h.undo) }

// RedoDepth is the number of available redo steps.
func (h *History) RedoDepth() int { return len(h.redo) }

// checkpoint records the pre-mutation state of a user edit and invalidates
// the redo branch.
func (h *History) checkpoint(s Snapshot) {
	h.redo = nil
	h.undo = pushBounded(h.undo, s, h.limit)
}

func (h *History) popUndo() (Snapshot, bool) {
	return pop(&h.undo)
}

func (h *History) popRedo() (Snapshot, bool) {
	return pop(&h.redo)
}

func (h *History) pushUndo(s Snapshot) {
	h.undo = pushBounded(h.undo, s, h.limit)
}

func (h *History) pushRedo(s Snapshot) {
	h.redo = pushBounded(h.redo, s, h.limit)
}

func (h *History) clear() {
	h.undo = nil
	h.redo = nil
}

// pushBounded appends s and drops the oldest entries beyond limit.
func pushBounded(stack []Snapshot, s Snapshot, limit int) []Snapshot {
	stack = append(stack, s)
	if over := len(stack) - limit; over > 0 {
		trimmed := make([]Snapshot, limit)
		copy(trimmed, stack[over:])
		stack = trimmed
	}
	return stack
}

func pop(stack *[]Snapshot) (Snapshot, bool) {
	n := len(*stack)
	if n == 0 {
		return Snapshot{}, false
	}
	top := (*stack)[n-1]
	(*stack)[n-1] = Snapshot{}
	*stack = (*stack)[:n-1]
	return top, true
}

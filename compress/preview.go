package compress

// EntryKind classifies one row of a preview.
type EntryKind int

const (
	EntryKeep EntryKind = iota
	EntryDelete
	EntryModify
	EntryInsert
)

func (k EntryKind) String() string {
	switch k {
	case EntryKeep:
		return "keep"
	case EntryDelete:
		return "delete"
	case EntryModify:
		return "modify"
	case EntryInsert:
		return "insert"
	default:
		return "unknown"
	}
}

// Entry is one display-ready row of the flattened preview.
type Entry struct {
	Kind EntryKind

	// Message is what the compressed output contains at this position. For
	// deletions it is the original message, shown as removed.
	Message Message

	// Original is set for modified entries.
	Original *Message

	// OriginalIndex is the position in the original sequence, or -1 for
	// insertions.
	OriginalIndex int

	// InsertAfter is the slot of an insertion entry.
	InsertAfter int

	OriginalTokens int
	Tokens         int
	TokenDelta     int
}

// Preview is the ordered result of applying a registry to the original
// sequence. Delete entries are kept for display and excluded from Messages.
type Preview struct {
	Entries []Entry
}

// Messages returns the compressed output: every entry except deletions.
func (p Preview) Messages() []Message {
	out := make([]Message, 0, len(p.Entries))
	for _, entry := range p.Entries {
		if entry.Kind == EntryDelete {
			continue
		}
		out = append(out, entry.Message.Clone())
	}
	return out
}

// Len is the length of the compressed output.
func (p Preview) Len() int {
	n := 0
	for _, entry := range p.Entries {
		if entry.Kind != EntryDelete {
			n++
		}
	}
	return n
}

// Compose flattens view over messages. Insertions are emitted before the
// message that follows their slot; the slot after the last message is
// emitted at the end. Slots outside [-1, len(messages)-1] are never reached.
func Compose(messages []Message, view View, counter *TokenCounter) Preview {
	if counter == nil {
		counter = NewTokenCounter(nil, nil)
	}
	n := len(messages)
	entries := make([]Entry, 0, n+len(view.InsertionIndexes()))

	emitInsertion := func(slot int) {
		op, ok := view.Insertion(slot)
		if !ok {
			return
		}
		tokens := counter.Uncached(op.Message)
		entries = append(entries, Entry{
			Kind:          EntryInsert,
			Message:       op.Message,
			OriginalIndex: -1,
			InsertAfter:   slot,
			Tokens:        tokens,
			TokenDelta:    tokens,
		})
	}

	emitInsertion(-1)
	for i, msg := range messages {
		if i > 0 {
			emitInsertion(i - 1)
		}
		entries = append(entries, composeMessage(i, msg, view, counter))
	}
	if n > 0 {
		emitInsertion(n - 1)
	}
	return Preview{Entries: entries}
}

func composeMessage(index int, msg Message, view View, counter *TokenCounter) Entry {
	originalTokens := counter.Message(msg)
	entry := Entry{
		Kind:           EntryKeep,
		Message:        msg,
		OriginalIndex:  index,
		InsertAfter:    -1,
		OriginalTokens: originalTokens,
		Tokens:         originalTokens,
	}

	op, ok := view.Operation(msg.ID)
	if !ok {
		return entry
	}
	switch op.Kind {
	case KindDelete:
		entry.Kind = EntryDelete
		entry.Tokens = 0
		entry.TokenDelta = -originalTokens
	case KindModify:
		original := msg
		replaced := ModifiedMessage(msg, op.Text)
		tokens := counter.Text(op.Text)
		entry.Kind = EntryModify
		entry.Message = replaced
		entry.Original = &original
		entry.Tokens = tokens
		entry.TokenDelta = tokens - originalTokens
	}
	return entry
}

// ModifiedMessage synthesizes the replacement for original: same identity,
// role and timestamp, content replaced by a single text block.
func ModifiedMessage(original Message, text string) Message {
	return Message{
		ID:        original.ID,
		Role:      original.Role,
		Timestamp: original.Timestamp,
		Blocks:    []ContentBlock{{Type: BlockText, Text: text}},
	}
}

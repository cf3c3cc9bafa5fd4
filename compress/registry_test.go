package compress

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sized builds a text message whose default estimate is exactly tokens.
func sized(id string, tokens int) Message {
	return NewTextMessage(id, "user", strings.Repeat("x", tokens*4))
}

func threeMessages() []Message {
	return []Message{sized("m0", 10), sized("m1", 20), sized("m2", 30)}
}

func TestSetOperationOverwritesAndKeepClears(t *testing.T) {
	r := NewRegistry(WithLogger(quietLogger()))
	msgs := threeMessages()

	r.SetOperation("m1", Delete(msgs[1]))
	r.SetOperation("m1", Modify("shorter"))

	op, ok := r.Operation("m1")
	require.True(t, ok)
	assert.Equal(t, KindModify, op.Kind)
	assert.Equal(t, "shorter", op.Text)
	assert.Equal(t, 1, r.Len())

	r.SetOperation("m1", Keep())
	_, ok = r.Operation("m1")
	assert.False(t, ok, "keep is implicit and must not be stored")
	assert.False(t, r.HasAnyChanges())
	assert.Equal(t, 3, r.History().UndoDepth())
}

func TestSetOperationIgnoresInsertKind(t *testing.T) {
	r := NewRegistry(WithLogger(quietLogger()))
	r.SetOperation("m0", Insert(0, NewTextMessage("s", "user", "hi")))

	assert.False(t, r.HasAnyChanges())
	assert.False(t, r.CanUndo(), "rejected operations do not checkpoint")
}

func TestSetOperationIgnoresUnknownKind(t *testing.T) {
	r := NewRegistry(WithLogger(quietLogger()))
	r.SetOperation("m0", Operation{Kind: "squash"})

	assert.False(t, r.HasAnyChanges())
	assert.False(t, r.CanUndo())
}

func TestRemoveOperationOnAbsentIDStillCheckpoints(t *testing.T) {
	r := NewRegistry(WithLogger(quietLogger()))
	r.SetOperation("m0", Modify("a"))
	before := r.Snapshot()

	r.RemoveOperation("missing")
	assert.Equal(t, before, r.Snapshot())
	assert.Equal(t, 2, r.History().UndoDepth())

	require.True(t, r.Undo())
	assert.Equal(t, before, r.Snapshot())
}

func TestAddInsertionLastWriteWins(t *testing.T) {
	r := NewRegistry(WithLogger(quietLogger()))
	r.AddInsertion(1, NewTextMessage("a", "user", "first"))
	r.AddInsertion(1, NewTextMessage("b", "user", "second"))

	op, ok := r.Insertion(1)
	require.True(t, ok)
	assert.Equal(t, "b", op.Message.ID)
	assert.True(t, op.Message.Synthetic)
	assert.Equal(t, 1, op.AfterIndex)
	assert.Equal(t, 1, r.OperationCount(KindInsert))

	require.True(t, r.Undo())
	op, _ = r.Insertion(1)
	assert.Equal(t, "a", op.Message.ID)
}

func TestRemoveInsertion(t *testing.T) {
	r := NewRegistry(WithLogger(quietLogger()))
	r.AddInsertion(-1, NewTextMessage("a", "user", "x"))
	r.RemoveInsertion(-1)

	_, ok := r.Insertion(-1)
	assert.False(t, ok)
	assert.Empty(t, r.InsertionIndexes())
	require.True(t, r.Undo())
	assert.Equal(t, []int{-1}, r.InsertionIndexes())
}

func TestThreeEditsThenThreeUndos(t *testing.T) {
	r := NewRegistry(WithLogger(quietLogger()))
	msgs := threeMessages()
	empty := r.Snapshot()

	r.SetOperation("m0", Delete(msgs[0]))
	r.SetOperation("m1", Modify("short"))
	r.SetOperation("m2", Delete(msgs[2]))

	for i := 0; i < 3; i++ {
		require.True(t, r.Undo())
	}
	assert.False(t, r.CanUndo())
	assert.True(t, r.CanRedo())
	assert.Equal(t, empty, r.Snapshot())
	assert.False(t, r.Undo(), "undo on an empty stack is a no-op")
}

func TestUndoRedoInverse(t *testing.T) {
	r := NewRegistry(WithLogger(quietLogger()))
	before := r.Snapshot()

	const actions = 20
	for i := 0; i < actions; i++ {
		id := fmt.Sprintf("m%d", i%5)
		switch i % 4 {
		case 0:
			r.SetOperation(id, Delete(sized(id, i+1)))
		case 1:
			r.SetOperation(id, Modify(fmt.Sprintf("text %d", i)))
		case 2:
			r.AddInsertion(i%3-1, NewTextMessage(fmt.Sprintf("s%d", i), "assistant", "note"))
		case 3:
			r.RemoveOperation(id)
		}
	}
	after := r.Snapshot()

	for i := 0; i < actions; i++ {
		require.True(t, r.Undo(), "undo %d", i)
	}
	assert.Equal(t, before, r.Snapshot())

	for i := 0; i < actions; i++ {
		require.True(t, r.Redo(), "redo %d", i)
	}
	assert.Equal(t, after, r.Snapshot())
	assert.False(t, r.CanRedo())
}

func TestNewEditClearsRedo(t *testing.T) {
	r := NewRegistry(WithLogger(quietLogger()))
	r.SetOperation("m0", Modify("a"))
	r.Undo()
	require.True(t, r.CanRedo())

	r.SetOperation("m1", Modify("b"))
	assert.False(t, r.CanRedo())
	assert.False(t, r.Redo())
}

func TestHistoryIsBounded(t *testing.T) {
	r := NewRegistry(WithLogger(quietLogger()))
	for i := 0; i < MaxHistory+10; i++ {
		r.SetOperation(fmt.Sprintf("m%d", i), Modify("x"))
	}
	assert.Equal(t, MaxHistory, r.History().UndoDepth())

	undone := 0
	for r.Undo() {
		undone++
	}
	assert.Equal(t, MaxHistory, undone)
	// The ten oldest checkpoints were evicted, so m0..m9 remain.
	assert.Equal(t, 10, r.OperationCount(KindModify))
	assert.Equal(t, MaxHistory, r.History().RedoDepth())
}

func TestWithHistoryLimit(t *testing.T) {
	r := NewRegistry(WithLogger(quietLogger()), WithHistoryLimit(2))
	for i := 0; i < 5; i++ {
		r.RemoveOperation("m0")
	}
	assert.Equal(t, 2, r.History().UndoDepth())
}

func TestResetAllWipesHistory(t *testing.T) {
	r := NewRegistry(WithLogger(quietLogger()))
	r.SetOperation("m0", Modify("a"))
	r.AddInsertion(0, NewTextMessage("s", "user", "b"))
	r.Undo()

	r.ResetAll()
	assert.False(t, r.HasAnyChanges())
	assert.False(t, r.CanUndo())
	assert.False(t, r.CanRedo())
}

func TestRestoreClearsHistory(t *testing.T) {
	r := NewRegistry(WithLogger(quietLogger()))
	r.SetOperation("m0", Modify("a"))

	s := NewSnapshot()
	s.Operations["m2"] = Modify("restored")
	r.Restore(s)

	assert.False(t, r.CanUndo())
	op, ok := r.Operation("m2")
	require.True(t, ok)
	assert.Equal(t, "restored", op.Text)
	_, ok = r.Operation("m0")
	assert.False(t, ok)
}

func TestSnapshotsAreIsolated(t *testing.T) {
	r := NewRegistry(WithLogger(quietLogger()))
	original := NewTextMessage("m0", "user", "hello")
	r.SetOperation("m0", Delete(original))

	snap := r.Snapshot()
	stored := snap.Operations["m0"]
	stored.Original.Blocks[0].Text = "mutated"
	snap.Operations["m0"] = stored
	snap.Operations["m9"] = Modify("leak")

	op, _ := r.Operation("m0")
	assert.Equal(t, "hello", op.Original.Blocks[0].Text)
	_, ok := r.Operation("m9")
	assert.False(t, ok)

	// Mutating the caller's message after the call is not observed either.
	original.Blocks[0].Text = "changed"
	op, _ = r.Operation("m0")
	assert.Equal(t, "hello", op.Original.Blocks[0].Text)
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"keep", "delete", "modify", "insert"} {
		kind, err := ParseKind(s)
		require.NoError(t, err)
		assert.Equal(t, Kind(s), kind)
	}
	_, err := ParseKind("rewrite")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

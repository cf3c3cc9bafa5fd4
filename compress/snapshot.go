package compress

import "sort"

// View is the read side shared by the live Registry and an immutable
// Snapshot. The compositor and the accountant only need this much.
type View interface {
	Operation(messageID string) (Operation, bool)
	Insertion(afterIndex int) (Operation, bool)
	InsertionIndexes() []int
	OperationCount(kind Kind) int
}

// Snapshot is a point-in-time deep copy of both registry collections.
type Snapshot struct {
	Operations map[string]Operation
	Insertions map[int]Operation
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() Snapshot {
	return Snapshot{
		Operations: make(map[string]Operation),
		Insertions: make(map[int]Operation),
	}
}

// Clone copies the containers and every stored operation.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Operations: make(map[string]Operation, len(s.Operations)),
		Insertions: make(map[int]Operation, len(s.Insertions)),
	}
	for id, op := range s.Operations {
		out.Operations[id] = op.Clone()
	}
	for idx, op := range s.Insertions {
		out.Insertions[idx] = op.Clone()
	}
	return out
}

// Empty reports whether the snapshot holds no operations.
func (s Snapshot) Empty() bool {
	return len(s.Operations) == 0 && len(s.Insertions) == 0
}

func (s Snapshot) Operation(messageID string) (Operation, bool) {
	op, ok := s.Operations[messageID]
	if !ok {
		return Operation{}, false
	}
	return op.Clone(), true
}

func (s Snapshot) Insertion(afterIndex int) (Operation, bool) {
	op, ok := s.Insertions[afterIndex]
	if !ok {
		return Operation{}, false
	}
	return op.Clone(), true
}

// InsertionIndexes returns the occupied slots in ascending order.
func (s Snapshot) InsertionIndexes() []int {
	indexes := make([]int, 0, len(s.Insertions))
	for idx := range s.Insertions {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	return indexes
}

func (s Snapshot) OperationCount(kind Kind) int {
	if kind == KindInsert {
		return len(s.Insertions)
	}
	count := 0
	for _, op := range s.Operations {
		if op.Kind == kind {
			count++
		}
	}
	return count
}

func (s Snapshot) operationIDs() []string {
	ids := make([]string, 0, len(s.Operations))
	for id := range s.Operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
